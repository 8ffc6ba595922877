package generation

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"stickerpack/internal/domain"
)

// Drive steps a job until it is terminal, unpaid, held by someone else, or
// DriveBudget has passed. Between steps it waits PollInterval for outstanding
// predictions and RetryDelay after a failed attempt. A job left unfinished is
// resumed by the next kick or sweep.
func (d *Driver) Drive(ctx context.Context, jobID string) (*domain.Job, error) {
	deadline := d.now().Add(d.settings.DriveBudget)
	for {
		res, err := d.Step(ctx, jobID)
		if err != nil {
			return res.Job, err
		}
		wait := d.settings.PollInterval
		switch res.Outcome {
		case OutcomeUnpaid, OutcomeTerminal, OutcomeBusy, OutcomeFinished:
			return res.Job, nil
		case OutcomeFinalized, OutcomeSkipped:
			if res.Job != nil && res.Job.Status.Terminal() {
				return res.Job, nil
			}
			wait = 0
		case OutcomeStepped:
			wait = 0
		case OutcomeRetrying:
			wait = d.settings.RetryDelay
		}
		if !d.now().Before(deadline) {
			d.logger.Info().Str("job_id", jobID).Dur("budget", d.settings.DriveBudget).Int("progress", progressOf(res.Job)).
				Msg("generation: drive budget spent, yielding job")
			return res.Job, nil
		}
		if err := d.sleep(ctx, wait); err != nil {
			return res.Job, err
		}
	}
}

func progressOf(job *domain.Job) int {
	if job == nil {
		return 0
	}
	return job.Progress
}

// Sweep drives every paid job whose lock is free or stale, up to limit jobs,
// BatchConcurrency at a time. Each Drive is bounded by DriveBudget, so a
// stuck job delays a sweep but never holds it. It returns how many jobs were
// visited.
func (d *Driver) Sweep(ctx context.Context, limit int) (int, error) {
	ids, err := d.jobs.ListStalled(ctx, d.settings.StaleAfter, limit)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.settings.BatchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := d.Drive(gctx, id); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error().Err(err).Str("job_id", id).Msg("generation: sweep drive failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}
	return len(ids), ctx.Err()
}
