package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stickerpack/internal/domain"
	"stickerpack/internal/providers/image"
)

// BatchResult summarises a Batch run.
type BatchResult struct {
	Succeeded int
	Failed    int
	Job       *domain.Job
}

// Batch generates every unsettled emotion of a paid job under one lock, in
// groups of BatchConcurrency with a pause between groups. Each emotion gets
// up to MaxAttempts with linear backoff. The job ends completed when at least
// one sticker is ready and failed otherwise.
func (d *Driver) Batch(ctx context.Context, jobID string) (BatchResult, error) {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		return BatchResult{}, err
	}
	existing, err := d.stickers.ListByJob(ctx, jobID)
	if err != nil {
		return BatchResult{}, err
	}
	if job.Status.Terminal() {
		ready := len(domain.ReadyStickers(existing))
		return BatchResult{Succeeded: ready, Failed: domain.EmotionCount - ready, Job: job}, nil
	}
	paid, err := d.Paid(ctx, jobID)
	if err != nil {
		return BatchResult{}, err
	}
	if !paid {
		return BatchResult{Job: job}, domain.ErrPaymentRequired
	}

	token := d.newToken()
	locked, err := d.jobs.AcquireLock(ctx, jobID, token, d.settings.StaleAfter)
	if err != nil {
		return BatchResult{Job: job}, err
	}
	defer d.release(ctx, jobID, token)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopBeat := d.keepAlive(runCtx, cancel, jobID, token)
	defer stopBeat()

	settled := make(map[domain.Emotion]domain.Sticker, len(existing))
	for _, s := range existing {
		if s.Settled() {
			settled[s.Emotion] = s
		}
	}
	var pending []domain.Emotion
	var succeeded, failed atomic.Int32
	for _, e := range domain.Emotions {
		s, ok := settled[e]
		switch {
		case !ok:
			pending = append(pending, e)
		case s.Ready():
			succeeded.Add(1)
		default:
			failed.Add(1)
		}
	}

	log := d.logger.With().Str("job_id", jobID).Logger()
	log.Info().Int("pending", len(pending)).Msg("generation: batch started")

	size := d.settings.BatchConcurrency
	for i := 0; i < len(pending); i += size {
		end := min(i+size, len(pending))
		var g errgroup.Group
		for _, emotion := range pending[i:end] {
			g.Go(func() error {
				if d.generateEmotion(runCtx, locked, emotion) {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := runCtx.Err(); err != nil {
			return BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load()), Job: locked}, err
		}
		if err := d.jobs.Heartbeat(runCtx, jobID, token); err != nil {
			return BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load()), Job: locked}, err
		}
		if end < len(pending) {
			if err := d.sleep(runCtx, d.settings.BatchPause); err != nil {
				return BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load()), Job: locked}, err
			}
		}
	}

	status := domain.JobStatusFailed
	if succeeded.Load() > 0 {
		status = domain.JobStatusCompleted
	}
	finished, err := d.jobs.Finish(ctx, jobID, token, status, domain.EmotionCount)
	if err != nil {
		return BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load()), Job: locked}, err
	}
	log.Info().Int32("succeeded", succeeded.Load()).Int32("failed", failed.Load()).Str("status", string(status)).
		Msg("generation: batch finished")
	return BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load()), Job: finished}, nil
}

// keepAlive refreshes the lock heartbeat while a batch runs. Losing the lock
// cancels the batch.
func (d *Driver) keepAlive(ctx context.Context, cancel context.CancelFunc, jobID, token string) func() {
	interval := d.settings.StaleAfter / 3
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := d.jobs.Heartbeat(ctx, jobID, token)
				if errors.Is(err, domain.ErrLockLost) {
					d.logger.Warn().Str("job_id", jobID).Msg("generation: batch lost its lock")
					cancel()
					return
				}
				if err != nil && ctx.Err() == nil {
					d.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: heartbeat failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// generateEmotion runs one emotion to a settled state and reports whether a
// sticker became ready.
func (d *Driver) generateEmotion(ctx context.Context, job *domain.Job, emotion domain.Emotion) bool {
	log := d.logger.With().Str("job_id", job.ID).Str("emotion", string(emotion)).Logger()
	style := d.styleFor(job)
	req := image.Request{
		JobID:          job.ID,
		Emotion:        emotion,
		StyleKey:       style.Key,
		Prompt:         d.catalog.Prompt(style, emotion),
		SourceImageURL: job.SourceImageURL,
	}

	reason := "no attempts made"
	for attempt := 1; attempt <= d.settings.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		url, err := d.produce(ctx, job.ID, emotion, style.RemoveBackground, req, attempt)
		if err == nil && url == "" {
			reason = "provider returned an empty asset"
			break
		}
		if err == nil {
			if err := d.stickers.MarkReady(ctx, job.ID, emotion, url, url); err != nil {
				log.Error().Err(err).Msg("generation: mark ready failed")
				return false
			}
			log.Info().Int("attempt", attempt).Msg("generation: sticker ready")
			return true
		}
		reason = err.Error()
		log.Warn().Err(err).Int("attempt", attempt).Msg("generation: attempt failed")
		if attempt == d.settings.MaxAttempts {
			break
		}
		delay := d.settings.RetryDelay * time.Duration(attempt)
		if errors.Is(err, domain.ErrRateLimited) {
			delay = d.settings.RateLimitDelay * time.Duration(attempt)
		}
		if err := d.sleep(ctx, delay); err != nil {
			return false
		}
	}

	if err := d.stickers.MarkSkipped(context.WithoutCancel(ctx), job.ID, emotion, reason, d.settings.MaxAttempts); err != nil {
		log.Error().Err(err).Msg("generation: mark skipped failed")
	}
	return false
}

// produce runs one attempt through generation, optional background removal
// and upload, and returns the durable URL.
func (d *Driver) produce(ctx context.Context, jobID string, emotion domain.Emotion, removeBackground bool, req image.Request, attempt int) (string, error) {
	asset, err := d.runAttempt(ctx, req, attempt)
	if err != nil {
		return "", err
	}
	if d.remover != nil && removeBackground {
		return d.removeBackground(ctx, jobID, emotion, asset)
	}
	return d.persist(ctx, jobID, emotion, "", asset)
}

// runAttempt starts a prediction and waits for it. Provider verdicts are
// turned into errors so the caller has a single retry path.
func (d *Driver) runAttempt(ctx context.Context, req image.Request, attempt int) (image.Asset, error) {
	res, err := d.generator.Start(ctx, req)
	if err != nil {
		return image.Asset{}, err
	}
	if res.Pending() {
		p := domain.Pipeline{Handle: res.Handle, Step: domain.StepGenerate, StartedAt: d.now()}
		if err := d.stickers.SavePipeline(ctx, req.JobID, req.Emotion, p, attempt); err != nil {
			return image.Asset{}, err
		}
		res, err = d.await(ctx, res.Handle, d.generator.Poll)
		if err != nil {
			return image.Asset{}, err
		}
	}
	if !res.Finished() {
		return image.Asset{}, &providerError{reason: res.Reason}
	}
	return res.Asset, nil
}

// removeBackground runs the optional post-processing step and returns the
// durable URL of the result, falling back to the generated image on any
// removal failure.
func (d *Driver) removeBackground(ctx context.Context, jobID string, emotion domain.Emotion, asset image.Asset) (string, error) {
	rawURL, err := d.persist(ctx, jobID, emotion, "-raw", asset)
	if err != nil || rawURL == "" {
		return rawURL, err
	}
	res, err := d.remover.StartRemoval(ctx, rawURL)
	if err == nil && res.Pending() {
		res, err = d.await(ctx, res.Handle, d.remover.Poll)
	}
	if err == nil && res.Finished() {
		var url string
		url, err = d.persist(ctx, jobID, emotion, "", res.Asset)
		if err == nil && url != "" {
			return url, nil
		}
	}
	d.logger.Warn().Err(err).Str("job_id", jobID).Str("emotion", string(emotion)).Str("reason", res.Reason).
		Msg("generation: background removal failed, keeping generated image")
	return rawURL, nil
}

// await polls a prediction until it settles. A provider rejection, a rate
// limit, maxPollErrors failures in a row or PendingTimeout end the wait.
func (d *Driver) await(ctx context.Context, handle string, poll func(context.Context, string) (image.Result, error)) (image.Result, error) {
	started := d.now()
	errCount := 0
	for {
		if err := d.sleep(ctx, d.settings.PollInterval); err != nil {
			return image.Result{}, err
		}
		res, err := poll(ctx, handle)
		if err != nil {
			errCount++
			if errCount >= maxPollErrors || errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrProviderFailure) || ctx.Err() != nil {
				return image.Result{}, err
			}
			continue
		}
		errCount = 0
		if !res.Pending() {
			return res, nil
		}
		if d.now().Sub(started) > d.settings.PendingTimeout {
			return image.Result{}, fmt.Errorf("prediction %s did not settle within %s: %w", handle, d.settings.PendingTimeout, domain.ErrProviderFailure)
		}
	}
}

type providerError struct {
	reason string
}

func (e *providerError) Error() string {
	if e.reason == "" {
		return "provider reported failure"
	}
	return e.reason
}
