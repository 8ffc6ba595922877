// Package generation advances sticker jobs through their nine emotions.
//
// Work is split into short steps that each hold the job lock for a bounded
// time, so any caller (a status poll, the worker, a batch request) can make
// progress and a crashed invocation is recovered once its heartbeat goes
// stale.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
	"stickerpack/internal/providers/image"
	"stickerpack/internal/storage"
	"stickerpack/internal/styles"
	"stickerpack/pkg/dataurl"
)

// Settings tunes locking, retries and pacing.
type Settings struct {
	StaleAfter       time.Duration
	StepTimeout      time.Duration
	MaxAttempts      int
	BatchConcurrency int
	BatchPause       time.Duration
	RetryDelay       time.Duration
	RateLimitDelay   time.Duration
	PollInterval     time.Duration
	// PendingTimeout bounds how long a prediction may stay outstanding.
	PendingTimeout time.Duration
	// DriveBudget bounds one Drive call.
	DriveBudget time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		StaleAfter:       60 * time.Second,
		StepTimeout:      45 * time.Second,
		MaxAttempts:      3,
		BatchConcurrency: 3,
		BatchPause:       time.Second,
		RetryDelay:       3 * time.Second,
		RateLimitDelay:   15 * time.Second,
		PollInterval:     2 * time.Second,
		PendingTimeout:   10 * time.Minute,
		DriveBudget:      5 * time.Minute,
	}
}

// SettingsFromConfig maps environment configuration onto Settings.
func SettingsFromConfig(cfg *infra.Config) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	if cfg.StaleLockThreshold > 0 {
		s.StaleAfter = cfg.StaleLockThreshold
	}
	if cfg.StepTimeout > 0 {
		s.StepTimeout = cfg.StepTimeout
	}
	if cfg.MaxEmotionAttempts > 0 {
		s.MaxAttempts = cfg.MaxEmotionAttempts
	}
	if cfg.BatchConcurrency > 0 {
		s.BatchConcurrency = cfg.BatchConcurrency
	}
	if cfg.BatchPause >= 0 {
		s.BatchPause = cfg.BatchPause
	}
	if cfg.WorkerPollInterval > 0 {
		s.PollInterval = cfg.WorkerPollInterval
	}
	if cfg.PendingTimeout > 0 {
		s.PendingTimeout = cfg.PendingTimeout
	}
	if cfg.DriveBudget > 0 {
		s.DriveBudget = cfg.DriveBudget
	}
	return s
}

const (
	// maxPollErrors bounds consecutive failed polls of one prediction.
	maxPollErrors = 5
	// writeGrace is how long bookkeeping may still run once provider calls
	// have used up StepTimeout.
	writeGrace = 30 * time.Second
	// assetTimeout bounds fetching and uploading one finished asset.
	assetTimeout = 20 * time.Second
)

// errAssetUnavailable means a finished asset could not be fetched from the
// provider. The prediction is polled again rather than finalized.
var errAssetUnavailable = errors.New("generation: asset unavailable")

// Outcome describes what a single Step did.
type Outcome string

const (
	OutcomeUnpaid    Outcome = "unpaid"
	OutcomeTerminal  Outcome = "terminal"
	OutcomeBusy      Outcome = "busy"
	OutcomeStarted   Outcome = "started"
	OutcomeWaiting   Outcome = "waiting"
	OutcomeStepped   Outcome = "stepped"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFinalized Outcome = "finalized"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFinished  Outcome = "finished"
)

// StepResult reports a Step. Job is the freshest state the step observed.
type StepResult struct {
	Outcome Outcome
	Emotion domain.Emotion
	Job     *domain.Job
}

// Deps wires a Driver.
type Deps struct {
	Jobs       domain.JobRepository
	Stickers   domain.StickerRepository
	Orders     domain.OrderRepository
	Generator  image.Generator
	Remover    image.BackgroundRemover
	Store      storage.Store
	Catalog    *styles.Catalog
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Driver runs generation steps for paid jobs.
type Driver struct {
	jobs       domain.JobRepository
	stickers   domain.StickerRepository
	orders     domain.OrderRepository
	generator  image.Generator
	remover    image.BackgroundRemover
	store      storage.Store
	catalog    *styles.Catalog
	httpClient *http.Client
	logger     *infra.Logger
	settings   Settings

	newToken func() string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDriver validates deps and applies defaults.
func NewDriver(deps Deps, settings Settings) (*Driver, error) {
	if deps.Jobs == nil || deps.Stickers == nil || deps.Orders == nil {
		return nil, errors.New("generation: repositories are required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generation: generator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("generation: store is required")
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = styles.Default()
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := deps.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	def := DefaultSettings()
	if settings.StaleAfter <= 0 {
		settings.StaleAfter = def.StaleAfter
	}
	if settings.StepTimeout <= 0 || settings.StepTimeout >= settings.StaleAfter {
		settings.StepTimeout = settings.StaleAfter * 3 / 4
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = def.MaxAttempts
	}
	if settings.BatchConcurrency <= 0 {
		settings.BatchConcurrency = def.BatchConcurrency
	}
	if settings.PendingTimeout <= 0 {
		settings.PendingTimeout = 10 * settings.StaleAfter
	}
	if settings.DriveBudget <= 0 {
		settings.DriveBudget = 5 * settings.StaleAfter
	}
	return &Driver{
		jobs:       deps.Jobs,
		stickers:   deps.Stickers,
		orders:     deps.Orders,
		generator:  deps.Generator,
		remover:    deps.Remover,
		store:      deps.Store,
		catalog:    catalog,
		httpClient: httpClient,
		logger:     logger,
		settings:   settings,
		newToken:   func() string { return uuid.NewString() },
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// Settings returns the effective settings.
func (d *Driver) Settings() Settings {
	return d.settings
}

// Paid reports whether the job has a paid order.
func (d *Driver) Paid(ctx context.Context, jobID string) (bool, error) {
	order, err := d.orders.GetByJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return order.Paid(), nil
}

// Step performs at most one unit of provider work for a job: start a
// prediction, poll an outstanding one, or advance past a settled emotion.
// It never blocks for longer than StepTimeout on provider calls.
func (d *Driver) Step(ctx context.Context, jobID string) (StepResult, error) {
	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		return StepResult{}, err
	}
	if job.Status.Terminal() {
		return StepResult{Outcome: OutcomeTerminal, Job: job}, nil
	}
	paid, err := d.Paid(ctx, jobID)
	if err != nil {
		return StepResult{Job: job}, err
	}
	if !paid {
		return StepResult{Outcome: OutcomeUnpaid, Job: job}, nil
	}

	token := d.newToken()
	locked, err := d.jobs.AcquireLock(ctx, jobID, token, d.settings.StaleAfter)
	if errors.Is(err, domain.ErrLockHeld) {
		return StepResult{Outcome: OutcomeBusy, Job: job}, nil
	}
	if err != nil {
		return StepResult{Job: job}, err
	}
	defer d.release(ctx, jobID, token)

	// Provider calls stop at StepTimeout or when the caller leaves. Writes that
	// record their outcome run on their own clock.
	callCtx, cancelCalls := context.WithTimeout(ctx, d.settings.StepTimeout)
	defer cancelCalls()
	writeCtx, cancelWrites := context.WithTimeout(context.WithoutCancel(ctx), d.settings.StepTimeout+writeGrace)
	defer cancelWrites()

	t := &tick{job: locked, token: token, caller: ctx, calls: callCtx}
	res, err := d.step(writeCtx, t)
	if res.Job == nil {
		res.Job = t.job
	}
	if errors.Is(err, domain.ErrLockLost) {
		// A newer invocation took over the stale lock and redoes this work.
		d.logger.Warn().Str("job_id", jobID).Msg("generation: lock lost mid-step")
		res.Outcome = OutcomeBusy
		return res, nil
	}
	return res, err
}

// tick is the state of one locked step. Repository writes use the ctx passed
// down the step functions; provider calls use calls.
type tick struct {
	job    *domain.Job
	token  string
	caller context.Context
	calls  context.Context
}

// abandoned reports whether the caller went away. A provider call cut short
// that way is not held against the emotion.
func (t *tick) abandoned() bool {
	return t.caller.Err() != nil
}

func (d *Driver) step(ctx context.Context, t *tick) (StepResult, error) {
	emotion, ok := t.job.NextEmotion()
	if !ok {
		return d.finish(ctx, t)
	}
	log := d.logger.With().Str("job_id", t.job.ID).Str("emotion", string(emotion)).Logger()

	sticker, err := d.stickers.Get(ctx, t.job.ID, emotion)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return StepResult{Emotion: emotion}, err
	}
	switch {
	case sticker.Settled():
		// Settled by an earlier invocation that lost the lock before advancing.
		outcome := OutcomeFinalized
		if sticker.Status == domain.StickerStatusSkipped {
			outcome = OutcomeSkipped
		}
		return d.advance(ctx, t, emotion, outcome)
	case sticker == nil || !sticker.Pipeline.Awaiting():
		attempts := 0
		if sticker != nil {
			attempts = sticker.Attempts
		}
		log.Debug().Int("attempt", attempts+1).Msg("generation: starting emotion")
		return d.start(ctx, t, emotion, attempts+1)
	default:
		return d.poll(ctx, t, sticker)
	}
}

func (d *Driver) start(ctx context.Context, t *tick, emotion domain.Emotion, attempt int) (StepResult, error) {
	style := d.styleFor(t.job)
	res, err := d.generator.Start(t.calls, image.Request{
		JobID:          t.job.ID,
		Emotion:        emotion,
		StyleKey:       style.Key,
		Prompt:         d.catalog.Prompt(style, emotion),
		SourceImageURL: t.job.SourceImageURL,
	})
	if err != nil {
		if t.abandoned() {
			return StepResult{Emotion: emotion}, t.caller.Err()
		}
		return d.failAttempt(ctx, t, emotion, attempt, err.Error())
	}
	switch res.Outcome {
	case image.OutcomePending:
		p := domain.Pipeline{Handle: res.Handle, Step: domain.StepGenerate, StartedAt: d.now()}
		if err := d.stickers.SavePipeline(ctx, t.job.ID, emotion, p, attempt); err != nil {
			return StepResult{Emotion: emotion}, err
		}
		return StepResult{Outcome: OutcomeStarted, Emotion: emotion}, nil
	case image.OutcomeFinished:
		out, err := d.generated(ctx, t, emotion, attempt, res.Asset)
		if errors.Is(err, errAssetUnavailable) {
			return d.failAttempt(ctx, t, emotion, attempt, err.Error())
		}
		return out, err
	default:
		return d.failAttempt(ctx, t, emotion, attempt, res.Reason)
	}
}

func (d *Driver) poll(ctx context.Context, t *tick, sticker *domain.Sticker) (StepResult, error) {
	emotion := sticker.Emotion
	p := sticker.Pipeline

	if p.Step == domain.StepRemoveBackground && d.remover == nil {
		return d.abandon(ctx, t, sticker, "background removal is not configured")
	}
	switch {
	case p.StartedAt.IsZero():
		// Rows written before StartedAt was recorded start their clock now.
		p.StartedAt = d.now()
		if err := d.stickers.SavePipeline(ctx, t.job.ID, emotion, p, sticker.Attempts); err != nil {
			return StepResult{Emotion: emotion}, err
		}
	case d.now().Sub(p.StartedAt) > d.settings.PendingTimeout:
		return d.abandon(ctx, t, sticker, fmt.Sprintf("prediction %s did not settle within %s", p.Handle, d.settings.PendingTimeout))
	}

	var (
		res image.Result
		err error
	)
	if p.Step == domain.StepRemoveBackground {
		res, err = d.remover.Poll(t.calls, p.Handle)
	} else {
		res, err = d.generator.Poll(t.calls, p.Handle)
	}
	if err != nil {
		if t.abandoned() {
			return StepResult{Emotion: emotion}, t.caller.Err()
		}
		return d.pollFailed(ctx, t, sticker, p, err)
	}

	switch res.Outcome {
	case image.OutcomePending:
		if p.PollErrors > 0 {
			p.PollErrors = 0
			if err := d.stickers.SavePipeline(ctx, t.job.ID, emotion, p, sticker.Attempts); err != nil {
				return StepResult{Emotion: emotion}, err
			}
		}
		return d.wait(ctx, t, emotion)
	case image.OutcomeFinished:
		var out StepResult
		if p.Step == domain.StepRemoveBackground {
			out, err = d.finalize(ctx, t, emotion, res.Asset)
		} else {
			out, err = d.generated(ctx, t, emotion, sticker.Attempts, res.Asset)
		}
		if errors.Is(err, errAssetUnavailable) {
			return d.pollFailed(ctx, t, sticker, p, err)
		}
		return out, err
	default:
		return d.abandon(ctx, t, sticker, res.Reason)
	}
}

// pollFailed counts a failed poll. A provider rejection or too many failures
// in a row give up on the prediction; otherwise the next tick polls again.
func (d *Driver) pollFailed(ctx context.Context, t *tick, sticker *domain.Sticker, p domain.Pipeline, cause error) (StepResult, error) {
	p.PollErrors++
	if errors.Is(cause, domain.ErrProviderFailure) || p.PollErrors >= maxPollErrors {
		return d.abandon(ctx, t, sticker, cause.Error())
	}
	d.logger.Warn().Err(cause).Str("job_id", t.job.ID).Str("emotion", string(sticker.Emotion)).Int("poll_errors", p.PollErrors).
		Msg("generation: poll failed")
	if err := d.stickers.SavePipeline(ctx, t.job.ID, sticker.Emotion, p, sticker.Attempts); err != nil {
		return StepResult{Emotion: sticker.Emotion}, err
	}
	return d.wait(ctx, t, sticker.Emotion)
}

// abandon drops the outstanding prediction. A failed background removal
// keeps the generated image; a failed generation costs an attempt.
func (d *Driver) abandon(ctx context.Context, t *tick, sticker *domain.Sticker, reason string) (StepResult, error) {
	p := sticker.Pipeline
	if p.Step == domain.StepRemoveBackground && p.IntermediateURL != "" {
		d.logger.Warn().Str("job_id", t.job.ID).Str("emotion", string(sticker.Emotion)).Str("reason", reason).
			Msg("generation: background removal failed, keeping generated image")
		return d.markReady(ctx, t, sticker.Emotion, p.IntermediateURL)
	}
	return d.failAttempt(ctx, t, sticker.Emotion, max(sticker.Attempts, 1), reason)
}

// generated handles a finished generate step, starting background removal
// when the style asks for it.
func (d *Driver) generated(ctx context.Context, t *tick, emotion domain.Emotion, attempt int, asset image.Asset) (StepResult, error) {
	style := d.styleFor(t.job)
	if d.remover == nil || !style.RemoveBackground {
		return d.finalize(ctx, t, emotion, asset)
	}
	rawURL, err := d.persist(ctx, t.job.ID, emotion, "-raw", asset)
	if err != nil {
		return StepResult{Emotion: emotion}, err
	}
	if rawURL == "" {
		return d.failAttempt(ctx, t, emotion, d.settings.MaxAttempts, "provider returned an empty asset")
	}
	res, err := d.remover.StartRemoval(t.calls, rawURL)
	if err != nil && t.abandoned() {
		return StepResult{Emotion: emotion}, t.caller.Err()
	}
	if err == nil && res.Pending() {
		p := domain.Pipeline{Handle: res.Handle, Step: domain.StepRemoveBackground, IntermediateURL: rawURL, StartedAt: d.now()}
		if err := d.stickers.SavePipeline(ctx, t.job.ID, emotion, p, attempt); err != nil {
			return StepResult{Emotion: emotion}, err
		}
		if err := d.jobs.Heartbeat(ctx, t.job.ID, t.token); err != nil {
			return StepResult{Emotion: emotion}, err
		}
		return StepResult{Outcome: OutcomeStepped, Emotion: emotion}, nil
	}

	reason := res.Reason
	switch {
	case err != nil:
		reason = err.Error()
	case res.Finished():
		out, ferr := d.finalize(ctx, t, emotion, res.Asset)
		if !errors.Is(ferr, errAssetUnavailable) {
			return out, ferr
		}
		reason = ferr.Error()
	}
	d.logger.Warn().Str("job_id", t.job.ID).Str("emotion", string(emotion)).Str("reason", reason).
		Msg("generation: background removal unavailable, keeping generated image")
	return d.markReady(ctx, t, emotion, rawURL)
}

// finalize stores the final asset and marks the sticker ready.
func (d *Driver) finalize(ctx context.Context, t *tick, emotion domain.Emotion, asset image.Asset) (StepResult, error) {
	url, err := d.persist(ctx, t.job.ID, emotion, "", asset)
	if err != nil {
		return StepResult{Emotion: emotion}, err
	}
	if url == "" {
		return d.failAttempt(ctx, t, emotion, d.settings.MaxAttempts, "provider returned an empty asset")
	}
	return d.markReady(ctx, t, emotion, url)
}

func (d *Driver) markReady(ctx context.Context, t *tick, emotion domain.Emotion, url string) (StepResult, error) {
	if err := d.stickers.MarkReady(ctx, t.job.ID, emotion, url, url); err != nil {
		return StepResult{Emotion: emotion}, err
	}
	d.logger.Info().Str("job_id", t.job.ID).Str("emotion", string(emotion)).Msg("generation: sticker ready")
	return d.advance(ctx, t, emotion, OutcomeFinalized)
}

// failAttempt records a failed attempt and skips the emotion once attempts
// are exhausted.
func (d *Driver) failAttempt(ctx context.Context, t *tick, emotion domain.Emotion, attempt int, reason string) (StepResult, error) {
	log := d.logger.With().Str("job_id", t.job.ID).Str("emotion", string(emotion)).Int("attempt", attempt).Logger()
	if attempt >= d.settings.MaxAttempts {
		log.Warn().Str("reason", reason).Msg("generation: emotion skipped")
		if err := d.stickers.MarkSkipped(ctx, t.job.ID, emotion, reason, attempt); err != nil {
			return StepResult{Emotion: emotion}, err
		}
		return d.advance(ctx, t, emotion, OutcomeSkipped)
	}
	log.Warn().Str("reason", reason).Msg("generation: attempt failed")
	p := domain.Pipeline{Step: domain.StepGenerate, LastError: reason}
	if err := d.stickers.SavePipeline(ctx, t.job.ID, emotion, p, attempt); err != nil {
		return StepResult{Emotion: emotion}, err
	}
	return StepResult{Outcome: OutcomeRetrying, Emotion: emotion}, nil
}

func (d *Driver) wait(ctx context.Context, t *tick, emotion domain.Emotion) (StepResult, error) {
	if err := d.jobs.Heartbeat(ctx, t.job.ID, t.token); err != nil {
		return StepResult{Emotion: emotion}, err
	}
	return StepResult{Outcome: OutcomeWaiting, Emotion: emotion}, nil
}

func (d *Driver) advance(ctx context.Context, t *tick, emotion domain.Emotion, outcome Outcome) (StepResult, error) {
	job, err := d.jobs.Advance(ctx, t.job.ID, t.token, t.job.Progress)
	if err != nil {
		return StepResult{Emotion: emotion}, err
	}
	t.job = job
	if job.Status.Terminal() {
		d.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("generation: job finished")
	}
	return StepResult{Outcome: outcome, Emotion: emotion, Job: job}, nil
}

// finish settles a job whose progress already covers every emotion.
func (d *Driver) finish(ctx context.Context, t *tick) (StepResult, error) {
	list, err := d.stickers.ListByJob(ctx, t.job.ID)
	if err != nil {
		return StepResult{}, err
	}
	status := domain.JobStatusFailed
	if len(domain.ReadyStickers(list)) > 0 {
		status = domain.JobStatusCompleted
	}
	job, err := d.jobs.Finish(ctx, t.job.ID, t.token, status, domain.EmotionCount)
	if err != nil {
		return StepResult{}, err
	}
	t.job = job
	return StepResult{Outcome: OutcomeFinished, Job: job}, nil
}

// persist stores an asset under a durable key and returns its URL. Data URL
// assets stay inline, as does an asset whose upload fails. An asset that
// cannot be fetched from the provider yields errAssetUnavailable.
func (d *Driver) persist(ctx context.Context, jobID string, emotion domain.Emotion, suffix string, asset image.Asset) (string, error) {
	if len(asset.Data) == 0 && dataurl.Is(asset.URL) {
		return asset.URL, nil
	}
	ctx, cancel := context.WithTimeout(ctx, assetTimeout)
	defer cancel()

	data, mime := asset.Data, asset.MIME
	if len(data) == 0 {
		if asset.URL == "" {
			return "", nil
		}
		fetched, fetchedMIME, err := image.Fetch(ctx, d.httpClient, asset.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %w", errAssetUnavailable, err)
		}
		data, mime = fetched, fetchedMIME
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	key := fmt.Sprintf("stickers/%s/%s%s%s", jobID, emotion, suffix, image.ExtensionFor(mime))
	url, err := d.store.Put(ctx, key, data, mime)
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Str("key", key).Msg("generation: store asset failed, keeping it inline")
		return dataurl.Encode(mime, data), nil
	}
	return url, nil
}

func (d *Driver) styleFor(job *domain.Job) styles.Style {
	if s, ok := d.catalog.Style(job.StyleKey); ok {
		return s
	}
	s, _ := d.catalog.Style(d.catalog.DefaultPack().StyleKey)
	return s
}

func (d *Driver) release(ctx context.Context, jobID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.jobs.ReleaseLock(ctx, jobID, token); err != nil {
		d.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation: release lock failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
