package domain

import (
	"context"
	"time"
)

// JobRepository persists jobs and arbitrates the per-job work lock. Every
// mutation after creation is a conditional update so concurrent invocations
// cannot regress status or progress.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// AcquireLock claims the job for token when it is non-terminal and the
	// lock is free or older than staleAfter. Returns ErrLockHeld otherwise.
	AcquireLock(ctx context.Context, jobID, token string, staleAfter time.Duration) (*Job, error)
	// Heartbeat refreshes updated_at while token still owns the lock.
	Heartbeat(ctx context.Context, jobID, token string) error
	ReleaseLock(ctx context.Context, jobID, token string) error
	// Advance moves progress from expected to expected+1. When the last
	// emotion is processed the job becomes terminal and the lock is cleared.
	Advance(ctx context.Context, jobID, token string, expected int) (*Job, error)
	// Finish writes a terminal status and progress, clearing the lock.
	Finish(ctx context.Context, jobID, token string, status JobStatus, progress int) (*Job, error)
	// ListStalled returns paid, non-terminal jobs whose lock is free or stale.
	ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error)
}

// StickerRepository persists per-emotion rows, unique on (job, emotion).
type StickerRepository interface {
	ListByJob(ctx context.Context, jobID string) ([]Sticker, error)
	Get(ctx context.Context, jobID string, emotion Emotion) (*Sticker, error)
	// SavePipeline records in-progress state. Finished rows are never
	// overwritten.
	SavePipeline(ctx context.Context, jobID string, emotion Emotion, pipeline Pipeline, attempts int) error
	MarkReady(ctx context.Context, jobID string, emotion Emotion, imageURL, thumbnailURL string) error
	MarkSkipped(ctx context.Context, jobID string, emotion Emotion, reason string, attempts int) error
}

// OrderRepository persists payment state, at most one order per job.
type OrderRepository interface {
	GetByJob(ctx context.Context, jobID string) (*Order, error)
	// UpsertPending creates or refreshes a pending order and never regresses
	// a paid one.
	UpsertPending(ctx context.Context, order *Order) (*Order, error)
	// MarkPaid is idempotent.
	MarkPaid(ctx context.Context, jobID, providerOrderID string, amountCents int, currency string) (*Order, error)
}
