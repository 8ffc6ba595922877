package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
	"stickerpack/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new pending job. An empty ID is filled in.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobStatusPending
	job.Progress = 0
	row := r.db.QueryRow(ctx, sqlinline.QInsertJob, job.ID, job.SourceImageURL, job.StyleKey)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job. Malformed ids are reported as not found.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if !validID(jobID) {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) AcquireLock(ctx context.Context, jobID, token string, staleAfter time.Duration) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QAcquireJobLock, jobID, token, staleAfter.Seconds()))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) Heartbeat(ctx context.Context, jobID, token string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QJobHeartbeat, jobID, token)
	if err != nil {
		return fmt.Errorf("job heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLockLost
	}
	return nil
}

func (r *JobRepositoryPG) ReleaseLock(ctx context.Context, jobID, token string) error {
	if _, err := r.db.Exec(ctx, sqlinline.QReleaseJobLock, jobID, token); err != nil {
		return fmt.Errorf("release job lock: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) Advance(ctx context.Context, jobID, token string, expected int) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QAdvanceJob, jobID, token, expected, domain.EmotionCount))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrLockLost
		}
		return nil, fmt.Errorf("advance job: %w", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) Finish(ctx context.Context, jobID, token string, status domain.JobStatus, progress int) (*domain.Job, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish job with %q: %w", status, domain.ErrInvalidInput)
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QFinishJob, jobID, token, string(status), progress))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrLockLost
		}
		return nil, fmt.Errorf("finish job: %w", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListStalledJobs, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stalled job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var status string
	if err := row.Scan(
		&job.ID,
		&status,
		&job.Progress,
		&job.SourceImageURL,
		&job.StyleKey,
		&job.LockToken,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
