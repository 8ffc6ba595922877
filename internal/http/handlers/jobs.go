package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stickerpack/internal/domain"
)

type jobSummary struct {
	ID        string           `json:"id"`
	Status    domain.JobStatus `json:"status"`
	Progress  int              `json:"progress"`
	CreatedAt time.Time        `json:"createdAt"`
}

type stickerView struct {
	ID           string         `json:"id"`
	Emotion      domain.Emotion `json:"emotion"`
	ImageURL     string         `json:"imageUrl"`
	ThumbnailURL string         `json:"thumbnailUrl"`
}

type statusResponse struct {
	Success  bool          `json:"success"`
	Job      jobSummary    `json:"job"`
	Stickers []stickerView `json:"stickers"`
	IsPaid   bool          `json:"isPaid"`
}

// JobStatus reports a job and its finished stickers. For a paid, unfinished
// job every poll first runs one generation step, so polling alone carries
// the job to completion.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	ctx := r.Context()
	job, err := a.Jobs.GetByID(ctx, jobID)
	if err != nil {
		a.fail(w, r, err, "Failed to get job status")
		return
	}
	paid, err := a.paid(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err, "Failed to get job status")
		return
	}

	if paid && !job.Status.Terminal() && a.Driver != nil {
		res, err := a.Driver.Step(ctx, job.ID)
		if err != nil {
			// The next poll retries; the response still reflects stored state.
			a.logger().Warn().Err(err).Str("job_id", job.ID).Msg("status: step failed")
		}
		if res.Job != nil {
			job = res.Job
		} else if err != nil {
			if fresh, gerr := a.Jobs.GetByID(ctx, job.ID); gerr == nil {
				job = fresh
			}
		}
		a.logger().Debug().Str("job_id", job.ID).Str("outcome", string(res.Outcome)).Str("emotion", string(res.Emotion)).Msg("status: step")
	}

	list, err := a.Stickers.ListByJob(ctx, job.ID)
	if err != nil {
		a.fail(w, r, err, "Failed to get job status")
		return
	}
	ready := domain.ReadyStickers(list)
	views := make([]stickerView, 0, len(ready))
	for _, s := range ready {
		views = append(views, stickerView{ID: s.ID, Emotion: s.Emotion, ImageURL: s.ImageURL, ThumbnailURL: s.ThumbnailURL})
	}
	progress := len(ready)
	if job.Status == domain.JobStatusCompleted {
		progress = job.Progress
	}

	a.json(w, http.StatusOK, statusResponse{
		Success:  true,
		Job:      jobSummary{ID: job.ID, Status: job.Status, Progress: progress, CreatedAt: job.CreatedAt},
		Stickers: views,
		IsPaid:   paid,
	})
}

// Generate runs every remaining emotion of a paid job in one request.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if a.Driver == nil {
		a.error(w, http.StatusServiceUnavailable, "not_configured", "Generation is not configured")
		return
	}
	res, err := a.Driver.Batch(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err, "Failed to generate stickers")
		return
	}
	resp := map[string]any{"success": true, "succeeded": res.Succeeded, "failed": res.Failed}
	if res.Job != nil {
		resp["status"] = res.Job.Status
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) paid(ctx context.Context, jobID string) (bool, error) {
	order, err := a.Orders.GetByJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return order.Paid(), nil
}
