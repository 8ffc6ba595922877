package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"stickerpack/internal/bundle"
	"stickerpack/internal/domain"
)

type bundleRequest struct {
	JobID string `json:"jobId"`
	Email string `json:"email"`
}

// Bundle stores the job's archive and returns a signed link, emailing it
// when an address is given.
func (a *App) Bundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := decodeBody(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid payload")
		return
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "Job ID is required")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid email address")
		return
	}
	if a.Bundles == nil {
		a.fail(w, r, fmt.Errorf("bundle service missing: %w", domain.ErrNotConfigured), "Bundling is not configured")
		return
	}
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.fail(w, r, err, "Failed to create bundle")
		return
	}
	res, err := a.Bundles.Build(r.Context(), jobID, email)
	if err != nil {
		a.fail(w, r, err, "Failed to create bundle")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":     true,
		"downloadUrl": res.DownloadURL,
		"emailSent":   res.EmailSent,
	})
}

// Download zips the finished stickers and streams the archive directly.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if a.Bundles == nil {
		a.fail(w, r, fmt.Errorf("bundle service missing: %w", domain.ErrNotConfigured), "Bundling is not configured")
		return
	}
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.fail(w, r, err, "Failed to create download")
		return
	}
	archive, err := a.Bundles.Assemble(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err, "Failed to create download")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, bundle.ArchiveName(jobID)))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}
