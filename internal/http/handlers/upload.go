package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stickerpack/internal/domain"
	"stickerpack/internal/providers/image"
)

type uploadResponse struct {
	Success  bool   `json:"success"`
	JobID    string `json:"jobId"`
	PackID   string `json:"packId"`
	StyleKey string `json:"styleKey"`
}

// Upload stores the source photo and creates a pending job. Generation waits
// for payment.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	limit := a.uploadLimit()
	// Room for the multipart envelope and the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", sizeMessage(limit))
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "No file provided")
		return
	}
	defer file.Close()

	selector := r.FormValue("packId")
	if selector == "" {
		selector = r.FormValue("styleKey")
	}
	pack, ok := a.catalog().ResolvePack(selector)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "Invalid pack selected")
		return
	}

	if header.Size > limit {
		a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", sizeMessage(limit))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "Failed to read file")
		return
	}
	if int64(len(data)) > limit {
		a.error(w, http.StatusRequestEntityTooLarge, "file_too_large", sizeMessage(limit))
		return
	}
	mime := http.DetectContentType(data)
	if len(data) == 0 || !strings.HasPrefix(mime, "image/") {
		a.error(w, http.StatusBadRequest, "invalid_file_type", "File must be an image")
		return
	}

	jobID := uuid.NewString()
	key := fmt.Sprintf("uploads/%s/source%s", jobID, image.ExtensionFor(mime))
	sourceURL, err := a.Store.Put(r.Context(), key, data, mime)
	if err != nil {
		a.fail(w, r, err, "Failed to store upload")
		return
	}

	job := &domain.Job{ID: jobID, SourceImageURL: sourceURL, StyleKey: pack.StyleKey}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if derr := a.Store.Delete(ctx, key); derr != nil {
			a.logger().Warn().Err(derr).Str("key", key).Msg("upload: orphaned source image")
		}
		a.fail(w, r, err, "Failed to process upload")
		return
	}

	a.logger().Info().
		Str("job_id", jobID).
		Str("pack_id", pack.ID).
		Str("style", pack.StyleKey).
		Int("bytes", len(data)).
		Msg("upload: job created")
	a.json(w, http.StatusOK, uploadResponse{Success: true, JobID: jobID, PackID: pack.ID, StyleKey: pack.StyleKey})
}

func sizeMessage(limit int64) string {
	return fmt.Sprintf("File size must be less than %dMB", limit>>20)
}
