package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"stickerpack/internal/bundle"
	"stickerpack/internal/domain"
	"stickerpack/internal/generation"
	"stickerpack/internal/infra"
	"stickerpack/internal/payment"
	"stickerpack/internal/storage"
	"stickerpack/internal/styles"
)

const defaultUploadMaxBytes = 10 << 20

// Kicker hands a paid job to background workers.
type Kicker interface {
	Publish(ctx context.Context, jobID string) error
}

// App carries the dependencies shared by every handler.
type App struct {
	Jobs     domain.JobRepository
	Stickers domain.StickerRepository
	Orders   domain.OrderRepository
	Store    storage.Store
	Catalog  *styles.Catalog
	Driver   *generation.Driver
	Payments *payment.Client
	Verifier *payment.Verifier
	Bundles  *bundle.Service
	// Kicks is optional; without it paid jobs advance on status polls.
	Kicks          Kicker
	Logger         *infra.Logger
	UploadMaxBytes int64
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]any{"success": false, "error": msg, "code": errCode})
}

// fail maps domain errors onto terse responses. Anything unrecognised is
// logged and reported as a generic 500.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, domain.ErrPaymentRequired):
		a.error(w, http.StatusForbidden, "payment_required", "Payment required")
	case errors.Is(err, domain.ErrLockHeld):
		a.error(w, http.StatusConflict, "busy", "Generation already in progress")
	case errors.Is(err, domain.ErrEmptyBundle):
		a.error(w, http.StatusNotFound, "empty_bundle", "No stickers available to bundle")
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", msg)
	case errors.Is(err, domain.ErrNotConfigured):
		a.logger().Error().Err(err).Str("path", r.URL.Path).Msg("handler: dependency not configured")
		a.error(w, http.StatusServiceUnavailable, "not_configured", msg)
	default:
		a.logger().Error().Err(err).Str("path", r.URL.Path).Msg("handler: " + msg)
		a.error(w, http.StatusInternalServerError, "internal", msg)
	}
}

var nopLogger = zerolog.Nop()

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return &nopLogger
	}
	return a.Logger
}

func (a *App) uploadLimit() int64 {
	if a.UploadMaxBytes > 0 {
		return a.UploadMaxBytes
	}
	return defaultUploadMaxBytes
}

func (a *App) catalog() *styles.Catalog {
	if a.Catalog == nil {
		return styles.Default()
	}
	return a.Catalog
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
