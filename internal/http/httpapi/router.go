package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stickerpack/internal/http/handlers"
	"stickerpack/internal/middleware"
)

// Options configures the router's cross-cutting middleware.
type Options struct {
	Logger          zerolog.Logger
	CORSOrigins     []string
	UploadRateLimit int
	// StaticDir is served under /static when files are stored locally.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(opts.Logger))
	r.Use(middleware.CORS(opts.CORSOrigins))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.With(middleware.RateLimit(opts.UploadRateLimit, time.Minute)).Post("/upload", app.Upload)
	r.Post("/checkout", app.Checkout)

	r.Route("/webhook", func(r chi.Router) {
		r.Post("/payment", app.PaymentWebhook)
		r.Post("/lemonsqueezy", app.PaymentWebhook)
	})

	r.Get("/job/{jobId}", app.JobStatus)
	r.Post("/generate/{jobId}", app.Generate)
	r.Post("/bundle", app.Bundle)
	r.Get("/download/{jobId}", app.Download)

	if opts.StaticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
