// Package bundle packs a job's finished stickers into a ZIP archive.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stickerpack/internal/domain"
	"stickerpack/internal/infra"
	"stickerpack/internal/notify"
	"stickerpack/internal/providers/image"
	"stickerpack/internal/storage"
	"stickerpack/pkg/dataurl"
	"stickerpack/pkg/zip"
)

// Options configures a Service.
type Options struct {
	Stickers         domain.StickerRepository
	Orders           domain.OrderRepository
	Store            storage.Store
	Notifier         notify.Notifier
	HTTPClient       *http.Client
	Logger           *infra.Logger
	URLTTL           time.Duration
	FetchConcurrency int
	FetchTimeout     time.Duration
}

// Service assembles, stores and announces archives.
type Service struct {
	stickers         domain.StickerRepository
	orders           domain.OrderRepository
	store            storage.Store
	notifier         notify.Notifier
	httpClient       *http.Client
	logger           *infra.Logger
	ttl              time.Duration
	fetchConcurrency int
	fetchTimeout     time.Duration
	now              func() time.Time
}

// Result is the outcome of Build.
type Result struct {
	DownloadURL string
	EmailSent   bool
	Included    int
	Skipped     []domain.Emotion
}

// Archive is an assembled, not yet stored, bundle.
type Archive struct {
	Data     []byte
	Included int
	Skipped  []domain.Emotion
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	concurrency := opts.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 20 * time.Second
	}
	return &Service{
		stickers:         opts.Stickers,
		orders:           opts.Orders,
		store:            opts.Store,
		notifier:         notifier,
		httpClient:       httpClient,
		logger:           logger,
		ttl:              ttl,
		fetchConcurrency: concurrency,
		fetchTimeout:     fetchTimeout,
		now:              time.Now,
	}
}

// ArchiveName is the file name offered for direct downloads.
func ArchiveName(jobID string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("stickers-%s.zip", short)
}

// ObjectKey is where stored bundles live.
func ObjectKey(jobID string) string {
	return fmt.Sprintf("sticker-packs/%s.zip", jobID)
}

// EntryName names a sticker inside the archive.
func EntryName(emotion domain.Emotion, mime string) string {
	ext := "png"
	if strings.Contains(strings.ToLower(mime), "svg") {
		ext = "svg"
	}
	return fmt.Sprintf("sticker-%s.%s", emotion, ext)
}

func (s *Service) requirePaid(ctx context.Context, jobID string) error {
	order, err := s.orders.GetByJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !order.Paid()) {
		return domain.ErrPaymentRequired
	}
	return err
}

// Assemble builds the archive for a paid job. Stickers that cannot be read
// are left out; ErrEmptyBundle is returned when none could be added.
func (s *Service) Assemble(ctx context.Context, jobID string) (*Archive, error) {
	if err := s.requirePaid(ctx, jobID); err != nil {
		return nil, err
	}
	list, err := s.stickers.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ready := domain.ReadyStickers(list)
	if len(ready) == 0 {
		return nil, domain.ErrEmptyBundle
	}

	entries := make([]*zip.Entry, len(ready))
	var mu sync.Mutex
	var skipped []domain.Emotion
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, sticker := range ready {
		g.Go(func() error {
			entry, err := s.load(gctx, sticker)
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Str("emotion", string(sticker.Emotion)).Msg("bundle: sticker skipped")
				mu.Lock()
				skipped = append(skipped, sticker.Emotion)
				mu.Unlock()
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var included []zip.Entry
	for _, e := range entries {
		if e != nil {
			included = append(included, *e)
		}
	}
	if len(included) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	var buf bytes.Buffer
	if err := zip.Write(&buf, included, s.now()); err != nil {
		return nil, err
	}
	return &Archive{Data: buf.Bytes(), Included: len(included), Skipped: sortSkipped(skipped)}, nil
}

func (s *Service) load(ctx context.Context, sticker domain.Sticker) (*zip.Entry, error) {
	if dataurl.Is(sticker.ImageURL) {
		mime, data, err := dataurl.Decode(sticker.ImageURL)
		if err != nil {
			return nil, err
		}
		return &zip.Entry{Name: EntryName(sticker.Emotion, mime), Data: data}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	data, mime, err := image.Fetch(ctx, s.httpClient, sticker.ImageURL)
	if err != nil {
		return nil, err
	}
	return &zip.Entry{Name: EntryName(sticker.Emotion, mime), Data: data}, nil
}

// Build stores the archive, signs a download URL and, when email is given,
// sends it. A failed email is logged and reported through EmailSent only.
func (s *Service) Build(ctx context.Context, jobID, email string) (Result, error) {
	archive, err := s.Assemble(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	key := ObjectKey(jobID)
	if _, err := s.store.Put(ctx, key, archive.Data, "application/zip"); err != nil {
		return Result{}, fmt.Errorf("bundle: upload archive: %w", err)
	}
	url, err := s.store.SignedURL(ctx, key, s.ttl)
	if err != nil {
		return Result{}, fmt.Errorf("bundle: sign archive url: %w", err)
	}
	res := Result{DownloadURL: url, Included: archive.Included, Skipped: archive.Skipped}
	s.logger.Info().Str("job_id", jobID).Int("stickers", archive.Included).Msg("bundle: archive stored")

	email = strings.TrimSpace(email)
	if email == "" {
		return res, nil
	}
	err = s.notifier.SendDownload(ctx, notify.Download{To: email, JobID: jobID, URL: url, Expiry: s.ttl})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("bundle: email failed")
		return res, nil
	}
	res.EmailSent = true
	return res, nil
}

func sortSkipped(skipped []domain.Emotion) []domain.Emotion {
	if len(skipped) == 0 {
		return nil
	}
	out := make([]domain.Emotion, 0, len(skipped))
	for _, e := range domain.Emotions {
		for _, s := range skipped {
			if s == e {
				out = append(out, e)
			}
		}
	}
	return out
}
