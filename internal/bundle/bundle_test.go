package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerpack/internal/domain"
	"stickerpack/internal/notify"
	"stickerpack/pkg/dataurl"
)

type fakeStickers struct {
	domain.StickerRepository
	list []domain.Sticker
}

func (f *fakeStickers) ListByJob(ctx context.Context, jobID string) ([]domain.Sticker, error) {
	return f.list, nil
}

type fakeOrders struct {
	domain.OrderRepository
	order *domain.Order
}

func (f *fakeOrders) GetByJob(ctx context.Context, jobID string) (*domain.Order, error) {
	if f.order == nil {
		return nil, domain.ErrNotFound
	}
	return f.order, nil
}

type fakeStore struct {
	puts map[string][]byte
	ttl  time.Duration
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return "https://cdn.test/" + key, nil
}

func (f *fakeStore) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.ttl = expiry
	return "https://cdn.test/" + key + "?sig=abc", nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }

type fakeNotifier struct {
	sent []notify.Download
	err  error
}

func (f *fakeNotifier) SendDownload(ctx context.Context, d notify.Download) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, d)
	return nil
}

const jobID = "6c1f0a52-3c2e-4c55-9d8c-1f1c7f1e9a01"

func paid() *fakeOrders {
	return &fakeOrders{order: &domain.Order{JobID: jobID, Status: domain.OrderStatusPaid}}
}

func readyList(urlFor func(domain.Emotion) string) []domain.Sticker {
	var out []domain.Sticker
	// Reverse order so the archive order is shown to come from the emotion list.
	for i := len(domain.Emotions) - 1; i >= 0; i-- {
		e := domain.Emotions[i]
		out = append(out, domain.Sticker{JobID: jobID, Emotion: e, Status: domain.StickerStatusReady, ImageURL: urlFor(e)})
	}
	return out
}

func entryNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildStoresArchiveAndSendsEmail(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc := NewService(Options{
		Stickers: &fakeStickers{list: readyList(func(e domain.Emotion) string { return dataurl.Encode("image/png", []byte(e)) })},
		Orders:   paid(),
		Store:    store,
		Notifier: notifier,
	})

	res, err := svc.Build(context.Background(), jobID, "buyer@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/sticker-packs/"+jobID+".zip?sig=abc", res.DownloadURL)
	assert.True(t, res.EmailSent)
	assert.Equal(t, domain.EmotionCount, res.Included)
	assert.Equal(t, 48*time.Hour, store.ttl)

	names := entryNames(t, store.puts["sticker-packs/"+jobID+".zip"])
	require.Len(t, names, domain.EmotionCount)
	for i, e := range domain.Emotions {
		assert.Equal(t, "sticker-"+string(e)+".png", names[i])
	}
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, res.DownloadURL, notifier.sent[0].URL)
}

func TestBuildSkipsFailedFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "thinking") || strings.Contains(r.URL.Path, "crying") {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	}))
	defer srv.Close()

	store := &fakeStore{}
	svc := NewService(Options{
		Stickers:   &fakeStickers{list: readyList(func(e domain.Emotion) string { return srv.URL + "/" + string(e) + ".png" })},
		Orders:     paid(),
		Store:      store,
		HTTPClient: srv.Client(),
	})

	res, err := svc.Build(context.Background(), jobID, "")
	require.NoError(t, err)
	assert.Equal(t, 7, res.Included)
	assert.Equal(t, []domain.Emotion{domain.EmotionThinking, domain.EmotionCrying}, res.Skipped)
	assert.False(t, res.EmailSent)
	assert.Len(t, entryNames(t, store.puts["sticker-packs/"+jobID+".zip"]), 7)
}

func TestAssembleFailsWhenNothingCanBeAdded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(Options{
		Stickers:   &fakeStickers{list: readyList(func(e domain.Emotion) string { return srv.URL + "/" + string(e) })},
		Orders:     paid(),
		Store:      &fakeStore{},
		HTTPClient: srv.Client(),
	})
	_, err := svc.Assemble(context.Background(), jobID)
	assert.ErrorIs(t, err, domain.ErrEmptyBundle)
}

func TestAssembleExcludesMarkersAndUnfinishedRows(t *testing.T) {
	list := []domain.Sticker{
		{Emotion: domain.EmotionLaughing, Status: domain.StickerStatusReady, ImageURL: `{"predictionId":"p1","step":"generate"}`},
		{Emotion: domain.EmotionWinking, Status: domain.StickerStatusGenerating},
		{Emotion: domain.EmotionPleading, Status: domain.StickerStatusSkipped},
		{Emotion: domain.EmotionCrying, Status: domain.StickerStatusReady, ImageURL: "data:image/svg+xml," + url.PathEscape("<svg/>")},
	}
	svc := NewService(Options{Stickers: &fakeStickers{list: list}, Orders: paid(), Store: &fakeStore{}})

	archive, err := svc.Assemble(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.Included)
	assert.Equal(t, []string{"sticker-crying.svg"}, entryNames(t, archive.Data))
}

func TestAssembleRequiresPayment(t *testing.T) {
	for name, orders := range map[string]*fakeOrders{
		"no order": {},
		"pending":  {order: &domain.Order{Status: domain.OrderStatusPending}},
	} {
		t.Run(name, func(t *testing.T) {
			svc := NewService(Options{Stickers: &fakeStickers{}, Orders: orders, Store: &fakeStore{}})
			_, err := svc.Assemble(context.Background(), jobID)
			assert.ErrorIs(t, err, domain.ErrPaymentRequired)
		})
	}
}

func TestBuildEmailFailureStillReturnsURL(t *testing.T) {
	svc := NewService(Options{
		Stickers: &fakeStickers{list: readyList(func(e domain.Emotion) string { return dataurl.Encode("image/png", []byte("x")) })},
		Orders:   paid(),
		Store:    &fakeStore{},
		Notifier: &fakeNotifier{err: errors.New("smtp down")},
	})
	res, err := svc.Build(context.Background(), jobID, "buyer@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, res.DownloadURL)
	assert.False(t, res.EmailSent)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "stickers-6c1f0a52.zip", ArchiveName(jobID))
	assert.Equal(t, "stickers-abc.zip", ArchiveName("abc"))
	assert.Equal(t, "sticker-winking.svg", EntryName(domain.EmotionWinking, "image/svg+xml"))
	assert.Equal(t, "sticker-winking.png", EntryName(domain.EmotionWinking, "image/webp"))
}
