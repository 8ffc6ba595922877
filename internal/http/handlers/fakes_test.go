package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stickerpack/internal/domain"
)

// memRepo is an in-memory stand-in for the three Postgres repositories with
// the same conditional-update rules.
type memRepo struct {
	mu       sync.Mutex
	now      time.Time
	jobs     map[string]*domain.Job
	stickers map[string]map[domain.Emotion]*domain.Sticker
	orders   map[string]*domain.Order
	failJobs error
}

func newMemRepo() *memRepo {
	return &memRepo{
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		jobs:     map[string]*domain.Job{},
		stickers: map[string]map[domain.Emotion]*domain.Sticker{},
		orders:   map[string]*domain.Order{},
	}
}

func (m *memRepo) addJob(id string, status domain.JobStatus, orderStatus domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = &domain.Job{ID: id, Status: status, StyleKey: "pixar3d", SourceImageURL: "https://cdn.test/src.png", CreatedAt: m.now, UpdatedAt: m.now}
	if orderStatus != "" {
		m.orders[id] = &domain.Order{ID: "order-" + id, JobID: id, Status: orderStatus, AmountCents: 499, Currency: "USD"}
	}
}

func (m *memRepo) job(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memRepo) order(id string) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (m *memRepo) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failJobs != nil {
		return m.failJobs
	}
	cp := *job
	cp.Status = domain.JobStatusPending
	cp.Progress = 0
	cp.CreatedAt = m.now
	cp.UpdatedAt = m.now
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failJobs != nil {
		return nil, m.failJobs
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memRepo) AcquireLock(ctx context.Context, jobID, token string, staleAfter time.Duration) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return nil, domain.ErrLockHeld
	}
	if j.LockToken != "" && !j.UpdatedAt.Before(m.now.Add(-staleAfter)) {
		return nil, domain.ErrLockHeld
	}
	j.Status = domain.JobStatusProcessing
	j.LockToken = token
	cp := *j
	return &cp, nil
}

func (m *memRepo) Heartbeat(ctx context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.jobs[jobID]; j == nil || j.LockToken != token {
		return domain.ErrLockLost
	}
	return nil
}

func (m *memRepo) ReleaseLock(ctx context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.jobs[jobID]; j != nil && j.LockToken == token {
		j.LockToken = ""
	}
	return nil
}

func (m *memRepo) Advance(ctx context.Context, jobID, token string, expected int) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	if j == nil || j.LockToken != token || j.Progress != expected || j.Status != domain.JobStatusProcessing {
		return nil, domain.ErrLockLost
	}
	j.Progress++
	if j.Progress >= domain.EmotionCount {
		j.Status = domain.JobStatusFailed
		for _, s := range m.stickers[jobID] {
			if s.Status == domain.StickerStatusReady {
				j.Status = domain.JobStatusCompleted
			}
		}
		j.LockToken = ""
	}
	cp := *j
	return &cp, nil
}

func (m *memRepo) Finish(ctx context.Context, jobID, token string, status domain.JobStatus, progress int) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	if j == nil || j.LockToken != token {
		return nil, domain.ErrLockLost
	}
	j.Status = status
	j.Progress = max(j.Progress, progress)
	j.LockToken = ""
	cp := *j
	return &cp, nil
}

func (m *memRepo) ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error) {
	return nil, errors.New("not used by handlers")
}

func (m *memRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Sticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Sticker
	for _, e := range domain.Emotions {
		if s, ok := m.stickers[jobID][e]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memRepo) Get(ctx context.Context, jobID string, emotion domain.Emotion) (*domain.Sticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stickers[jobID][emotion]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) row(jobID string, emotion domain.Emotion) *domain.Sticker {
	if m.stickers[jobID] == nil {
		m.stickers[jobID] = map[domain.Emotion]*domain.Sticker{}
	}
	s, ok := m.stickers[jobID][emotion]
	if !ok {
		s = &domain.Sticker{ID: fmt.Sprintf("%s-%s", jobID, emotion), JobID: jobID, Emotion: emotion}
		m.stickers[jobID][emotion] = s
	}
	return s
}

func (m *memRepo) SavePipeline(ctx context.Context, jobID string, emotion domain.Emotion, pipeline domain.Pipeline, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(jobID, emotion)
	if s.Status == domain.StickerStatusReady {
		return nil
	}
	s.Status = domain.StickerStatusGenerating
	s.Pipeline = pipeline
	s.Attempts = attempts
	return nil
}

func (m *memRepo) MarkReady(ctx context.Context, jobID string, emotion domain.Emotion, imageURL, thumbnailURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(jobID, emotion)
	s.Status = domain.StickerStatusReady
	s.ImageURL = imageURL
	s.ThumbnailURL = thumbnailURL
	s.Pipeline = domain.Pipeline{}
	return nil
}

func (m *memRepo) MarkSkipped(ctx context.Context, jobID string, emotion domain.Emotion, reason string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(jobID, emotion)
	if s.Status != domain.StickerStatusReady {
		s.Status = domain.StickerStatusSkipped
		s.Attempts = attempts
	}
	return nil
}

func (m *memRepo) GetByJob(ctx context.Context, jobID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memRepo) UpsertPending(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[order.JobID]; ok && o.Paid() {
		cp := *o
		return &cp, nil
	}
	cp := *order
	cp.ID = "order-" + order.JobID
	cp.Status = domain.OrderStatusPending
	m.orders[order.JobID] = &cp
	return &cp, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, jobID, providerOrderID string, amountCents int, currency string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[jobID]
	if !ok {
		o = &domain.Order{ID: "order-" + jobID, JobID: jobID}
		m.orders[jobID] = o
	}
	o.Status = domain.OrderStatusPaid
	o.ProviderOrderID = providerOrderID
	if amountCents > 0 {
		o.AmountCents = amountCents
	}
	if currency != "" {
		o.Currency = currency
	}
	cp := *o
	return &cp, nil
}

var (
	_ domain.JobRepository     = (*memRepo)(nil)
	_ domain.StickerRepository = (*memRepo)(nil)
	_ domain.OrderRepository   = (*memRepo)(nil)
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (s *memStore) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://cdn.test/%s?expires=%d", key, int(expiry.Hours())), nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

type recordingKicker struct {
	mu  sync.Mutex
	ids []string
}

func (k *recordingKicker) Publish(ctx context.Context, jobID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ids = append(k.ids, jobID)
	return nil
}
