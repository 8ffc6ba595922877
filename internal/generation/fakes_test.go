package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stickerpack/internal/domain"
	"stickerpack/internal/providers/image"
)

// memRepo mirrors the conditional updates of the Postgres repositories.
type memRepo struct {
	mu       sync.Mutex
	now      time.Time
	jobs     map[string]*domain.Job
	stickers map[string]map[domain.Emotion]*domain.Sticker
	orders   map[string]*domain.Order
	history  []int
}

func newMemRepo() *memRepo {
	return &memRepo{
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		jobs:     map[string]*domain.Job{},
		stickers: map[string]map[domain.Emotion]*domain.Sticker{},
		orders:   map[string]*domain.Order{},
	}
}

func (m *memRepo) addJob(id, style string, paid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = &domain.Job{
		ID:             id,
		Status:         domain.JobStatusPending,
		SourceImageURL: "data:image/png;base64,iVBORw0KGgo=",
		StyleKey:       style,
		CreatedAt:      m.now,
		UpdatedAt:      m.now,
	}
	if paid {
		m.orders[id] = &domain.Order{ID: "order-" + id, JobID: id, Status: domain.OrderStatusPaid, AmountCents: 499, Currency: "USD"}
	}
}

func (m *memRepo) job(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memRepo) sticker(id string, e domain.Emotion) *domain.Sticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stickers[id][e]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *memRepo) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	j.UpdatedAt = m.now
	cp := *j
	return &cp, nil
}

func (m *memRepo) Heartbeat(ctx context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	if j == nil || j.LockToken != token || j.Status != domain.JobStatusProcessing {
		return domain.ErrLockLost
	}
	j.UpdatedAt = m.now
	return nil
}

func (m *memRepo) ReleaseLock(ctx context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j := m.jobs[jobID]; j != nil && j.LockToken == token {
		j.LockToken = ""
		j.UpdatedAt = m.now
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
	m.history = append(m.history, j.Progress)
	if j.Progress >= domain.EmotionCount {
		j.Status = domain.JobStatusFailed
		for _, s := range m.stickers[jobID] {
			if s.Status == domain.StickerStatusReady {
				j.Status = domain.JobStatusCompleted
			}
		}
		j.LockToken = ""
	}
	j.UpdatedAt = m.now
	cp := *j
	return &cp, nil
}

func (m *memRepo) Finish(ctx context.Context, jobID, token string, status domain.JobStatus, progress int) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	if j == nil || j.LockToken != token || j.Status != domain.JobStatusProcessing {
		return nil, domain.ErrLockLost
	}
	j.Status = status
	j.Progress = max(j.Progress, progress)
	j.LockToken = ""
	cp := *j
	return &cp, nil
}

func (m *memRepo) ListStalled(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, j := range m.jobs {
		if j.Status.Terminal() || !m.orders[id].Paid() {
			continue
		}
		if j.LockToken == "" || j.UpdatedAt.Before(m.now.Add(-staleAfter)) {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
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
	if s := m.sticker(jobID, emotion); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
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
	if s.Status == domain.StickerStatusReady {
		return nil
	}
	s.Status = domain.StickerStatusSkipped
	s.Pipeline = domain.Pipeline{LastError: reason}
	s.Attempts = attempts
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
	cp.Status = domain.OrderStatusPending
	m.orders[order.JobID] = &cp
	return &cp, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, jobID, providerOrderID string, amountCents int, currency string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := &domain.Order{ID: "order-" + jobID, JobID: jobID, Status: domain.OrderStatusPaid, ProviderOrderID: providerOrderID, AmountCents: amountCents, Currency: currency}
	m.orders[jobID] = o
	cp := *o
	return &cp, nil
}

var (
	_ domain.JobRepository     = (*memRepo)(nil)
	_ domain.StickerRepository = (*memRepo)(nil)
	_ domain.OrderRepository   = (*memRepo)(nil)
)

// ctxBoundRepo refuses writes on a finished context, as a pgx pool does.
type ctxBoundRepo struct {
	*memRepo
}

func (r ctxBoundRepo) Heartbeat(ctx context.Context, jobID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.memRepo.Heartbeat(ctx, jobID, token)
}

func (r ctxBoundRepo) Advance(ctx context.Context, jobID, token string, expected int) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memRepo.Advance(ctx, jobID, token, expected)
}

func (r ctxBoundRepo) Finish(ctx context.Context, jobID, token string, status domain.JobStatus, progress int) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memRepo.Finish(ctx, jobID, token, status, progress)
}

func (r ctxBoundRepo) SavePipeline(ctx context.Context, jobID string, emotion domain.Emotion, pipeline domain.Pipeline, attempts int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.memRepo.SavePipeline(ctx, jobID, emotion, pipeline, attempts)
}

func (r ctxBoundRepo) MarkReady(ctx context.Context, jobID string, emotion domain.Emotion, imageURL, thumbnailURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.memRepo.MarkReady(ctx, jobID, emotion, imageURL, thumbnailURL)
}

func (r ctxBoundRepo) MarkSkipped(ctx context.Context, jobID string, emotion domain.Emotion, reason string, attempts int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.memRepo.MarkSkipped(ctx, jobID, emotion, reason, attempts)
}

// stallingGenerator holds every call until its context ends.
type stallingGenerator struct {
	mu      sync.Mutex
	starts  int
	onStart func()
}

func (g *stallingGenerator) Name() string { return "stalling" }

func (g *stallingGenerator) Start(ctx context.Context, req image.Request) (image.Result, error) {
	g.mu.Lock()
	g.starts++
	hook := g.onStart
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	<-ctx.Done()
	return image.Result{}, ctx.Err()
}

func (g *stallingGenerator) Poll(ctx context.Context, handle string) (image.Result, error) {
	<-ctx.Done()
	return image.Result{}, ctx.Err()
}

func (g *stallingGenerator) startCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.starts
}

// scriptedGenerator answers Start and Poll from per-test functions and
// records every call.
type scriptedGenerator struct {
	mu     sync.Mutex
	start  func(req image.Request, call int) (image.Result, error)
	poll   func(handle string, call int) (image.Result, error)
	starts map[domain.Emotion]int
	polls  map[string]int
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{starts: map[domain.Emotion]int{}, polls: map[string]int{}}
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Start(ctx context.Context, req image.Request) (image.Result, error) {
	g.mu.Lock()
	g.starts[req.Emotion]++
	call := g.starts[req.Emotion]
	g.mu.Unlock()
	if g.start == nil {
		return image.Finished(pngAsset()), nil
	}
	return g.start(req, call)
}

func (g *scriptedGenerator) Poll(ctx context.Context, handle string) (image.Result, error) {
	g.mu.Lock()
	g.polls[handle]++
	call := g.polls[handle]
	g.mu.Unlock()
	if g.poll == nil {
		return image.Pending(handle), nil
	}
	return g.poll(handle, call)
}

func (g *scriptedGenerator) startCount(e domain.Emotion) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.starts[e]
}

func (g *scriptedGenerator) totalStarts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.starts {
		n += c
	}
	return n
}

type scriptedRemover struct {
	start func(url string) (image.Result, error)
	poll  func(handle string) (image.Result, error)
	urls  []string
}

func (r *scriptedRemover) StartRemoval(ctx context.Context, imageURL string) (image.Result, error) {
	r.urls = append(r.urls, imageURL)
	return r.start(imageURL)
}

func (r *scriptedRemover) Poll(ctx context.Context, handle string) (image.Result, error) {
	return r.poll(handle)
}

// memStore keeps uploaded objects in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return "", fmt.Errorf("bucket unavailable")
	}
	s.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (s *memStore) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://cdn.test/" + key + "?signed=1", nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func pngAsset() image.Asset {
	return image.Asset{Data: []byte("\x89PNG\r\n\x1a\nsticker"), MIME: "image/png"}
}
