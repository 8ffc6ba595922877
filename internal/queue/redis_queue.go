// Package queue carries "drive this job" kicks from the API to workers over
// a Redis stream. A kick only names a job; all job state stays in Postgres,
// so a lost or duplicated kick costs at most one redundant lock attempt.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stickerpack/internal/infra"
)

// Handler drives one kicked job. A returned error requeues the kick until
// MaxRetries is reached.
type Handler func(ctx context.Context, jobID string) error

// Config configures RedisKickQueue.
type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	Logger     *infra.Logger
}

// RedisKickQueue is a consumer-group backed stream of job ids.
type RedisKickQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	logger       *infra.Logger
	once         sync.Once
	groupErr     error
}

func NewRedisKickQueue(cfg Config) (*RedisKickQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("queue: redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue: stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "stickerpack-workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 2 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &RedisKickQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		logger:       logger,
	}, nil
}

// FromConfig returns nil without error when REDIS_ADDR is unset.
func FromConfig(cfg *infra.Config, consumer string, logger *infra.Logger) (*RedisKickQueue, error) {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, nil
	}
	return NewRedisKickQueue(Config{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.RedisStream,
		Group:      cfg.RedisGroup,
		Consumer:   consumer,
		MaxRetries: cfg.MaxEmotionAttempts,
		// A handler drives a job for at most DriveBudget plus one step.
		ClaimIdle: cfg.DriveBudget + 2*cfg.StaleLockThreshold,
		Logger:    logger,
	})
}

// Ping checks connectivity.
func (q *RedisKickQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisKickQueue) Close() error {
	return q.client.Close()
}

// Publish kicks a job.
func (q *RedisKickQueue) Publish(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("queue: job id required")
	}
	return q.add(ctx, q.client, jobID, 1)
}

type xadder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

func (q *RedisKickQueue) add(ctx context.Context, c xadder, jobID string, attempt int) error {
	err := c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  jobID,
			"attempt": strconv.Itoa(attempt),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: publish %s: %w", jobID, err)
	}
	return nil
}

// Run consumes kicks with concurrency consumers until ctx is cancelled.
func (q *RedisKickQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		g.Go(func() error {
			for gctx.Err() == nil {
				if _, err := q.consumeOnce(gctx, consumer, q.block, handler); err != nil && gctx.Err() == nil {
					q.logger.Warn().Err(err).Str("consumer", consumer).Msg("queue: read failed")
					sleep(gctx, q.retryDelay)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (q *RedisKickQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		// "0" so kicks published before the first worker started are still delivered.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("queue: create group: %w", err)
		}
	})
	return q.groupErr
}

// consumeOnce reclaims abandoned kicks, then reads new ones, handling each.
// It returns the number of kicks handled.
func (q *RedisKickQueue) consumeOnce(ctx context.Context, consumer string, block time.Duration, handler Handler) (int, error) {
	handled := 0
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	for _, msg := range claimed {
		q.handle(ctx, msg, handler)
		handled++
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    q.readCount,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return handled, nil
	}
	if err != nil {
		return handled, err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.handle(ctx, msg, handler)
			handled++
		}
	}
	return handled, nil
}

func (q *RedisKickQueue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	attempt := 1
	if raw, ok := msg.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			attempt = n
		}
	}
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	log := q.logger.With().Str("job_id", jobID).Int("attempt", attempt).Logger()
	err := handler(ctx, jobID)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if attempt >= q.maxRetries || ctx.Err() != nil {
		if ctx.Err() != nil {
			// Leave it pending; another consumer reclaims it after claimIdle.
			return
		}
		log.Error().Err(err).Msg("queue: kick dropped after retries")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	log.Warn().Err(err).Msg("queue: kick failed, requeueing")
	sleep(ctx, q.retryDelay)
	if err := q.requeueAndAck(ctx, msg.ID, jobID, attempt+1); err != nil {
		log.Error().Err(err).Msg("queue: requeue failed")
	}
}

func (q *RedisKickQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisKickQueue) requeueAndAck(ctx context.Context, msgID, jobID string, attempt int) error {
	pipe := q.client.TxPipeline()
	if err := q.add(ctx, pipe, jobID, attempt); err != nil {
		return err
	}
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
