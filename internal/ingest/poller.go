package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invoice-engine/internal/metrics"
	"invoice-engine/pkg/logger"
	"invoice-engine/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when a run is already in progress here or, with a
// RunLock, in another process.
var ErrBusy = errors.New("ingest: run already in progress")

// Runner is one ingestion cycle.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// RunLock coordinates runs across processes.
type RunLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisRunLock is an owner-token lock in Redis. The TTL frees it if the
// holder dies mid-run.
type RedisRunLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisRunLock(rdb *redis.Client, key string, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisRunLock) TryAcquire(ctx context.Context) (bool, error) {
	token, ok, err := utils.AcquireLock(ctx, l.rdb, l.key, l.ttl)
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisRunLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	return utils.ReleaseLock(ctx, l.rdb, l.key, token)
}

// Poller runs the ingestion cycle with a fixed delay between the end of one
// run and the start of the next.
type Poller struct {
	runner   Runner
	interval time.Duration
	lock     RunLock

	mu sync.Mutex
}

func NewPoller(runner Runner, interval time.Duration, lock RunLock) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{runner: runner, interval: interval, lock: lock}
}

// RunOnce executes a single cycle unless one is already running.
func (p *Poller) RunOnce(ctx context.Context) (Report, error) {
	if !p.mu.TryLock() {
		metrics.IngestRuns.WithLabelValues("skipped").Inc()
		return Report{}, ErrBusy
	}
	defer p.mu.Unlock()

	if p.lock != nil {
		ok, err := p.lock.TryAcquire(ctx)
		if err != nil {
			metrics.IngestRuns.WithLabelValues("error").Inc()
			return Report{}, fmt.Errorf("ingest: acquire run lock: %w", err)
		}
		if !ok {
			metrics.IngestRuns.WithLabelValues("skipped").Inc()
			return Report{}, ErrBusy
		}
		defer func() {
			// Release even if ctx was cancelled mid-run.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := p.lock.Release(rctx); err != nil {
				logger.From(ctx).Warn("run lock release failed", "err", err)
			}
		}()
	}

	start := time.Now()
	rep, err := p.runner.Run(ctx)
	metrics.IngestRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestRuns.WithLabelValues("error").Inc()
		return rep, err
	}
	metrics.IngestRuns.WithLabelValues("ok").Inc()
	return rep, nil
}

// Start runs immediately, then again interval after each run ends, until
// ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	log := logger.From(ctx).With("component", "poller")
	log.Info("mailbox poller started", "interval", p.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("mailbox poller stopped")
			return nil
		case <-timer.C:
		}

		rep, err := p.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrBusy):
			log.Info("poll skipped, run in progress")
		case errors.Is(err, context.Canceled):
		case err != nil:
			log.Error("poll failed", "err", err)
		default:
			log.Info("poll finished", "listed", rep.Listed, "invoices_created", rep.Invoices)
		}
		timer.Reset(p.interval)
	}
}
