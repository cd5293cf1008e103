// Package analytics records click events off the request path.
//
// Jobs are queued without blocking and handled by a fixed set of workers.
// Each job resolves the visitor's location (best effort) and then appends
// a click row while incrementing the URL's counter. Nothing here is ever
// reported back to a request: failures are logged and dropped.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Monthlyaway/short-it/internal/geo"
	"github.com/Monthlyaway/short-it/internal/metrics"
	"github.com/Monthlyaway/short-it/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024

	// storeTimeout bounds the database work of a single job
	storeTimeout = 10 * time.Second
)

// ClickStore persists clicks
type ClickStore interface {
	IncrementClicksAndLog(ctx context.Context, key string, click *model.Click) (bool, error)
}

// Locator resolves an IP to a location
type Locator interface {
	Lookup(ctx context.Context, ip string) (geo.Location, error)
}

// Job describes one redirect to record
type Job struct {
	Key       string
	ClientIP  string
	UserAgent string
}

// Config sizes the worker pool
type Config struct {
	Workers   int
	QueueSize int
}

// Recorder runs click jobs on background workers
type Recorder struct {
	store   ClickStore
	locator Locator
	log     *zap.Logger
	workers int

	jobs   chan Job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRecorder creates a recorder. locator may be nil, in which case every click is Unknown.
func NewRecorder(store ClickStore, locator Locator, log *zap.Logger, cfg Config) *Recorder {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Recorder{
		store:   store,
		locator: locator,
		log:     log.Named("analytics"),
		workers: cfg.Workers,
		jobs:    make(chan Job, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (r *Recorder) Start() {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go r.worker()
		}
	})
}

// Enqueue hands a job to the workers without blocking.
// It returns false when the recorder is closed or the queue is full.
func (r *Recorder) Enqueue(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		metrics.AnalyticsJobs.WithLabelValues("dropped").Inc()
		r.log.Warn("click queue full, dropping job", zap.String("key", job.Key))
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to expire
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	// workers that were never started cannot drain the queue
	r.Start()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("analytics recorder did not drain"), ctx.Err())
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.Process(context.Background(), job)
	}
}

// Process records one job synchronously. It never panics and never returns an error.
func (r *Recorder) Process(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.AnalyticsJobs.WithLabelValues("failed").Inc()
			r.log.Error("click job panicked", zap.String("key", job.Key), zap.Any("panic", rec))
		}
	}()

	loc := r.locate(ctx, job.ClientIP)

	click := &model.Click{
		ClientIP:  job.ClientIP,
		UserAgent: job.UserAgent,
		Country:   loc.Country,
		City:      loc.City,
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	found, err := r.store.IncrementClicksAndLog(storeCtx, job.Key, click)
	switch {
	case err != nil:
		metrics.AnalyticsJobs.WithLabelValues("failed").Inc()
		r.log.Error("failed to record click", zap.String("key", job.Key), zap.Error(err))
	case !found:
		metrics.AnalyticsJobs.WithLabelValues("not_found").Inc()
		r.log.Debug("click for unknown key ignored", zap.String("key", job.Key))
	default:
		metrics.AnalyticsJobs.WithLabelValues("recorded").Inc()
	}
}

// locate never fails: local addresses and provider errors give Unknown
func (r *Recorder) locate(ctx context.Context, ip string) geo.Location {
	if r.locator == nil || geo.IsLocal(ip) {
		return geo.Unknown
	}

	start := time.Now()
	loc, err := r.locator.Lookup(ctx, ip)
	if err != nil {
		metrics.GeoLookupDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		r.log.Debug("geolocation failed", zap.String("ip", ip), zap.Error(err))
		return geo.Unknown
	}
	metrics.GeoLookupDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return loc
}
