package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec rebuilds the key filter every ten minutes
const DefaultSpec = "*/10 * * * *"

const refreshTimeout = time.Minute

// KeySource lists the keys that are currently active
type KeySource interface {
	ListKeys(ctx context.Context) ([]string, error)
}

// KeyFilter is replaced wholesale from a key list. Keys added between
// BeginRebuild and CommitRebuild survive the swap.
type KeyFilter interface {
	BeginRebuild()
	CommitRebuild(keys []string)
	AbortRebuild()
	Len() uint32
}

type Scheduler struct {
	c      *cron.Cron
	log    *zap.Logger
	keys   KeySource
	filter KeyFilter
	spec   string
}

func NewScheduler(log *zap.Logger, keys KeySource, filter KeyFilter, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	// standard 5-field syntax, no seconds
	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{c: c, log: log.Named("maintenance"), keys: keys, filter: filter, spec: spec}
}

// Start loads the filter once, then keeps refreshing it on schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.c.AddFunc(s.spec, func() {
		s.RefreshFilter(ctx)
	})
	if err != nil {
		return err
	}

	s.RefreshFilter(ctx)
	s.c.Start()

	go func() {
		<-ctx.Done()
		stopCtx := s.c.Stop()
		<-stopCtx.Done()
	}()
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// RefreshFilter rebuilds the filter from the store. On error the old filter stays in place.
func (s *Scheduler) RefreshFilter(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	s.filter.BeginRebuild()
	keys, err := s.keys.ListKeys(ctx)
	if err != nil {
		s.filter.AbortRebuild()
		s.log.Error("failed to load keys for filter refresh", zap.Error(err))
		return
	}
	s.filter.CommitRebuild(keys)
	s.log.Info("key filter refreshed", zap.Int("keys", len(keys)), zap.Uint32("approx_size", s.filter.Len()))
}
