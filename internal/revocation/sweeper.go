package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ricemill/backoffice/internal/logger"
	"github.com/ricemill/backoffice/internal/metrics"
)

// Sweeper prunes expired revocation entries on a cron schedule.
type Sweeper struct {
	store   Store
	cron    *cron.Cron
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration
}

// NewSweeper accepts standard cron expressions and descriptors such as
// "@every 10m".
func NewSweeper(store Store, schedule string, log *logger.Logger, m *metrics.Metrics) (*Sweeper, error) {
	s := &Sweeper{
		store:   store,
		cron:    cron.New(),
		log:     log.WithComponent("revocation-sweeper"),
		metrics: m,
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep prunes once and returns the number of entries removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.Prune(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.ObservePruned(n)
	return n, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error(ctx, "revocation sweep failed", err)
		return
	}
	if n > 0 {
		s.log.Info(ctx, "revocation sweep completed", map[string]interface{}{"pruned": n})
	}
}
