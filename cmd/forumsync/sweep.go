package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fortressi/resourcesaga"
	"github.com/fortressi/resourcesaga/internal/metrics"
)

// sweeper reports saga runs that were left running or inconsistent.
type sweeper struct {
	journal    resourcesaga.Journal
	staleAfter time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func newSweeper(j resourcesaga.Journal, staleAfter time.Duration, m *metrics.Metrics, l zerolog.Logger) *sweeper {
	return &sweeper{journal: j, staleAfter: staleAfter, metrics: m, logger: l, now: time.Now}
}

func (s *sweeper) sweep(ctx context.Context) (int, error) {
	stale, err := resourcesaga.FindStale(ctx, s.journal, s.staleAfter, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("stale run sweep failed")
		return 0, err
	}

	s.metrics.SetStaleRuns(len(stale))
	for _, r := range stale {
		s.logger.Warn().
			Str("run_id", r.RunID).
			Str("kind", string(r.Kind)).
			Str("status", string(r.Status)).
			Strs("orphaned", r.Orphaned).
			Time("updated_at", r.UpdatedAt).
			Msg("saga run needs reconciliation")
	}
	return len(stale), nil
}

// schedule runs sweep on spec until the returned stop func is called. An
// empty spec disables the sweep.
func (s *sweeper) schedule(spec string) (func(), error) {
	if spec == "" {
		return func() {}, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _, _ = s.sweep(context.Background()) }); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
