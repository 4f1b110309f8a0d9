// Package jobs runs the server's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"archboard/api/internal/events"
	"archboard/api/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobOverdueSweep = "overdue_sweep"
	JobReindex      = "search_reindex"
	JobTokenPurge   = "token_purge"
)

// Store is the slice of the relational store the jobs touch.
type Store interface {
	MarkOverdueMilestones(ctx context.Context, today time.Time) (map[string]int, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Reindexer rebuilds the search index from the database.
type Reindexer interface {
	Reindex(ctx context.Context) error
}

type Specs struct {
	OverdueSweep string
	Reindex      string
	TokenPurge   string
}

type Scheduler struct {
	cron    *cron.Cron
	store   Store
	index   Reindexer
	bus     *events.Bus
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
	jobs    map[string]func(context.Context) error
}

// New registers the jobs. index and bus may be nil; the reindex job is then
// skipped and overdue events are not published.
func New(store Store, index Reindexer, bus *events.Bus, specs Specs, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("jobs")
	cronLogger := zapCronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		store:   store,
		index:   index,
		bus:     bus,
		logger:  logger,
		timeout: 5 * time.Minute,
		now:     time.Now,
	}
	s.jobs = map[string]func(context.Context) error{
		JobOverdueSweep: s.sweepOverdue,
		JobTokenPurge:   s.purgeTokens,
	}
	if index != nil {
		s.jobs[JobReindex] = index.Reindex
	}

	if specs.TokenPurge == "" {
		specs.TokenPurge = "@hourly"
	}
	schedule := map[string]string{
		JobOverdueSweep: specs.OverdueSweep,
		JobReindex:      specs.Reindex,
		JobTokenPurge:   specs.TokenPurge,
	}
	for name, spec := range schedule {
		if spec == "" || s.jobs[name] == nil {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { _ = s.Run(context.Background(), name) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// Run executes one job immediately.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	err := job(ctx)
	metrics.RecordJobRun(name, err)
	if err != nil {
		s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", s.now().Sub(start)))
	return nil
}

func (s *Scheduler) sweepOverdue(ctx context.Context) error {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	marked, err := s.store.MarkOverdueMilestones(ctx, today)
	if err != nil {
		return err
	}
	total := 0
	for projectID, count := range marked {
		total += count
		s.bus.Emit(ctx, events.MilestoneOverdue, projectID, "", map[string]any{"count": count})
	}
	if total > 0 {
		s.logger.Info("milestones marked overdue", zap.Int("count", total), zap.Int("projects", len(marked)))
	}
	return nil
}

func (s *Scheduler) purgeTokens(ctx context.Context) error {
	n, err := s.store.PurgeExpiredTokens(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("expired tokens purged", zap.Int64("rows", n))
	}
	return nil
}

type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
