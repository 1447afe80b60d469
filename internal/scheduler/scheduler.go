package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/trend"
)

// Specs are the cron expressions for the background jobs. An empty spec
// disables that job.
type Specs struct {
	Trending    string
	HealthCheck string
	UsageReset  string
}

// UsageResetter zeroes monthly provider usage.
type UsageResetter interface {
	ResetMonthlyUsage(ctx context.Context, name string) (int64, error)
}

// Scheduler runs the trending batch, provider health checks and the monthly
// usage reset on cron schedules.
type Scheduler struct {
	engine  *trend.Engine
	checker *provider.Checker
	usage   UsageResetter
	specs   Specs
	log     zerolog.Logger
}

// New creates a new scheduler. checker and usage may be nil to skip those
// jobs.
func New(engine *trend.Engine, checker *provider.Checker, usage UsageResetter, specs Specs) *Scheduler {
	return &Scheduler{
		engine:  engine,
		checker: checker,
		usage:   usage,
		specs:   specs,
		log:     logging.Component("scheduler"),
	}
}

// Run registers the jobs and blocks until ctx is cancelled. With
// runTrendingNow the batch also runs once immediately.
func (s *Scheduler) Run(ctx context.Context, runTrendingNow bool) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})))

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"trending", s.specs.Trending, s.runTrending},
		{"health-check", s.specs.HealthCheck, s.runHealthCheck},
		{"usage-reset", s.specs.UsageReset, s.runUsageReset},
	}

	for _, j := range jobs {
		if j.spec == "" {
			s.log.Info().Str("job", j.name).Msg("job disabled")
			continue
		}
		run := j.run
		if _, err := c.AddFunc(j.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		s.log.Info().Str("job", j.name).Str("spec", j.spec).Msg("job scheduled")
	}

	c.Start()
	s.log.Info().Msg("scheduler running")

	if runTrendingNow {
		go s.runTrending(ctx)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runTrending(ctx context.Context) {
	if s.engine == nil {
		return
	}
	if _, err := s.engine.RunBatch(ctx, trend.BatchOptions{}); err != nil {
		s.log.Error().Err(err).Msg("scheduled trending batch")
	}
}

func (s *Scheduler) runHealthCheck(ctx context.Context) {
	if s.checker == nil {
		return
	}
	outcomes, err := s.checker.CheckAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled health check")
	}
	unhealthy := 0
	for _, o := range outcomes {
		if !o.Healthy {
			unhealthy++
		}
	}
	s.log.Info().Int("checked", len(outcomes)).Int("failed", unhealthy).Msg("health check complete")
}

func (s *Scheduler) runUsageReset(ctx context.Context) {
	if s.usage == nil {
		return
	}
	n, err := s.usage.ResetMonthlyUsage(ctx, "")
	if err != nil {
		s.log.Error().Err(err).Msg("monthly usage reset")
		return
	}
	s.log.Info().Int64("providers", n).Msg("monthly usage reset")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
