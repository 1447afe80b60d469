package trend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/internal/metrics"
)

// ErrContentNotFound is returned when a content id does not exist.
var ErrContentNotFound = errors.New("content not found")

// Repository is the persistence the engine needs.
type Repository interface {
	// GetTrendingConfig returns nil without error when nothing is stored.
	GetTrendingConfig(ctx context.Context) (*Config, error)
	ListCandidates(ctx context.Context, q CandidateQuery) ([]Content, error)
	GetContent(ctx context.Context, id string) (*Content, error)
	UpdateTrending(ctx context.Context, id string, r Result, at time.Time) error
	ListSoundUsage(ctx context.Context, since time.Time) ([]SoundUsage, error)
	UpdateSoundTrending(ctx context.Context, u SoundUsage, score float64, at time.Time) error
}

// EngineOptions bound the batch job.
type EngineOptions struct {
	ChunkSize   int           `yaml:"chunk_size"`
	ItemTimeout time.Duration `yaml:"item_timeout"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
	Lookback    time.Duration `yaml:"lookback"`
	MaxItems    int           `yaml:"max_items"`
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 100
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 10 * time.Second
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Minute
	}
	if o.Lookback <= 0 {
		o.Lookback = 7 * 24 * time.Hour
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 5000
	}
	return o
}

// BatchOptions are per-run overrides.
type BatchOptions struct {
	Limit    int   `json:"limit" validate:"gte=0,lte=50000"`
	MinViews int64 `json:"minViews" validate:"gte=0"`
}

// BatchReport summarizes a batch run.
type BatchReport struct {
	Processed       int64   `json:"processed"`
	Errors          int64   `json:"errors"`
	Total           int     `json:"total"`
	Skipped         int     `json:"skipped"`
	SoundsUpdated   int     `json:"soundsUpdated"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Calculation is the outcome of a single-item recompute.
type Calculation struct {
	ContentID string `json:"contentId"`
	Result
	Weights Weights `json:"weights"`
}

// Engine runs trending scoring against stored content. Both the scheduled
// batch and on-demand recompute go through the same Scorer.
type Engine struct {
	repo   Repository
	scorer *Scorer
	opts   EngineOptions
	log    zerolog.Logger
}

// NewEngine creates a new trending engine.
func NewEngine(repo Repository, scorer *Scorer, opts EngineOptions) *Engine {
	if scorer == nil {
		scorer = NewScorer(DefaultFormula())
	}
	return &Engine{
		repo:   repo,
		scorer: scorer,
		opts:   opts.withDefaults(),
		log:    logging.Component("trending"),
	}
}

// ActiveConfig returns the stored config, or the defaults if none is stored.
func (e *Engine) ActiveConfig(ctx context.Context) (Config, error) {
	cfg, err := e.repo.GetTrendingConfig(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load trending config: %w", err)
	}
	if cfg == nil {
		return DefaultConfig(), nil
	}
	if cfg.Thresholds.DecayHalfLifeHours <= 0 {
		cfg.Thresholds.DecayHalfLifeHours = defaultDecayHalfLife
	}
	return *cfg, nil
}

// RunBatch scores recent eligible content in fixed-size chunks. Items in a
// chunk run concurrently; chunks run in sequence. A failing item is counted
// and logged and never stops the batch. Failing to list candidates aborts the
// run. When the job deadline passes, remaining chunks are skipped and the
// partial report is returned with the deadline error.
func (e *Engine) RunBatch(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.opts.JobTimeout)
	defer cancel()

	report, err := e.runBatch(ctx, opts)
	if report != nil {
		report.DurationSeconds = time.Since(start).Seconds()
	}
	metrics.RecordBatch(time.Since(start), err)

	if err != nil {
		e.log.Error().Err(err).Msg("trending batch failed")
	} else {
		e.log.Info().
			Int64("processed", report.Processed).
			Int64("errors", report.Errors).
			Int("total", report.Total).
			Int("sounds", report.SoundsUpdated).
			Float64("duration_seconds", report.DurationSeconds).
			Msg("trending batch complete")
	}
	return report, err
}

func (e *Engine) runBatch(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	cfg, err := e.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	minViews := cfg.Thresholds.MinViews
	if opts.MinViews > 0 {
		minViews = opts.MinViews
	}
	limit := opts.Limit
	if limit <= 0 || limit > e.opts.MaxItems {
		limit = e.opts.MaxItems
	}

	items, err := e.repo.ListCandidates(ctx, CandidateQuery{
		Since:    time.Now().Add(-e.opts.Lookback),
		MinViews: minViews,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list trending candidates: %w", err)
	}

	e.log.Info().Int("items", len(items)).Int64("min_views", minViews).Msg("trending batch started")

	report := &BatchReport{Total: len(items)}
	var processed, failed atomic.Int64

	for i := 0; i < len(items); i += e.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			report.Skipped = len(items) - i
			report.Processed, report.Errors = processed.Load(), failed.Load()
			return report, fmt.Errorf("trending batch stopped after %d items: %w", i, err)
		}

		end := min(i+e.opts.ChunkSize, len(items))
		var g errgroup.Group
		for _, c := range items[i:end] {
			g.Go(func() error {
				if err := e.scoreAndStore(ctx, c, cfg, "batch"); err != nil {
					failed.Add(1)
					e.log.Error().Err(err).Str("content_id", c.ID).Msg("trending score failed")
					return nil
				}
				processed.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		if end%500 == 0 || end == len(items) {
			e.log.Debug().Int("done", end).Int("total", len(items)).Msg("trending batch progress")
		}
	}

	report.Processed, report.Errors = processed.Load(), failed.Load()

	sounds, err := e.UpdateSoundScores(ctx)
	if err != nil {
		return report, err
	}
	report.SoundsUpdated = sounds
	return report, nil
}

func (e *Engine) scoreAndStore(ctx context.Context, c Content, cfg Config, trigger string) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ItemTimeout)
	defer cancel()

	result := e.scorer.Score(c.Snapshot(), cfg.Weights, cfg.Thresholds)
	err := e.repo.UpdateTrending(ctx, c.ID, result, time.Now().UTC())
	metrics.RecordItemScored(trigger, err)
	if err != nil {
		return fmt.Errorf("store trending %s: %w", c.ID, err)
	}
	return nil
}

// Recompute scores one content item with the active config and persists it.
func (e *Engine) Recompute(ctx context.Context, contentID string) (*Calculation, error) {
	cfg, err := e.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	c, err := e.repo.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	result := e.scorer.Score(c.Snapshot(), cfg.Weights, cfg.Thresholds)
	err = e.repo.UpdateTrending(ctx, c.ID, result, time.Now().UTC())
	metrics.RecordItemScored("single", err)
	if err != nil {
		return nil, fmt.Errorf("store trending %s: %w", c.ID, err)
	}

	return &Calculation{ContentID: c.ID, Result: result, Weights: cfg.Weights}, nil
}

// UpdateSoundScores recomputes sound trending scores from recent usage.
func (e *Engine) UpdateSoundScores(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	usages, err := e.repo.ListSoundUsage(ctx, now.Add(-e.opts.Lookback))
	if err != nil {
		return 0, fmt.Errorf("list sound usage: %w", err)
	}

	updated := 0
	for _, u := range usages {
		if err := e.repo.UpdateSoundTrending(ctx, u, SoundScore(u), now); err != nil {
			return updated, fmt.Errorf("update sound %s: %w", u.SoundID, err)
		}
		updated++
	}
	return updated, nil
}
