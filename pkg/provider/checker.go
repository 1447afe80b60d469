package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/internal/metrics"
	"github.com/elonfeng/streamrank/pkg/alert"
)

// ErrNoProbeTarget is returned for providers with no health URL, server URL
// or status feed.
var ErrNoProbeTarget = errors.New("no probe target")

// HealthRepository persists health-check results.
type HealthRepository interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	// UpdateProviderHealth loads the current provider, passes it to apply and
	// stores the resulting health and status atomically.
	UpdateProviderHealth(ctx context.Context, name string, apply func(*Provider) error) error
}

// Notifier receives provider state changes.
type Notifier interface {
	Broadcast(ctx context.Context, n *alert.Notification) error
}

// CheckerConfig configures probing.
type CheckerConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Concurrency      int           `yaml:"concurrency"`
	IncidentLookback time.Duration `yaml:"incident_lookback"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	Tracker          TrackerConfig `yaml:"tracker"`
}

func (c CheckerConfig) withDefaults() CheckerConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.IncidentLookback <= 0 {
		c.IncidentLookback = 2 * time.Hour
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = MaxConsecutiveFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	return c
}

// CheckOutcome is the per-provider result of a health-check pass.
type CheckOutcome struct {
	Provider            string  `json:"provider"`
	Healthy             bool    `json:"healthy"`
	LatencyMs           float64 `json:"latency"`
	Reason              string  `json:"reason,omitempty"`
	Status              Status  `json:"status"`
	PreviousStatus      Status  `json:"previousStatus"`
	Uptime              float64 `json:"uptime"`
	ErrorRate           float64 `json:"errorRate"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
}

// Checker probes providers and folds the results into their health.
type Checker struct {
	repo     HealthRepository
	tracker  *Tracker
	notifier Notifier
	client   *http.Client
	parser   *gofeed.Parser
	cfg      CheckerConfig
	log      zerolog.Logger

	pass     sync.Mutex
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewChecker creates a health checker. notifier may be nil.
func NewChecker(repo HealthRepository, notifier Notifier, cfg CheckerConfig) *Checker {
	cfg = cfg.withDefaults()
	return &Checker{
		repo:     repo,
		tracker:  NewTracker(cfg.Tracker),
		notifier: notifier,
		client:   &http.Client{Timeout: cfg.Timeout},
		parser:   gofeed.NewParser(),
		cfg:      cfg,
		log:      logging.Component("provider-health"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// CheckAll probes every enabled provider, persists the updated health and
// reports status transitions. Passes on one Checker run one at a time.
func (c *Checker) CheckAll(ctx context.Context) ([]CheckOutcome, error) {
	c.pass.Lock()
	defer c.pass.Unlock()

	providers, err := c.repo.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	var (
		mu       sync.Mutex
		outcomes []CheckOutcome
		errs     []error
	)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for i := range providers {
		p := providers[i]
		metrics.SetActiveStreams(p.Name, p.Capacity.ActiveStreams)
		if !p.Enabled || p.Status == StatusMaintenance {
			continue
		}

		g.Go(func() error {
			out, err := c.Check(ctx, &p)
			if errors.Is(err, ErrNoProbeTarget) {
				c.log.Debug().Str("provider", p.Name).Msg("no probe target, skipped")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			outcomes = append(outcomes, out)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, errors.Join(errs...)
}

// Check probes one provider and folds the result into its stored health.
// p is refreshed with the stored health and status afterwards.
func (c *Checker) Check(ctx context.Context, p *Provider) (CheckOutcome, error) {
	res := c.probe(ctx, p)
	if errors.Is(res.err, ErrNoProbeTarget) {
		return CheckOutcome{}, fmt.Errorf("check %s: %w", p.Name, ErrNoProbeTarget)
	}

	var tr Transition
	err := c.repo.UpdateProviderHealth(ctx, p.Name, func(cur *Provider) error {
		tr = c.tracker.Apply(cur, res.CheckResult)
		p.Health, p.Status = cur.Health, cur.Status
		return nil
	})
	if err != nil {
		return CheckOutcome{}, fmt.Errorf("store health %s: %w", p.Name, err)
	}
	metrics.RecordHealthCheck(p.Name, res.Passed, p.Health.UptimePercent)

	ev := c.log.Debug()
	if !res.Passed {
		ev = c.log.Warn()
	}
	ev.Str("provider", p.Name).
		Bool("passed", res.Passed).
		Str("reason", res.Reason).
		Float64("uptime", p.Health.UptimePercent).
		Int("consecutive_failures", p.Health.ConsecutiveFailures).
		Msg("health check")

	if tr.Changed() {
		c.reportTransition(ctx, p, tr, res.Reason)
	}

	return CheckOutcome{
		Provider:            p.Name,
		Healthy:             res.Passed,
		LatencyMs:           float64(res.Latency) / float64(time.Millisecond),
		Reason:              res.Reason,
		Status:              p.Status,
		PreviousStatus:      tr.From,
		Uptime:              p.Health.UptimePercent,
		ErrorRate:           p.Health.ErrorRatePercent,
		ConsecutiveFailures: p.Health.ConsecutiveFailures,
	}, nil
}

type probeResult struct {
	CheckResult
	err error
}

// probe runs the HTTP and status-feed checks for p through its circuit
// breaker. While the breaker is open the probe fails without a request.
func (c *Checker) probe(ctx context.Context, p *Provider) probeResult {
	start := time.Now()
	target := probeURL(p)
	if target == "" && p.StatusFeedURL == "" {
		return probeResult{err: ErrNoProbeTarget}
	}

	_, err := c.breaker(p.Name).Execute(func() (struct{}, error) {
		if target != "" {
			if err := c.probeHTTP(ctx, target); err != nil {
				return struct{}{}, err
			}
		}
		if p.StatusFeedURL != "" {
			if err := c.probeFeed(ctx, p.StatusFeedURL); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})

	res := probeResult{CheckResult: CheckResult{
		Passed:  err == nil,
		Latency: time.Since(start),
		At:      time.Now().UTC(),
	}, err: err}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}

func (c *Checker) probeHTTP(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("User-Agent", "streamrank/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}

// probeFeed reads a vendor status RSS/Atom feed and fails on an unresolved
// incident published inside the lookback window.
func (c *Checker) probeFeed(ctx context.Context, feedURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Errorf("create status feed request: %w", err)
	}
	req.Header.Set("User-Agent", "streamrank/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch status feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status feed status %d", resp.StatusCode)
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return fmt.Errorf("parse status feed: %w", err)
	}

	cutoff := time.Now().Add(-c.cfg.IncidentLookback)
	for _, item := range feed.Items {
		at := item.PublishedParsed
		if item.UpdatedParsed != nil {
			at = item.UpdatedParsed
		}
		if at == nil || at.Before(cutoff) {
			continue
		}
		if !incidentResolved(item) {
			return fmt.Errorf("open incident: %s", item.Title)
		}
	}
	return nil
}

func incidentResolved(item *gofeed.Item) bool {
	text := strings.ToLower(item.Title + " " + item.Description + " " + item.Content)
	for _, kw := range []string{"resolved", "completed", "operational"} {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (c *Checker) breaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	threshold := c.cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Info().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("probe breaker state")
		},
	})
	c.breakers[name] = cb
	return cb
}

func (c *Checker) reportTransition(ctx context.Context, p *Provider, tr Transition, reason string) {
	c.log.Warn().
		Str("provider", p.Name).
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Msg("provider status changed")

	if c.notifier == nil {
		return
	}

	severity := alert.SeverityInfo
	switch tr.To {
	case StatusOffline:
		severity = alert.SeverityCritical
	case StatusDegraded:
		severity = alert.SeverityWarning
	}

	n := &alert.Notification{
		Title:    fmt.Sprintf("Provider %s is %s", displayName(p), tr.To),
		Body:     fmt.Sprintf("Status changed from %s to %s (uptime %.1f%%, %d consecutive failures)", tr.From, tr.To, p.Health.UptimePercent, p.Health.ConsecutiveFailures),
		Severity: severity,
		Subject:  p.Name,
		Fields: map[string]string{
			"from":   string(tr.From),
			"to":     string(tr.To),
			"reason": reason,
		},
	}
	if err := c.notifier.Broadcast(ctx, n); err != nil {
		c.log.Error().Err(err).Str("provider", p.Name).Msg("status alert failed")
	}
}

func probeURL(p *Provider) string {
	if p.HealthURL != "" {
		return p.HealthURL
	}
	if p.ServerURL == "" {
		return ""
	}
	if strings.Contains(p.ServerURL, "://") {
		return p.ServerURL
	}
	return "https://" + p.ServerURL
}

func displayName(p *Provider) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
