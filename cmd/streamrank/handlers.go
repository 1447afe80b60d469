package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/streamrank/internal/config"
	"github.com/elonfeng/streamrank/internal/logging"
	"github.com/elonfeng/streamrank/internal/scheduler"
	"github.com/elonfeng/streamrank/internal/store"
	"github.com/elonfeng/streamrank/pkg/alert"
	"github.com/elonfeng/streamrank/pkg/livestream"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/server"
	"github.com/elonfeng/streamrank/pkg/trend"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	db      *store.SQLiteStore
	alerts  *alert.Manager
	engine  *trend.Engine
	checker *provider.Checker
	streams *livestream.Service
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Log)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	seeded, err := db.SeedProviders(ctx, cfg.Providers)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("seed providers: %w", err)
	}
	if seeded > 0 {
		logging.Info().Int("providers", seeded).Msg("seeded streaming providers")
	}

	alerts := buildAlertManager(cfg)
	return &app{
		cfg:     cfg,
		db:      db,
		alerts:  alerts,
		engine:  trend.NewEngine(db, trend.NewScorer(cfg.Trending.Formula), cfg.Trending.Engine),
		checker: provider.NewChecker(db, alerts, cfg.Health),
		streams: livestream.NewService(db, alerts),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) server(port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(server.Deps{
		Store:   a.db,
		Engine:  a.engine,
		Checker: a.checker,
		Streams: a.streams,
	}, port)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.server(port).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(a.engine, a.checker, a.db, scheduler.Specs{
		Trending:    a.cfg.Schedule.Trending,
		HealthCheck: a.cfg.Schedule.HealthCheck,
		UsageReset:  a.cfg.Schedule.UsageReset,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(ctx, a.cfg.Schedule.RunTrendingOnStartup)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return a.server(port).ListenAndServe(ctx)
	})

	err = g.Wait()
	logging.Info().Msg("shut down")
	return err
}

func runTrendingBatch(limit int, minViews int64) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.RunBatch(ctx, trend.BatchOptions{Limit: limit, MinViews: minViews})
	if report != nil {
		fmt.Printf("processed %d/%d items (%d errors, %d skipped), %d sounds updated in %.1fs\n",
			report.Processed, report.Total, report.Errors, report.Skipped,
			report.SoundsUpdated, report.DurationSeconds)
	}
	return err
}

func runTrendingCalc(id string, jsonOutput bool) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	calc, err := a.engine.Recompute(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(calc)
	}

	c := calc.Components
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "content\t%s\n", calc.ContentID)
	fmt.Fprintf(w, "score\t%.2f\n", calc.Score)
	fmt.Fprintf(w, "multiplier\t%.2f\n", calc.CreatorMultiplier)
	fmt.Fprintf(w, "watchTime\t%.2f\t(w %.2f)\n", c.WatchTime, calc.Weights.WatchTime)
	fmt.Fprintf(w, "likes\t%.2f\t(w %.2f)\n", c.Likes, calc.Weights.Likes)
	fmt.Fprintf(w, "shares\t%.2f\t(w %.2f)\n", c.Shares, calc.Weights.Shares)
	fmt.Fprintf(w, "comments\t%.2f\t(w %.2f)\n", c.Comments, calc.Weights.Comments)
	fmt.Fprintf(w, "completionRate\t%.2f\t(w %.2f)\n", c.CompletionRate, calc.Weights.CompletionRate)
	fmt.Fprintf(w, "recency\t%.2f\t(w %.2f)\n", c.Recency, calc.Weights.Recency)
	return w.Flush()
}

func runTrendingTop(limit int) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.db.TopTrending(ctx, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no scored content (try: streamrank trending batch)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tVIEWS\tCONTENT\tCREATOR")
	for _, c := range items {
		fmt.Fprintf(w, "%.2f\t%d\t%s\t%s\n", c.TrendingScore, c.Views, c.ID, c.CreatorID)
	}
	return w.Flush()
}

func runProvidersBest(features []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.db.ListProviders(ctx)
	if err != nil {
		return err
	}

	best, fallback := provider.SelectBest(providers, provider.Requirements{Features: features})
	if best == nil {
		return livestream.ErrNoProvider
	}

	path := "healthy"
	if fallback {
		path = "fallback"
	}
	fmt.Printf("%s (%s, priority %d, uptime %.1f%%, %d/%d streams)\n",
		best.Name, path, best.Priority, best.Health.UptimePercent,
		best.Capacity.ActiveStreams, best.Capacity.MaxConcurrentStreams)
	return nil
}

func runProvidersCheck() error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes, err := a.checker.CheckAll(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tRESULT\tSTATUS\tUPTIME\tLATENCY\tREASON")
	for _, o := range outcomes {
		result := "pass"
		if !o.Healthy {
			result = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%.0fms\t%s\n",
			o.Provider, result, o.Status, o.Uptime, o.LatencyMs, o.Reason)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}

func runProvidersList() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	providers, err := a.db.ListProviders(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tNAME\tENABLED\tSTATUS\tUPTIME\tSTREAMS\tMINUTES\tFEATURES")
	for _, p := range providers {
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%.1f%%\t%d/%d\t%d/%d\t%s\n",
			p.Priority, p.Name, p.Enabled, p.Status, p.Health.UptimePercent,
			p.Capacity.ActiveStreams, p.Capacity.MaxConcurrentStreams,
			p.Capacity.UsedMinutes, p.Capacity.MonthlyMinuteLimit,
			strings.Join(p.Features, ","))
	}
	return w.Flush()
}

func runProvidersSync() error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	for i := range a.cfg.Providers {
		p := a.cfg.Providers[i]
		if err := a.db.UpsertProvider(ctx, &p); err != nil {
			return err
		}
		fmt.Printf("synced %s (enabled=%t priority=%d)\n", p.Name, p.Enabled, p.Priority)
	}
	return nil
}

func runIngest(path string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)

	loaded, line := 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var c trend.Content
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if c.ID == "" {
			return fmt.Errorf("%s:%d: missing id", path, line)
		}
		if err := a.db.UpsertContent(ctx, &c); err != nil {
			return err
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	fmt.Fprintf(os.Stderr, "loaded %d content records\n", loaded)
	return nil
}
