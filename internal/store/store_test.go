package store_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elonfeng/streamrank/internal/store"
	"github.com/elonfeng/streamrank/pkg/livestream"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/trend"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "streamrank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProvider(t *testing.T, s *store.SQLiteStore, name string, maxStreams int, monthly int64) {
	t.Helper()
	_, err := s.SeedProviders(context.Background(), []provider.Provider{{
		Name:     name,
		Enabled:  true,
		Priority: 1,
		Capacity: provider.Capacity{MaxConcurrentStreams: maxStreams, MonthlyMinuteLimit: monthly},
		Features: []string{"chat"},
	}})
	require.NoError(t, err)
}

func TestReserveCapacity_NeverExceedsMax(t *testing.T) {
	s := newTestStore(t)
	seedProvider(t, s, "zego", 5, 1000)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ReserveCapacity(context.Background(), "zego")
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(5), granted.Load())
	p, err := s.GetProvider(context.Background(), "zego")
	require.NoError(t, err)
	require.Equal(t, 5, p.Capacity.ActiveStreams)
}

func TestReserveCapacity_MonthlyLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "agora", 10, 30)

	ok, err := s.ReserveCapacity(ctx, "agora")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseCapacity(ctx, "agora", 30))

	ok, err = s.ReserveCapacity(ctx, "agora")
	require.NoError(t, err)
	require.False(t, ok, "minutes exhausted")

	n, err := s.ResetMonthlyUsage(ctx, "agora")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ok, err = s.ReserveCapacity(ctx, "agora")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseCapacity_FloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "zego", 5, 1000)

	require.NoError(t, s.ReleaseCapacity(ctx, "zego", 7))
	require.NoError(t, s.ReleaseCapacity(ctx, "zego", -3))

	p, err := s.GetProvider(ctx, "zego")
	require.NoError(t, err)
	require.Zero(t, p.Capacity.ActiveStreams)
	require.Equal(t, int64(7), p.Capacity.UsedMinutes)

	require.ErrorIs(t, s.ReleaseCapacity(ctx, "nope", 1), store.ErrNotFound)
}

func TestResetMonthlyUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "zego", 5, 1000)
	seedProvider(t, s, "agora", 5, 1000)
	require.NoError(t, s.ReleaseCapacity(ctx, "zego", 40))
	require.NoError(t, s.ReleaseCapacity(ctx, "agora", 60))

	n, err := s.ResetMonthlyUsage(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	for _, p := range providers {
		require.Zero(t, p.Capacity.UsedMinutes, p.Name)
	}

	_, err = s.ResetMonthlyUsage(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSeedProviders_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed := []provider.Provider{
		{Name: "zego", Enabled: true, Priority: 1, Capacity: provider.Capacity{MaxConcurrentStreams: 10, MonthlyMinuteLimit: 100}},
		{Name: "webrtc", Enabled: false, Status: provider.StatusMaintenance, Priority: 3},
	}

	n, err := s.SeedProviders(ctx, seed)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateProviderHealth(ctx, "zego", func(p *provider.Provider) error {
		p.Health = provider.Health{UptimePercent: 90, ConsecutiveFailures: 1, LastCheck: &now}
		p.Status = provider.StatusDegraded
		return nil
	}))

	n, err = s.SeedProviders(ctx, seed)
	require.NoError(t, err)
	require.Zero(t, n)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	require.Equal(t, "zego", providers[0].Name)
	require.Equal(t, provider.StatusDegraded, providers[0].Status, "existing rows keep their health")
	require.Equal(t, 90.0, providers[0].Health.UptimePercent)
	require.NotNil(t, providers[0].Health.LastCheck)
	require.Equal(t, 100.0, providers[1].Health.UptimePercent)
	require.Equal(t, provider.StatusMaintenance, providers[1].Status)
	require.Equal(t, []string{}, providers[1].Features)
}

func TestUpsertProvider_KeepsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "zego", 5, 1000)
	ok, err := s.ReserveCapacity(ctx, "zego")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.UpsertProvider(ctx, &provider.Provider{
		Name: "zego", Enabled: true, Priority: 4,
		Capacity: provider.Capacity{MaxConcurrentStreams: 50, MonthlyMinuteLimit: 5000},
	}))

	p, err := s.GetProvider(ctx, "zego")
	require.NoError(t, err)
	require.Equal(t, 4, p.Priority)
	require.Equal(t, 50, p.Capacity.MaxConcurrentStreams)
	require.Equal(t, 1, p.Capacity.ActiveStreams)

	_, err = s.GetProvider(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertProvider_Status(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "zego", 5, 1000)
	require.NoError(t, s.UpdateProviderHealth(ctx, "zego", func(p *provider.Provider) error {
		p.Status = provider.StatusDegraded
		return nil
	}))

	upsert := func(status provider.Status) provider.Status {
		t.Helper()
		require.NoError(t, s.UpsertProvider(ctx, &provider.Provider{Name: "zego", Enabled: true, Status: status}))
		p, err := s.GetProvider(ctx, "zego")
		require.NoError(t, err)
		return p.Status
	}

	require.Equal(t, provider.StatusDegraded, upsert(provider.StatusActive), "health-managed status is kept")
	require.Equal(t, provider.StatusMaintenance, upsert(provider.StatusMaintenance))
	require.Equal(t, provider.StatusActive, upsert(provider.StatusActive), "leaving maintenance takes the configured status")
}

func TestUpdateProviderHealth_ConcurrentChecks(t *testing.T) {
	s := newTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := s.SeedProviders(context.Background(), []provider.Provider{{
		Name: "zego", Enabled: true, Priority: 1, HealthURL: srv.URL,
		Capacity: provider.Capacity{MaxConcurrentStreams: 5, MonthlyMinuteLimit: 1000},
	}})
	require.NoError(t, err)

	const passes = 3
	errs := make(chan error, passes)
	for i := 0; i < passes; i++ {
		checker := provider.NewChecker(s, nil, provider.CheckerConfig{BreakerFailures: 10})
		go func() {
			_, err := checker.CheckAll(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < passes; i++ {
		require.NoError(t, <-errs)
	}

	p, err := s.GetProvider(context.Background(), "zego")
	require.NoError(t, err)
	require.Equal(t, passes, p.Health.ConsecutiveFailures)
	require.Equal(t, provider.StatusOffline, p.Status)
	require.Less(t, p.Health.UptimePercent, 90.0)

	err = s.UpdateProviderHealth(context.Background(), "missing", func(*provider.Provider) error { return nil })
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestContent_TrendingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetContent(ctx, "missing")
	require.ErrorIs(t, err, trend.ErrContentNotFound)

	c := &trend.Content{ID: "c1", CreatorID: "u1", Views: 1000, Likes: 100, SoundID: "s1"}
	require.NoError(t, s.UpsertContent(ctx, c))
	require.Equal(t, trend.StatusPublished, c.Status)

	res := trend.Result{Score: 54.22189, Components: trend.Components{WatchTime: 66.8, Recency: 100}}
	require.NoError(t, s.UpdateTrending(ctx, "c1", res, time.Now()))

	got, err := s.GetContent(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 54.22, got.TrendingScore)
	require.Equal(t, 66.8, got.Components.WatchTime)
	require.NotNil(t, got.LastCalculated)

	// Counter refresh keeps the stored score.
	c.Views = 2000
	require.NoError(t, s.UpsertContent(ctx, c))
	got, err = s.GetContent(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(2000), got.Views)
	require.Equal(t, 54.22, got.TrendingScore)

	require.ErrorIs(t, s.UpdateTrending(ctx, "missing", res, time.Now()), trend.ErrContentNotFound)
}

func TestListCandidates_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	items := []trend.Content{
		{ID: "fresh", Views: 500, CreatedAt: now.Add(-time.Hour)},
		{ID: "popular", Views: 900, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "low", Views: 10, CreatedAt: now.Add(-time.Hour)},
		{ID: "old", Views: 5000, CreatedAt: now.Add(-10 * 24 * time.Hour)},
		{ID: "draft", Views: 800, Status: "draft", CreatedAt: now},
		{ID: "private", Views: 800, Visibility: "private", CreatedAt: now},
	}
	for i := range items {
		require.NoError(t, s.UpsertContent(ctx, &items[i]))
	}

	got, err := s.ListCandidates(ctx, trend.CandidateQuery{Since: now.Add(-7 * 24 * time.Hour), MinViews: 100})
	require.NoError(t, err)

	ids := make([]string, len(got))
	for i := range got {
		ids[i] = got[i].ID
	}
	require.Equal(t, []string{"popular", "fresh"}, ids)

	got, err = s.ListCandidates(ctx, trend.CandidateQuery{Since: now.Add(-7 * 24 * time.Hour), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestTopTrending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertContent(ctx, &trend.Content{ID: id, Views: 100}))
	}
	require.NoError(t, s.UpdateTrending(ctx, "a", trend.Result{Score: 10}, time.Now()))
	require.NoError(t, s.UpdateTrending(ctx, "b", trend.Result{Score: 80}, time.Now()))

	top, err := s.TopTrending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2, "unscored content is excluded")
	require.Equal(t, "b", top[0].ID)
}

func TestSoundUsageAggregation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, c := range []trend.Content{
		{ID: "a", SoundID: "s1", Views: 100, Likes: 10, CreatedAt: now},
		{ID: "b", SoundID: "s1", Views: 300, Likes: 30, CreatedAt: now},
		{ID: "c", SoundID: "s2", Views: 50, Likes: 1, CreatedAt: now},
		{ID: "d", Views: 999, CreatedAt: now},
	} {
		require.NoError(t, s.UpsertContent(ctx, &c))
	}
	require.NoError(t, s.UpdateTrending(ctx, "a", trend.Result{Score: 20}, now))
	require.NoError(t, s.UpdateTrending(ctx, "b", trend.Result{Score: 40}, now))

	usages, err := s.ListSoundUsage(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, usages, 2)
	require.Equal(t, trend.SoundUsage{SoundID: "s1", UsageCount: 2, TotalViews: 400, TotalLikes: 40, AverageScore: 30}, usages[0])

	require.NoError(t, s.UpdateSoundTrending(ctx, usages[0], trend.SoundScore(usages[0]), now))
}

func TestTrendingConfig_SaveAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetTrendingConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)

	w := trend.DefaultWeights()
	w.WatchTime, w.Recency = 0.40, 0
	saved, err := s.SaveWeights(ctx, w, "boost watch time", "ops")
	require.NoError(t, err)
	require.Equal(t, w, saved.Weights)
	require.Equal(t, trend.DefaultThresholds(), saved.Thresholds)

	th := trend.DefaultThresholds()
	th.MinViews = 500
	_, err = s.SaveThresholds(ctx, th, "", "ops")
	require.NoError(t, err)

	cfg, err = s.GetTrendingConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, w, cfg.Weights)
	require.Equal(t, int64(500), cfg.Thresholds.MinViews)
	require.Equal(t, "ops", cfg.UpdatedBy)

	history, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, trend.HistoryThresholds, history[0].Kind)
	require.Equal(t, trend.HistoryWeights, history[1].Kind)
	require.Equal(t, "boost watch time", history[1].Reason)
	require.Contains(t, history[1].Previous, `"watchTime":0.35`)
	require.Contains(t, history[1].Current, `"watchTime":0.4`)
}

func TestLivestreams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProvider(t, s, "zego", 5, 1000)

	started := time.Now().UTC().Add(-10 * time.Minute)
	st := &livestream.Stream{
		ID:        "ls1",
		HostID:    "host",
		Provider:  "zego",
		StreamKey: "key1",
		RTMPURL:   "rtmp://h/live/key1",
		HLSURL:    "https://h/live/key1/index.m3u8",
		Status:    livestream.StatusLive,
		StartedAt: started,
	}
	require.NoError(t, s.CreateStream(ctx, st))

	got, err := s.GetStream(ctx, "ls1")
	require.NoError(t, err)
	require.Equal(t, livestream.StatusLive, got.Status)
	require.Nil(t, got.EndedAt)

	reserved, err := s.ReserveCapacity(ctx, "zego")
	require.NoError(t, err)
	require.True(t, reserved)

	ghost := *st
	ghost.Provider = "ghost"
	_, err = s.EndStream(ctx, &ghost, time.Now(), 10)
	require.ErrorIs(t, err, store.ErrNotFound)
	got, err = s.GetStream(ctx, "ls1")
	require.NoError(t, err)
	require.Equal(t, livestream.StatusLive, got.Status, "failed release rolls the end back")

	ok, err := s.EndStream(ctx, st, time.Now(), 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.EndStream(ctx, st, time.Now(), 10)
	require.NoError(t, err)
	require.False(t, ok)

	p, err := s.GetProvider(ctx, "zego")
	require.NoError(t, err)
	require.Zero(t, p.Capacity.ActiveStreams)
	require.Equal(t, int64(10), p.Capacity.UsedMinutes, "minutes are billed once")

	got, err = s.GetStream(ctx, "ls1")
	require.NoError(t, err)
	require.Equal(t, livestream.StatusEnded, got.Status)
	require.Equal(t, int64(10), got.DurationMinutes)

	_, err = s.GetStream(ctx, "nope")
	require.ErrorIs(t, err, livestream.ErrStreamNotFound)
}
