package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elonfeng/streamrank/internal/store"
	"github.com/elonfeng/streamrank/pkg/livestream"
	"github.com/elonfeng/streamrank/pkg/provider"
	"github.com/elonfeng/streamrank/pkg/server"
	"github.com/elonfeng/streamrank/pkg/trend"
)

type testEnv struct {
	db      *store.SQLiteStore
	handler http.Handler
}

func newTestEnv(t *testing.T, providers ...provider.Provider) *testEnv {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SeedProviders(context.Background(), providers)
	require.NoError(t, err)

	srv := server.New(server.Deps{
		Store:   db,
		Engine:  trend.NewEngine(db, nil, trend.EngineOptions{}),
		Checker: provider.NewChecker(db, nil, provider.CheckerConfig{}),
		Streams: livestream.NewService(db, nil),
	}, 0)
	return &testEnv{db: db, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func zego() provider.Provider {
	return provider.Provider{
		Name:      "zego",
		Enabled:   true,
		Priority:  1,
		Capacity:  provider.Capacity{MaxConcurrentStreams: 1, MonthlyMinuteLimit: 1000},
		Features:  []string{"chat", "multiHost"},
		ServerURL: "stream.zegocloud.com",
		AppSecret: "top-secret",
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	code, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestUpdateWeights(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPut, "/api/trending/config/weights", map[string]any{
		"weights":   map[string]float64{"watchTime": 0.4, "likes": 0.2, "shares": 0.2, "comments": 0.1, "completionRate": 0.1},
		"reason":    "drop recency",
		"updatedBy": "ops",
	})
	require.Equal(t, http.StatusOK, code, body)
	weights := body["data"].(map[string]any)["weights"].(map[string]any)
	require.Equal(t, 0.4, weights["watchTime"])
	require.Equal(t, 0.0, weights["recency"])

	code, body = env.do(t, http.MethodGet, "/api/trending/config/history", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["count"])
}

func TestUpdateWeights_Rejected(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]any{
		"bad sum":     map[string]any{"weights": map[string]float64{"watchTime": 0.5}},
		"unknown key": map[string]any{"weights": map[string]float64{"watchTime": 1, "saves": 0}},
		"negative":    map[string]any{"weights": map[string]float64{"watchTime": 1.5, "likes": -0.5}},
		"missing":     map[string]any{"reason": "nothing"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPut, "/api/trending/config/weights", payload)
			require.Equal(t, http.StatusBadRequest, code)
			require.NotEmpty(t, body["error"])
		})
	}

	cfg, err := env.db.GetTrendingConfig(context.Background())
	require.NoError(t, err)
	require.Nil(t, cfg, "rejected updates never persist")
}

func TestUpdateThresholds(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPut, "/api/trending/config/thresholds", map[string]any{
		"thresholds": map[string]any{"minViews": 250},
	})
	require.Equal(t, http.StatusOK, code, body)
	th := body["data"].(map[string]any)["thresholds"].(map[string]any)
	require.Equal(t, 250.0, th["minViews"])
	require.Equal(t, 48.0, th["decayHalfLife"])

	code, _ = env.do(t, http.MethodPut, "/api/trending/config/thresholds", map[string]any{
		"thresholds": map[string]any{"decayHalfLife": 0},
	})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCalculateAndTop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.UpsertContent(ctx, &trend.Content{
		ID: "c1", Views: 1000, Likes: 100, Shares: 10, Comments: 5,
		TotalWatchSeconds: 6000, AverageCompletionPercent: 40, CreatedAt: time.Now().UTC(),
	}))

	code, _ := env.do(t, http.MethodPost, "/api/trending/missing/calculate", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body := env.do(t, http.MethodPost, "/api/trending/c1/calculate", nil)
	require.Equal(t, http.StatusOK, code, body)
	data := body["data"].(map[string]any)
	require.Equal(t, "c1", data["contentId"])

	code, body = env.do(t, http.MethodGet, "/api/trending/?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["count"])
}

func TestBatchUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, env.db.UpsertContent(ctx, &trend.Content{ID: id, Views: 500, Likes: 50, CreatedAt: time.Now().UTC()}))
	}

	code, body := env.do(t, http.MethodPost, "/api/trending/batch-update", nil)
	require.Equal(t, http.StatusOK, code, body)
	report := body["data"].(map[string]any)
	require.Equal(t, 3.0, report["processed"])
}

func TestBestProvider(t *testing.T) {
	env := newTestEnv(t, zego())

	code, body := env.do(t, http.MethodGet, "/api/streaming/providers/best", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["fallback"])
	data := body["data"].(map[string]any)
	require.Equal(t, "zego", data["name"])
	require.NotContains(t, data, "appSecret")

	q := url.Values{"features": {`{"multiHost":true,"gifts":false}`}}
	code, body = env.do(t, http.MethodGet, "/api/streaming/providers/best?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["fallback"])

	q = url.Values{"features": {`["recording"]`}}
	code, body = env.do(t, http.MethodGet, "/api/streaming/providers/best?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["fallback"])

	q = url.Values{"features": {`{not json`}}
	code, _ = env.do(t, http.MethodGet, "/api/streaming/providers/best?"+q.Encode(), nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestBestProvider_NoneAvailable(t *testing.T) {
	off := zego()
	off.Enabled = false
	env := newTestEnv(t, off)

	code, body := env.do(t, http.MethodGet, "/api/streaming/providers/best", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "No available provider found", body["error"])
}

func TestLivestreamLifecycle(t *testing.T) {
	env := newTestEnv(t, zego())

	code, body := env.do(t, http.MethodPost, "/api/livestreams/", map[string]any{"hostId": "host-1", "title": "hi"})
	require.Equal(t, http.StatusCreated, code, body)
	stream := body["data"].(map[string]any)
	require.Equal(t, "zego", stream["provider"])
	id := stream["id"].(string)

	// The only slot is taken.
	code, body = env.do(t, http.MethodPost, "/api/livestreams/", map[string]any{"hostId": "host-2"})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "No streaming provider available", body["error"])

	code, _ = env.do(t, http.MethodPost, "/api/livestreams/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/livestreams/"+id+"/end", nil)
	require.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/livestreams/missing/end", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/livestreams/", map[string]any{"title": "no host"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestResetUsage(t *testing.T) {
	env := newTestEnv(t, zego())
	require.NoError(t, env.db.ReleaseCapacity(context.Background(), "zego", 120))

	code, body := env.do(t, http.MethodPost, "/api/streaming/providers/zego/reset-usage", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 0.0, body["data"].(map[string]any)["usedMinutes"])

	p, err := env.db.GetProvider(context.Background(), "zego")
	require.NoError(t, err)
	require.Zero(t, p.Capacity.UsedMinutes)

	code, _ = env.do(t, http.MethodPost, "/api/streaming/providers/nope/reset-usage", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, zego())

	code, body := env.do(t, http.MethodGet, "/api/streaming/providers/", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	require.Equal(t, true, first["hasCapacity"])
}

func TestParseFeatures(t *testing.T) {
	got, err := server.ParseFeatures(`{"recording":true,"chat":true,"gifts":false}`)
	require.NoError(t, err)
	require.Equal(t, []string{"chat", "recording"}, got)

	got, err = server.ParseFeatures(`["multiHost"]`)
	require.NoError(t, err)
	require.Equal(t, []string{"multiHost"}, got)

	got, err = server.ParseFeatures("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = server.ParseFeatures(`[1,2]`)
	require.Error(t, err)
}
