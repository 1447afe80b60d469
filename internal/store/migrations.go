package store

const schema = `
CREATE TABLE IF NOT EXISTS content (
    id                         TEXT PRIMARY KEY,
    creator_id                 TEXT NOT NULL DEFAULT '',
    creator_verified           BOOLEAN NOT NULL DEFAULT 0,
    sound_id                   TEXT NOT NULL DEFAULT '',
    status                     TEXT NOT NULL DEFAULT 'published',
    visibility                 TEXT NOT NULL DEFAULT 'public',
    total_watch_seconds        REAL NOT NULL DEFAULT 0,
    views                      INTEGER NOT NULL DEFAULT 0,
    likes                      INTEGER NOT NULL DEFAULT 0,
    shares                     INTEGER NOT NULL DEFAULT 0,
    comments                   INTEGER NOT NULL DEFAULT 0,
    average_completion_percent REAL NOT NULL DEFAULT 0,
    created_at                 DATETIME NOT NULL,
    trending_score             REAL NOT NULL DEFAULT 0,
    trending_components        TEXT NOT NULL DEFAULT '{}',
    trending_last_calculated   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_content_created_at ON content(created_at);
CREATE INDEX IF NOT EXISTS idx_content_trending_score ON content(trending_score);
CREATE INDEX IF NOT EXISTS idx_content_sound ON content(sound_id);

CREATE TABLE IF NOT EXISTS sounds (
    id                       TEXT PRIMARY KEY,
    usage_count_7d           INTEGER NOT NULL DEFAULT 0,
    views_7d                 INTEGER NOT NULL DEFAULT 0,
    likes_7d                 INTEGER NOT NULL DEFAULT 0,
    trending_score           REAL NOT NULL DEFAULT 0,
    trending_last_calculated DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sounds_trending_score ON sounds(trending_score);

CREATE TABLE IF NOT EXISTS trending_config (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    weights    TEXT NOT NULL,
    thresholds TEXT NOT NULL,
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trending_config_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    kind       TEXT NOT NULL,
    previous   TEXT NOT NULL,
    current    TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stream_providers (
    name                   TEXT PRIMARY KEY,
    display_name           TEXT NOT NULL DEFAULT '',
    enabled                BOOLEAN NOT NULL DEFAULT 1,
    status                 TEXT NOT NULL DEFAULT 'active',
    priority               INTEGER NOT NULL DEFAULT 0,
    uptime_percent         REAL NOT NULL DEFAULT 100,
    error_rate_percent     REAL NOT NULL DEFAULT 0,
    consecutive_failures   INTEGER NOT NULL DEFAULT 0,
    average_latency_ms     REAL NOT NULL DEFAULT 0,
    last_health_check      DATETIME,
    active_streams         INTEGER NOT NULL DEFAULT 0,
    max_concurrent_streams INTEGER NOT NULL DEFAULT 0,
    used_minutes           INTEGER NOT NULL DEFAULT 0,
    monthly_minute_limit   INTEGER NOT NULL DEFAULT 0,
    features               TEXT NOT NULL DEFAULT '[]',
    server_url             TEXT NOT NULL DEFAULT '',
    health_url             TEXT NOT NULL DEFAULT '',
    status_feed_url        TEXT NOT NULL DEFAULT '',
    app_id                 TEXT NOT NULL DEFAULT '',
    app_secret             TEXT NOT NULL DEFAULT '',
    updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS livestreams (
    id               TEXT PRIMARY KEY,
    host_id          TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    provider         TEXT NOT NULL REFERENCES stream_providers(name),
    stream_key       TEXT NOT NULL UNIQUE,
    rtmp_url         TEXT NOT NULL,
    hls_url          TEXT NOT NULL,
    playback_url     TEXT NOT NULL,
    degraded         BOOLEAN NOT NULL DEFAULT 0,
    status           TEXT NOT NULL,
    started_at       DATETIME NOT NULL,
    ended_at         DATETIME,
    duration_minutes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_livestreams_provider ON livestreams(provider);
CREATE INDEX IF NOT EXISTS idx_livestreams_status ON livestreams(status);
`
