package livestream

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Stream states.
const (
	StatusLive  = "live"
	StatusEnded = "ended"
)

// Stream is a livestream bound to the provider that hosts it.
type Stream struct {
	ID              string     `json:"id" db:"id"`
	HostID          string     `json:"hostId" db:"host_id"`
	Title           string     `json:"title" db:"title"`
	Provider        string     `json:"provider" db:"provider"`
	StreamKey       string     `json:"streamKey" db:"stream_key"`
	RTMPURL         string     `json:"rtmpUrl" db:"rtmp_url"`
	HLSURL          string     `json:"hlsUrl" db:"hls_url"`
	PlaybackURL     string     `json:"playbackUrl" db:"playback_url"`
	Degraded        bool       `json:"degraded" db:"degraded"`
	Status          string     `json:"status" db:"status"`
	StartedAt       time.Time  `json:"startedAt" db:"started_at"`
	EndedAt         *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	DurationMinutes int64      `json:"durationMinutes" db:"duration_minutes"`
}

// Endpoints are the ingest and playback URLs of a stream.
type Endpoints struct {
	RTMP     string
	HLS      string
	Playback string
}

// BuildEndpoints derives stream URLs from a provider server address. A scheme
// on serverURL is ignored.
func BuildEndpoints(serverURL, streamKey string) Endpoints {
	host := serverURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimRight(host, "/")

	return Endpoints{
		RTMP:     fmt.Sprintf("rtmp://%s/live/%s", host, streamKey),
		HLS:      fmt.Sprintf("https://%s/live/%s/index.m3u8", host, streamKey),
		Playback: fmt.Sprintf("https://%s/live/%s.flv", host, streamKey),
	}
}

// billedMinutes rounds a stream duration up to whole minutes.
func billedMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Minutes()))
}
