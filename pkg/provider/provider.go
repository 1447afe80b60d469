package provider

import (
	"time"
)

// Status is the operational state of a provider.
type Status string

const (
	StatusActive      Status = "active"
	StatusMaintenance Status = "maintenance"
	StatusDegraded    Status = "degraded"
	StatusOffline     Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusMaintenance, StatusDegraded, StatusOffline:
		return true
	}
	return false
}

// Health is the rolling health indicator of a provider.
type Health struct {
	UptimePercent       float64    `json:"uptime" yaml:"uptime_percent"`
	ErrorRatePercent    float64    `json:"errorRate" yaml:"error_rate_percent"`
	ConsecutiveFailures int        `json:"consecutiveFailures" yaml:"-"`
	AverageLatencyMs    float64    `json:"averageLatency" yaml:"-"`
	LastCheck           *time.Time `json:"lastCheck,omitempty" yaml:"-"`
}

// Capacity holds the usage ceilings and counters of a provider.
type Capacity struct {
	ActiveStreams        int   `json:"activeStreams" yaml:"-"`
	MaxConcurrentStreams int   `json:"maxConcurrentStreams" yaml:"max_concurrent_streams"`
	UsedMinutes          int64 `json:"usedMinutes" yaml:"-"`
	MonthlyMinuteLimit   int64 `json:"monthlyMinutes" yaml:"monthly_minute_limit"`
}

// Provider is a live-streaming transport that can host a livestream.
type Provider struct {
	Name          string   `json:"name" yaml:"name"`
	DisplayName   string   `json:"displayName" yaml:"display_name"`
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Status        Status   `json:"status" yaml:"status"`
	Priority      int      `json:"priority" yaml:"priority"`
	Health        Health   `json:"health" yaml:"health"`
	Capacity      Capacity `json:"capacity" yaml:"capacity"`
	Features      []string `json:"features" yaml:"features"`
	ServerURL     string   `json:"-" yaml:"server_url"`
	HealthURL     string   `json:"-" yaml:"health_url"`
	StatusFeedURL string   `json:"-" yaml:"status_feed_url"`
	AppID         string   `json:"-" yaml:"app_id"`
	AppSecret     string   `json:"-" yaml:"app_secret"`
}

// Healthy thresholds.
const (
	MinHealthyUptime       = 95.0
	MaxHealthyErrorRate    = 5.0
	MaxConsecutiveFailures = 3
)

// IsHealthy reports whether the provider is active and within health limits.
func (p *Provider) IsHealthy() bool {
	return p.Health.UptimePercent >= MinHealthyUptime &&
		p.Health.ErrorRatePercent <= MaxHealthyErrorRate &&
		p.Health.ConsecutiveFailures < MaxConsecutiveFailures &&
		p.Status == StatusActive
}

// HasCapacity reports whether the provider can take another stream.
func (p *Provider) HasCapacity() bool {
	return p.Capacity.ActiveStreams < p.Capacity.MaxConcurrentStreams &&
		p.Capacity.UsedMinutes < p.Capacity.MonthlyMinuteLimit
}

// HasFeatures reports whether every required feature flag is present.
func (p *Provider) HasFeatures(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		have[f] = true
	}
	for _, f := range required {
		if !have[f] {
			return false
		}
	}
	return true
}

// Public is the provider view returned to API clients. Credentials and
// endpoints are withheld.
type Public struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Status      Status   `json:"status"`
	Priority    int      `json:"priority"`
	Health      Health   `json:"health"`
	HasCapacity bool     `json:"hasCapacity"`
	Features    []string `json:"features"`
}

// Public returns the client-safe view of p.
func (p *Provider) Public() Public {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return Public{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Status:      p.Status,
		Priority:    p.Priority,
		Health:      p.Health,
		HasCapacity: p.HasCapacity(),
		Features:    features,
	}
}
