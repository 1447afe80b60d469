package provider

import (
	"math"
	"time"
)

// TrackerConfig tunes health smoothing and state thresholds.
type TrackerConfig struct {
	// Alpha is the EWMA smoothing factor in (0,1]. Higher reacts faster.
	Alpha float64 `yaml:"alpha"`
	// DegradeBelow moves an active provider to degraded.
	DegradeBelow float64 `yaml:"degrade_below"`
	// RecoverAt moves a degraded provider back to active.
	RecoverAt float64 `yaml:"recover_at"`
	// OfflineAfter consecutive failures takes a provider offline.
	OfflineAfter int `yaml:"offline_after"`
}

// DefaultTrackerConfig returns the production thresholds.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Alpha:        0.05,
		DegradeBelow: MinHealthyUptime,
		RecoverAt:    98,
		OfflineAfter: MaxConsecutiveFailures,
	}
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	d := DefaultTrackerConfig()
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = d.Alpha
	}
	if c.DegradeBelow <= 0 {
		c.DegradeBelow = d.DegradeBelow
	}
	if c.RecoverAt < c.DegradeBelow {
		c.RecoverAt = math.Max(d.RecoverAt, c.DegradeBelow)
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = d.OfflineAfter
	}
	return c
}

// CheckResult is the outcome of one health probe.
type CheckResult struct {
	Passed  bool
	Latency time.Duration
	Reason  string
	At      time.Time
}

// Transition describes a status change caused by a check.
type Transition struct {
	From Status
	To   Status
}

// Changed reports whether the status moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Tracker folds probe results into a provider's health.
type Tracker struct {
	cfg TrackerConfig
}

// NewTracker creates a tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

// Apply updates p's health from one probe and returns the status transition.
// Uptime and error rate are exponentially weighted moving averages of 0/100
// samples. Maintenance is admin-owned and never changed here. Offline is only
// left on a passing check.
func (t *Tracker) Apply(p *Provider, r CheckResult) Transition {
	a := t.cfg.Alpha
	h := &p.Health

	upSample, errSample := 100.0, 0.0
	if !r.Passed {
		upSample, errSample = 0, 100
	}
	h.UptimePercent = percent(ewma(h.UptimePercent, upSample, a))
	h.ErrorRatePercent = percent(ewma(h.ErrorRatePercent, errSample, a))

	if r.Passed {
		h.ConsecutiveFailures = 0
		if r.Latency > 0 {
			ms := float64(r.Latency) / float64(time.Millisecond)
			if h.AverageLatencyMs == 0 {
				h.AverageLatencyMs = ms
			} else {
				h.AverageLatencyMs = ewma(h.AverageLatencyMs, ms, a)
			}
		}
	} else {
		h.ConsecutiveFailures++
	}

	at := r.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	h.LastCheck = &at

	from := p.Status
	p.Status = t.nextStatus(p.Status, *h, r.Passed)
	return Transition{From: from, To: p.Status}
}

func (t *Tracker) nextStatus(cur Status, h Health, passed bool) Status {
	if cur == StatusMaintenance {
		return cur
	}
	if h.ConsecutiveFailures >= t.cfg.OfflineAfter {
		return StatusOffline
	}

	switch cur {
	case StatusOffline:
		if !passed {
			return StatusOffline
		}
		if h.UptimePercent >= t.cfg.RecoverAt {
			return StatusActive
		}
		return StatusDegraded
	case StatusDegraded:
		if h.UptimePercent >= t.cfg.RecoverAt {
			return StatusActive
		}
		return StatusDegraded
	default:
		if h.UptimePercent < t.cfg.DegradeBelow {
			return StatusDegraded
		}
		return StatusActive
	}
}

func ewma(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

func percent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
