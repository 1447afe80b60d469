package trend

import (
	"math"
	"time"
)

// Snapshot is the read-only engagement view of a content item used for scoring.
type Snapshot struct {
	TotalWatchSeconds        float64   `json:"total_watch_seconds"`
	Views                    int64     `json:"views"`
	Likes                    int64     `json:"likes"`
	Shares                   int64     `json:"shares"`
	Comments                 int64     `json:"comments"`
	AverageCompletionPercent float64   `json:"average_completion_percent"`
	CreatedAt                time.Time `json:"created_at"`
	CreatorVerified          bool      `json:"creator_verified"`
}

// Components holds the six sub-scores, each in [0,100].
type Components struct {
	WatchTime      float64 `json:"watchTime"`
	Likes          float64 `json:"likes"`
	Shares         float64 `json:"shares"`
	Comments       float64 `json:"comments"`
	CompletionRate float64 `json:"completionRate"`
	Recency        float64 `json:"recency"`
}

// Result is the scorer output. Score is the weighted sum times the creator
// multiplier and is not re-clamped: with weights summing to 1.0 and the default
// verified multiplier the achievable range is [0, 110].
type Result struct {
	Score             float64    `json:"score"`
	Components        Components `json:"components"`
	CreatorMultiplier float64    `json:"creatorMultiplier"`
}

// EngagementCap parameterizes a blended absolute/rate sub-score.
type EngagementCap struct {
	// Absolute is the count at which the log-scaled half saturates.
	Absolute float64 `yaml:"absolute" json:"absolute"`
	// Rate is the per-view rate at which the rate half saturates.
	Rate float64 `yaml:"rate" json:"rate"`
}

// Formula holds the scoring constants.
type Formula struct {
	WatchMinutesCap    float64       `yaml:"watch_minutes_cap" json:"watchMinutesCap"`
	Likes              EngagementCap `yaml:"likes" json:"likes"`
	Shares             EngagementCap `yaml:"shares" json:"shares"`
	Comments           EngagementCap `yaml:"comments" json:"comments"`
	VerifiedMultiplier float64       `yaml:"verified_multiplier" json:"verifiedMultiplier"`
}

// DefaultFormula returns the production scoring constants.
func DefaultFormula() Formula {
	return Formula{
		WatchMinutesCap:    1000,
		Likes:              EngagementCap{Absolute: 10000, Rate: 0.1},
		Shares:             EngagementCap{Absolute: 5000, Rate: 0.05},
		Comments:           EngagementCap{Absolute: 2000, Rate: 0.03},
		VerifiedMultiplier: 1.1,
	}
}

// withDefaults fills zero fields so a partially configured formula never
// divides by zero.
func (f Formula) withDefaults() Formula {
	d := DefaultFormula()
	if f.WatchMinutesCap <= 1 {
		f.WatchMinutesCap = d.WatchMinutesCap
	}
	if f.Likes.Absolute <= 1 || f.Likes.Rate <= 0 {
		f.Likes = d.Likes
	}
	if f.Shares.Absolute <= 1 || f.Shares.Rate <= 0 {
		f.Shares = d.Shares
	}
	if f.Comments.Absolute <= 1 || f.Comments.Rate <= 0 {
		f.Comments = d.Comments
	}
	if f.VerifiedMultiplier <= 0 {
		f.VerifiedMultiplier = d.VerifiedMultiplier
	}
	return f
}

// Scorer computes trending scores. It holds no mutable state.
type Scorer struct {
	Formula Formula
	Now     func() time.Time
}

// NewScorer creates a scorer using the given formula and wall clock.
func NewScorer(f Formula) *Scorer {
	return &Scorer{Formula: f.withDefaults(), Now: time.Now}
}

// Score computes the composite trending score for a snapshot.
func (s *Scorer) Score(snap Snapshot, w Weights, th Thresholds) Result {
	f := s.Formula.withDefaults()
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	c := Components{
		WatchTime:      WatchTimeScore(snap.TotalWatchSeconds, f.WatchMinutesCap),
		Likes:          EngagementScore(snap.Likes, snap.Views, f.Likes),
		Shares:         EngagementScore(snap.Shares, snap.Views, f.Shares),
		Comments:       EngagementScore(snap.Comments, snap.Views, f.Comments),
		CompletionRate: clamp(snap.AverageCompletionPercent),
		Recency:        RecencyScore(now.Sub(snap.CreatedAt).Hours(), th.DecayHalfLifeHours),
	}

	weighted := c.WatchTime*w.WatchTime +
		c.Likes*w.Likes +
		c.Shares*w.Shares +
		c.Comments*w.Comments +
		c.CompletionRate*w.CompletionRate +
		c.Recency*w.Recency

	multiplier := 1.0
	if snap.CreatorVerified {
		multiplier = f.VerifiedMultiplier
	}

	return Result{
		Score:             weighted * multiplier,
		Components:        c,
		CreatorMultiplier: multiplier,
	}
}

// WatchTimeScore log-scales total watch minutes against minutesCap.
func WatchTimeScore(totalWatchSeconds, minutesCap float64) float64 {
	minutes := totalWatchSeconds / 60
	if minutes <= 0 {
		return 0
	}
	return clamp(math.Log10(minutes+1) / math.Log10(minutesCap) * 100)
}

// EngagementScore blends a log-scaled absolute count (50 points) with the
// per-view rate (50 points). Zero views count as one view.
func EngagementScore(count, views int64, cp EngagementCap) float64 {
	if count < 0 {
		count = 0
	}
	if views <= 0 {
		views = 1
	}
	absolute := math.Log10(float64(count)+1) / math.Log10(cp.Absolute) * 50
	rate := float64(count) / float64(views) / cp.Rate * 50
	return clamp(absolute + rate)
}

// RecencyScore decays from 100 with the given half-life in hours.
func RecencyScore(hoursOld, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		halfLifeHours = defaultDecayHalfLife
	}
	if hoursOld < 0 {
		hoursOld = 0
	}
	return clamp(100 * math.Pow(0.5, hoursOld/halfLifeHours))
}

// RoundScore rounds to two decimals, the precision scores are persisted at.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
