package trend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	defaultDecayHalfLife = 48
	weightSumTolerance   = 0.01
)

var (
	// ErrWeightSum is returned when weights do not sum to 1.0 within tolerance.
	ErrWeightSum = errors.New("weights must sum to 1.0")
	// ErrInvalidWeight is returned for unknown dimensions or negative values.
	ErrInvalidWeight = errors.New("invalid weight")
	// ErrInvalidThresholds is returned for out-of-range thresholds.
	ErrInvalidThresholds = errors.New("invalid thresholds")
)

// Weights are the per-dimension multipliers of the composite score.
type Weights struct {
	WatchTime      float64 `json:"watchTime" yaml:"watch_time"`
	Likes          float64 `json:"likes" yaml:"likes"`
	Shares         float64 `json:"shares" yaml:"shares"`
	Comments       float64 `json:"comments" yaml:"comments"`
	CompletionRate float64 `json:"completionRate" yaml:"completion_rate"`
	Recency        float64 `json:"recency" yaml:"recency"`
}

// Sum returns the total of all six weights.
func (w Weights) Sum() float64 {
	return w.WatchTime + w.Likes + w.Shares + w.Comments + w.CompletionRate + w.Recency
}

// Thresholds gate batch eligibility and shape the recency curve.
type Thresholds struct {
	MinViews           int64   `json:"minViews" yaml:"min_views"`
	MinEngagement      int64   `json:"minEngagement" yaml:"min_engagement"`
	DecayHalfLifeHours float64 `json:"decayHalfLife" yaml:"decay_half_life_hours"`
}

// Config is the active trending configuration.
type Config struct {
	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
	UpdatedBy  string     `json:"updatedBy,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

// HistoryKind identifies which half of the config a history entry changed.
type HistoryKind string

const (
	HistoryWeights    HistoryKind = "weights"
	HistoryThresholds HistoryKind = "thresholds"
)

// HistoryEntry is an append-only record of a config change.
type HistoryEntry struct {
	ID        int64       `db:"id" json:"id"`
	Kind      HistoryKind `db:"kind" json:"kind"`
	Previous  string      `db:"previous" json:"previous"`
	Current   string      `db:"current" json:"current"`
	Reason    string      `db:"reason" json:"reason"`
	UpdatedBy string      `db:"updated_by" json:"updatedBy"`
	UpdatedAt time.Time   `db:"updated_at" json:"updatedAt"`
}

// DefaultWeights returns the fallback weights used when nothing is stored.
func DefaultWeights() Weights {
	return Weights{
		WatchTime:      0.35,
		Likes:          0.20,
		Shares:         0.20,
		Comments:       0.10,
		CompletionRate: 0.10,
		Recency:        0.05,
	}
}

// DefaultThresholds returns the fallback thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinViews:           100,
		MinEngagement:      10,
		DecayHalfLifeHours: defaultDecayHalfLife,
	}
}

// DefaultConfig returns the hardcoded fallback configuration.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), Thresholds: DefaultThresholds()}
}

// ValidateWeights checks that weights are non-negative and sum to 1.0
// within tolerance.
func ValidateWeights(w Weights) error {
	for name, v := range w.asMap() {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidWeight, name, v)
		}
	}
	sum := w.Sum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("%w (current sum: %.2f)", ErrWeightSum, sum)
	}
	return nil
}

// ParseWeights builds a full weight vector from a submitted map. Submitted
// weights replace the whole vector; omitted dimensions are zero.
func ParseWeights(m map[string]float64) (Weights, error) {
	var w Weights
	var unknown []string
	for k, v := range m {
		switch k {
		case "watchTime":
			w.WatchTime = v
		case "likes":
			w.Likes = v
		case "shares":
			w.Shares = v
		case "comments":
			w.Comments = v
		case "completionRate":
			w.CompletionRate = v
		case "recency":
			w.Recency = v
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Weights{}, fmt.Errorf("%w: unknown dimension %s", ErrInvalidWeight, strings.Join(unknown, ", "))
	}
	return w, ValidateWeights(w)
}

// ThresholdsPatch is a partial threshold update.
type ThresholdsPatch struct {
	MinViews           *int64   `json:"minViews" validate:"omitempty,gte=0"`
	MinEngagement      *int64   `json:"minEngagement" validate:"omitempty,gte=0"`
	DecayHalfLifeHours *float64 `json:"decayHalfLife" validate:"omitempty,gt=0"`
}

// Apply merges the patch over t and validates the result.
func (p ThresholdsPatch) Apply(t Thresholds) (Thresholds, error) {
	if p.MinViews != nil {
		t.MinViews = *p.MinViews
	}
	if p.MinEngagement != nil {
		t.MinEngagement = *p.MinEngagement
	}
	if p.DecayHalfLifeHours != nil {
		t.DecayHalfLifeHours = *p.DecayHalfLifeHours
	}
	if t.MinViews < 0 || t.MinEngagement < 0 {
		return t, fmt.Errorf("%w: counts must be non-negative", ErrInvalidThresholds)
	}
	if t.DecayHalfLifeHours <= 0 {
		return t, fmt.Errorf("%w: decay half-life must be positive", ErrInvalidThresholds)
	}
	return t, nil
}

func (w Weights) asMap() map[string]float64 {
	return map[string]float64{
		"watchTime":      w.WatchTime,
		"likes":          w.Likes,
		"shares":         w.Shares,
		"comments":       w.Comments,
		"completionRate": w.CompletionRate,
		"recency":        w.Recency,
	}
}
