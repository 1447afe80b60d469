package trend

import (
	"time"
)

// Content is a scorable content record together with its persisted trending
// fields.
type Content struct {
	ID                       string    `json:"id" db:"id"`
	CreatorID                string    `json:"creator_id" db:"creator_id"`
	CreatorVerified          bool      `json:"creator_verified" db:"creator_verified"`
	SoundID                  string    `json:"sound_id,omitempty" db:"sound_id"`
	Status                   string    `json:"status" db:"status"`
	Visibility               string    `json:"visibility" db:"visibility"`
	TotalWatchSeconds        float64   `json:"total_watch_seconds" db:"total_watch_seconds"`
	Views                    int64     `json:"views" db:"views"`
	Likes                    int64     `json:"likes" db:"likes"`
	Shares                   int64     `json:"shares" db:"shares"`
	Comments                 int64     `json:"comments" db:"comments"`
	AverageCompletionPercent float64   `json:"average_completion_percent" db:"average_completion_percent"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`

	TrendingScore  float64    `json:"trending_score" db:"trending_score"`
	Components     Components `json:"trending_components" db:"-"`
	ComponentsJSON string     `json:"-" db:"trending_components"`
	LastCalculated *time.Time `json:"trending_last_calculated,omitempty" db:"trending_last_calculated"`
}

const (
	StatusPublished  = "published"
	VisibilityPublic = "public"
)

// Snapshot projects the engagement fields the scorer reads.
func (c *Content) Snapshot() Snapshot {
	return Snapshot{
		TotalWatchSeconds:        c.TotalWatchSeconds,
		Views:                    c.Views,
		Likes:                    c.Likes,
		Shares:                   c.Shares,
		Comments:                 c.Comments,
		AverageCompletionPercent: c.AverageCompletionPercent,
		CreatedAt:                c.CreatedAt,
		CreatorVerified:          c.CreatorVerified,
	}
}

// CandidateQuery selects content eligible for a batch run.
type CandidateQuery struct {
	Since    time.Time
	MinViews int64
	Limit    int
}
