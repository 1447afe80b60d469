package trend

// SoundUsage aggregates how a sound was used by recent content.
type SoundUsage struct {
	SoundID      string  `db:"sound_id" json:"sound_id"`
	UsageCount   int64   `db:"usage_count" json:"usage_count"`
	TotalViews   int64   `db:"total_views" json:"total_views"`
	TotalLikes   int64   `db:"total_likes" json:"total_likes"`
	AverageScore float64 `db:"average_score" json:"average_score"`
}

// SoundScore derives a sound's trending score from its usage aggregate.
// Unlike content scores it is unbounded.
func SoundScore(u SoundUsage) float64 {
	score := float64(u.UsageCount)*10 +
		float64(u.TotalViews)*0.01 +
		float64(u.TotalLikes)*0.1 +
		u.AverageScore*5
	return RoundScore(score)
}
