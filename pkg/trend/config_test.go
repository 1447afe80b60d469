package trend_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elonfeng/streamrank/pkg/trend"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	require.NoError(t, trend.ValidateWeights(trend.DefaultWeights()))
	require.InDelta(t, 1.0, trend.DefaultWeights().Sum(), 1e-9)
}

func TestParseWeights(t *testing.T) {
	w, err := trend.ParseWeights(map[string]float64{
		"watchTime":      0.5,
		"likes":          0.2,
		"shares":         0.1,
		"comments":       0.1,
		"completionRate": 0.1,
	})
	require.NoError(t, err)
	require.Equal(t, 0.5, w.WatchTime)
	require.Zero(t, w.Recency, "omitted dimensions are zero")

	w, err = trend.ParseWeights(map[string]float64{"watchTime": 0.5, "likes": 0.5})
	require.NoError(t, err)
	require.Equal(t, 0.5, w.Likes)
}

func TestParseWeights_Errors(t *testing.T) {
	cases := map[string]struct {
		in   map[string]float64
		want error
	}{
		"sum too low": {
			in:   map[string]float64{"watchTime": 0.5, "likes": 0.4},
			want: trend.ErrWeightSum,
		},
		"sum too high": {
			in:   map[string]float64{"watchTime": 0.6, "likes": 0.5},
			want: trend.ErrWeightSum,
		},
		"negative": {
			in:   map[string]float64{"watchTime": 1.2, "likes": -0.2},
			want: trend.ErrInvalidWeight,
		},
		"unknown key": {
			in:   map[string]float64{"watchTime": 1.0, "saves": 0},
			want: trend.ErrInvalidWeight,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := trend.ParseWeights(tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateWeights_Tolerance(t *testing.T) {
	w := trend.DefaultWeights()
	w.Recency += 0.009
	require.NoError(t, trend.ValidateWeights(w))

	w.Recency += 0.01
	err := trend.ValidateWeights(w)
	require.ErrorIs(t, err, trend.ErrWeightSum)
	require.Contains(t, err.Error(), "current sum: 1.02")
}

func TestThresholdsPatch_Apply(t *testing.T) {
	views := int64(250)
	next, err := trend.ThresholdsPatch{MinViews: &views}.Apply(trend.DefaultThresholds())
	require.NoError(t, err)
	require.Equal(t, int64(250), next.MinViews)
	require.Equal(t, int64(10), next.MinEngagement)
	require.Equal(t, 48.0, next.DecayHalfLifeHours)

	zero := 0.0
	_, err = trend.ThresholdsPatch{DecayHalfLifeHours: &zero}.Apply(trend.DefaultThresholds())
	require.ErrorIs(t, err, trend.ErrInvalidThresholds)

	neg := int64(-1)
	_, err = trend.ThresholdsPatch{MinEngagement: &neg}.Apply(trend.DefaultThresholds())
	require.ErrorIs(t, err, trend.ErrInvalidThresholds)
}

func TestSoundScore(t *testing.T) {
	got := trend.SoundScore(trend.SoundUsage{
		UsageCount:   12,
		TotalViews:   54321,
		TotalLikes:   789,
		AverageScore: 41.34,
	})
	// 120 + 543.21 + 78.9 + 206.7
	require.Equal(t, 948.81, got)
}
