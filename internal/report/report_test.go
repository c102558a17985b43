package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/storage"
)

func post(likes, saves, hashtags int, imp, viral float64) storage.Post {
	return storage.Post{
		Counts:               features.Counts{Likes: likes, Saves: saves, Comments: 2, Hashtags: hashtags},
		PredictedImpressions: imp,
		ViralScore:           viral,
	}
}

func TestAverage(t *testing.T) {
	assert.Equal(t, Averages{}, Average(nil))

	got := Average([]storage.Post{
		post(100, 30, 0, 1000, 40),
		post(201, 61, 0, 0, 40),
	})
	assert.Equal(t, 151, got.Likes)
	assert.Equal(t, 46, got.Saves)
	assert.Equal(t, 2, got.Comments)
	assert.Equal(t, 1000, got.Impressions, "zero predictions are excluded")
}

func TestSmooth(t *testing.T) {
	got := Smooth([]float64{3, 6, 9, 12}, 3)
	assert.Equal(t, []float64{3, 4.5, 6, 9}, got)
	assert.Empty(t, Smooth(nil, 3))
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Direction
	}{
		{"single", []float64{5}, Stable},
		{"up", []float64{100, 100, 120, 130}, Improving},
		{"down", []float64{100, 100, 80, 90}, Declining},
		{"within band", []float64{100, 104}, Stable},
		{"odd length", []float64{100, 100, 200}, Improving},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Trend(tt.values))
		})
	}
}

func TestBuildForecast(t *testing.T) {
	assert.Nil(t, BuildForecast(nil, post(10, 1, 0, 500, 30)))

	history := []storage.Post{
		post(100, 20, 10, 1000, 30),
		post(120, 40, 0, 1200, 40),
	}
	f := BuildForecast(history, post(150, 90, 20, 1400, 50))
	require.NotNil(t, f)

	assert.Equal(t, 3, f.PostCount)
	assert.Equal(t, Improving, f.ImpressionTrend)
	assert.Equal(t, []float64{1000, 1100, 1200}, f.Smoothed)
	assert.Equal(t, 1500, f.NextImpressions)
	assert.Equal(t, 55.0, f.NextViralScore)
	assert.Equal(t, 15, f.OptimalHashtags)
	assert.Equal(t, []float64{0.2, 0.333, 0.6}, f.SaveRatio.Values)
	assert.Equal(t, Improving, f.SaveRatio.Direction)
	assert.Equal(t, "High", f.Engagement.Consistency)
}

func TestBuildForecast_FloorsAndCaps(t *testing.T) {
	history := []storage.Post{post(10, 1, 0, 5000, 90)}
	f := BuildForecast(history, post(10, 1, 0, 100, 99))
	require.NotNil(t, f)

	assert.Equal(t, 0, f.NextImpressions)
	assert.Equal(t, 100.0, f.NextViralScore)
	assert.Equal(t, 20, f.OptimalHashtags, "default when no post used hashtags")
	assert.Equal(t, "Building", f.Engagement.Consistency)
}

func TestConsistency(t *testing.T) {
	assert.Equal(t, "Building", Consistency([]float64{1, 2}))
	assert.Equal(t, "High", Consistency([]float64{100, 100, 100}))
	assert.Equal(t, "Medium", Consistency([]float64{100, 200, 150}))
	assert.Equal(t, "Low", Consistency([]float64{10, 1000, 50}))
}

func TestBestTimes(t *testing.T) {
	c := features.Counts{Saves: 109, Comments: 6, Hashtags: 12}

	first := BestTimes(c)
	require.Len(t, first, 3)
	assert.Equal(t, first, BestTimes(c), "same counters give the same slots")
	assert.Equal(t, "BEST", first[0].Label)
	assert.Equal(t, "GOOD", first[1].Label)
	assert.Equal(t, "GOOD", first[2].Label)

	seen := map[string]bool{}
	for _, s := range first {
		assert.Contains(t, PostingSlots, s.Slot)
		assert.False(t, seen[s.Slot], "duplicate slot %s", s.Slot)
		seen[s.Slot] = true
	}
}

func TestProject(t *testing.T) {
	assert.Equal(t, Projection{Modest: 1250, Optimized: 1600}, Project(1000))
}

func TestDiagnose(t *testing.T) {
	strong := Diagnose(features.Counts{Likes: 100, Saves: 80, Comments: 20, Shares: 10, Follows: 5, ProfileVisits: 20})
	assert.Contains(t, strong, "Strong post")

	weak := Diagnose(features.Counts{Likes: 100, Saves: 5, Comments: 1, ProfileVisits: 100})
	assert.Contains(t, weak, "underperforming")

	mixed := Diagnose(features.Counts{Likes: 100, Saves: 80, Comments: 1, Shares: 1})
	assert.Contains(t, mixed, "The main area to improve")

	assert.Contains(t, Diagnose(features.Counts{Likes: 100, Saves: 30, Comments: 5, Shares: 2}), "Solid baseline")
}

func TestRecord(t *testing.T) {
	res := predict.Result{
		PredictedImpressions: 2000,
		PredictedViralScore:  70,
		Counts:               features.Counts{Follows: 1, ProfileVisits: 3},
		Derived:              features.Derived{EngagementRate: 3.14159},
	}
	p := Record("s1", res)
	assert.Equal(t, "s1", p.Session)
	assert.Equal(t, 3.14, p.EngRate)
	assert.Equal(t, 33.3, p.FollowRate)
	assert.Equal(t, "High Potential", p.ViralLabel)
}

func TestSummarize(t *testing.T) {
	assert.Zero(t, Summarize(nil).Count)

	s := Summarize([]storage.Post{
		post(100, 20, 10, 1000, 30),
		post(300, 40, 20, 3000, 70),
		post(200, 30, 30, 500, 50),
	})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 200.0, s.AvgLikes)
	assert.Equal(t, 30.0, s.AvgSaves)
	assert.InDelta(t, 1500.0, s.AvgImpressions, 1e-9)
	assert.Equal(t, 3000.0, s.Best.PredictedImpressions)
	assert.Equal(t, 500.0, s.Worst.PredictedImpressions)
	assert.InDelta(t, 0.15, s.SaveToLike(), 1e-9)
	assert.Equal(t, "moderate (below viral threshold of 65)", s.ScoreBand())
}
