package insight

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/model"
	"github.com/xyrax/instra/internal/predict"
)

func scenarioResult(t *testing.T) (predict.Result, model.Importance) {
	t.Helper()
	b, err := model.Load("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	svc := predict.NewService(b.Registry, nil)
	res, err := svc.Analyze(features.PostMetrics{
		Likes:         features.Int(151),
		Saves:         features.Int(109),
		Comments:      features.Int(6),
		Shares:        features.Int(6),
		Follows:       features.Int(8),
		ProfileVisits: features.Int(23),
	})
	require.NoError(t, err)
	return res, b.Importance
}

func featureOrder(ins []Insight) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.Feature
	}
	return out
}

func TestRank_ScenarioTopIsSaves(t *testing.T) {
	res, table := scenarioResult(t)

	ins := Rank(res, table)
	require.NotEmpty(t, ins)
	assert.Equal(t, "saves", ins[0].Feature)
	assert.Equal(t, 0.30, ins[0].Weight)
	assert.Contains(t, ins[0].Text, "0.72")
	assert.Len(t, ins, len(table))

	for i := 1; i < len(ins); i++ {
		assert.GreaterOrEqual(t, ins[i-1].Weight, ins[i].Weight)
	}
}

func TestRank_DefaultTieLikesBeforeShares(t *testing.T) {
	res, table := scenarioResult(t)

	got := featureOrder(Rank(res, table))
	assert.Equal(t, []string{
		"saves", "follows", "comments", "likes", "shares",
		"profile_visits", "reposts", "hashtags", "caption_length",
	}, got)
}

func TestRank_IntentionalTies(t *testing.T) {
	table := model.Importance{
		"hashtags":       0.2,
		"likes":          0.2,
		"reposts":        0.1,
		"comments":       0.2,
		"saves":          0.1,
		"shares":         0.1,
		"follows":        0.1,
		"caption_length": 0,
	}
	res := predict.Result{Counts: features.Counts{Likes: 40, Saves: 4}}

	want := []string{
		"comments", "likes", "hashtags",
		"saves", "follows", "shares", "reposts",
		"caption_length",
	}
	for range 20 {
		assert.Equal(t, want, featureOrder(Rank(res, table)))
	}
}

func TestRank_EmptyTable(t *testing.T) {
	res := predict.Result{}
	got := Rank(res, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRank_TextUsesCounters(t *testing.T) {
	res := predict.Result{Counts: features.Counts{Hashtags: 3, CaptionLength: 42}}
	ins := Rank(res, model.Importance{"hashtags": 0.5, "caption_length": 0.5})

	require.Len(t, ins, 2)
	// Equal weights outside the priority list fall back to vector order.
	assert.Equal(t, "caption_length", ins[0].Feature)
	assert.Contains(t, ins[0].Text, "42 characters")
	assert.Equal(t, "hashtags", ins[1].Feature)
	assert.Contains(t, ins[1].Text, "3 hashtags")
}

func TestRank_SaveTemplates(t *testing.T) {
	low := predict.Result{Derived: features.Derived{SaveToLikeRatio: 0.1}}
	high := predict.Result{Derived: features.Derived{SaveToLikeRatio: 0.9}}
	table := model.Importance{"saves": 1}

	assert.Contains(t, Rank(low, table)[0].Text, "below 0.40")
	assert.Contains(t, Rank(high, table)[0].Text, "strong")
}
