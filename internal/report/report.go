// Package report derives session-level analytics from a session's analyzed
// posts: averages, trend forecasts, posting slots and projections.
package report

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/storage"
)

// Direction is the movement of a series between its two halves.
type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// Record builds the history row for an analysis result.
func Record(session string, res predict.Result) storage.Post {
	return storage.Post{
		Session:              session,
		Counts:               res.Counts,
		PredictedImpressions: res.PredictedImpressions,
		ViralScore:           res.PredictedViralScore,
		EngRate:              round(res.Derived.EngagementRate, 2),
		FollowRate:           round(res.FollowRate(), 1),
		ViralLabel:           res.Label(),
	}
}

// Averages are per-post means over a session, rounded to whole numbers.
type Averages struct {
	Likes       int `json:"likes"`
	Saves       int `json:"saves"`
	Comments    int `json:"comments"`
	Shares      int `json:"shares"`
	Impressions int `json:"impressions"`
}

// Average computes session averages. Impressions average only over posts
// with a positive prediction.
func Average(posts []storage.Post) Averages {
	if len(posts) == 0 {
		return Averages{}
	}
	var likes, saves, comments, shares, imp float64
	var withImp int
	for _, p := range posts {
		likes += float64(p.Counts.Likes)
		saves += float64(p.Counts.Saves)
		comments += float64(p.Counts.Comments)
		shares += float64(p.Counts.Shares)
		if p.PredictedImpressions > 0 {
			imp += p.PredictedImpressions
			withImp++
		}
	}
	n := float64(len(posts))
	a := Averages{
		Likes:    int(math.Round(likes / n)),
		Saves:    int(math.Round(saves / n)),
		Comments: int(math.Round(comments / n)),
		Shares:   int(math.Round(shares / n)),
	}
	if withImp > 0 {
		a.Impressions = int(math.Round(imp / float64(withImp)))
	}
	return a
}

// Smooth returns the trailing moving average of values over window,
// rounded to one decimal.
func Smooth(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		start := max(0, i-window+1)
		var sum float64
		for _, v := range values[start : i+1] {
			sum += v
		}
		out[i] = round(sum/float64(i+1-start), 1)
	}
	return out
}

// Trend compares the mean of the second half of values against the first.
// A change within 5% of the first half is Stable.
func Trend(values []float64) Direction {
	if len(values) < 2 {
		return Stable
	}
	mid := len(values) / 2
	first, second := mean(values[:mid]), mean(values[mid:])
	diff := second - first
	switch {
	case diff > first*0.05:
		return Improving
	case diff < -first*0.05:
		return Declining
	default:
		return Stable
	}
}

// Forecast summarizes where a session is heading.
type Forecast struct {
	PostCount       int       `json:"post_count"`
	ImpressionTrend Direction `json:"impression_trend"`
	Smoothed        []float64 `json:"imp_smoothed"`
	NextImpressions int       `json:"next_imp_forecast"`
	NextViralScore  float64   `json:"next_viral_forecast"`
	OptimalHashtags int       `json:"opt_hashtags"`
	SaveRatio       struct {
		Values    []float64 `json:"values"`
		Direction Direction `json:"direction"`
	} `json:"saves_ratio"`
	Engagement struct {
		Direction   Direction `json:"direction"`
		Consistency string    `json:"consistency"`
	} `json:"engagement_velocity"`
}

// BuildForecast projects the next post from history plus the current post.
// It returns nil when fewer than two posts are available.
func BuildForecast(history []storage.Post, current storage.Post) *Forecast {
	posts := make([]storage.Post, 0, len(history)+1)
	posts = append(posts, history...)
	posts = append(posts, current)
	if len(posts) < 2 {
		return nil
	}

	n := len(posts)
	imps := make([]float64, n)
	viral := make([]float64, n)
	ratios := make([]float64, n)
	engagement := make([]float64, n)
	var tagSum, tagCount int
	for i, p := range posts {
		imps[i] = p.PredictedImpressions
		viral[i] = p.ViralScore
		ratios[i] = float64(p.Counts.Saves) / float64(max(p.Counts.Likes, 1))
		engagement[i] = float64(p.Counts.Likes + p.Counts.Comments)
		if p.Counts.Hashtags > 0 {
			tagSum += p.Counts.Hashtags
			tagCount++
		}
	}

	f := &Forecast{
		PostCount:       n,
		ImpressionTrend: Trend(imps),
		Smoothed:        Smooth(imps, 3),
		OptimalHashtags: 20,
	}

	slope := (imps[n-1] - imps[0]) / float64(n-1)
	f.NextImpressions = max(int(imps[n-1]+slope*0.5), 0)
	vSlope := (viral[n-1] - viral[0]) / float64(n-1)
	f.NextViralScore = round(min(viral[n-1]+vSlope*0.5, 100), 1)

	if tagCount > 0 {
		f.OptimalHashtags = int(math.Round(float64(tagSum) / float64(tagCount)))
	}

	f.SaveRatio.Values = make([]float64, n)
	for i, r := range ratios {
		f.SaveRatio.Values[i] = round(r, 3)
	}
	f.SaveRatio.Direction = Trend(ratios)
	f.Engagement.Direction = Trend(engagement)
	f.Engagement.Consistency = Consistency(imps)
	return f
}

// Consistency rates how steady a series is by its coefficient of variation.
// Fewer than three points rate "Building".
func Consistency(values []float64) string {
	if len(values) < 3 {
		return "Building"
	}
	avg := mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(len(values))
	cv := math.Sqrt(variance) / max(avg, 1)
	switch {
	case cv < 0.25:
		return "High"
	case cv < 0.5:
		return "Medium"
	default:
		return "Low"
	}
}

// PostingSlots are the candidate weekly windows for publishing.
var PostingSlots = []string{
	"Tuesday 7-9 PM",
	"Thursday 6-8 PM",
	"Wednesday 12-2 PM",
	"Sunday 8-10 PM",
	"Monday 8-10 AM",
	"Friday 9-11 AM",
	"Wednesday 7-9 AM",
	"Saturday 10-12 PM",
	"Thursday 12-2 PM",
	"Tuesday 6-8 PM",
}

// Slot is a recommended posting window.
type Slot struct {
	Slot  string `json:"slot"`
	Label string `json:"label"`
}

// BestTimes picks three posting slots by a shuffle seeded from the post's
// counters, so the same post always gets the same slots. The first is BEST.
func BestTimes(c features.Counts) []Slot {
	seed := uint64(c.Saves*7 + c.Comments*13 + c.Hashtags*3)
	rng := rand.New(rand.NewPCG(seed, 0))

	shuffled := make([]string, len(PostingSlots))
	copy(shuffled, PostingSlots)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	out := make([]Slot, 3)
	for i := range out {
		out[i] = Slot{Slot: shuffled[i], Label: "GOOD"}
	}
	out[0].Label = "BEST"
	return out
}

// Projection is the reach available from incremental and full optimization.
type Projection struct {
	Modest    int `json:"projected_25"`
	Optimized int `json:"projected_opt"`
}

// Project scales predicted impressions by 1.25 and 1.60.
func Project(impressions float64) Projection {
	return Projection{
		Modest:    int(impressions * 1.25),
		Optimized: int(impressions * 1.60),
	}
}

// Diagnose gives a one-paragraph read of a post's strengths and weaknesses.
func Diagnose(c features.Counts) string {
	saveRatio := float64(c.Saves) / float64(max(c.Likes, 1))
	commentRatio := float64(c.Comments) / float64(max(c.Likes, 1))
	var followConv float64
	if c.ProfileVisits > 0 {
		followConv = float64(c.Follows) / float64(c.ProfileVisits)
	}

	var strengths, weaknesses []string
	switch {
	case saveRatio > 0.5:
		strengths = append(strengths, "strong saves (people are bookmarking your content)")
	case saveRatio < 0.2:
		weaknesses = append(weaknesses, "saves are low, so your content isn't being kept for later")
	}
	switch {
	case commentRatio > 0.1:
		strengths = append(strengths, "a high comment rate")
	case commentRatio < 0.03:
		weaknesses = append(weaknesses, "very few comments, so add a direct question to the caption")
	}
	switch {
	case float64(c.Shares) > float64(c.Likes)*0.05:
		strengths = append(strengths, "a solid share rate")
	case c.Shares == 0:
		weaknesses = append(weaknesses, "zero shares, so make it more quotable or surprising")
	}
	switch {
	case followConv > 0.15:
		strengths = append(strengths, "excellent follow conversion from profile visits")
	case c.ProfileVisits > 0 && followConv < 0.05:
		weaknesses = append(weaknesses, "people visit your profile but don't follow, so the bio or grid needs work")
	}
	if c.Reposts > 0 {
		strengths = append(strengths, "reposts (a very strong signal)")
	}

	switch {
	case len(strengths) > 0 && len(weaknesses) > 0:
		return "Your post shows " + strings.Join(firstN(strengths, 2), ", ") + ". The main area to improve: " + weaknesses[0] + "."
	case len(strengths) > 0:
		return "Strong post: " + strings.Join(firstN(strengths, 2), ", ") + ". Keep replicating what's working."
	case len(weaknesses) > 0:
		return "This post is underperforming. Key issues: " + strings.Join(firstN(weaknesses, 2), "; ") + "."
	default:
		return "Solid baseline metrics. Focus on saves and comments to push into viral range."
	}
}

func firstN(s []string, n int) []string {
	return s[:min(n, len(s))]
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
