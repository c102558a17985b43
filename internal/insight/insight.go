package insight

import (
	"fmt"
	"sort"

	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/model"
	"github.com/xyrax/instra/internal/predict"
)

// Insight is one ranked, actionable recommendation.
type Insight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
	Text    string  `json:"text"`
}

// tieOrder breaks equal weights. Features not listed follow in vector order.
var tieOrder = []string{"saves", "follows", "comments", "likes"}

func priority(feature string) int {
	for i, f := range tieOrder {
		if f == feature {
			return i
		}
	}
	if idx := features.Index(feature); idx >= 0 {
		return len(tieOrder) + idx
	}
	return len(tieOrder) + features.VectorLen
}

// Rank turns a prediction and an importance table into recommendations
// sorted by weight descending. A nil or empty table yields an empty slice.
func Rank(res predict.Result, table model.Importance) []Insight {
	out := make([]Insight, 0, len(table))
	for name, w := range table {
		out = append(out, Insight{
			Feature: name,
			Weight:  w,
			Text:    recommend(name, res),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		pi, pj := priority(out[i].Feature), priority(out[j].Feature)
		if pi != pj {
			return pi < pj
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

type template func(c features.Counts, d features.Derived) string

var templates = map[string]template{
	"saves": func(c features.Counts, d features.Derived) string {
		if d.SaveToLikeRatio < 0.4 {
			return fmt.Sprintf("Your save rate is %.2f saves per like, below 0.40. Saves are your strongest reach lever: end the caption with a clear \"save this for later\" prompt.", d.SaveToLikeRatio)
		}
		return fmt.Sprintf("Your save rate of %.2f saves per like is strong. Saves are your strongest reach lever, so keep posting reference-worthy checklists and guides.", d.SaveToLikeRatio)
	},
	"follows": func(c features.Counts, d features.Derived) string {
		if c.ProfileVisits == 0 {
			return "No profile visits recorded yet. Give people a reason to tap through: tease more of the series in the caption."
		}
		pct := d.FollowerConversionRate * 100
		if pct < 8 {
			return fmt.Sprintf("Only %.1f%% of %d profile visits turned into follows. Put your value proposition in the first bio line and pin your three best posts.", pct, c.ProfileVisits)
		}
		return fmt.Sprintf("%.1f%% of profile visits convert to follows. Keep the grid cohesive so that rate holds as reach grows.", pct)
	},
	"comments": func(c features.Counts, d features.Derived) string {
		ratio := float64(c.Comments) / max(float64(c.Likes), features.Epsilon)
		if ratio < 0.05 {
			return fmt.Sprintf("%d comments on %d likes is quiet. Close with a specific either-or question to start a thread.", c.Comments, c.Likes)
		}
		return fmt.Sprintf("%d comments is a healthy conversation rate. Reply within the first hour to keep the post circulating.", c.Comments)
	},
	"likes": func(c features.Counts, d features.Derived) string {
		return fmt.Sprintf("%d likes sets your baseline reach. Lead with a hook in the first line, since only that shows before \"more\".", c.Likes)
	},
	"shares": func(c features.Counts, d features.Derived) string {
		if c.Shares < 3 {
			return fmt.Sprintf("%d shares is low. Open with a surprising stat or bold claim people want to forward.", c.Shares)
		}
		return fmt.Sprintf("%d shares shows the post travels. Repeat the format that earned them.", c.Shares)
	},
	"profile_visits": func(c features.Counts, d features.Derived) string {
		return fmt.Sprintf("%d profile visits. Mention what else lives on your profile to pull more people through.", c.ProfileVisits)
	},
	"reposts": func(c features.Counts, d features.Derived) string {
		if c.Reposts == 0 {
			return "No reposts yet. Carousels and quotable takeaways get reposted far more often than single images."
		}
		return fmt.Sprintf("%d reposts is a very strong signal. Turn this post into a series.", c.Reposts)
	},
	"hashtags": func(c features.Counts, d features.Derived) string {
		switch {
		case c.Hashtags < 10:
			return fmt.Sprintf("You used %d hashtags. Try 15-20 relevant niche tags to widen discovery.", c.Hashtags)
		case c.Hashtags > 28:
			return fmt.Sprintf("You used %d hashtags, which can read as over-tagging. Trim to 15-20 targeted ones.", c.Hashtags)
		default:
			return fmt.Sprintf("%d hashtags is in the sweet spot. Rotate niche tags between posts.", c.Hashtags)
		}
	},
	"caption_length": func(c features.Counts, d features.Derived) string {
		switch {
		case c.CaptionLength < 80:
			return fmt.Sprintf("Your caption is %d characters. Captions of 150-220 characters tend to earn more comments and saves.", c.CaptionLength)
		case c.CaptionLength > 400:
			return fmt.Sprintf("Your caption is %d characters. Cut toward 150-220 with a strong opening line.", c.CaptionLength)
		default:
			return fmt.Sprintf("Your %d-character caption is a good length.", c.CaptionLength)
		}
	},
}

func recommend(feature string, res predict.Result) string {
	if tpl, ok := templates[feature]; ok {
		return tpl(res.Counts, res.Derived)
	}
	return fmt.Sprintf("%s is %.2f on this post and carries weight in the reach model.", feature, res.Vector.Get(feature))
}
