// Package intent answers strategy questions with keyword-matched templates
// grounded in the session's numbers. It never touches the network.
package intent

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/report"
)

// rule pairs an intent predicate with its answer template. Rules are
// evaluated in order and the first match wins.
type rule struct {
	name     string
	keywords []string
	answer   func(c agent.Context) string
}

// matches reports whether a keyword starts at a word boundary in the
// normalized utterance, so "save" matches "saved" but "view" never matches
// "review".
func (r rule) matches(normalized string) bool {
	for _, k := range r.keywords {
		if strings.Contains(normalized, " "+k) {
			return true
		}
	}
	return false
}

// normalize lowercases utterance and reduces it to space-separated words
// with a leading and trailing space.
func normalize(utterance string) string {
	words := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return " " + strings.Join(words, " ") + " "
}

var rules = []rule{
	{name: "reach", keywords: []string{"reach", "impression", "underperform", "flop", "view"}, answer: reachAnswer},
	{name: "saves", keywords: []string{"save", "bookmark"}, answer: savesAnswer},
	{name: "compare", keywords: []string{"compare", "average", "avg", "vs "}, answer: compareAnswer},
	{name: "follows", keywords: []string{"follow"}, answer: followsAnswer},
	{name: "hashtags", keywords: []string{"hashtag", "tags"}, answer: hashtagsAnswer},
	{name: "caption", keywords: []string{"caption", "hook"}, answer: captionAnswer},
	{name: "timing", keywords: []string{"when should", "what time", "best time", "schedule"}, answer: timingAnswer},
	{name: "plan", keywords: []string{"next", "plan", "calendar", "content", "week"}, answer: planAnswer},
	{name: "viral", keywords: []string{"viral", "score"}, answer: viralAnswer},
}

// Responder is the rule-based chat responder.
type Responder struct{}

// New returns a Responder.
func New() *Responder { return &Responder{} }

// Respond classifies utterance and renders the matching template.
func (*Responder) Respond(utterance string, c agent.Context) string {
	_, text := Classify(utterance, c)
	return text
}

// Classify returns the matched intent name, "generic" when nothing matches,
// and the rendered answer.
func Classify(utterance string, c agent.Context) (string, string) {
	u := normalize(utterance)
	for _, r := range rules {
		if r.matches(u) {
			return r.name, r.answer(c)
		}
	}
	return "generic", genericAnswer(c)
}

// snapshot is the most recent post the caller has numbers for.
type snapshot struct {
	counts      features.Counts
	impressions float64
	viral       float64
}

func latest(c agent.Context) (snapshot, bool) {
	if c.Last != nil {
		return snapshot{c.Last.Counts, c.Last.PredictedImpressions, c.Last.PredictedViralScore}, true
	}
	if n := len(c.Posts); n > 0 {
		p := c.Posts[n-1]
		return snapshot{p.Counts, p.PredictedImpressions, p.ViralScore}, true
	}
	return snapshot{}, false
}

func comma(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func saveRatio(c features.Counts) float64 {
	return float64(c.Saves) / float64(max(c.Likes, 1))
}

const noDataTip = "I don't have any post data yet. Analyze a post first and I'll give you personalised advice. " +
	"Quick tip while you set up: saves are the strongest signal on Instagram right now, so add a \"save this\" CTA to every caption."

func reachAnswer(c agent.Context) string {
	s, ok := latest(c)
	if !ok {
		return "Reach usually drops when saves and shares are thin. " + noDataTip
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your latest post is predicted to reach **%s impressions**.", comma(s.impressions))
	if len(c.Posts) > 1 {
		avg := report.Average(c.Posts).Impressions
		if avg > 0 {
			fmt.Fprintf(&b, " Your session average is **%s**.", humanize.Comma(int64(avg)))
		}
	}
	if len(c.Insights) > 0 {
		top := c.Insights[0]
		fmt.Fprintf(&b, " The biggest lever is %s: %s", strings.ReplaceAll(top.Feature, "_", " "), top.Text)
		return b.String()
	}
	r := saveRatio(s.counts)
	if r < 0.3 {
		fmt.Fprintf(&b, " The main drag is a save-to-like ratio of **%.2f**. Saves weigh most in reach, so end the caption with a save prompt.", r)
	} else {
		fmt.Fprintf(&b, " Saves look healthy at **%.2f** per like, so push shares next: open with a surprising stat people want to forward.", r)
	}
	return b.String()
}

func savesAnswer(c agent.Context) string {
	var r float64
	switch {
	case len(c.Posts) > 0:
		r = report.Summarize(c.Posts).SaveToLike()
	case c.Last != nil:
		r = saveRatio(c.Last.Counts)
	default:
		return "Saves are the strongest reach lever. End every caption with \"save this for later\", and favour checklists and how-tos."
	}
	if r < 0.3 {
		return fmt.Sprintf("Your saves-to-likes ratio is **%.2f**, which is low. Fix it by ending every caption with \"save this for later\", "+
			"making list-style content people want to revisit, and favouring tutorials over opinion posts.", r)
	}
	return fmt.Sprintf("Your saves ratio is **%.2f**, which is solid. To push higher, make content more reference-worthy: "+
		"checklists, step-by-step guides and comparison posts earn saves consistently.", r)
}

func compareAnswer(c agent.Context) string {
	s, ok := latest(c)
	if !ok || len(c.Posts) == 0 {
		return "I need at least one analyzed post to compare against. " + noDataTip
	}
	avg := report.Average(c.Posts)
	if avg.Impressions == 0 {
		return fmt.Sprintf("Your latest post is predicted at **%s impressions**. Analyze a few more posts to build an average.", comma(s.impressions))
	}
	diff := (s.impressions - float64(avg.Impressions)) / float64(avg.Impressions) * 100
	direction := "above"
	if diff < 0 {
		direction = "below"
	}
	return fmt.Sprintf("Your latest post is predicted at **%s impressions**, %.0f%% %s your average of **%s** across %d posts. "+
		"Average likes %s, saves %s, comments %s; this post has %s likes and %s saves.",
		comma(s.impressions), math.Abs(diff), direction, humanize.Comma(int64(avg.Impressions)), len(c.Posts),
		humanize.Comma(int64(avg.Likes)), humanize.Comma(int64(avg.Saves)), humanize.Comma(int64(avg.Comments)),
		humanize.Comma(int64(s.counts.Likes)), humanize.Comma(int64(s.counts.Saves)))
}

func followsAnswer(c agent.Context) string {
	const advice = "(1) State your value in the first bio line in six words or fewer. " +
		"(2) Pin your three best-performing posts. (3) Keep the grid visually consistent."
	s, ok := latest(c)
	if !ok || s.counts.ProfileVisits == 0 {
		return "To convert visitors into followers: " + advice
	}
	rate := float64(s.counts.Follows) / float64(s.counts.ProfileVisits) * 100
	return fmt.Sprintf("%d of %d profile visits became follows (**%.1f%%**). To lift that: %s",
		s.counts.Follows, s.counts.ProfileVisits, rate, advice)
}

func hashtagsAnswer(c agent.Context) string {
	const mix = "Sweet spot: 15-20 niche-specific tags. Mix 5 small tags (under 50K posts), 10 mid-size (50K-500K) and 5 broader (500K-2M). Avoid mega-tags with 10M+ posts."
	if len(c.Posts) > 0 {
		return fmt.Sprintf("You're averaging **%.0f hashtags** per post. %s", report.Summarize(c.Posts).AvgHashtags, mix)
	}
	if c.Last != nil {
		return fmt.Sprintf("This post uses **%d hashtags**. %s", c.Last.Counts.Hashtags, mix)
	}
	return mix
}

func captionAnswer(c agent.Context) string {
	s, ok := latest(c)
	if !ok || s.counts.CaptionLength == 0 {
		return "Captions of 150-220 characters tend to earn the most comments and saves. Put the hook in the first line, since only that shows before \"more\"."
	}
	n := s.counts.CaptionLength
	switch {
	case n < 80:
		return fmt.Sprintf("Your caption is **%d characters**, which is short. Aim for 150-220 and close with a question.", n)
	case n > 400:
		return fmt.Sprintf("Your caption is **%d characters**. Long captions lose people; cut toward 150-220 with a strong first line.", n)
	default:
		return fmt.Sprintf("Your caption is **%d characters**, a good length. Make sure the first line works as a hook on its own.", n)
	}
}

func timingAnswer(c agent.Context) string {
	s, ok := latest(c)
	if !ok {
		return "Peak windows are usually Tuesday 7-9 PM and Thursday 6-8 PM. Analyze a post for a recommendation tailored to your content."
	}
	slots := report.BestTimes(s.counts)
	return fmt.Sprintf("Best window for this type of content: **%s**. Secondary options: %s and %s.",
		slots[0].Slot, slots[1].Slot, slots[2].Slot)
}

func planAnswer(c agent.Context) string {
	if len(c.Posts) == 0 {
		if c.Last != nil {
			return fmt.Sprintf("Start from this post's **%s predicted impressions**: repeat its format, post Tuesday 7-9 PM or Thursday 6-8 PM, and add a saves CTA to every caption.",
				comma(c.Last.PredictedImpressions))
		}
		return noDataTip
	}
	sum := report.Summarize(c.Posts)
	return fmt.Sprintf("Based on your **%d posts**: average viral score **%.1f** and **%s impressions**. "+
		"Your best post hit **%s impressions** with %d saves and %d likes. "+
		"Replicate that format, post Tuesday 7-9 PM or Thursday 6-8 PM, and add a saves CTA to every caption.",
		sum.Count, sum.AvgViralScore, comma(sum.AvgImpressions),
		comma(sum.Best.PredictedImpressions), sum.Best.Counts.Saves, sum.Best.Counts.Likes)
}

func viralAnswer(c agent.Context) string {
	s, ok := latest(c)
	if !ok {
		return "A viral score of 65 or more is high potential. " + noDataTip
	}
	return fmt.Sprintf("Your latest viral score is **%.1f** (%s). 65 is the viral threshold; saves and shares move it fastest.",
		s.viral, predict.ViralLabel(s.viral))
}

func genericAnswer(c agent.Context) string {
	if len(c.Posts) == 0 {
		if s, ok := latest(c); ok {
			return fmt.Sprintf("Your post is predicted at **%s impressions** with a viral score of **%.1f**. "+
				"Ask me something specific: why reach is low, how to get more saves, or what to post next.",
				comma(s.impressions), s.viral)
		}
		return noDataTip
	}
	sum := report.Summarize(c.Posts)
	plural := "s"
	if sum.Count == 1 {
		plural = ""
	}
	verdict := "healthy"
	if sum.SaveToLike() < 0.3 {
		verdict = "low, and your main lever"
	}
	return fmt.Sprintf("Across your **%d post%s**: average **%.0f likes**, **%.0f saves**, viral score **%.1f**, **%s impressions**. "+
		"Save/like ratio: **%.2f** (%s). Ask me something specific: content ideas, timing, why a post underperformed, or a 7-day plan.",
		sum.Count, plural, sum.AvgLikes, sum.AvgSaves, sum.AvgViralScore, comma(sum.AvgImpressions), sum.SaveToLike(), verdict)
}
