// Package composer builds the grounded message list sent to the external
// chat model.
package composer

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/report"
	"github.com/xyrax/instra/internal/storage"
)

const (
	defaultHistoryTurns     = 10
	defaultMaxContextTokens = 6000
	maxPostRows             = 20
)

const basePrompt = `You are an expert Instagram growth strategist embedded inside the Instra analytics app.
You have access to the user's post history and model outputs shown below.
Give concise, specific, actionable advice grounded in the numbers. Be direct.
Format key numbers like **1,234 impressions** in bold. Use bullet points for lists.
Never repeat the question back. Get straight to the insight.`

// Composer assembles the system prompt and trimmed conversation history.
type Composer struct {
	HistoryTurns     int
	MaxContextTokens int
}

// New creates a Composer keeping historyTurns user/assistant pairs and
// capping the system prompt at maxContextTokens. Non-positive values use
// the defaults (10 turns, 6000 tokens).
func New(historyTurns, maxContextTokens int) *Composer {
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{HistoryTurns: historyTurns, MaxContextTokens: maxContextTokens}
}

// Build returns the system prompt, the last HistoryTurns*2 valid history
// messages and the user's utterance.
func (c *Composer) Build(ac agent.Context, utterance string) []agent.Message {
	msgs := []agent.Message{{Role: "system", Content: c.SystemPrompt(ac)}}

	history := ac.History
	if limit := c.HistoryTurns * 2; len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, m := range history {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			msgs = append(msgs, m)
		}
	}
	return append(msgs, agent.Message{Role: "user", Content: utterance})
}

// SystemPrompt renders the grounding prompt for ac. Oldest post rows are
// dropped first when the prompt would exceed MaxContextTokens.
func (c *Composer) SystemPrompt(ac agent.Context) string {
	if len(ac.Posts) == 0 && ac.Last == nil {
		return basePrompt + "\n\nNo post history yet. The user hasn't analyzed any posts this session."
	}

	var sb strings.Builder
	sb.WriteString(basePrompt)
	if len(ac.Posts) > 0 {
		writeSummary(&sb, ac.Posts)
	}
	if ac.Last != nil {
		writeLatest(&sb, ac)
	}

	head := sb.String()
	const footer = "\nWhen answering, cite specific numbers from above. Be concrete and direct."
	rows := postRows(ac.Posts)
	render := func(rows []string) string {
		if len(rows) == 0 {
			return head + footer
		}
		data := fmt.Sprintf("\n\nRAW POST DATA (most recent %d of %d):\n", len(rows), len(ac.Posts))
		return head + data + strings.Join(rows, "") + footer
	}
	out := render(rows)
	for len(rows) > 0 && EstimateTokens(out) > c.MaxContextTokens {
		rows = rows[1:]
		out = render(rows)
	}
	return out
}

func writeSummary(sb *strings.Builder, posts []storage.Post) {
	s := report.Summarize(posts)
	ratioNote := "healthy"
	if s.SaveToLike() < 0.3 {
		ratioNote = "low, key growth lever"
	}
	fmt.Fprintf(sb, "\n\nUSER ACCOUNT SUMMARY (%d posts analysed)\nAVERAGES:\n", s.Count)
	fmt.Fprintf(sb, "  Likes:        %.0f\n", s.AvgLikes)
	fmt.Fprintf(sb, "  Saves:        %.0f\n", s.AvgSaves)
	fmt.Fprintf(sb, "  Comments:     %.0f\n", s.AvgComments)
	fmt.Fprintf(sb, "  Shares:       %.0f\n", s.AvgShares)
	fmt.Fprintf(sb, "  Follows:      %.0f\n", s.AvgFollows)
	fmt.Fprintf(sb, "  Impressions:  %s\n", comma(s.AvgImpressions))
	fmt.Fprintf(sb, "  Viral score:  %.1f, %s\n", s.AvgViralScore, s.ScoreBand())
	fmt.Fprintf(sb, "  Hashtags:     %.0f\n", s.AvgHashtags)
	fmt.Fprintf(sb, "  Save/Like ratio: %.2f (%s)\n", s.SaveToLike(), ratioNote)
	fmt.Fprintf(sb, "\nIMPRESSION TREND: %s\n", trendText(posts))
	fmt.Fprintf(sb, "\nBEST POST:  %s\nWORST POST: %s", describe(s.Best), describe(s.Worst))
}

func writeLatest(sb *strings.Builder, ac agent.Context) {
	res := ac.Last
	fmt.Fprintf(sb, "\n\nLATEST MODEL OUTPUT (most recent post):\n")
	fmt.Fprintf(sb, "  Predicted impressions: %s\n", comma(res.PredictedImpressions))
	fmt.Fprintf(sb, "  Viral score: %.1f (%s)\n", res.PredictedViralScore, res.Label())
	fmt.Fprintf(sb, "  Engagement rate: %.2f%%\n", res.Derived.EngagementRate)
	fmt.Fprintf(sb, "  Diagnosis: %s\n", report.Diagnose(res.Counts))
	proj := report.Project(res.PredictedImpressions)
	fmt.Fprintf(sb, "  Projected impressions with small tweaks: %s\n", humanize.Comma(int64(proj.Modest)))
	fmt.Fprintf(sb, "  Projected impressions fully optimised: %s\n", humanize.Comma(int64(proj.Optimized)))
	if len(ac.Insights) > 0 {
		sb.WriteString("  Top growth levers:\n")
		for _, in := range ac.Insights[:min(3, len(ac.Insights))] {
			fmt.Fprintf(sb, "  - %s\n", in.Text)
		}
	}
}

func postRows(posts []storage.Post) []string {
	if len(posts) > maxPostRows {
		posts = posts[len(posts)-maxPostRows:]
	}
	rows := make([]string, len(posts))
	for i, p := range posts {
		c := p.Counts
		rows[i] = fmt.Sprintf("  Post %d: likes=%d, saves=%d, comments=%d, shares=%d, follows=%d, impressions=%s, viral_score=%.1f, hashtags=%d, caption_len=%d, label=%s\n",
			i+1, c.Likes, c.Saves, c.Comments, c.Shares, c.Follows, comma(p.PredictedImpressions), p.ViralScore, c.Hashtags, c.CaptionLength, p.ViralLabel)
	}
	return rows
}

func trendText(posts []storage.Post) string {
	n := len(posts)
	imps := make([]float64, n)
	for i, p := range posts {
		imps[i] = p.PredictedImpressions
	}
	switch {
	case n >= 4:
		mid := n / 2
		first, second := avg(imps[:mid]), avg(imps[mid:])
		switch {
		case first > 0 && second > first*1.05:
			return fmt.Sprintf("IMPROVING (up %.0f%% recent vs early)", (second/first-1)*100)
		case second > 0 && second < first*0.95:
			return fmt.Sprintf("DECLINING (down %.0f%% recent vs early)", (first/second-1)*100)
		default:
			return "STABLE"
		}
	case n >= 2:
		switch {
		case imps[n-1] > imps[0]:
			return "IMPROVING"
		case imps[n-1] < imps[0]:
			return "DECLINING"
		default:
			return "STABLE"
		}
	default:
		return "only 1 post, no trend yet"
	}
}

func describe(p storage.Post) string {
	return fmt.Sprintf("%s impressions | viral score %.1f | saves=%d, likes=%d, shares=%d",
		comma(p.PredictedImpressions), p.ViralScore, p.Counts.Saves, p.Counts.Likes, p.Counts.Shares)
}

func avg(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func comma(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
