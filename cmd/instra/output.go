package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/xyrax/instra/internal/api"
	"github.com/xyrax/instra/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func comma(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func printAnalysis(w io.Writer, a api.Analysis) {
	fmt.Fprintf(w, "%s %s impressions, viral score %.1f (%s)\n",
		colorize(colorBold, "Prediction:"), comma(a.PredictedImpressions), a.PredictedViralScore, a.ViralLabel)
	fmt.Fprintf(w, "  engagement %.2f%%  follow rate %.1f%%\n", a.EngRate, a.FollowRate)
	fmt.Fprintf(w, "  %s\n", a.Diagnosis)
	fmt.Fprintf(w, "  projected %s with small tweaks, %s fully optimised\n",
		humanize.Comma(int64(a.Projections.Modest)), humanize.Comma(int64(a.Projections.Optimized)))

	if len(a.Insights) > 0 {
		fmt.Fprintln(w, colorize(colorBold, "Levers:"))
		for i, in := range a.Insights[:min(3, len(a.Insights))] {
			fmt.Fprintf(w, "  %d. %s\n", i+1, in.Text)
		}
	}
	if len(a.BestTimes) > 0 {
		fmt.Fprint(w, colorize(colorBold, "Best times:"))
		for _, s := range a.BestTimes {
			fmt.Fprintf(w, " %s [%s]", s.Slot, s.Label)
		}
		fmt.Fprintln(w)
	}
	if f := a.Forecast; f != nil {
		fmt.Fprintf(w, "%s %s, next post ~%s impressions, viral %.1f, consistency %s\n",
			colorize(colorBold, "Trend:"), f.ImpressionTrend, humanize.Comma(int64(f.NextImpressions)), f.NextViralScore, f.Engagement.Consistency)
	}
	fmt.Fprintf(w, "Session %s now has %d posts.\n", a.SessionKey, a.PostCount)
}

func printPosts(w io.Writer, posts []storage.Post) {
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts analyzed in this session.")
		return
	}
	for i, p := range posts {
		c := p.Counts
		fmt.Fprintf(w, "%3d  %s  %8s imp  viral %5.1f  likes=%d saves=%d comments=%d shares=%d  %s\n",
			i+1, humanize.Time(p.CreatedAt), comma(p.PredictedImpressions), p.ViralScore,
			c.Likes, c.Saves, c.Comments, c.Shares, p.ViralLabel)
	}
}

func printBulk(w io.Writer, res api.BulkResult) {
	for _, r := range res.Rows {
		if r.Error != "" {
			fmt.Fprintf(w, "line %d: %s\n", r.Line, colorize(colorRed, r.Error))
			continue
		}
		fmt.Fprintf(w, "line %d: %s impressions, viral %.1f (%s)\n", r.Line, comma(r.PredictedImpressions), r.PredictedViralScore, r.ViralLabel)
	}
	fmt.Fprintf(w, "%d analyzed, %d failed\n", res.Analyzed, res.Failed)
}
