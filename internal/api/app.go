package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/bulk"
	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/insight"
	"github.com/xyrax/instra/internal/metrics"
	"github.com/xyrax/instra/internal/model"
	"github.com/xyrax/instra/internal/report"
	"github.com/xyrax/instra/internal/storage"
)

// defaultHistoryTurns is used when Deps.HistoryTurns is unset.
const defaultHistoryTurns = 10

// errNoSession is returned when an operation needs an existing session key.
var errNoSession = errors.New("session_key is required")

// errNoMessage is returned when an agent turn carries no text.
var errNoMessage = errors.New("message is required")

// Deps holds everything the HTTP and MCP surfaces share.
type Deps struct {
	Analyzer        bulk.Analyzer
	Importance      model.Importance
	Store           *storage.Store
	Router          *agent.Router
	Logger          *slog.Logger
	HistoryTurns    int
	BulkConcurrency int
}

// App runs session-scoped operations on top of the prediction core.
type App struct {
	deps   Deps
	logger *slog.Logger
}

// NewApp creates an App. Analyzer, Store and Router are required.
func NewApp(deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.HistoryTurns <= 0 {
		deps.HistoryTurns = defaultHistoryTurns
	}
	if deps.BulkConcurrency <= 0 {
		deps.BulkConcurrency = bulk.DefaultConcurrency
	}
	return &App{deps: deps, logger: logger}
}

// Analysis is the full answer to one analyze request.
type Analysis struct {
	SessionKey string `json:"session_key"`
	PostID     string `json:"post_id"`

	PredictedImpressions float64           `json:"predicted_impressions"`
	PredictedViralScore  float64           `json:"predicted_viral_score"`
	Insights             []insight.Insight `json:"insights"`

	Inputs      features.Counts   `json:"inputs"`
	EngRate     float64           `json:"eng_rate"`
	FollowRate  float64           `json:"follow_rate"`
	ViralLabel  string            `json:"viral_label"`
	Diagnosis   string            `json:"diagnosis"`
	Projections report.Projection `json:"projections"`
	BestTimes   []report.Slot     `json:"best_times"`
	PostCount   int               `json:"post_count"`
	Averages    report.Averages   `json:"averages"`
	Forecast    *report.Forecast  `json:"forecast,omitempty"`
}

// Analyze predicts m, ranks insights and appends the post to the session's
// history. An empty session starts a new one.
func (a *App) Analyze(ctx context.Context, session string, m features.PostMetrics) (Analysis, error) {
	if session == "" {
		session = uuid.NewString()
	}

	res, err := a.deps.Analyzer.Analyze(m)
	metrics.ObserveAnalysis(outcome(err))
	if err != nil {
		return Analysis{}, err
	}
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	history, err := a.deps.Store.ListPosts(session)
	if err != nil {
		return Analysis{}, fmt.Errorf("loading history: %w", err)
	}
	rec := report.Record(session, res)
	forecast := report.BuildForecast(history, rec)
	saved, err := a.deps.Store.SavePost(rec)
	if err != nil {
		return Analysis{}, fmt.Errorf("saving post: %w", err)
	}
	all := append(history, saved)

	a.logger.Debug("post analyzed", "session", session, "result", res.String(), "posts", len(all))

	return Analysis{
		SessionKey:           session,
		PostID:               saved.ID,
		PredictedImpressions: res.PredictedImpressions,
		PredictedViralScore:  res.PredictedViralScore,
		Insights:             insight.Rank(res, a.deps.Importance),
		Inputs:               res.Counts,
		EngRate:              saved.EngRate,
		FollowRate:           saved.FollowRate,
		ViralLabel:           saved.ViralLabel,
		Diagnosis:            report.Diagnose(res.Counts),
		Projections:          report.Project(res.PredictedImpressions),
		BestTimes:            report.BestTimes(res.Counts),
		PostCount:            len(all),
		Averages:             report.Average(all),
		Forecast:             forecast,
	}, nil
}

// outcome maps an analysis error onto a metrics label.
func outcome(err error) string {
	var insufficient *features.InsufficientInputError
	var invalid *features.InvalidInputError
	var unavailable *model.UnavailableError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &insufficient), errors.As(err, &invalid):
		return metrics.OutcomeInvalid
	case errors.As(err, &unavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}

// Ask runs one agent turn. When history is nil the session's stored
// conversation is used. Both sides of the turn are stored.
func (a *App) Ask(ctx context.Context, session, message string, history []agent.Message) (agent.Reply, error) {
	if strings.TrimSpace(message) == "" {
		return agent.Reply{}, errNoMessage
	}

	ac := a.agentContext(session, history)
	reply := a.deps.Router.Handle(ctx, message, ac)

	if session != "" {
		turns := []storage.Message{
			{Session: session, Role: "user", Content: message},
			{Session: session, Role: "assistant", Content: reply.Text, Source: string(reply.Source)},
		}
		for _, m := range turns {
			if err := a.deps.Store.SaveMessage(m); err != nil {
				a.logger.Warn("failed to store chat turn", "session", session, "error", err)
			}
		}
	}
	return reply, nil
}

// agentContext gathers the session snapshot the router grounds on. The
// latest post is re-analyzed so the responder sees its full result and
// insights. Storage failures leave the matching part of the context empty.
func (a *App) agentContext(session string, history []agent.Message) agent.Context {
	ac := agent.Context{SessionID: session, History: history}
	if session == "" {
		return ac
	}

	posts, err := a.deps.Store.ListPosts(session)
	if err != nil {
		a.logger.Warn("failed to load post history", "session", session, "error", err)
	}
	ac.Posts = posts

	if history == nil {
		stored, err := a.deps.Store.RecentMessages(session, a.deps.HistoryTurns*2)
		if err != nil {
			a.logger.Warn("failed to load conversation", "session", session, "error", err)
		}
		for _, m := range stored {
			ac.History = append(ac.History, agent.Message{Role: m.Role, Content: m.Content})
		}
	}

	if len(posts) > 0 {
		last := posts[len(posts)-1]
		res, err := a.deps.Analyzer.Analyze(last.Counts.Metrics())
		if err != nil {
			a.logger.Debug("latest post not re-analyzed", "session", session, "error", err)
		} else {
			ac.Last = &res
			ac.Insights = insight.Rank(res, a.deps.Importance)
		}
	}
	return ac
}

// History returns the session's analyzed posts, oldest first.
func (a *App) History(session string) ([]storage.Post, error) {
	if session == "" {
		return nil, errNoSession
	}
	posts, err := a.deps.Store.ListPosts(session)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []storage.Post{}
	}
	return posts, nil
}

// Clear deletes the session's posts and conversation and returns how many
// posts were removed.
func (a *App) Clear(session string) (int, error) {
	if session == "" {
		return 0, errNoSession
	}
	return a.deps.Store.ClearSession(session)
}

// BulkRow is the outcome of one CSV row.
type BulkRow struct {
	Line                 int     `json:"line"`
	PostID               string  `json:"post_id,omitempty"`
	PredictedImpressions float64 `json:"predicted_impressions,omitempty"`
	PredictedViralScore  float64 `json:"predicted_viral_score,omitempty"`
	ViralLabel           string  `json:"viral_label,omitempty"`
	TopInsight           string  `json:"top_insight,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// BulkResult summarizes a bulk run.
type BulkResult struct {
	SessionKey string    `json:"session_key,omitempty"`
	Analyzed   int       `json:"analyzed"`
	Failed     int       `json:"failed"`
	Rows       []BulkRow `json:"rows"`
}

// Bulk analyzes every row in parallel. Successful rows are appended to the
// session's history in row order when a session is given.
func (a *App) Bulk(ctx context.Context, session string, rows []bulk.Row) (BulkResult, error) {
	outcomes, err := bulk.AnalyzeAll(ctx, a.deps.Analyzer, rows, a.deps.BulkConcurrency)
	if err != nil {
		return BulkResult{}, err
	}

	out := BulkResult{SessionKey: session, Rows: make([]BulkRow, len(outcomes))}
	for i, o := range outcomes {
		metrics.ObserveAnalysis(outcome(o.Err))
		row := BulkRow{Line: o.Line}
		if o.Err != nil {
			row.Error = o.Err.Error()
			out.Failed++
			out.Rows[i] = row
			continue
		}
		res := *o.Result
		row.PredictedImpressions = res.PredictedImpressions
		row.PredictedViralScore = res.PredictedViralScore
		row.ViralLabel = res.Label()
		if ins := insight.Rank(res, a.deps.Importance); len(ins) > 0 {
			row.TopInsight = ins[0].Text
		}
		if session != "" {
			saved, err := a.deps.Store.SavePost(report.Record(session, res))
			if err != nil {
				return BulkResult{}, fmt.Errorf("saving line %d: %w", o.Line, err)
			}
			row.PostID = saved.ID
		}
		out.Analyzed++
		out.Rows[i] = row
	}
	return out, nil
}
