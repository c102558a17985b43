package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xyrax/instra/internal/agent"
	"github.com/xyrax/instra/internal/composer"
	"github.com/xyrax/instra/internal/features"
	"github.com/xyrax/instra/internal/intent"
	"github.com/xyrax/instra/internal/metrics"
	"github.com/xyrax/instra/internal/model"
	"github.com/xyrax/instra/internal/predict"
	"github.com/xyrax/instra/internal/storage"
)

const scenarioBody = `{"session_key":"s1","likes":151,"saves":109,"comments":6,"shares":6,"follows":8,"profile_visits":23}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	app   *App
	store *storage.Store
	h     http.Handler
}

func setup(t *testing.T, external agent.External, opts HandlerOptions) testEnv {
	t.Helper()
	bundle, err := model.Load("", quietLogger())
	if err != nil {
		t.Fatalf("loading default model: %v", err)
	}
	return setupWith(t, predict.NewService(bundle.Registry, quietLogger()), bundle.Importance, external, opts)
}

func setupWith(t *testing.T, analyzer interface {
	Analyze(features.PostMetrics) (predict.Result, error)
}, table model.Importance, external agent.External, opts HandlerOptions) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	router := agent.NewRouter(external, composer.New(0, 0), intent.New(), agent.Config{Logger: quietLogger()})
	app := NewApp(Deps{
		Analyzer:   analyzer,
		Importance: table,
		Store:      store,
		Router:     router,
		Logger:     quietLogger(),
	})
	return testEnv{app: app, store: store, h: NewHandler(app, opts)}
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, url, reader))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	rr := do(t, env.h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["status"] != "ok" || body["external"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestAnalyze_Scenario(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})

	rr := do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	res := decode[Analysis](t, rr)

	if res.SessionKey != "s1" || res.PostID == "" {
		t.Errorf("session/post = %q/%q", res.SessionKey, res.PostID)
	}
	if res.PredictedImpressions < 0 {
		t.Errorf("impressions = %v, want >= 0", res.PredictedImpressions)
	}
	if len(res.Insights) == 0 || res.Insights[0].Feature != "saves" {
		t.Errorf("top insight = %+v, want saves", res.Insights)
	}
	if len(res.BestTimes) != 3 || !strings.Contains(res.BestTimes[0].Label, "BEST") {
		t.Errorf("best times = %+v", res.BestTimes)
	}
	if res.PostCount != 1 || res.Forecast != nil {
		t.Errorf("first post: count=%d forecast=%v", res.PostCount, res.Forecast)
	}
	if res.Inputs.Likes != 151 || res.Inputs.Hashtags != 0 {
		t.Errorf("inputs = %+v", res.Inputs)
	}

	rr = do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	second := decode[Analysis](t, rr)
	if second.PostCount != 2 || second.Forecast == nil {
		t.Fatalf("second post: count=%d forecast=%v", second.PostCount, second.Forecast)
	}
	if second.PredictedImpressions != res.PredictedImpressions {
		t.Errorf("repeat analysis differs: %v vs %v", second.PredictedImpressions, res.PredictedImpressions)
	}
}

func TestAnalyze_NewSessionWhenMissing(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	rr := do(t, env.h, http.MethodPost, "/api/analyze", `{"likes":1,"saves":2,"comments":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if res := decode[Analysis](t, rr); len(res.SessionKey) != 36 {
		t.Errorf("session key = %q, want a uuid", res.SessionKey)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"insufficient", `{"likes":10}`, http.StatusBadRequest, "insufficient input"},
		{"negative", `{"likes":-1,"saves":2,"comments":3}`, http.StatusBadRequest, "non-negative"},
		{"bad json", `{"likes":`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, env.h, http.MethodPost, "/api/analyze", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			body := decode[errorBody](t, rr)
			if body.Error.Type != "invalid_request_error" || !strings.Contains(body.Error.Message, tt.wantMsg) {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}

	n, err := env.store.CountPosts("s1")
	if err != nil || n != 0 {
		t.Errorf("rejected requests stored posts: n=%d err=%v", n, err)
	}
}

type unavailableAnalyzer struct{}

func (unavailableAnalyzer) Analyze(features.PostMetrics) (predict.Result, error) {
	return predict.Result{}, &model.UnavailableError{Target: model.Impressions, Err: errors.New("artifact missing")}
}

func TestAnalyze_ModelUnavailable(t *testing.T) {
	env := setupWith(t, unavailableAnalyzer{}, nil, nil, HandlerOptions{})
	rr := do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.Error.Type != "model_unavailable" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestAgent_FallbackQuotesPrediction(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	analysis := decode[Analysis](t, do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody))

	rr := do(t, env.h, http.MethodPost, "/api/agent", `{"session_key":"s1","message":"why is my reach low"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	reply := decode[map[string]string](t, rr)
	if reply["source"] != "fallback" {
		t.Errorf("source = %q, want fallback", reply["source"])
	}
	want := humanize.Comma(int64(math.Round(analysis.PredictedImpressions)))
	if !strings.Contains(reply["reply"], want) {
		t.Errorf("reply %q does not quote %s impressions", reply["reply"], want)
	}

	msgs, err := env.store.RecentMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Source != "fallback" {
		t.Errorf("stored turns = %+v", msgs)
	}
}

func TestAgent_ExternalReply(t *testing.T) {
	env := setup(t, agent.Canned("grounded answer"), HandlerOptions{})
	rr := do(t, env.h, http.MethodPost, "/api/agent", `{"message":"hi","history":[{"role":"user","content":"earlier"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	reply := decode[map[string]string](t, rr)
	if reply["reply"] != "grounded answer" || reply["source"] != "external" {
		t.Errorf("reply = %v", reply)
	}
}

func TestAgent_FailingExternalStillReplies(t *testing.T) {
	env := setup(t, agent.Unavailable{}, HandlerOptions{})
	rr := do(t, env.h, http.MethodPost, "/api/agent", `{"session_key":"s9","message":"how do I get more saves"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	reply := decode[map[string]string](t, rr)
	if reply["source"] != "fallback" || strings.TrimSpace(reply["reply"]) == "" {
		t.Errorf("reply = %v", reply)
	}
}

func TestAgent_EmptyMessage(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{"session_key":"s1","message":"\n\t"}`} {
		rr := do(t, env.h, http.MethodPost, "/api/agent", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
		if got := decode[errorBody](t, rr).Error.Type; got != "invalid_request_error" {
			t.Errorf("%s: error type = %q", body, got)
		}
	}
}

func TestAgent_StoreFailureStillReplies(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	env.store.Close()

	rr := do(t, env.h, http.MethodPost, "/api/agent", `{"session_key":"s1","message":"how do I get more saves"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	reply := decode[agent.Reply](t, rr)
	if strings.TrimSpace(reply.Text) == "" {
		t.Error("empty reply")
	}
	if reply.Source != agent.SourceFallback {
		t.Errorf("source = %q, want fallback", reply.Source)
	}
}

func TestHistoryAndClear(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	for range 3 {
		do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	}
	do(t, env.h, http.MethodPost, "/api/agent", `{"session_key":"s1","message":"plan"}`)

	rr := do(t, env.h, http.MethodGet, "/api/history?session_key=s1&limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	hist := decode[struct {
		Count int            `json:"count"`
		Posts []storage.Post `json:"posts"`
	}](t, rr)
	if hist.Count != 2 || len(hist.Posts) != 2 {
		t.Errorf("history = %+v", hist)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/clear", nil)
	req.Header.Set(sessionHeader, "s1")
	rr = httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr)["deleted"]; got != float64(3) {
		t.Errorf("deleted = %v, want 3", got)
	}

	if n, _ := env.store.CountPosts("s1"); n != 0 {
		t.Errorf("posts left = %d", n)
	}
	if msgs, _ := env.store.RecentMessages("s1", 10); len(msgs) != 0 {
		t.Errorf("messages left = %d", len(msgs))
	}

	rr = do(t, env.h, http.MethodGet, "/api/history", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("history without session: status = %d", rr.Code)
	}
	rr = do(t, env.h, http.MethodGet, "/api/history?session_key=empty", "")
	if decode[map[string]any](t, rr)["posts"] == nil {
		t.Error("empty history encoded as null")
	}
}

func TestBulk(t *testing.T) {
	env := setup(t, nil, HandlerOptions{})
	csv := "likes,saves,comments,shares\n151,109,6,6\n10,,,\n5,x,1,1\n"

	rr := do(t, env.h, http.MethodPost, "/api/bulk?session_key=b1", csv)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	res := decode[BulkResult](t, rr)
	if res.Analyzed != 1 || res.Failed != 2 || len(res.Rows) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Rows[0].PostID == "" || res.Rows[0].TopInsight == "" {
		t.Errorf("first row = %+v", res.Rows[0])
	}
	if !strings.Contains(res.Rows[1].Error, "insufficient input") || res.Rows[2].Line != 4 {
		t.Errorf("rows = %+v", res.Rows)
	}
	if n, _ := env.store.CountPosts("b1"); n != 1 {
		t.Errorf("stored posts = %d, want 1", n)
	}

	rr = do(t, env.h, http.MethodPost, "/api/bulk", "foo,bar\n1,2\n")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad header: status = %d", rr.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := setup(t, nil, HandlerOptions{Token: "secret"})

	rr := do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(scenarioBody))
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("authorized status = %d", rr.Code)
	}

	if rr := do(t, env.h, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health requires auth: %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatal(err)
	}
	env := setup(t, nil, HandlerOptions{Gatherer: reg})
	do(t, env.h, http.MethodPost, "/api/analyze", scenarioBody)
	do(t, env.h, http.MethodPost, "/api/analyze", `{"likes":1}`)

	rr := do(t, env.h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`instra_analyses_total{outcome="success"}`, `instra_analyses_total{outcome="invalid"}`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}
