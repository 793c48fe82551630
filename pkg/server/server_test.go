package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/draft"
	"github.com/jllopis/ecomentor/pkg/evidence"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/router"
)

func draftProvider(fail bool) llm.Provider {
	return &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if fail {
			return nil, errors.New("generation down")
		}
		text := strings.Repeat(fmt.Sprintf("%s 관점에서 본 경제 지표 해석 문장이다. ", req.Purpose), 5)
		return &llm.ChatResponse{Content: text}, nil
	}}
}

func newTestServer(t *testing.T, p llm.Provider, store history.Store, health *core.HealthRegistry) *httptest.Server {
	t.Helper()
	cfg := router.DefaultConfig()
	cfg.Classifier = false
	sched := orchestrator.NewScheduler(evidence.NewBroker(nil), draft.NewGenerator(p, draft.DefaultConfig()), nil, nil)
	synth := orchestrator.NewSynthesizer(p, orchestrator.SynthesisConfig{}, nil, nil)
	engine := orchestrator.NewEngine(router.New(nil, cfg), sched, synth, orchestrator.WithHistory(store))
	srv := httptest.NewServer(New(engine, health, store, Options{CORSOrigin: "*"}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestAskEndpoint(t *testing.T) {
	srv := newTestServer(t, draftProvider(false), nil, nil)
	resp := post(t, srv.URL+"/ask", `{"q":"GDP가 뭐야"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body orchestrator.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Cards) != 1 || body.Cards[0].Type != core.RoleMacro {
		t.Fatalf("unexpected cards %+v", body.Cards)
	}
	if id := resp.Header.Get("X-Request-ID"); id == "" || id != body.Meta.RequestID {
		t.Errorf("request id header %q does not match meta %q", id, body.Meta.RequestID)
	}
}

func TestAskEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		fail   bool
		body   string
		status int
		code   string
	}{
		{"blank question", false, `{"q":"   "}`, http.StatusBadRequest, "bad_request"},
		{"invalid json", false, `{"q":`, http.StatusBadRequest, "bad_request"},
		{"total failure", true, `{"q":"GDP가 뭐야"}`, http.StatusInternalServerError, "ask_failed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, draftProvider(tc.fail), nil, nil)
			resp := post(t, srv.URL+"/ask", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			var body errorBody
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body.Error != tc.code {
				t.Errorf("expected error %q, got %q", tc.code, body.Error)
			}
		})
	}
}

func readEvents(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestAskStreamEndpoint(t *testing.T) {
	srv := newTestServer(t, draftProvider(false), nil, nil)
	resp := post(t, srv.URL+"/ask/stream", `{"q":"전망","roles":["eco","firm"]}`)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Fatalf("unexpected content type %q", ct)
	}

	var types []string
	for _, ev := range readEvents(t, resp) {
		types = append(types, ev["type"].(string))
	}
	want := "start draft draft metrics complete"
	if got := strings.Join(types, " "); got != want {
		t.Fatalf("expected events %q, got %q", want, got)
	}
}

func TestAskStreamFailureEmitsError(t *testing.T) {
	srv := newTestServer(t, draftProvider(true), nil, nil)
	resp := post(t, srv.URL+"/ask/stream", `{"q":"GDP가 뭐야"}`)
	defer resp.Body.Close()

	events := readEvents(t, resp)
	if len(events) != 2 || events[0]["type"] != "start" || events[1]["type"] != "error" {
		t.Fatalf("expected start and error events, got %v", events)
	}
	data := events[1]["data"].(map[string]any)
	if data["code"] != "NO_DRAFTS" {
		t.Errorf("unexpected error payload %v", data)
	}
}

func TestAskStreamRejectsBlankQuestion(t *testing.T) {
	srv := newTestServer(t, draftProvider(false), nil, nil)
	resp := post(t, srv.URL+"/ask/stream", `{"q":""}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := history.NewMemoryStore(10)
	srv := newTestServer(t, draftProvider(false), store, nil)
	post(t, srv.URL+"/ask", `{"q":"GDP가 뭐야"}`).Body.Close()

	resp, err := http.Get(srv.URL + "/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Items []history.Entry `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 1 || body.Items[0].Question != "GDP가 뭐야" {
		t.Fatalf("unexpected history %+v", body.Items)
	}

	bad, err := http.Get(srv.URL + "/history?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", bad.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	reg := core.NewHealthRegistry(0)
	reg.Register("generation", core.HealthCheckFunc(func(context.Context) error { return nil }))
	reg.Register("evidence", core.HealthCheckFunc(func(context.Context) error { return errors.New("down") }))
	srv := newTestServer(t, draftProvider(false), nil, reg)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status   string                       `json:"status"`
		Services map[string]core.HealthResult `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Services["generation"].Status != core.HealthOK {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestRouteEndpoint(t *testing.T) {
	srv := newTestServer(t, draftProvider(false), nil, nil)
	resp := post(t, srv.URL+"/route", `{"q":"삼성전자 실적이 코스피에 미치는 영향"}`)
	defer resp.Body.Close()
	var d router.Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if !d.Path.Equal(core.RolePath{core.RoleMacro, core.RoleFirm}) || d.Mode != core.ModeChained {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, draftProvider(false), nil, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/ask", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", resp.StatusCode, resp.Header)
	}
}

type panicEngine struct{}

func (panicEngine) Ask(context.Context, orchestrator.AskRequest, core.EventSink) (*orchestrator.AskResponse, error) {
	panic("boom")
}

func (panicEngine) Route(context.Context, orchestrator.AskRequest) (router.Decision, error) {
	return router.Decision{}, nil
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := httptest.NewServer(New(panicEngine{}, nil, nil, Options{}, nil).Handler())
	defer srv.Close()
	resp := post(t, srv.URL+"/ask", `{"q":"x"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}
