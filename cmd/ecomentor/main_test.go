package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/ecomentor/pkg/config"
	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/history"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{"--json", "--config", "eco.yaml", "--set=router.classifier=false", "--timeout", "5s", "ask", "--roles", "firm", "GDP"})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if !flags.JSON || flags.Timeout != 5*time.Second {
		t.Fatalf("unexpected flags %+v", flags)
	}
	if strings.Join(flags.ConfigArgs, " ") != "--config eco.yaml --set=router.classifier=false" {
		t.Fatalf("unexpected config args %v", flags.ConfigArgs)
	}
	if strings.Join(rest, " ") != "ask --roles firm GDP" {
		t.Fatalf("unexpected rest %v", rest)
	}
	if configPath(flags.ConfigArgs) != "eco.yaml" {
		t.Errorf("configPath = %q", configPath(flags.ConfigArgs))
	}
}

func TestParseGlobalFlagsErrors(t *testing.T) {
	cases := [][]string{
		{"--config"},
		{"--timeout", "soon"},
		{"--verbose", "ask"},
	}
	for _, args := range cases {
		if _, _, err := parseGlobalFlags(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestParseAskFlags(t *testing.T) {
	f, q, err := parseAskFlags([]string{"--roles", "eco, house", "--mode", "parallel", "집값", "전망은?"})
	if err != nil {
		t.Fatalf("parseAskFlags: %v", err)
	}
	req := f.request(q)
	if req.Question != "집값 전망은?" || req.Mode != "parallel" || strings.Join(req.Roles, ",") != "eco,house" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, _, err := parseAskFlags([]string{"--stream"}); err == nil {
		t.Fatal("expected missing question error")
	}
}

func offlineConfig(t *testing.T, sets ...string) *config.Config {
	t.Helper()
	args := []string{"--set", "evidence.backend=none", "--set", "router.classifier=false"}
	for _, s := range sets {
		args = append(args, "--set", s)
	}
	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		t.Fatalf("LoadWithCLI: %v", err)
	}
	return cfg
}

func TestNewAppRoutesOffline(t *testing.T) {
	var logs bytes.Buffer
	a, err := newApp(offlineConfig(t), &logs)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	d, err := a.engine.Route(context.Background(), orchestrator.AskRequest{Question: "GDP가 뭐야"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !d.Path.Equal(core.RolePath{core.RoleMacro}) {
		t.Fatalf("unexpected path %v", d.Path)
	}
	if _, ok := a.history.(*history.MemoryStore); !ok {
		t.Errorf("expected memory history, got %T", a.history)
	}

	results, overall := a.health.CheckAll(context.Background())
	if overall != core.HealthDegraded || results["evidence"].Status != core.HealthDegraded {
		t.Errorf("disabled evidence should degrade health: %v %v", overall, results)
	}
}

func TestNewAppSQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	a, err := newApp(offlineConfig(t, "history.backend=sqlite", "history.path="+path), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, ok := a.history.(*history.SQLiteStore); !ok {
		t.Fatalf("expected sqlite history, got %T", a.history)
	}
	res, err := a.health.Check(context.Background(), "history")
	if err != nil || res.Status != core.HealthOK {
		t.Fatalf("history health %+v %v", res, err)
	}
}

func TestCLIErrorPrint(t *testing.T) {
	err := wrapEngineError(errors.New(errors.CodeNoDrafts, "no role produced a draft", nil))
	if !strings.Contains(err.Hint, "generation") {
		t.Errorf("unexpected hint %q", err.Hint)
	}

	var text bytes.Buffer
	err.Print(&text, false)
	if !strings.HasPrefix(text.String(), "Error [No Drafts]: no role produced a draft") {
		t.Errorf("unexpected text output %q", text.String())
	}

	var out bytes.Buffer
	err.Print(&out, true)
	var body struct {
		Error map[string]string `json:"error"`
	}
	if jsonErr := json.Unmarshal(out.Bytes(), &body); jsonErr != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), jsonErr)
	}
	if body.Error["code"] != "NO_DRAFTS" {
		t.Errorf("unexpected JSON error %v", body.Error)
	}
}

func TestPrintCards(t *testing.T) {
	var buf bytes.Buffer
	printCards(&buf, &orchestrator.AskResponse{
		Cards: []core.FinalCard{{Type: core.RoleMacro, Title: "거시 해석", Content: "금리 경로", Confidence: 0.7,
			Sources: []core.Source{{Title: "한국은행", Date: "2024-05"}}}},
		Meta: orchestrator.Meta{Roles: []core.Role{core.RoleMacro}, Mode: string(core.ModeConcurrent)},
	})
	out := buf.String()
	if !strings.Contains(out, "## 거시 해석 (macro, 0.70)") || !strings.Contains(out, "한국은행, 2024-05") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
