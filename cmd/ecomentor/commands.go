package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jllopis/ecomentor/pkg/config"
	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/evidence"
	"github.com/jllopis/ecomentor/pkg/mcp"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/server"
	"github.com/jllopis/ecomentor/pkg/vector/ollama"
	"github.com/jllopis/ecomentor/pkg/vector/qdrant"
)

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := cmd.String("addr", cfg.Server.Addr, "listen address")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("serve", err.Error())
	}

	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.engine, a.health, a.history, server.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSOrigin:     cfg.Server.CORSOrigin,
		HistoryLimit:   cfg.History.Limit,
	}, a.logger)
	return srv.ListenAndServe(ctx, *addr)
}

type askFlags struct {
	mode   string
	roles  string
	prefer string
	stream bool
}

func parseAskFlags(args []string) (askFlags, string, error) {
	var f askFlags
	cmd := flag.NewFlagSet("ask", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	cmd.StringVar(&f.mode, "mode", "", "parallel, sequential or auto")
	cmd.StringVar(&f.roles, "roles", "", "comma separated roles (macro, firm, household)")
	cmd.StringVar(&f.prefer, "prefer", "", "roles to use when no rule matches")
	cmd.BoolVar(&f.stream, "stream", false, "print progress events as NDJSON")
	if err := cmd.Parse(args); err != nil {
		return f, "", err
	}
	question := strings.TrimSpace(strings.Join(cmd.Args(), " "))
	if question == "" {
		return f, "", fmt.Errorf("a question is required")
	}
	return f, question, nil
}

func (f askFlags) request(question string) orchestrator.AskRequest {
	return orchestrator.AskRequest{
		Question: question,
		Mode:     f.mode,
		Roles:    splitList(f.roles),
		Prefer:   splitList(f.prefer),
	}
}

func runAsk(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	f, question, err := parseAskFlags(args)
	if err != nil {
		return NewInvalidArgumentError("ask", err.Error())
	}

	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	var sink core.EventSink
	if f.stream {
		enc := json.NewEncoder(os.Stdout)
		sink = core.EventSinkFunc(func(_ context.Context, e core.Event) { _ = enc.Encode(e) })
	}
	resp, err := a.engine.Ask(ctx, f.request(question), sink)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return WrapTimeoutError(err, "ask")
		}
		return err
	}
	if f.stream {
		return nil
	}
	if global.JSON {
		writeJSON(os.Stdout, resp)
		return nil
	}
	printCards(os.Stdout, resp)
	return nil
}

func printCards(w io.Writer, resp *orchestrator.AskResponse) {
	for _, c := range resp.Cards {
		fmt.Fprintf(w, "## %s (%s, %.2f)\n%s\n", c.Title, c.Type, c.Confidence, c.Content)
		for _, s := range c.Sources {
			fmt.Fprintf(w, "  - %s\n", sourceLine(s))
		}
		fmt.Fprintln(w)
	}
	m := resp.Meta
	fmt.Fprintf(w, "roles=%s mode=%s router=%s tokens=%d latency=%dms\n",
		core.RolePath(m.Roles), m.Mode, m.RouterSource, resp.Metrics.Tokens, resp.Metrics.LatencyMs)
	if len(m.DegradedRoles) > 0 || len(m.FailedRoles) > 0 {
		fmt.Fprintf(w, "degraded=%s failed=%s\n", core.RolePath(m.DegradedRoles), core.RolePath(m.FailedRoles))
	}
}

func sourceLine(s core.Source) string {
	if s.Date != "" {
		return s.Title + ", " + s.Date
	}
	return s.Title
}

func runRoute(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	f, question, err := parseAskFlags(args)
	if err != nil {
		return NewInvalidArgumentError("route", err.Error())
	}

	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()
	d, err := a.engine.Route(ctx, f.request(question))
	if err != nil {
		return err
	}
	if global.JSON {
		writeJSON(os.Stdout, d)
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "roles\t%s\n", d.Path)
	fmt.Fprintf(tw, "mode\t%s\n", d.Mode)
	fmt.Fprintf(tw, "source\t%s\n", d.Source)
	fmt.Fprintf(tw, "confidence\t%.2f\n", d.Confidence)
	if d.Rule != "" {
		fmt.Fprintf(tw, "rule\t%s\n", d.Rule)
	}
	return tw.Flush()
}

func runIngest(ctx context.Context, global globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	namespace := cmd.String("namespace", string(core.RoleMacro), "namespace for records without one")
	batch := cmd.Int("batch", 64, "points per upsert")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("ingest", err.Error())
	}
	if cmd.NArg() == 0 {
		return NewInvalidArgumentError("ingest", "at least one JSONL file (or -) is required")
	}

	ev := cfg.Evidence
	store, err := qdrant.New(ev.QdrantAddr)
	if err != nil {
		return errors.New(errors.CodeEvidenceError, "failed to connect to qdrant", err)
	}
	defer store.Close()
	embedder := ollama.NewEmbedder(ev.EmbedderBaseURL, ev.EmbedderModel, ev.Timeout)
	in := evidence.NewIngester(store, embedder, ev.CollectionPrefix, *namespace, *batch)

	ctx, cancel := context.WithTimeout(ctx, global.Timeout)
	defer cancel()

	total := evidence.IngestStats{Namespaces: map[string]int{}}
	for _, path := range cmd.Args() {
		stats, err := ingestPath(ctx, in, path)
		total.Read += stats.Read
		total.Skipped += stats.Skipped
		total.Upserted += stats.Upserted
		for ns, n := range stats.Namespaces {
			total.Namespaces[ns] += n
		}
		if err != nil {
			return errors.New(errors.CodeEvidenceError, "ingest failed", err).WithContext("path", path)
		}
	}

	if global.JSON {
		writeJSON(os.Stdout, total)
		return nil
	}
	fmt.Printf("records read: %d, skipped: %d, upserted: %d\n", total.Read, total.Skipped, total.Upserted)
	for ns, n := range total.Namespaces {
		fmt.Printf("  - %s%s: %d\n", cfg.Evidence.CollectionPrefix, ns, n)
	}
	return nil
}

func ingestPath(ctx context.Context, in *evidence.Ingester, path string) (evidence.IngestStats, error) {
	if path == "-" {
		return in.Ingest(ctx, os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return evidence.IngestStats{}, err
	}
	defer f.Close()
	return in.Ingest(ctx, f)
}

func runMCP(cfg *config.Config, args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError("mcp", fmt.Sprintf("unexpected args: %v", args))
	}
	// stdout carries the protocol.
	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return mcp.NewServer("ecomentor", version, a.engine, a.logger).ServeStdio()
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
