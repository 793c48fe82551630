package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/llm"
	"github.com/jllopis/ecomentor/pkg/resilience"
	"github.com/jllopis/ecomentor/pkg/telemetry"
)

const (
	maxBlocks       = 3
	minTitleRunes   = 2
	maxTitleRunes   = 80
	maxCardSources  = 3
	synthesizedConf = 0.75
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// SynthesisConfig tunes the editor call.
type SynthesisConfig struct {
	MaxTokens   int
	Temperature float64
}

// Synthesizer merges accepted drafts into the final card list.
type Synthesizer struct {
	provider llm.Provider
	profiles *core.Profiles
	cfg      SynthesisConfig
	logger   *slog.Logger
	metrics  *telemetry.AskMetrics
	tracer   trace.Tracer
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(provider llm.Provider, cfg SynthesisConfig, logger *slog.Logger, metrics *telemetry.AskMetrics) *Synthesizer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 700
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		provider: provider,
		profiles: core.DefaultProfiles(),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("ecomentor/orchestrator"),
	}
}

// Synthesize returns at most core.MaxCards cards in which every drafted
// role appears. A single draft is returned as is. When the editor call
// fails the drafts are returned verbatim and synthesized is false.
func (s *Synthesizer) Synthesize(ctx context.Context, question core.Query, drafts []core.Draft, mode core.ExecutionMode, path core.RolePath) (cards []core.FinalCard, synthesized bool) {
	ctx, span := s.tracer.Start(ctx, "Synthesizer.Synthesize")
	defer func() {
		span.SetAttributes(telemetry.SynthesisAttributes(len(cards), synthesized)...)
		span.End()
	}()

	drafts = orderByPath(drafts, path)
	if len(drafts) <= 1 {
		return core.CardsFromDrafts(drafts), false
	}

	type result struct {
		cards       []core.FinalCard
		synthesized bool
	}
	res, cause, err := resilience.Fallback(ctx,
		func(ctx context.Context) (result, error) {
			resp, err := s.provider.Chat(ctx, llm.ChatRequest{
				Purpose:     llm.PurposeEditor,
				Messages:    s.messages(question.String(), drafts, mode),
				MaxTokens:   s.cfg.MaxTokens,
				Temperature: s.cfg.Temperature,
			})
			if err != nil {
				return result{}, err
			}
			if strings.TrimSpace(resp.Content) == "" {
				return result{}, errors.New(errors.CodeLLMError, "editor returned no content", nil)
			}
			return result{cards: s.assemble(resp.Content, drafts), synthesized: true}, nil
		},
		func(error) result { return result{cards: core.CardsFromDrafts(drafts)} },
	)
	if err != nil {
		return core.CardsFromDrafts(drafts), false
	}
	if cause != nil {
		s.logger.WarnContext(ctx, "synthesis failed, returning raw drafts", "error", cause)
		s.metrics.RecordDegradation(ctx, "synthesis", cause)
	}
	return res.cards, res.synthesized
}

// assemble maps editor blocks to cards: the first block is the combined
// card and the following blocks belong to the drafted roles in order.
// Roles the editor did not cover are appended verbatim.
func (s *Synthesizer) assemble(content string, drafts []core.Draft) []core.FinalCard {
	blocks := SplitBlocks(content, maxBlocks)
	cards := make([]core.FinalCard, 0, core.MaxCards)
	covered := make(map[core.Role]bool, len(drafts))

	for i, block := range blocks {
		if i == 0 {
			title, body := SplitTitle(block, s.profiles.Combined.Title)
			cards = append(cards, core.FinalCard{
				Type:       core.RoleCombined,
				Title:      title,
				Content:    body,
				Confidence: meanConfidence(drafts),
				Sources:    mergeSources(drafts),
			})
			continue
		}
		if i-1 >= len(drafts) {
			break
		}
		d := drafts[i-1]
		title, body := SplitTitle(block, s.profiles.Combined.SupportingTitle)
		cards = append(cards, core.FinalCard{
			Type:       d.Role,
			Title:      title,
			Content:    body,
			Confidence: synthesizedConf,
			Sources:    d.Citations,
		})
		covered[d.Role] = true
	}

	for _, d := range drafts {
		if !covered[d.Role] {
			cards = append(cards, core.CardFromDraft(d))
			covered[d.Role] = true
		}
	}
	if len(cards) > core.MaxCards {
		cards = cards[:core.MaxCards]
	}
	return cards
}

func (s *Synthesizer) messages(question string, drafts []core.Draft, mode core.ExecutionMode) []llm.Message {
	var sys strings.Builder
	sys.WriteString(`너는 최종 편집자다. 초안들을 통합해 "` + s.profiles.Combined.Title + `" 카드(3~6문장)와
보조 카드 1~2개를 만들어라. 모순과 중복을 제거하고 반증이나 리스크를 1줄 포함한다.
투자 권유 금지.`)
	if mode == core.ModeChained {
		sys.WriteString("\n초안은 앞선 해석을 이어받아 순서대로 작성되었다. 흐름을 유지하라.")
	}

	var user strings.Builder
	fmt.Fprintf(&user, "질문: %s\n\n초안들:\n", question)
	for i, d := range drafts {
		fmt.Fprintf(&user, "[초안%d] %s\n%s\n\n", i+1, d.Title, d.Content)
	}
	user.WriteString(`요구사항:
- 카드마다 첫 줄은 제목, 다음 줄부터 본문
- 카드 사이는 빈 줄로 구분
- 카드 최대 3개 (통합 1 + 보조 1~2)
- 한국어로 간결하게.`)
	return []llm.Message{llm.System(sys.String()), llm.User(user.String())}
}

// SplitBlocks splits text on blank lines, drops empty blocks and keeps at
// most n.
func SplitBlocks(text string, n int) []string {
	parts := blankLines.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), -1)
	out := make([]string, 0, n)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}

// SplitTitle takes the first line of block as title when it is between 2
// and 80 characters long; otherwise fallback is the title. The body is the
// rest of the block, or the whole block when nothing is left.
func SplitTitle(block, fallback string) (title, body string) {
	first, rest, _ := strings.Cut(block, "\n")
	first = strings.TrimSpace(first)
	n := len([]rune(first))
	if n < minTitleRunes || n > maxTitleRunes {
		return fallback, block
	}
	first = strings.TrimSpace(strings.TrimLeft(first, "#*[] "))
	if first == "" {
		first = fallback
	}
	if rest = strings.TrimSpace(rest); rest == "" {
		return first, block
	}
	return first, rest
}

func orderByPath(drafts []core.Draft, path core.RolePath) []core.Draft {
	out := make([]core.Draft, 0, len(drafts))
	for _, role := range path {
		for _, d := range drafts {
			if d.Role == role {
				out = append(out, d)
				break
			}
		}
	}
	for _, d := range drafts {
		if !path.Contains(d.Role) {
			out = append(out, d)
		}
	}
	return out
}

func meanConfidence(drafts []core.Draft) float64 {
	if len(drafts) == 0 {
		return 0
	}
	var sum float64
	for _, d := range drafts {
		sum += d.Confidence
	}
	return sum / float64(len(drafts))
}

func mergeSources(drafts []core.Draft) []core.Source {
	var out []core.Source
	seen := make(map[string]bool)
	for _, d := range drafts {
		for _, src := range d.Citations {
			key := src.Title + "|" + src.Date
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, src)
			if len(out) == maxCardSources {
				return out
			}
		}
	}
	return out
}
