package core

import "strings"

// ContextDraft is the compacted view of an accepted draft handed to later
// roles in a chain.
type ContextDraft struct {
	Role    Role
	Title   string
	Summary string
}

const (
	contextMaxLines = 3
	contextMaxRunes = 400
	// MaxContextDrafts bounds how many prior drafts a role sees.
	MaxContextDrafts = 3
)

// CompactDraft keeps the first non-empty lines of a draft with bullets and
// inline retrieval citations removed, capped in length.
func CompactDraft(d Draft) ContextDraft {
	cleaned := make([]string, 0, contextMaxLines)
	for _, line := range strings.Split(d.Content, "\n") {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		line = strings.TrimSpace(ragCitation.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
		if len(cleaned) == contextMaxLines {
			break
		}
	}

	body := strings.Join(cleaned, " ")
	if body == "" {
		body = strings.TrimSpace(TruncateRunes(d.Content, contextMaxRunes))
	}
	if len([]rune(body)) > contextMaxRunes {
		body = strings.TrimRight(TruncateRunes(body, contextMaxRunes), " ") + "..."
	}
	return ContextDraft{Role: d.Role, Title: d.Title, Summary: body}
}

// CompactDrafts compacts the last MaxContextDrafts drafts in order.
func CompactDrafts(drafts []Draft) []ContextDraft {
	if len(drafts) > MaxContextDrafts {
		drafts = drafts[len(drafts)-MaxContextDrafts:]
	}
	out := make([]ContextDraft, len(drafts))
	for i, d := range drafts {
		out[i] = CompactDraft(d)
	}
	return out
}

// String renders "title: summary".
func (c ContextDraft) String() string {
	if c.Title == "" {
		return c.Summary
	}
	return c.Title + ": " + c.Summary
}
