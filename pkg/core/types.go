package core

import "time"

// Source is a citation attached to a draft or card.
type Source struct {
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	Date  string  `json:"date,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Evidence is one retrieved snippet scoped to a role namespace.
// It lives for a single request and is never cached.
type Evidence struct {
	ID        string
	Text      string
	Source    string
	Date      string
	Score     float64
	Namespace string
}

// Citation converts evidence metadata into a card source.
func (e Evidence) Citation() Source {
	return Source{Title: e.Source, Date: e.Date, Score: e.Score}
}

// Draft is one role's accepted answer. Drafts are immutable once the
// generator returns them and are owned by the request that produced them.
type Draft struct {
	Role        Role
	Title       string
	Content     string
	Confidence  float64
	Citations   []Source
	Temperature float64
	Attempts    int
	// Degraded marks a draft that was force-accepted after the ladder
	// produced no acceptable attempt.
	Degraded bool
	Latency  time.Duration
}

// FinalCard is an entry in the bounded output list.
type FinalCard struct {
	Type       Role     `json:"type"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Confidence float64  `json:"conf"`
	Sources    []Source `json:"sources,omitempty"`
}

// MaxCards caps the output list: one combined card plus one per role.
const MaxCards = 4

// CardFromDraft renders a draft verbatim as its own card.
func CardFromDraft(d Draft) FinalCard {
	return FinalCard{
		Type:       d.Role,
		Title:      d.Title,
		Content:    d.Content,
		Confidence: d.Confidence,
		Sources:    d.Citations,
	}
}

// CardsFromDrafts renders every draft in order, capped at MaxCards.
func CardsFromDrafts(drafts []Draft) []FinalCard {
	cards := make([]FinalCard, 0, len(drafts))
	for _, d := range drafts {
		if len(cards) == MaxCards {
			break
		}
		cards = append(cards, CardFromDraft(d))
	}
	return cards
}
