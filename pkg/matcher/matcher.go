// Package matcher turns a known violation identifier or arbitrary free text
// into law and penalty information. It holds no mutable state: both operations
// are pure lookups over the read-only catalog and are safe for concurrent use.
package matcher

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/constructsafe/constructsafe/pkg/catalog"
)

const (
	// DefaultTopK is the result-count bound applied when the caller does not ask.
	DefaultTopK = 3
	// MaxTopK is the hard ceiling; larger requests are clamped, not rejected.
	MaxTopK = 20

	// One clause may map to many violations; cap the fan-out so a single
	// clause cannot flood the result list.
	maxFanOut = 5
)

// Bundle is the Mode-A response: everything the catalog knows about one
// violation identifier.
type Bundle struct {
	Violation          catalog.Violation        `json:"violation"`
	Laws               []catalog.LegalReference `json:"laws"`
	Penalties          []catalog.PenaltyProfile `json:"penalties"`
	RecommendedActions []string                 `json:"recommended_actions"`
}

// ClauseMatch is one ranked Mode-B result. ViolationID is empty when the
// matched clause has no exact violation tie (informational only).
type ClauseMatch struct {
	ViolationID string  `json:"violation_id,omitempty"`
	Title       string  `json:"title"`
	Score       float64 `json:"score"`
	SourceID    string  `json:"source_id,omitempty"`
	Citation    string  `json:"citation,omitempty"`
	Section     string  `json:"section,omitempty"`
}

type Matcher struct {
	cat *catalog.Catalog
}

func New(cat *catalog.Catalog) *Matcher {
	return &Matcher{cat: cat}
}

// Lookup resolves an exact violation identifier into a law bundle.
// Absence is an expected case and is reported via the bool, never an error.
func (m *Matcher) Lookup(id string) (Bundle, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Bundle{}, false
	}
	v, ok := m.cat.Violation(id)
	if !ok {
		return Bundle{}, false
	}

	b := Bundle{
		Violation: v,
		Laws:      append([]catalog.LegalReference(nil), v.LegalReferences...),
	}

	// Resolve referenced profiles; unresolved ids drop silently.
	for _, pid := range v.PenaltyProfileIDs {
		if p, ok := m.cat.Penalty(pid); ok {
			b.Penalties = append(b.Penalties, p)
		}
	}
	b.Penalties = append(b.Penalties, v.InlinePenalties...)

	b.RecommendedActions = m.recommendedActions(v)
	return b, true
}

func (m *Matcher) recommendedActions(v catalog.Violation) []string {
	var actions []string
	switch v.Severity {
	case "critical", "high":
		actions = append(actions, "Stop work in the affected area until the hazard is controlled.")
	}
	actions = append(actions, "Document the condition with photographs and notify the site safety officer.")
	if id := v.Enforcement.PrimaryAuthority; id != "" {
		if a, ok := m.cat.Authority(id); ok {
			act := fmt.Sprintf("Report to %s", a.Name)
			if a.Hotline != "" {
				act += fmt.Sprintf(" (hotline %s)", a.Hotline)
			}
			actions = append(actions, act+".")
		}
	}
	return actions
}

// MatchText ranks source clauses against free text using Jaccard overlap of
// case-folded alphanumeric token sets. Results are sorted by score descending
// with ties kept in clause order. An empty query yields an empty result.
func (m *Matcher) MatchText(query string, topK int) []ClauseMatch {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var matches []ClauseMatch
	for _, cl := range m.cat.Clauses() {
		clauseTokens := tokenize(cl.Title + " " + strings.Join(cl.Keywords, " "))
		if len(clauseTokens) == 0 {
			continue
		}
		score := jaccard(queryTokens, clauseTokens)
		if score == 0 {
			continue
		}

		ids := cl.ViolationIDs
		if len(ids) > maxFanOut {
			ids = ids[:maxFanOut]
		}
		if len(ids) == 0 {
			ids = []string{""}
		}
		for _, id := range ids {
			matches = append(matches, ClauseMatch{
				ViolationID: id,
				Title:       cl.Title,
				Score:       score,
				SourceID:    cl.SourceID,
				Citation:    cl.Citation,
				Section:     cl.Section,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// tokenize splits text on non-alphanumeric runes into a case-folded set.
// Term frequency is ignored: presence only.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// jaccard is |intersection| / |union|, bounded in [0, 1] and symmetric.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
