// Package catalog loads the legal-clause catalog: a single JSON document of
// violations, authorities, penalty profiles and searchable source clauses for
// Bangladesh construction law. The document is parsed once at startup and the
// resulting indices are read-only for the process lifetime.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"
)

//go:embed data/laws.json
var defaultLaws []byte

// Catalog holds the normalized in-memory indices. Safe for concurrent reads.
type Catalog struct {
	violations  map[string]Violation
	authorities map[string]Authority
	penalties   map[string]PenaltyProfile
	clauses     []Clause
}

// Load reads and parses a catalog document from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read laws file: %w", err)
	}
	return Parse(data)
}

// Default parses the catalog document embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultLaws)
}

// Parse normalizes a catalog document. Each top-level collection may be an
// array of objects or an object keyed by identifier; both shapes end up in
// the same keyed lookups. A document whose root is not a JSON object is the
// one unconditional failure.
func Parse(data []byte) (*Catalog, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("laws document is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("laws document root must be a JSON object")
	}

	c := &Catalog{
		violations:  make(map[string]Violation),
		authorities: make(map[string]Authority),
		penalties:   make(map[string]PenaltyProfile),
	}

	// Canonical first, micro second: last-seen-wins on id collision.
	for _, item := range collectionItems(root.Get("canonical_violations")) {
		if v, ok := parseViolation(item.value, item.key); ok {
			c.violations[v.ID] = v
		}
	}
	for _, item := range collectionItems(root.Get("micro_violations")) {
		if v, ok := parseViolation(item.value, item.key); ok {
			c.violations[v.ID] = v
		}
	}

	for _, item := range collectionItems(root.Get("authorities")) {
		a := Authority{
			ID:           fallback(item.value.Get("authority_id").String(), item.key),
			Name:         item.value.Get("name").String(),
			Jurisdiction: item.value.Get("jurisdiction").String(),
			Hotline:      item.value.Get("hotline").String(),
			Website:      item.value.Get("website").String(),
			Email:        item.value.Get("email").String(),
		}
		if a.ID != "" {
			c.authorities[a.ID] = a
		}
	}

	for _, item := range collectionItems(root.Get("penalty_profiles")) {
		p := parsePenalty(item.value)
		if p.ID == "" {
			p.ID = item.key
		}
		if p.ID != "" {
			c.penalties[p.ID] = p
		}
	}

	for _, item := range collectionItems(root.Get("source_catalog")) {
		cl := Clause{
			SourceID:     fallback(item.value.Get("source_id").String(), item.key),
			Title:        item.value.Get("title").String(),
			Section:      item.value.Get("section").String(),
			Citation:     item.value.Get("citation").String(),
			Keywords:     stringSlice(item.value.Get("keywords")),
			ViolationIDs: stringSlice(item.value.Get("violation_ids")),
			Portal:       item.value.Get("official_portal").String(),
			PDFPage:      int(item.value.Get("pdf_page").Int()),
			GazettePage:  int(item.value.Get("gazette_page").Int()),
		}
		c.clauses = append(c.clauses, cl)
	}

	return c, nil
}

// Violation returns the record for an exact, case-sensitive identifier.
func (c *Catalog) Violation(id string) (Violation, bool) {
	v, ok := c.violations[id]
	return v, ok
}

// Authority returns an enforcement authority record.
func (c *Catalog) Authority(id string) (Authority, bool) {
	a, ok := c.authorities[id]
	return a, ok
}

// Penalty returns a penalty profile by identifier.
func (c *Catalog) Penalty(id string) (PenaltyProfile, bool) {
	p, ok := c.penalties[id]
	return p, ok
}

// ViolationIDs returns all known identifiers, sorted.
func (c *Catalog) ViolationIDs() []string {
	ids := make([]string, 0, len(c.violations))
	for id := range c.violations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ViolationSummaries returns the list projection of every violation, sorted by id.
func (c *Catalog) ViolationSummaries() []ViolationSummary {
	out := make([]ViolationSummary, 0, len(c.violations))
	for _, id := range c.ViolationIDs() {
		v := c.violations[id]
		out = append(out, ViolationSummary{
			ID:       v.ID,
			NameEN:   v.NameEN,
			NameBN:   v.NameBN,
			Category: v.Category,
			Severity: v.Severity,
		})
	}
	return out
}

// Clauses returns the searchable source clauses in document order.
func (c *Catalog) Clauses() []Clause {
	return c.clauses
}

// SensitiveViolationIDs returns identifiers whose category demands stricter
// acceptance handling (child labour and similar legally fraught detections).
func (c *Catalog) SensitiveViolationIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for id, v := range c.violations {
		if v.Category == "child_labour" {
			out[id] = struct{}{}
		}
	}
	return out
}

type collectionItem struct {
	key   string
	value gjson.Result
}

// collectionItems flattens a collection that is either an array of objects or
// an object keyed by identifier into an ordered item list.
func collectionItems(res gjson.Result) []collectionItem {
	var items []collectionItem
	switch {
	case res.IsArray():
		for _, v := range res.Array() {
			if v.IsObject() {
				items = append(items, collectionItem{value: v})
			}
		}
	case res.IsObject():
		res.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				items = append(items, collectionItem{key: key.String(), value: value})
			}
			return true
		})
	}
	return items
}

func parseViolation(res gjson.Result, fallbackID string) (Violation, bool) {
	v := Violation{
		ID:       fallback(res.Get("violation_id").String(), fallbackID),
		NameEN:   res.Get("name_en").String(),
		NameBN:   res.Get("name_bn").String(),
		Category: res.Get("category").String(),
		Severity: res.Get("severity").String(),
		Enforcement: Enforcement{
			PrimaryAuthority: res.Get("enforcement.primary_authority").String(),
		},
	}
	if v.ID == "" {
		return Violation{}, false
	}

	for _, lr := range res.Get("legal_references").Array() {
		v.LegalReferences = append(v.LegalReferences, LegalReference{
			SourceID:       lr.Get("source_id").String(),
			Citation:       lr.Get("citation").String(),
			Interpretation: lr.Get("interpretation").String(),
			Confidence:     lr.Get("confidence").String(),
		})
	}

	// penalty_profiles entries are either profile ids or inline profile objects.
	for _, pp := range res.Get("penalty_profiles").Array() {
		if pp.IsObject() {
			v.InlinePenalties = append(v.InlinePenalties, parsePenalty(pp))
			continue
		}
		if id := pp.String(); id != "" {
			v.PenaltyProfileIDs = append(v.PenaltyProfileIDs, id)
		}
	}

	return v, true
}

func parsePenalty(res gjson.Result) PenaltyProfile {
	return PenaltyProfile{
		ID:                 res.Get("penalty_profile_id").String(),
		LawName:            res.Get("law_name").String(),
		Section:            res.Get("section").String(),
		PenaltyType:        res.Get("penalty_type").String(),
		MinBDT:             res.Get("min_bdt").Int(),
		MaxBDT:             res.Get("max_bdt").Int(),
		ImprisonmentFirst:  res.Get("imprisonment_first_offense").String(),
		ImprisonmentRepeat: res.Get("imprisonment_repeat_offense").String(),
		Notes:              res.Get("notes").String(),
	}
}

func stringSlice(res gjson.Result) []string {
	var out []string
	for _, v := range res.Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fallback(s, alt string) string {
	if s != "" {
		return s
	}
	return alt
}
