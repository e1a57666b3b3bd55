package catalog

// LegalReference points into the source catalog for one law backing a violation.
type LegalReference struct {
	SourceID       string `json:"source_id,omitempty"`
	Citation       string `json:"citation,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
	Confidence     string `json:"confidence,omitempty"`
}

// PenaltyProfile describes the fine and imprisonment bounds one law attaches
// to a violation. Amounts are in Bangladeshi Taka.
type PenaltyProfile struct {
	ID                 string `json:"penalty_profile_id"`
	LawName            string `json:"law_name,omitempty"`
	Section            string `json:"section,omitempty"`
	PenaltyType        string `json:"penalty_type,omitempty"`
	MinBDT             int64  `json:"min_bdt,omitempty"`
	MaxBDT             int64  `json:"max_bdt,omitempty"`
	ImprisonmentFirst  string `json:"imprisonment_first_offense,omitempty"`
	ImprisonmentRepeat string `json:"imprisonment_repeat_offense,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

// Authority is an enforcement body with its public contact channels.
type Authority struct {
	ID           string `json:"authority_id"`
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Hotline      string `json:"hotline,omitempty"`
	Website      string `json:"website,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Enforcement carries metadata about who acts on a violation.
type Enforcement struct {
	PrimaryAuthority string `json:"primary_authority,omitempty"`
}

// Violation is one recognized safety-violation category. Immutable after load.
type Violation struct {
	ID                string           `json:"violation_id"`
	NameEN            string           `json:"name_en"`
	NameBN            string           `json:"name_bn,omitempty"`
	Category          string           `json:"category,omitempty"`
	Severity          string           `json:"severity,omitempty"`
	LegalReferences   []LegalReference `json:"legal_references,omitempty"`
	PenaltyProfileIDs []string         `json:"penalty_profiles,omitempty"`
	InlinePenalties   []PenaltyProfile `json:"inline_penalties,omitempty"`
	Enforcement       Enforcement      `json:"enforcement,omitempty"`
}

// Clause is a free-text searchable source-catalog entry: a title plus keyword
// bag, optionally mapped to violation identifiers.
type Clause struct {
	SourceID     string   `json:"source_id"`
	Title        string   `json:"title"`
	Section      string   `json:"section,omitempty"`
	Citation     string   `json:"citation,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	ViolationIDs []string `json:"violation_ids,omitempty"`
	Portal       string   `json:"official_portal,omitempty"`
	PDFPage      int      `json:"pdf_page,omitempty"`
	GazettePage  int      `json:"gazette_page,omitempty"`
}

// ViolationSummary is the list-endpoint projection of a Violation.
type ViolationSummary struct {
	ID       string `json:"violation_id"`
	NameEN   string `json:"name_en"`
	NameBN   string `json:"name_bn,omitempty"`
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
}
