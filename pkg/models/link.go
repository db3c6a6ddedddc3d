package models

import "time"

// LinkSource records who produced a link.
type LinkSource string

const (
	LinkSourceAutomatic LinkSource = "AUTOMATIC"
	LinkSourceManual    LinkSource = "MANUAL"
)

// Link is a persisted edge between a source record and a golden record. Only MATCH and
// POSSIBLE_MATCH links are stored.
type Link struct {
	Source         RecordReference `json:"source"`
	Golden         RecordReference `json:"golden"`
	Classification Classification  `json:"classification"`
	Vector         MatchVector     `json:"vector"`
	Score          float64         `json:"score"`
	RuleCount      int             `json:"rule_count"`
	LinkSource     LinkSource      `json:"link_source"`
	ResolvedBy     *string         `json:"resolved_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l Link) Key() LinkKey {
	return LinkKey{Source: l.Source, Golden: l.Golden}
}

func (l Link) IsMatch() bool {
	return l.Classification == ClassificationMatch
}

// SameState reports whether two links carry the same decision, ignoring timestamps.
func (l Link) SameState(other Link) bool {
	return l.Key() == other.Key() &&
		l.Classification == other.Classification &&
		l.Vector == other.Vector &&
		l.Score == other.Score &&
		l.RuleCount == other.RuleCount &&
		l.LinkSource == other.LinkSource
}

// LinkKey identifies a link.
type LinkKey struct {
	Source RecordReference `json:"source"`
	Golden RecordReference `json:"golden"`
}

// ChangeSet is the set of link mutations for one source record, committed as a unit.
type ChangeSet struct {
	Source  RecordReference `json:"source"`
	Upserts []Link          `json:"upserts"`
	Deletes []LinkKey       `json:"deletes"`
}

func (c ChangeSet) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0
}

// LinkResult summarises one workflow run.
type LinkResult struct {
	Source        RecordReference    `json:"source"`
	Match         *Link              `json:"match,omitempty"`
	Possible      []Link             `json:"possible"`
	Candidates    []CandidateOutcome `json:"candidates"`
	CreatedGolden *RecordReference   `json:"created_golden,omitempty"`
	Skipped       []RecordReference  `json:"skipped,omitempty"`
	Changes       ChangeSet          `json:"changes"`
	Filtered      bool               `json:"filtered,omitempty"`
}

// SourceLinks lists every link of one source.
type SourceLinks struct {
	Source   RecordReference `json:"source"`
	Match    *Link           `json:"match,omitempty"`
	Possible []Link          `json:"possible"`
}

// ResolveRequest resolves a POSSIBLE_MATCH link.
type ResolveRequest struct {
	Source  RecordReference `json:"source" validate:"required"`
	Golden  RecordReference `json:"golden" validate:"required"`
	Outcome Classification  `json:"outcome" validate:"required,oneof=MATCH NO_MATCH"`
}

// BatchLinkRequest runs the workflow for several source records.
type BatchLinkRequest struct {
	Sources []RecordReference `json:"sources" validate:"required,min=1,dive"`
}
