package models

import (
	"encoding/json"
	"fmt"
)

// Classification is the decision derived from a match vector.
type Classification string

const (
	ClassificationNoMatch       Classification = "NO_MATCH"
	ClassificationPossibleMatch Classification = "POSSIBLE_MATCH"
	ClassificationMatch         Classification = "MATCH"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationNoMatch, ClassificationPossibleMatch, ClassificationMatch:
		return true
	}
	return false
}

// ComparatorKind selects the comparison a field definition performs.
type ComparatorKind string

const (
	ComparatorExact           ComparatorKind = "exact"
	ComparatorCaseInsensitive ComparatorKind = "case_insensitive"
	ComparatorFuzzy           ComparatorKind = "fuzzy"
	ComparatorPhonetic        ComparatorKind = "phonetic"
	ComparatorDate            ComparatorKind = "date"
	ComparatorIdentifier      ComparatorKind = "identifier"
	ComparatorNumeric         ComparatorKind = "numeric"
)

// Similarity and phonetic algorithms.
const (
	AlgorithmJaroWinkler = "jaro_winkler"
	AlgorithmJaro        = "jaro"
	AlgorithmLevenshtein = "levenshtein"
	AlgorithmSoundex     = "soundex"
	AlgorithmMetaphone   = "metaphone"
)

// FieldMatchDefinition describes one ordered comparator of a rule set. Weight defaults to 1.
type FieldMatchDefinition struct {
	Name             string         `json:"name" yaml:"name" validate:"required"`
	Path             string         `json:"path" yaml:"path" validate:"required"`
	Kind             ComparatorKind `json:"kind" yaml:"kind" validate:"required,oneof=exact case_insensitive fuzzy phonetic date identifier numeric"`
	Weight           *float64       `json:"weight,omitempty" yaml:"weight,omitempty" validate:"omitempty,gte=0"`
	Threshold        *float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Algorithm        string         `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Normalizers      []string       `json:"normalizers,omitempty" yaml:"normalizers,omitempty"`
	IdentifierSystem string         `json:"identifier_system,omitempty" yaml:"identifier_system,omitempty"`
}

// MatchEvaluation is the result of one comparator on one record pair.
type MatchEvaluation struct {
	Matched bool    `json:"matched"`
	Score   float64 `json:"score"`
}

// MatchVector is a bit set where bit i records that comparator i matched.
type MatchVector uint64

func (v MatchVector) Has(bit int) bool {
	return v&(1<<uint(bit)) != 0
}

func (v MatchVector) String() string {
	return fmt.Sprintf("%#b", uint64(v))
}

// MatchOutcome is the aggregate result of a rule set over one record pair.
type MatchOutcome struct {
	Vector         MatchVector    `json:"vector"`
	Score          float64        `json:"score"`
	RuleCount      int            `json:"rule_count"`
	Classification Classification `json:"classification"`
}

// FieldResult is one entry of a classifier explanation.
type FieldResult struct {
	Field   string `json:"field"`
	Matched bool   `json:"matched"`
}

// CandidateOutcome pairs an evaluated golden record with its outcome.
type CandidateOutcome struct {
	Golden  RecordReference `json:"golden"`
	Outcome MatchOutcome    `json:"outcome"`
}

// EvaluateRequest scores two inline documents.
type EvaluateRequest struct {
	Left  map[string]any `json:"left" validate:"required"`
	Right map[string]any `json:"right" validate:"required"`
}

// EvaluateResponse is the diagnostic result of EvaluateRequest.
type EvaluateResponse struct {
	Outcome     MatchOutcome      `json:"outcome"`
	Fields      []FieldResult     `json:"fields"`
	Evaluations []MatchEvaluation `json:"evaluations"`
}

// MarshalJSON renders the vector as its binary string next to the numeric value.
func (o MatchOutcome) MarshalJSON() ([]byte, error) {
	type alias MatchOutcome
	return json.Marshal(struct {
		alias
		VectorBits string `json:"vector_bits"`
	}{alias: alias(o), VectorBits: o.Vector.String()})
}
