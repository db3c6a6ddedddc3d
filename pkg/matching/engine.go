// Package matching scores record pairs against an ordered rule set and classifies the result.
package matching

import (
	"github.com/Ramsey-B/clover/pkg/models"
)

// MaxFields is the number of comparators a match vector can hold.
const MaxFields = 64

// Engine runs an ordered list of comparators over a record pair. Comparator i owns bit i of the
// match vector.
type Engine struct {
	comparators []Comparator
}

// NewEngine creates an engine over comparators in the given order.
func NewEngine(comparators []Comparator) (*Engine, error) {
	if len(comparators) == 0 {
		return nil, configErrorf("fields", "at least one field definition is required")
	}
	if len(comparators) > MaxFields {
		return nil, configErrorf("fields", "%d field definitions exceed the limit of %d", len(comparators), MaxFields)
	}

	owned := make([]Comparator, len(comparators))
	copy(owned, comparators)
	return &Engine{comparators: owned}, nil
}

// RuleCount returns the number of comparators.
func (e *Engine) RuleCount() int {
	return len(e.comparators)
}

// FieldNames returns comparator names in bit order.
func (e *Engine) FieldNames() []string {
	names := make([]string, len(e.comparators))
	for i, c := range e.comparators {
		names[i] = c.Name()
	}
	return names
}

// Evaluate returns the per-field evaluations in bit order.
func (e *Engine) Evaluate(left, right models.Record) ([]models.MatchEvaluation, error) {
	evaluations := make([]models.MatchEvaluation, len(e.comparators))
	for i, c := range e.comparators {
		eval, err := c.Evaluate(left, right)
		if err != nil {
			return nil, err
		}
		evaluations[i] = eval
	}
	return evaluations, nil
}

// Score builds the match vector and summed score of a record pair. The classification is left
// empty for the classifier to fill in. An error is only returned for a field value a comparator
// cannot interpret.
func (e *Engine) Score(left, right models.Record) (models.MatchOutcome, error) {
	evaluations, err := e.Evaluate(left, right)
	if err != nil {
		return models.MatchOutcome{}, err
	}
	return e.pack(evaluations), nil
}

func (e *Engine) pack(evaluations []models.MatchEvaluation) models.MatchOutcome {
	var vector models.MatchVector
	total := 0.0
	for i, eval := range evaluations {
		if eval.Matched {
			vector |= 1 << uint(i)
		}
		total += eval.Score
	}
	return models.MatchOutcome{
		Vector:    vector,
		Score:     total,
		RuleCount: len(evaluations),
	}
}
