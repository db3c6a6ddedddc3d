package matching

import (
	"fmt"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Rule maps vectors to a classification. By default a vector satisfies the rule when every bit of
// Mask is set; an Exact rule requires the vector to equal Mask.
type Rule struct {
	Name           string
	Mask           models.MatchVector
	Exact          bool
	Classification models.Classification
}

func (r Rule) Matches(vector models.MatchVector) bool {
	if r.Exact {
		return vector == r.Mask
	}
	return vector&r.Mask == r.Mask
}

// Classifier evaluates rules in order; the first rule satisfied decides. Vectors that satisfy no
// rule are NO_MATCH.
type Classifier struct {
	fieldNames []string
	rules      []Rule
}

// NewClassifier validates rules against the ordered field names.
func NewClassifier(fieldNames []string, rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, configErrorf("rules", "at least one rule is required")
	}
	n := len(fieldNames)
	if n == 0 || n > MaxFields {
		return nil, configErrorf("fields", "field count %d must be between 1 and %d", n, MaxFields)
	}

	var valid models.MatchVector
	if n == MaxFields {
		valid = ^models.MatchVector(0)
	} else {
		valid = models.MatchVector(1)<<uint(n) - 1
	}

	for i, r := range rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Name != "" {
			field = fmt.Sprintf("rules[%d] (%s)", i, r.Name)
		}
		if !r.Classification.Valid() {
			return nil, configErrorf(field, "unknown classification %q", r.Classification)
		}
		if r.Mask&^valid != 0 {
			return nil, configErrorf(field, "mask %s references a bit outside the %d configured fields", r.Mask, n)
		}
	}

	names := make([]string, n)
	copy(names, fieldNames)
	owned := make([]Rule, len(rules))
	copy(owned, rules)

	return &Classifier{fieldNames: names, rules: owned}, nil
}

// Classify returns the classification of vector.
func (c *Classifier) Classify(vector models.MatchVector) models.Classification {
	if rule := c.RuleFor(vector); rule != nil {
		return rule.Classification
	}
	return models.ClassificationNoMatch
}

// RuleFor returns the first rule vector satisfies, or nil.
func (c *Classifier) RuleFor(vector models.MatchVector) *Rule {
	for i := range c.rules {
		if c.rules[i].Matches(vector) {
			return &c.rules[i]
		}
	}
	return nil
}

// Explain lists every field in bit order with whether its bit is set in vector.
func (c *Classifier) Explain(vector models.MatchVector) []models.FieldResult {
	results := make([]models.FieldResult, len(c.fieldNames))
	for i, name := range c.fieldNames {
		results[i] = models.FieldResult{Field: name, Matched: vector.Has(i)}
	}
	return results
}

// MatchedFields returns the names of the fields whose bit is set in vector.
func (c *Classifier) MatchedFields(vector models.MatchVector) []string {
	var names []string
	for i, name := range c.fieldNames {
		if vector.Has(i) {
			names = append(names, name)
		}
	}
	return names
}

// Rules returns a copy of the configured rules.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
