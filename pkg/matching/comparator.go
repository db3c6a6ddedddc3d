package matching

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// ScorePolicy selects which comparator results contribute to an outcome score.
type ScorePolicy string

const (
	// ScorePolicyAll sums every comparator score whether or not the field matched.
	ScorePolicyAll ScorePolicy = "all"
	// ScorePolicyMatched sums only the scores of matched fields.
	ScorePolicyMatched ScorePolicy = "matched"
)

// Comparator compares one declared field between two records.
type Comparator interface {
	Name() string
	Evaluate(left, right models.Record) (models.MatchEvaluation, error)
}

// compareFunc compares one value pair and returns its similarity in [0, 1] and whether it matched.
type compareFunc func(a, b any) (float64, bool, error)

// FieldComparator is the Comparator built from a FieldMatchDefinition.
type FieldComparator struct {
	def         models.FieldMatchDefinition
	weight      float64
	accessor    extractor.Accessor
	normalize   normalizers.Normalizer
	matchedOnly bool
	compare     compareFunc
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "20060102"}

// NewComparator validates def and builds its comparator.
func NewComparator(def models.FieldMatchDefinition, accessor extractor.Accessor, policy ScorePolicy) (*FieldComparator, error) {
	field := "fields." + def.Name

	if err := extractor.ValidatePath(def.Path); err != nil {
		return nil, configErrorf(field, "invalid path: %v", err)
	}

	normalize, err := normalizers.Chain(def.Normalizers...)
	if err != nil {
		return nil, configErrorf(field, "%v", err)
	}

	weight := 1.0
	if def.Weight != nil {
		weight = *def.Weight
	}
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return nil, configErrorf(field, "weight must be a non-negative number")
	}

	c := &FieldComparator{
		def:         def,
		weight:      weight,
		accessor:    accessor,
		normalize:   normalize,
		matchedOnly: policy == ScorePolicyMatched,
	}

	switch def.Kind {
	case models.ComparatorExact:
		c.compare = c.compareExact
	case models.ComparatorCaseInsensitive:
		c.compare = c.compareCaseInsensitive
	case models.ComparatorFuzzy:
		if def.Threshold == nil || *def.Threshold < 0 || *def.Threshold > 1 {
			return nil, configErrorf(field, "fuzzy comparator requires a threshold between 0 and 1")
		}
		similarity, err := similarityFunc(def.Algorithm)
		if err != nil {
			return nil, configErrorf(field, "%v", err)
		}
		threshold := *def.Threshold
		c.compare = func(a, b any) (float64, bool, error) {
			sa, sb, err := c.scalars(a, b)
			if err != nil {
				return 0, false, err
			}
			if sa == "" || sb == "" {
				return 0, false, nil
			}
			sim := similarity(sa, sb)
			return sim, sim >= threshold, nil
		}
	case models.ComparatorPhonetic:
		encode, err := phoneticFunc(def.Algorithm)
		if err != nil {
			return nil, configErrorf(field, "%v", err)
		}
		c.compare = func(a, b any) (float64, bool, error) {
			sa, sb, err := c.scalars(a, b)
			if err != nil {
				return 0, false, err
			}
			ca, cb := encode(sa), encode(sb)
			if ca != "" && ca == cb {
				return 1, true, nil
			}
			return 0, false, nil
		}
	case models.ComparatorDate:
		c.compare = c.compareDate
	case models.ComparatorIdentifier:
		c.compare = c.compareIdentifier
	case models.ComparatorNumeric:
		if def.Threshold == nil || *def.Threshold < 0 {
			return nil, configErrorf(field, "numeric comparator requires a non-negative threshold")
		}
		threshold := *def.Threshold
		c.compare = func(a, b any) (float64, bool, error) {
			na, err := c.number(a)
			if err != nil {
				return 0, false, err
			}
			nb, err := c.number(b)
			if err != nil {
				return 0, false, err
			}
			return NumericProximity(na, nb, threshold), math.Abs(na-nb) <= threshold, nil
		}
	default:
		return nil, configErrorf(field, "unknown comparator kind %q", def.Kind)
	}

	return c, nil
}

func similarityFunc(algorithm string) (func(a, b string) float64, error) {
	switch algorithm {
	case "", models.AlgorithmJaroWinkler:
		return JaroWinkler, nil
	case models.AlgorithmJaro:
		return Jaro, nil
	case models.AlgorithmLevenshtein:
		return Levenshtein, nil
	default:
		return nil, fmt.Errorf("unknown similarity algorithm %q", algorithm)
	}
}

func phoneticFunc(algorithm string) (func(string) string, error) {
	switch algorithm {
	case "", models.AlgorithmSoundex:
		return Soundex, nil
	case models.AlgorithmMetaphone:
		return Metaphone, nil
	default:
		return nil, fmt.Errorf("unknown phonetic algorithm %q", algorithm)
	}
}

func (c *FieldComparator) Name() string {
	return c.def.Name
}

func (c *FieldComparator) Definition() models.FieldMatchDefinition {
	return c.def
}

// Evaluate compares the field on both records. A field absent on either side does not match and
// scores zero. Multi-valued fields match when any value pair matches.
func (c *FieldComparator) Evaluate(left, right models.Record) (models.MatchEvaluation, error) {
	leftValues, err := c.accessor.Values(left, c.def.Path)
	if err != nil {
		return models.MatchEvaluation{}, c.typeError(left.Data, err.Error())
	}
	rightValues, err := c.accessor.Values(right, c.def.Path)
	if err != nil {
		return models.MatchEvaluation{}, c.typeError(right.Data, err.Error())
	}
	if len(leftValues) == 0 || len(rightValues) == 0 {
		return models.MatchEvaluation{}, nil
	}

	matched := false
	best := 0.0
	for _, a := range leftValues {
		for _, b := range rightValues {
			sim, ok, err := c.compare(a, b)
			if err != nil {
				return models.MatchEvaluation{}, err
			}
			switch {
			case ok && !matched:
				matched, best = true, sim
			case ok == matched && sim > best:
				best = sim
			}
		}
	}

	if !matched && c.matchedOnly {
		return models.MatchEvaluation{}, nil
	}
	return models.MatchEvaluation{Matched: matched, Score: c.weight * best}, nil
}

func (c *FieldComparator) typeError(value any, reason string) *TypeError {
	return &TypeError{Field: c.def.Name, Kind: string(c.def.Kind), Value: value, Reason: reason}
}

func (c *FieldComparator) scalar(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return c.normalize(val), nil
	case float64, int, int64, json.Number, bool:
		return c.normalize(extractor.ToString(val)), nil
	default:
		return "", c.typeError(v, "expected a scalar value")
	}
}

func (c *FieldComparator) scalars(a, b any) (string, string, error) {
	sa, err := c.scalar(a)
	if err != nil {
		return "", "", err
	}
	sb, err := c.scalar(b)
	if err != nil {
		return "", "", err
	}
	return sa, sb, nil
}

func (c *FieldComparator) compareExact(a, b any) (float64, bool, error) {
	sa, sb, err := c.scalars(a, b)
	if err != nil {
		return 0, false, err
	}
	if sa != "" && sa == sb {
		return 1, true, nil
	}
	return 0, false, nil
}

func (c *FieldComparator) compareCaseInsensitive(a, b any) (float64, bool, error) {
	sa, sb, err := c.scalars(a, b)
	if err != nil {
		return 0, false, err
	}
	if sa != "" && strings.EqualFold(sa, sb) {
		return 1, true, nil
	}
	return 0, false, nil
}

func (c *FieldComparator) date(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, c.typeError(v, "expected a date string")
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, c.typeError(v, fmt.Sprintf("unrecognised date %q", s))
}

func (c *FieldComparator) compareDate(a, b any) (float64, bool, error) {
	ta, err := c.date(a)
	if err != nil {
		return 0, false, err
	}
	tb, err := c.date(b)
	if err != nil {
		return 0, false, err
	}
	// calendar day as written, without converting between offsets
	ya, ma, da := ta.Date()
	yb, mb, db := tb.Date()
	if ya == yb && ma == mb && da == db {
		return 1, true, nil
	}
	return 0, false, nil
}

type identifier struct {
	system string
	value  string
}

func (c *FieldComparator) identifier(v any) (identifier, bool, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return identifier{}, false, c.typeError(v, "expected an identifier object with system and value")
	}
	value, _ := m["value"].(string)
	system, _ := m["system"].(string)
	value = c.normalize(value)
	if value == "" {
		return identifier{}, false, nil
	}
	if c.def.IdentifierSystem != "" && system != c.def.IdentifierSystem {
		return identifier{}, false, nil
	}
	return identifier{system: system, value: value}, true, nil
}

func (c *FieldComparator) compareIdentifier(a, b any) (float64, bool, error) {
	ia, okA, err := c.identifier(a)
	if err != nil {
		return 0, false, err
	}
	ib, okB, err := c.identifier(b)
	if err != nil {
		return 0, false, err
	}
	if okA && okB && ia == ib {
		return 1, true, nil
	}
	return 0, false, nil
}

func (c *FieldComparator) number(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, c.typeError(v, err.Error())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(c.normalize(val)), 64)
		if err != nil {
			return 0, c.typeError(v, fmt.Sprintf("unrecognised number %q", val))
		}
		return f, nil
	default:
		return 0, c.typeError(v, "expected a number")
	}
}
