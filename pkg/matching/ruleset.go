package matching

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
)

// DefaultGoldenType is the record type of golden records when a rule set does not name one.
const DefaultGoldenType = "Person"

// RuleSet is the loaded matching configuration. It is immutable once compiled.
type RuleSet struct {
	Name             string                        `json:"name" yaml:"name"`
	GoldenType       string                        `json:"golden_type,omitempty" yaml:"golden_type,omitempty"`
	ScorePolicy      ScorePolicy                   `json:"score_policy,omitempty" yaml:"score_policy,omitempty" validate:"omitempty,oneof=all matched"`
	Fields           []models.FieldMatchDefinition `json:"fields" yaml:"fields" validate:"required,min=1,max=64,dive"`
	Rules            []RuleDefinition              `json:"rules" yaml:"rules" validate:"required,min=1,dive"`
	CandidateSearch  []BlockingDefinition          `json:"candidate_search,omitempty" yaml:"candidate_search,omitempty" validate:"dive"`
	CandidateFilter  []FilterDefinition            `json:"candidate_filter,omitempty" yaml:"candidate_filter,omitempty" validate:"dive"`
	GoldenSeedFields []string                      `json:"golden_seed_fields,omitempty" yaml:"golden_seed_fields,omitempty" validate:"dive,required"`
}

// RuleDefinition is the file form of a Rule. The predicate is given as field names, as bit
// indexes, or both.
type RuleDefinition struct {
	Name           string                `json:"name,omitempty" yaml:"name,omitempty"`
	Fields         []string              `json:"fields,omitempty" yaml:"fields,omitempty"`
	Bits           []int                 `json:"bits,omitempty" yaml:"bits,omitempty"`
	Exact          bool                  `json:"exact,omitempty" yaml:"exact,omitempty"`
	Classification models.Classification `json:"classification" yaml:"classification" validate:"required,oneof=MATCH POSSIBLE_MATCH NO_MATCH"`
}

// BlockingDefinition produces candidate search keys from a field.
type BlockingDefinition struct {
	Path        string   `json:"path" yaml:"path" validate:"required"`
	Normalizers []string `json:"normalizers,omitempty" yaml:"normalizers,omitempty"`
}

// FilterDefinition restricts matching to source records whose field equals Value.
type FilterDefinition struct {
	Path  string `json:"path" yaml:"path" validate:"required"`
	Value string `json:"value" yaml:"value" validate:"required"`
}

var validate = validator.New()

// LoadRuleSet reads and validates a rule set file. YAML and JSON are chosen by extension.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, configErrorf("", "rule set file %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ParseRuleSet(data, format)
}

// ParseRuleSet decodes a rule set in the given format ("yaml", "yml" or "json") and validates it.
func ParseRuleSet(data []byte, format string) (*RuleSet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, configErrorf("", "rule set is empty")
	}

	var rs RuleSet
	switch format {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rs); err != nil {
			return nil, configErrorf("", "malformed yaml: %v", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rs); err != nil {
			return nil, configErrorf("", "malformed json: %v", err)
		}
	default:
		return nil, configErrorf("", "unsupported rule set format %q", format)
	}

	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the structure and cross references of the rule set.
func (rs *RuleSet) Validate() error {
	if err := validate.Struct(rs); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return configErrorf(fe.Namespace(), "failed %q validation", fe.Tag())
		}
		return configErrorf("", "%v", err)
	}

	seen := make(map[string]struct{}, len(rs.Fields))
	for _, f := range rs.Fields {
		if _, dup := seen[f.Name]; dup {
			return configErrorf("fields."+f.Name, "duplicate field name")
		}
		seen[f.Name] = struct{}{}
	}

	for i, r := range rs.Rules {
		if len(r.Fields) == 0 && len(r.Bits) == 0 {
			return configErrorf(fmt.Sprintf("rules[%d]", i), "rule needs fields or bits")
		}
	}

	for i, b := range rs.CandidateSearch {
		if err := extractor.ValidatePath(b.Path); err != nil {
			return configErrorf(fmt.Sprintf("candidate_search[%d]", i), "invalid path: %v", err)
		}
	}
	for i, f := range rs.CandidateFilter {
		if err := extractor.ValidatePath(f.Path); err != nil {
			return configErrorf(fmt.Sprintf("candidate_filter[%d]", i), "invalid path: %v", err)
		}
	}
	return nil
}

// EffectiveGoldenType returns GoldenType or DefaultGoldenType.
func (rs *RuleSet) EffectiveGoldenType() string {
	if rs.GoldenType == "" {
		return DefaultGoldenType
	}
	return rs.GoldenType
}

// EffectiveScorePolicy returns ScorePolicy or ScorePolicyAll.
func (rs *RuleSet) EffectiveScorePolicy() ScorePolicy {
	if rs.ScorePolicy == "" {
		return ScorePolicyAll
	}
	return rs.ScorePolicy
}

// compileRules resolves field names and bit indexes into masks.
func (rs *RuleSet) compileRules() ([]Rule, error) {
	ordinals := make(map[string]int, len(rs.Fields))
	for i, f := range rs.Fields {
		ordinals[f.Name] = i
	}

	rules := make([]Rule, 0, len(rs.Rules))
	for i, def := range rs.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		var mask models.MatchVector
		for _, name := range def.Fields {
			bit, ok := ordinals[name]
			if !ok {
				return nil, configErrorf(field, "unknown field %q", name)
			}
			mask |= 1 << uint(bit)
		}
		for _, bit := range def.Bits {
			if bit < 0 || bit >= len(rs.Fields) {
				return nil, configErrorf(field, "bit %d is outside the %d configured fields", bit, len(rs.Fields))
			}
			mask |= 1 << uint(bit)
		}
		rules = append(rules, Rule{
			Name:           def.Name,
			Mask:           mask,
			Exact:          def.Exact,
			Classification: def.Classification,
		})
	}
	return rules, nil
}
