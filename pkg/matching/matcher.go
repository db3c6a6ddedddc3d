package matching

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Matcher is a compiled rule set: the engine, the classifier and the candidate settings.
type Matcher struct {
	ruleSet    *RuleSet
	engine     *Engine
	classifier *Classifier
	blocker    *Blocker
	accessor   extractor.Accessor
	logger     ectologger.Logger
}

// Compile builds a Matcher from a validated rule set. Any error is a ConfigError.
func Compile(rs *RuleSet, accessor extractor.Accessor, logger ectologger.Logger) (*Matcher, error) {
	if rs == nil {
		return nil, configErrorf("", "rule set is required")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	if accessor == nil {
		accessor = extractor.New()
	}

	policy := rs.EffectiveScorePolicy()
	comparators := make([]Comparator, 0, len(rs.Fields))
	for _, def := range rs.Fields {
		c, err := NewComparator(def, accessor, policy)
		if err != nil {
			return nil, err
		}
		comparators = append(comparators, c)
	}

	engine, err := NewEngine(comparators)
	if err != nil {
		return nil, err
	}

	rules, err := rs.compileRules()
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(engine.FieldNames(), rules)
	if err != nil {
		return nil, err
	}

	blocker, err := newBlocker(rs, accessor)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(context.Background())
	for _, r := range rules {
		if r.Classification == models.ClassificationNoMatch {
			log.WithFields(map[string]any{"rule": r.Name, "mask": r.Mask.String()}).
				Warn("NO_MATCH rule has the same effect as no rule")
		}
	}

	log.WithFields(map[string]any{
		"rule_set":     rs.Name,
		"fields":       len(rs.Fields),
		"rules":        len(rules),
		"score_policy": string(policy),
	}).Info("Compiled match rule set")

	return &Matcher{
		ruleSet:    rs,
		engine:     engine,
		classifier: classifier,
		blocker:    blocker,
		accessor:   accessor,
		logger:     logger,
	}, nil
}

// Match scores and classifies a record pair.
func (m *Matcher) Match(ctx context.Context, left, right models.Record) (models.MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Match")
	defer span.End()

	outcome, err := m.engine.Score(left, right)
	if err != nil {
		return models.MatchOutcome{}, err
	}
	outcome.Classification = m.classifier.Classify(outcome.Vector)

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"left":           left.Ref.String(),
		"right":          right.Ref.String(),
		"vector":         outcome.Vector.String(),
		"score":          outcome.Score,
		"classification": string(outcome.Classification),
	})
	if outcome.Classification == models.ClassificationNoMatch {
		log.WithFields(map[string]any{"fields": m.classifier.Explain(outcome.Vector)}).Debug("Records did not match")
	} else {
		log.WithFields(map[string]any{"matched_fields": m.classifier.MatchedFields(outcome.Vector)}).Debug("Records matched")
	}
	return outcome, nil
}

// Evaluate is Match with the per-field breakdown.
func (m *Matcher) Evaluate(ctx context.Context, left, right models.Record) (models.EvaluateResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Evaluate")
	defer span.End()

	evaluations, err := m.engine.Evaluate(left, right)
	if err != nil {
		return models.EvaluateResponse{}, err
	}
	outcome := m.engine.pack(evaluations)
	outcome.Classification = m.classifier.Classify(outcome.Vector)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"vector":         outcome.Vector.String(),
		"classification": string(outcome.Classification),
	}).Debug("Evaluated record pair")

	return models.EvaluateResponse{
		Outcome:     outcome,
		Fields:      m.classifier.Explain(outcome.Vector),
		Evaluations: evaluations,
	}, nil
}

// GoldenType is the record type used for golden records.
func (m *Matcher) GoldenType() string {
	return m.ruleSet.EffectiveGoldenType()
}

// Seed returns the data a new golden record starts with. Without configured seed fields the
// whole source document is copied.
func (m *Matcher) Seed(source models.Record) map[string]any {
	if len(m.ruleSet.GoldenSeedFields) == 0 {
		return copyMap(source.Data)
	}
	out := make(map[string]any, len(m.ruleSet.GoldenSeedFields))
	for _, key := range m.ruleSet.GoldenSeedFields {
		if v, ok := source.Data[key]; ok {
			out[key] = v
		}
	}
	return out
}

// BlockingKeys returns record's candidate search keys.
func (m *Matcher) BlockingKeys(record models.Record) ([]string, error) {
	return m.blocker.Keys(record)
}

// Eligible reports whether record passes the candidate filter.
func (m *Matcher) Eligible(record models.Record) bool {
	return m.blocker.Eligible(record)
}

func (m *Matcher) Engine() *Engine {
	return m.engine
}

func (m *Matcher) Classifier() *Classifier {
	return m.classifier
}

func (m *Matcher) RuleSet() *RuleSet {
	return m.ruleSet
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
