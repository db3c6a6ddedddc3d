package matching

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
)

func ptr(f float64) *float64 { return &f }

func record(id int64, data map[string]any) models.Record {
	return models.Record{Ref: models.NewRef("Patient", id), Data: data}
}

func mustComparator(t *testing.T, def models.FieldMatchDefinition, policy ScorePolicy) *FieldComparator {
	t.Helper()
	c, err := NewComparator(def, extractor.New(), policy)
	require.NoError(t, err)
	return c
}

func TestComparatorExact(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{
		Name: "last_name", Path: "last_name", Kind: models.ComparatorExact, Weight: ptr(2),
		Normalizers: []string{"trim", "lowercase"},
	}, ScorePolicyAll)

	eval, err := c.Evaluate(record(1, map[string]any{"last_name": " Smith "}), record(2, map[string]any{"last_name": "smith"}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)
	assert.Equal(t, 2.0, eval.Score)

	eval, err = c.Evaluate(record(1, map[string]any{"last_name": "Smith"}), record(2, map[string]any{"last_name": "Smyth"}))
	require.NoError(t, err)
	assert.False(t, eval.Matched)
	assert.Equal(t, 0.0, eval.Score)
}

func TestComparatorAbsentField(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{Name: "email", Path: "contact.email", Kind: models.ComparatorExact}, ScorePolicyAll)

	tests := []struct {
		name        string
		left, right map[string]any
	}{
		{"missing on left", map[string]any{}, map[string]any{"contact": map[string]any{"email": "a@b.c"}}},
		{"missing on right", map[string]any{"contact": map[string]any{"email": "a@b.c"}}, map[string]any{}},
		{"missing on both", map[string]any{}, map[string]any{}},
		{"null value", map[string]any{"contact": map[string]any{"email": nil}}, map[string]any{"contact": map[string]any{"email": nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := c.Evaluate(record(1, tt.left), record(2, tt.right))
			require.NoError(t, err)
			assert.Equal(t, models.MatchEvaluation{}, eval)
		})
	}
}

func TestComparatorEmptyStringsNeverMatch(t *testing.T) {
	for _, kind := range []models.ComparatorKind{models.ComparatorExact, models.ComparatorCaseInsensitive, models.ComparatorPhonetic} {
		c := mustComparator(t, models.FieldMatchDefinition{Name: "f", Path: "f", Kind: kind}, ScorePolicyAll)
		eval, err := c.Evaluate(record(1, map[string]any{"f": ""}), record(2, map[string]any{"f": ""}))
		require.NoError(t, err)
		assert.False(t, eval.Matched, kind)
	}

	fuzzy := mustComparator(t, models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorFuzzy, Threshold: ptr(0.5)}, ScorePolicyAll)
	eval, err := fuzzy.Evaluate(record(1, map[string]any{"f": ""}), record(2, map[string]any{"f": ""}))
	require.NoError(t, err)
	assert.False(t, eval.Matched)
}

func TestComparatorCaseInsensitive(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{Name: "city", Path: "address.city", Kind: models.ComparatorCaseInsensitive}, ScorePolicyAll)
	eval, err := c.Evaluate(
		record(1, map[string]any{"address": map[string]any{"city": "BOSTON"}}),
		record(2, map[string]any{"address": map[string]any{"city": "boston"}}),
	)
	require.NoError(t, err)
	assert.True(t, eval.Matched)
}

func TestComparatorFuzzy(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{
		Name: "first_name", Path: "first_name", Kind: models.ComparatorFuzzy, Threshold: ptr(0.9),
		Algorithm: models.AlgorithmJaroWinkler, Normalizers: []string{"uppercase"},
	}, ScorePolicyAll)

	eval, err := c.Evaluate(record(1, map[string]any{"first_name": "martha"}), record(2, map[string]any{"first_name": "marhta"}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)
	assert.InDelta(t, 0.961, eval.Score, 0.001)

	eval, err = c.Evaluate(record(1, map[string]any{"first_name": "dwayne"}), record(2, map[string]any{"first_name": "duane"}))
	require.NoError(t, err)
	assert.False(t, eval.Matched)
	assert.InDelta(t, 0.84, eval.Score, 0.001)
}

func TestComparatorScorePolicyMatched(t *testing.T) {
	def := models.FieldMatchDefinition{Name: "first_name", Path: "first_name", Kind: models.ComparatorFuzzy, Threshold: ptr(0.9)}
	left := record(1, map[string]any{"first_name": "DWAYNE"})
	right := record(2, map[string]any{"first_name": "DUANE"})

	all := mustComparator(t, def, ScorePolicyAll)
	eval, err := all.Evaluate(left, right)
	require.NoError(t, err)
	assert.False(t, eval.Matched)
	assert.Greater(t, eval.Score, 0.0)

	matched := mustComparator(t, def, ScorePolicyMatched)
	eval, err = matched.Evaluate(left, right)
	require.NoError(t, err)
	assert.False(t, eval.Matched)
	assert.Equal(t, 0.0, eval.Score)
}

func TestComparatorPhonetic(t *testing.T) {
	soundex := mustComparator(t, models.FieldMatchDefinition{Name: "last_name", Path: "last_name", Kind: models.ComparatorPhonetic}, ScorePolicyAll)
	eval, err := soundex.Evaluate(record(1, map[string]any{"last_name": "Robert"}), record(2, map[string]any{"last_name": "Rupert"}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)
	assert.Equal(t, 1.0, eval.Score)

	metaphone := mustComparator(t, models.FieldMatchDefinition{
		Name: "first_name", Path: "first_name", Kind: models.ComparatorPhonetic, Algorithm: models.AlgorithmMetaphone,
	}, ScorePolicyAll)
	eval, err = metaphone.Evaluate(record(1, map[string]any{"first_name": "Stephen"}), record(2, map[string]any{"first_name": "Steven"}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)
}

func TestComparatorDate(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{Name: "dob", Path: "dob", Kind: models.ComparatorDate}, ScorePolicyAll)

	eval, err := c.Evaluate(record(1, map[string]any{"dob": "1980-04-12"}), record(2, map[string]any{"dob": "1980-04-12T00:00:00Z"}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)

	eval, err = c.Evaluate(record(1, map[string]any{"dob": "19800412"}), record(2, map[string]any{"dob": "1980-04-13"}))
	require.NoError(t, err)
	assert.False(t, eval.Matched)

	_, err = c.Evaluate(record(1, map[string]any{"dob": "April 12th"}), record(2, map[string]any{"dob": "1980-04-12"}))
	require.Error(t, err)
	assert.True(t, IsTypeError(err))

	_, err = c.Evaluate(record(1, map[string]any{"dob": 19800412.0}), record(2, map[string]any{"dob": "1980-04-12"}))
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
}

func TestComparatorIdentifier(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{
		Name: "mrn", Path: "identifier[*]", Kind: models.ComparatorIdentifier, IdentifierSystem: "urn:mrn",
	}, ScorePolicyAll)

	left := record(1, map[string]any{"identifier": []any{
		map[string]any{"system": "urn:ssn", "value": "111"},
		map[string]any{"system": "urn:mrn", "value": "A-1"},
	}})
	right := record(2, map[string]any{"identifier": []any{
		map[string]any{"system": "urn:mrn", "value": "A-1"},
	}})
	eval, err := c.Evaluate(left, right)
	require.NoError(t, err)
	assert.True(t, eval.Matched)

	other := record(3, map[string]any{"identifier": []any{
		map[string]any{"system": "urn:ssn", "value": "A-1"},
	}})
	eval, err = c.Evaluate(left, other)
	require.NoError(t, err)
	assert.False(t, eval.Matched)

	_, err = c.Evaluate(left, record(4, map[string]any{"identifier": []any{"A-1"}}))
	require.Error(t, err)
	assert.True(t, IsTypeError(err))
}

func TestComparatorNumeric(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{Name: "age", Path: "age", Kind: models.ComparatorNumeric, Threshold: ptr(2)}, ScorePolicyAll)

	eval, err := c.Evaluate(record(1, map[string]any{"age": 41.0}), record(2, map[string]any{"age": json.Number("42")}))
	require.NoError(t, err)
	assert.True(t, eval.Matched)
	assert.InDelta(t, 0.5, eval.Score, 1e-9)

	eval, err = c.Evaluate(record(1, map[string]any{"age": "40"}), record(2, map[string]any{"age": 45}))
	require.NoError(t, err)
	assert.False(t, eval.Matched)

	_, err = c.Evaluate(record(1, map[string]any{"age": true}), record(2, map[string]any{"age": 45}))
	assert.True(t, IsTypeError(err))
}

func TestComparatorMultiValuedFieldPrefersMatch(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{
		Name: "given", Path: "name[*].given", Kind: models.ComparatorFuzzy, Threshold: ptr(0.95),
	}, ScorePolicyAll)

	left := record(1, map[string]any{"name": []any{
		map[string]any{"given": "Jon"},
		map[string]any{"given": "Jonathan"},
	}})
	right := record(2, map[string]any{"name": []any{map[string]any{"given": "Jonathan"}}})

	eval, err := c.Evaluate(left, right)
	require.NoError(t, err)
	assert.True(t, eval.Matched)
	assert.Equal(t, 1.0, eval.Score)
}

func TestComparatorStructuredValueIsTypeError(t *testing.T) {
	c := mustComparator(t, models.FieldMatchDefinition{Name: "name", Path: "name", Kind: models.ComparatorExact}, ScorePolicyAll)
	_, err := c.Evaluate(
		record(1, map[string]any{"name": map[string]any{"given": "Ann"}}),
		record(2, map[string]any{"name": "Ann"}),
	)
	require.Error(t, err)

	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "name", typeErr.Field)
}

func TestNewComparatorConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		def  models.FieldMatchDefinition
	}{
		{"unknown kind", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: "bogus"}},
		{"fuzzy without threshold", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorFuzzy}},
		{"fuzzy threshold above one", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorFuzzy, Threshold: ptr(1.5)}},
		{"unknown similarity", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorFuzzy, Threshold: ptr(0.5), Algorithm: "cosine"}},
		{"unknown phonetic", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorPhonetic, Algorithm: "nysiis"}},
		{"numeric without threshold", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorNumeric}},
		{"negative weight", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorExact, Weight: ptr(-1)}},
		{"unknown normalizer", models.FieldMatchDefinition{Name: "f", Path: "f", Kind: models.ComparatorExact, Normalizers: []string{"rot13"}}},
		{"bad path", models.FieldMatchDefinition{Name: "f", Path: "a[", Kind: models.ComparatorExact}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewComparator(tt.def, extractor.New(), ScorePolicyAll)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}
