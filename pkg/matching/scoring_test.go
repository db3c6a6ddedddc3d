package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"MARTHA", "MARHTA", 0.961},
		{"DWAYNE", "DUANE", 0.84},
		{"DIXON", "DICKSONX", 0.813},
		{"same", "same", 1.0},
		{"abc", "xyz", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, JaroWinkler(tt.a, tt.b), 0.001)
		})
	}
}

func TestJaro(t *testing.T) {
	assert.InDelta(t, 0.944, Jaro("MARTHA", "MARHTA"), 0.001)
	assert.Equal(t, 0.0, Jaro("", "abc"))
	assert.Equal(t, 1.0, Jaro("", ""))
}

func TestJaroWinklerIsSymmetric(t *testing.T) {
	pairs := [][2]string{{"jonathan", "johnathan"}, {"müller", "muller"}, {"a", "ab"}}
	for _, p := range pairs {
		assert.InDelta(t, JaroWinkler(p[0], p[1]), JaroWinkler(p[1], p[0]), 1e-9)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, LevenshteinDistance("", ""))
	assert.Equal(t, 4, LevenshteinDistance("", "abcd"))
	assert.InDelta(t, 1-3.0/7.0, Levenshtein("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, Levenshtein("", ""))
	// counts runes, not bytes
	assert.Equal(t, 1, LevenshteinDistance("josé", "jose"))
}

func TestSoundex(t *testing.T) {
	tests := map[string]string{
		"Robert":   "R163",
		"Rupert":   "R163",
		"Ashcraft": "A261",
		"Tymczak":  "T522",
		"Pfister":  "P236",
		"Honeyman": "H555",
		"Lee":      "L000",
		"O'Brien":  "O165",
		"123":      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Soundex(in), in)
	}
}

func TestMetaphone(t *testing.T) {
	assert.Equal(t, Metaphone("Smith"), Metaphone("Smyth"))
	assert.Equal(t, "STFN", Metaphone("Stephen"))
	assert.Equal(t, "STFN", Metaphone("Steven"))
	assert.LessOrEqual(t, len(Metaphone("Wolfeschlegelsteinhausen")), 6)
	assert.Equal(t, "", Metaphone("42"))
}

func TestNumericProximity(t *testing.T) {
	assert.Equal(t, 1.0, NumericProximity(5, 5, 0))
	assert.InDelta(t, 0.5, NumericProximity(10, 15, 10), 1e-9)
	assert.Equal(t, 0.0, NumericProximity(10, 30, 10))
	assert.Equal(t, 0.0, NumericProximity(1, 2, 0))
}
