package matching

import (
	"math"
	"strings"
	"unicode"
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	ra, rb := []rune(a), []rune(b)
	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	const scalingFactor = 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro returns the Jaro similarity of a and b in [0, 1].
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	matchDist := max(len(ra), len(rb))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(ra))
	bMatches := make([]bool, len(rb))

	matches := 0
	for i := range ra {
		start := max(0, i-matchDist)
		end := min(len(rb), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || ra[i] != rb[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-t)/m) / 3
}

// Levenshtein returns 1 - editDistance/maxLen, a similarity in [0, 1].
func Levenshtein(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(ra, rb))/float64(maxLen)
}

// LevenshteinDistance returns the edit distance between a and b.
func LevenshteinDistance(a, b string) int {
	return levenshteinDistance([]rune(a), []rune(b))
}

func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}

// Soundex returns the four character American Soundex code of s, or "" when s has no letters.
func Soundex(s string) string {
	letters := make([]rune, 0, len(s))
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var code strings.Builder
	code.WriteRune(letters[0])
	prev := soundexCode(letters[0])

	for _, r := range letters[1:] {
		if code.Len() == 4 {
			break
		}
		digit := soundexCode(r)
		switch {
		case r == 'H' || r == 'W':
			// H and W do not separate letters with the same code
			continue
		case digit == 0:
			prev = 0
		case digit != prev:
			code.WriteByte(digit)
			prev = digit
		}
	}

	for code.Len() < 4 {
		code.WriteByte('0')
	}
	return code.String()
}

func soundexCode(r rune) byte {
	switch r {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return 0
	}
}

// Metaphone returns a simplified Metaphone key of s, at most six characters long.
func Metaphone(s string) string {
	var letters strings.Builder
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			letters.WriteRune(r)
		}
	}
	word := letters.String()
	if word == "" {
		return ""
	}

	var key strings.Builder
	prev := byte(0)
	for i := 0; i < len(word) && key.Len() < 6; i++ {
		c := metaphoneCode(word, i)
		if c != 0 && c != prev {
			key.WriteByte(c)
		}
		prev = c
	}
	return key.String()
}

func metaphoneCode(word string, pos int) byte {
	next := byte(0)
	if pos+1 < len(word) {
		next = word[pos+1]
	}

	switch c := word[pos]; c {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return c
		}
		return 0
	case 'C':
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'S'
		}
		if next == 'H' {
			return 'X'
		}
		return 'K'
	case 'D':
		return 'T'
	case 'G':
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'J'
		}
		return 'K'
	case 'H', 'W', 'Y':
		return 0
	case 'P':
		if next == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'S':
		if next == 'H' {
			return 'X'
		}
		return 'S'
	case 'V':
		return 'F'
	case 'X', 'Z':
		return 'S'
	default:
		return c
	}
}

// NumericProximity returns 1 for equal numbers, decaying linearly to 0 at maxDiff.
func NumericProximity(a, b, maxDiff float64) float64 {
	if a == b {
		return 1.0
	}
	diff := math.Abs(a - b)
	if maxDiff <= 0 || diff >= maxDiff {
		return 0.0
	}
	return 1.0 - diff/maxDiff
}
