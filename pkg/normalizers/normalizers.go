// Package normalizers provides named value normalizations applied before comparison and when
// computing blocking keys.
package normalizers

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var (
	mu       sync.RWMutex
	registry = make(map[string]Normalizer)
)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("ascii_fold", ASCIIFold)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("nzip", NormalizeZipCode)
	Register("naddress", NormalizeAddress)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Chain resolves names into a single normalizer applied left to right. Unknown names are an error
// so that rule sets fail at load time.
func Chain(names ...string) (Normalizer, error) {
	fns := make([]Normalizer, 0, len(names))
	for _, name := range names {
		fn, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown normalizer %q", name)
		}
		fns = append(fns, fn)
	}
	return func(s string) string {
		for _, fn := range fns {
			s = fn(s)
		}
		return s
	}, nil
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// ASCIIFold strips diacritics, so "José" becomes "Jose".
func ASCIIFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizePhone removes all non-digit characters from a phone number
func NormalizePhone(s string) string {
	return DigitsOnly(s)
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
}

var nameSuffixes = []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " phd", " md", " dds"}

// NormalizeName lowercases a person's name, drops common suffixes and punctuation, and collapses
// whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizeZipCode keeps the five digit prefix of a US zip code.
func NormalizeZipCode(s string) string {
	digits := DigitsOnly(s)
	if len(digits) >= 5 {
		return digits[:5]
	}
	return digits
}

var (
	addressReplacements = []struct{ full, abbr string }{
		{" street", " st"},
		{" avenue", " ave"},
		{" boulevard", " blvd"},
		{" drive", " dr"},
		{" road", " rd"},
		{" lane", " ln"},
		{" court", " ct"},
		{" place", " pl"},
		{" apartment", " apt"},
		{" suite", " ste"},
	}
	spaceRe = regexp.MustCompile(`\s+`)
)

// NormalizeAddress lowercases an address and abbreviates common street words.
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)
	for _, r := range addressReplacements {
		s = strings.ReplaceAll(s, r.full, r.abbr)
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
