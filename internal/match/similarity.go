// Package match provides the pairwise duplicate-matching engine.
package match

import (
	"strings"
)

// DiceCoefficient computes the bigram (character 2-gram) Dice similarity
// between two strings: 2*|shared bigrams| / (|a|-1 + |b|-1).
//
// Identical non-empty strings always score 1.0. Unequal strings where
// either side is shorter than two characters score 0.0: there is no
// bigram evidence to compare, and a single shared character is not a
// signal worth acting on.
func DiceCoefficient(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0.0
		}
		return 1.0
	}
	if len(a) < 2 || len(b) < 2 {
		return 0.0
	}

	bigramsA := bigrams(a)

	shared := 0
	for i := 0; i < len(b)-1; i++ {
		bg := b[i : i+2]
		if bigramsA[bg] > 0 {
			bigramsA[bg]--
			shared++
		}
	}

	return 2.0 * float64(shared) / float64(len(a)-1+len(b)-1)
}

// bigrams returns the multiset of adjacent character pairs in s.
func bigrams(s string) map[string]int {
	grams := make(map[string]int, len(s))
	for i := 0; i < len(s)-1; i++ {
		grams[s[i:i+2]]++
	}
	return grams
}

// soundexCodes maps consonants to their Soundex digit. Vowels and the
// letters H, W, Y carry no digit.
var soundexCodes = map[byte]byte{
	'B': '1', 'F': '1', 'P': '1', 'V': '1',
	'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
	'D': '3', 'T': '3',
	'L': '4',
	'M': '5', 'N': '5',
	'R': '6',
}

// Soundex returns the four-character Soundex code for s, or "" when s
// contains no ASCII letters. Phonetically similar words ("Smith",
// "Smyth") map to the same code.
func Soundex(s string) string {
	s = strings.ToUpper(s)

	// Find the first letter.
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	code := make([]byte, 0, 4)
	code = append(code, s[start])

	prev := soundexCodes[s[start]]
	for i := start + 1; i < len(s) && len(code) < 4; i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			prev = 0
			continue
		}

		digit, ok := soundexCodes[c]
		if !ok {
			// H and W do not reset the previous digit; vowels do.
			if c != 'H' && c != 'W' {
				prev = 0
			}
			continue
		}
		if digit != prev {
			code = append(code, digit)
		}
		prev = digit
	}

	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

// normalize lowercases and trims a value the way every comparison type
// expects to see it.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
