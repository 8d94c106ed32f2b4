package features

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits text into content words.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

// particles are Korean postpositions stripped from the end of a word,
// longest first.
var particles = []string{
	"으로부터", "에게서", "으로서", "으로써", "에서는", "까지는",
	"에서", "에게", "한테", "께서", "까지", "부터", "으로", "처럼", "보다", "이나", "이랑",
	"은", "는", "이", "가", "을", "를", "에", "의", "도", "로", "와", "과", "만", "요",
}

var defaultStopwords = []string{
	"네", "예", "아", "음", "그", "저", "이", "그리고", "그런데", "그래서", "근데",
	"있습니다", "합니다", "입니다", "있어요", "고객님", "상담사", "고객",
}

// SimpleTokenizer normalises to NFC, lowercases, splits on non-letters, and
// strips Korean particles. Tokens shorter than two runes, pure numbers and
// stopwords are dropped.
type SimpleTokenizer struct {
	stopwords map[string]struct{}
}

// NewSimpleTokenizer creates a tokenizer with the built-in stopwords plus extra.
func NewSimpleTokenizer(extra []string) *SimpleTokenizer {
	stop := make(map[string]struct{}, len(defaultStopwords)+len(extra))
	for _, w := range defaultStopwords {
		stop[norm.NFC.String(w)] = struct{}{}
	}
	for _, w := range extra {
		stop[strings.ToLower(norm.NFC.String(w))] = struct{}{}
	}
	return &SimpleTokenizer{stopwords: stop}
}

// Tokenize implements Tokenizer.
func (t *SimpleTokenizer) Tokenize(text string) ([]string, error) {
	text = strings.ToLower(norm.NFC.String(text))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		w = stripParticle(w)
		if utf8.RuneCountInString(w) < 2 || isNumeric(w) {
			continue
		}
		if _, stop := t.stopwords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens, nil
}

func stripParticle(w string) string {
	if !containsHangul(w) {
		return w
	}
	for _, p := range particles {
		if strings.HasSuffix(w, p) && utf8.RuneCountInString(w)-utf8.RuneCountInString(p) >= 2 {
			return strings.TrimSuffix(w, p)
		}
	}
	return w
}

func containsHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// TopTerms returns the n most frequent tokens, ties broken alphabetically.
func TopTerms(tokens []string, n int) []string {
	if n <= 0 || len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, tok := range tokens {
		counts[tok]++
	}
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
