package analyzer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// tokenPattern recognizes, in priority order: dotted codes (f.2.1),
// hyphenated codes (w-200, a-36), letter-digit compounds (heb200, a36),
// numbers with an optional unit suffix (345mpa, 12.5mm) and plain words.
// Unit alternatives are ordered longest first so "mpa" is not cut at "m".
var tokenPattern = regexp.MustCompile(
	`[a-záéíóúñü]+(?:\.[0-9]+)+` +
		`|[a-záéíóúñü]+-[a-záéíóúñü0-9]+` +
		`|[a-záéíóúñü]+[0-9]+[a-záéíóúñü]*` +
		`|[0-9]+(?:\.[0-9]+)?(?:mpa|mm|cm2|cm3|cm4|cm|kn|kg|tn|m)?` +
		`|[a-záéíóúñü]+`,
)

// Tokenizer splits technical Spanish text into index terms.
type Tokenizer struct {
	stopwords map[string]struct{}
}

// NewTokenizer creates a Tokenizer with the default Spanish stopword list.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: defaultStopwords()}
}

// NewTokenizerWithStopwords creates a Tokenizer with a custom stopword list.
func NewTokenizerWithStopwords(stops []string) *Tokenizer {
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[strings.ToLower(s)] = struct{}{}
	}
	return &Tokenizer{stopwords: m}
}

// Tokenize lower-cases text and returns its terms in order of appearance.
// Stopwords and single-character tokens without a digit are dropped.
func (t *Tokenizer) Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]

	for _, tok := range matches {
		if _, isStop := t.stopwords[tok]; isStop {
			continue
		}
		if utf8.RuneCountInString(tok) <= 1 && !hasDigit(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}

	return tokens
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// defaultStopwords returns the Spanish stopword set.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "al", "algo", "ante", "con", "como", "cual", "cuando",
		"de", "del", "desde", "donde", "durante", "e", "el", "ella",
		"ellos", "en", "entre", "era", "esa", "ese", "eso", "esta",
		"este", "esto", "fue", "ha", "hay", "la", "las", "le", "les",
		"lo", "los", "mas", "me", "mi", "muy", "no", "nos", "o",
		"otra", "otro", "otros", "para", "pero", "por", "que", "se",
		"si", "sin", "sobre", "son", "su", "sus", "te", "ti", "tiene",
		"todo", "tu", "tus", "un", "una", "uno", "unos", "ya", "y",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
