package analysis

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const minWordRunes = 4

var stopWords = map[string]struct{}{
	"этот": {}, "этого": {}, "также": {}, "более": {}, "менее": {}, "очень": {},
	"которые": {}, "который": {}, "которая": {}, "после": {}, "через": {},
	"может": {}, "были": {}, "было": {}, "будет": {}, "году": {}, "года": {},
	"search": {}, "results": {}, "with": {}, "from": {}, "that": {}, "this": {},
	"have": {}, "will": {}, "were": {}, "about": {},
}

var percentPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)

// words are lowercase letter runs that are long enough and not stop words.
func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := fields[:0]
	for _, field := range fields {
		if utf8.RuneCountInString(field) < minWordRunes {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		out = append(out, field)
	}
	return out
}

// keyPhrases returns the distinct words and adjacent word pairs of text.
func keyPhrases(text string) []string {
	tokens := words(text)
	seen := make(map[string]struct{}, len(tokens)*2)
	phrases := make([]string, 0, len(tokens)*2)
	add := func(phrase string) {
		if _, ok := seen[phrase]; ok {
			return
		}
		seen[phrase] = struct{}{}
		phrases = append(phrases, phrase)
	}
	for i, token := range tokens {
		add(token)
		if i+1 < len(tokens) {
			add(token + " " + tokens[i+1])
		}
	}
	return phrases
}

func jaccard(a, b string) float64 {
	left := wordSet(a)
	right := wordSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	shared := 0
	for word := range left {
		if _, ok := right[word]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(left)+len(right)-shared)
}

func wordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, word := range words(text) {
		set[word] = struct{}{}
	}
	return set
}

// firstPercent reads the first "N%" figure in text, reporting false when
// there is none or it is outside [0, 100].
func firstPercent(text string) (float64, bool) {
	match := percentPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil || value < 0 || value > 100 {
		return 0, false
	}
	return value, true
}

// findingDate prefers the source date recorded in metadata over the time the
// finding was saved.
func findingDate(finding store.Finding) (time.Time, bool) {
	if raw, ok := finding.Metadata["date"].(string); ok {
		if parsed, ok := parseDate(raw); ok {
			return parsed, true
		}
	}
	return parseDate(finding.CreatedAt)
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
