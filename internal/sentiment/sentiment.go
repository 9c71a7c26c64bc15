// Package sentiment scores text tone with a bilingual keyword lexicon.
package sentiment

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	Positive     = "positive"
	Negative     = "negative"
	Neutral      = "neutral"
	NotMentioned = "not_mentioned"

	labelThreshold = 0.2
)

var ErrEmptyText = errors.New("text is empty")

var positiveKeywords = []string{
	"хорош", "отличн", "успех", "успеш", "рост", "положительн", "увеличени",
	"прибыл", "лидер", "преимуществ", "перспектив", "стабильн", "инноваци",
	"good", "great", "success", "growth", "positive", "increase",
	"profit", "leader", "advantage", "stable", "innovation",
}

var negativeKeywords = []string{
	"плох", "провал", "падени", "отрицательн", "снижени", "проблем",
	"кризис", "убыт", "риск", "угроз", "спад", "банкрот", "дефицит",
	"bad", "failure", "decline", "negative", "decrease", "problem",
	"crisis", "loss", "risk", "threat", "bankrupt",
}

type Result struct {
	Sentiment          string  `json:"sentiment"`
	Score              float64 `json:"score"`
	Confidence         float64 `json:"confidence"`
	PositiveIndicators int     `json:"positive_indicators"`
	NegativeIndicators int     `json:"negative_indicators"`
	TextLength         int     `json:"text_length"`
}

// Analyze counts distinct lexicon stems present in text. The score is
// (positive - negative) / total in [-1, 1]; labels use a ±0.2 band.
func Analyze(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	lower := strings.ToLower(text)
	positive := countStems(lower, positiveKeywords)
	negative := countStems(lower, negativeKeywords)

	result := Result{
		Sentiment:          Neutral,
		PositiveIndicators: positive,
		NegativeIndicators: negative,
		TextLength:         utf8.RuneCountInString(text),
	}
	total := positive + negative
	if total == 0 {
		return result, nil
	}
	result.Score = float64(positive-negative) / float64(total)
	result.Confidence = result.Score
	if result.Confidence < 0 {
		result.Confidence = -result.Confidence
	}
	switch {
	case result.Score > labelThreshold:
		result.Sentiment = Positive
	case result.Score < -labelThreshold:
		result.Sentiment = Negative
	}
	return result, nil
}

// AnalyzeAspects scores only the sentences that mention each aspect.
func AnalyzeAspects(text string, aspects []string) map[string]Result {
	sentences := splitSentences(text)
	out := make(map[string]Result, len(aspects))
	for _, aspect := range aspects {
		needle := strings.ToLower(strings.TrimSpace(aspect))
		if needle == "" {
			continue
		}
		var relevant []string
		for _, sentence := range sentences {
			if strings.Contains(strings.ToLower(sentence), needle) {
				relevant = append(relevant, sentence)
			}
		}
		if len(relevant) == 0 {
			out[aspect] = Result{Sentiment: NotMentioned}
			continue
		}
		result, err := Analyze(strings.Join(relevant, " "))
		if err != nil {
			out[aspect] = Result{Sentiment: NotMentioned}
			continue
		}
		out[aspect] = result
	}
	return out
}

func countStems(lower string, stems []string) int {
	count := 0
	for _, stem := range stems {
		if strings.Contains(lower, stem) {
			count++
		}
	}
	return count
}

func splitSentences(text string) []string {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := sentences[:0]
	for _, sentence := range sentences {
		if trimmed := strings.TrimFunc(sentence, unicode.IsSpace); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
