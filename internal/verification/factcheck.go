package verification

import (
	"regexp"
	"strconv"
	"strings"
)

const IssueFailedFactCheck = "failed_fact_check"

const (
	StatementPercentage = "percentage"
	StatementMonetary   = "monetary"
	StatementGrowth     = "growth"
	StatementYear       = "year"
)

const (
	maxStatements      = 50
	factCheckPassRatio = 0.7
	minPlausibleYear   = 1900
)

type Statement struct {
	Kind      string  `json:"kind"`
	Text      string  `json:"text"`
	Value     float64 `json:"value"`
	Plausible bool    `json:"plausible"`
	Reason    string  `json:"reason,omitempty"`
}

type FactCheck struct {
	StatementsChecked int         `json:"statements_checked"`
	StatementsFlagged int         `json:"statements_flagged"`
	Passed            bool        `json:"passed"`
	Statements        []Statement `json:"statements,omitempty"`
}

// PlausibleRatio is the share of plausible statements, or false when the text
// contained nothing checkable.
func (f FactCheck) PlausibleRatio() (float64, bool) {
	if f.StatementsChecked == 0 {
		return 0, false
	}
	return float64(f.StatementsChecked-f.StatementsFlagged) / float64(f.StatementsChecked), true
}

const numberPattern = `(-?\d[\d.,]*)`

var (
	growthPattern   = regexp.MustCompile(`(?i)(рост\S*|вырос\S*|снизил\S*|упал\S*|снижени\S*|увеличени\S*|уменьшени\S*|сокращени\S*|падени\S*|growth|increase[sd]?|decrease[sd]?|decline[sd]?|grew|fell)\s+(?:на\s+|by\s+|of\s+)?` + numberPattern + `\s*(%|процент\S*|percent)`)
	percentPattern  = regexp.MustCompile(`(?i)` + numberPattern + `\s*(%|процент\S*|percent)`)
	monetaryPattern = regexp.MustCompile(`(?i)` + numberPattern + `\s*(тыс\.?|млн\.?|млрд\.?|трлн\.?|thousand|million|billion|trillion)\s*(руб\S*|долл\S*|евро|usd|rub|eur|dollars?|\$)`)
	yearPattern     = regexp.MustCompile(`(?i)(?:^|[\s(])(?:в|во|с|in|since)\s+(\d{3,5})\s*(?:году|годах|года|годы|год|г\.|year)`)
)

type span struct{ start, end int }

func (s span) overlaps(other span) bool {
	return s.start < other.end && other.start < s.end
}

// FactCheck extracts numeric statements from the text and flags the
// implausible ones: shares outside 0..100%, declines beyond 100%, years
// outside 1900..next year and numbers that do not parse.
func (s *Scorer) FactCheck(text string) FactCheck {
	maxYear := s.now().Year() + 1
	statements := make([]Statement, 0)
	var growthSpans []span

	for _, match := range growthPattern.FindAllStringSubmatchIndex(text, -1) {
		growthSpans = append(growthSpans, span{match[0], match[1]})
		raw := text[match[4]:match[5]]
		statement := Statement{Kind: StatementGrowth, Text: text[match[0]:match[1]]}
		value, ok := parseNumber(raw)
		switch {
		case !ok:
			statement.Reason = "unparseable number"
		case value < -100:
			statement.Value = value
			statement.Reason = "decline beyond 100%"
		default:
			statement.Value = value
			statement.Plausible = true
		}
		statements = append(statements, statement)
	}

	for _, match := range percentPattern.FindAllStringSubmatchIndex(text, -1) {
		current := span{match[0], match[1]}
		if overlapsAny(current, growthSpans) {
			continue
		}
		raw := text[match[2]:match[3]]
		statement := Statement{Kind: StatementPercentage, Text: text[match[0]:match[1]]}
		value, ok := parseNumber(raw)
		switch {
		case !ok:
			statement.Reason = "unparseable number"
		case value < 0 || value > 100:
			statement.Value = value
			statement.Reason = "share outside 0..100%"
		default:
			statement.Value = value
			statement.Plausible = true
		}
		statements = append(statements, statement)
	}

	for _, match := range monetaryPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[match[2]:match[3]]
		statement := Statement{Kind: StatementMonetary, Text: text[match[0]:match[1]]}
		value, ok := parseNumber(raw)
		switch {
		case !ok:
			statement.Reason = "unparseable number"
		case value < 0:
			statement.Value = value
			statement.Reason = "negative amount"
		default:
			statement.Value = value
			statement.Plausible = true
		}
		statements = append(statements, statement)
	}

	for _, match := range yearPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[match[2]:match[3]]
		statement := Statement{Kind: StatementYear, Text: strings.TrimSpace(text[match[0]:match[1]])}
		year, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			statement.Reason = "unparseable number"
		case year < minPlausibleYear || year > maxYear:
			statement.Value = float64(year)
			statement.Reason = "year out of range"
		default:
			statement.Value = float64(year)
			statement.Plausible = true
		}
		statements = append(statements, statement)
	}

	if len(statements) > maxStatements {
		statements = statements[:maxStatements]
	}

	result := FactCheck{StatementsChecked: len(statements), Statements: statements}
	for _, statement := range statements {
		if !statement.Plausible {
			result.StatementsFlagged++
		}
	}
	ratio, ok := result.PlausibleRatio()
	result.Passed = !ok || ratio >= factCheckPassRatio
	return result
}

func overlapsAny(current span, spans []span) bool {
	for _, other := range spans {
		if current.overlaps(other) {
			return true
		}
	}
	return false
}

// parseNumber accepts "25", "25.5", "25,5" and thousands groups like "1,250.5".
func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,")
	if raw == "" || raw == "-" {
		return 0, false
	}
	dots := strings.Count(raw, ".")
	commas := strings.Count(raw, ",")
	switch {
	case dots == 0 && commas == 1:
		raw = strings.Replace(raw, ",", ".", 1)
	case dots <= 1 && commas > 0:
		raw = strings.ReplaceAll(raw, ",", "")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
