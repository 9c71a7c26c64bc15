package verification

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const IssueOutdatedContent = "outdated_content"

const defaultFreshnessThreshold = 180

var freshnessThresholds = map[string]int{
	"market_data":  30,
	"market_stats": 30,
	"news":         90,
	"statistics":   365,
	"research":     730,
	"general":      defaultFreshnessThreshold,
}

const (
	DateFromMetadata  = "metadata"
	DateFromText      = "text"
	DateFromCollected = "collected"
)

type Freshness struct {
	IsFresh       bool      `json:"is_fresh"`
	AgeDays       int       `json:"age_days"`
	ThresholdDays int       `json:"threshold_days"`
	Score         float64   `json:"score"`
	ContentDate   time.Time `json:"content_date"`
	DateSource    string    `json:"date_source"`
	Warning       string    `json:"warning,omitempty"`
}

// ThresholdDays returns the maximum age in days at which data of the category
// is still considered fresh.
func ThresholdDays(category string) int {
	if days, ok := freshnessThresholds[strings.ToLower(strings.TrimSpace(category))]; ok {
		return days
	}
	return defaultFreshnessThreshold
}

// CheckFreshness dates the item and compares its age with the category threshold.
func (s *Scorer) CheckFreshness(item Item, category string) Freshness {
	if category == "" {
		category = item.Category
	}
	threshold := ThresholdDays(category)
	now := s.now()

	contentDate, source := contentDate(item, now)
	days := int(now.Sub(contentDate).Hours() / 24)
	if days < 0 {
		days = 0
	}

	result := Freshness{
		IsFresh:       days <= threshold,
		AgeDays:       days,
		ThresholdDays: threshold,
		Score:         freshnessScore(days, threshold),
		ContentDate:   contentDate,
		DateSource:    source,
	}
	if !result.IsFresh {
		result.Warning = fmt.Sprintf("Data is %d days old, exceeds threshold of %d days", days, threshold)
	}
	return result
}

func freshnessScore(days int, threshold int) float64 {
	if days <= 0 {
		return 1
	}
	limit := 2 * threshold
	if limit <= 0 || days >= limit {
		return 0
	}
	return clamp01(1 - float64(days)/float64(limit))
}

func contentDate(item Item, now time.Time) (time.Time, string) {
	for _, key := range []string{"publication_date", "date"} {
		if value, ok := item.Metadata[key]; ok {
			if parsed, ok := parseDateValue(value); ok {
				return parsed, DateFromMetadata
			}
		}
	}
	if parsed, ok := dateFromText(item.Content); ok {
		return parsed, DateFromText
	}
	if !item.CollectedAt.IsZero() {
		return item.CollectedAt, DateFromCollected
	}
	return now, DateFromCollected
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"2006/01/02",
	"January 2, 2006",
	"2 January 2006",
}

func parseDateValue(value any) (time.Time, bool) {
	switch typed := value.(type) {
	case time.Time:
		return typed, !typed.IsZero()
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, trimmed); err == nil {
				return parsed, true
			}
		}
		if year, err := strconv.Atoi(trimmed); err == nil && year >= 1900 && year <= 9999 {
			return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), true
		}
		return dateFromText(trimmed)
	default:
		return time.Time{}, false
	}
}

var (
	isoDatePattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDatePattern  = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`)
	russianDatePattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)\s+(\d{4})\b`)
)

var russianMonths = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

// dateFromText returns the first date found in the text, trying ISO dates,
// then DD.MM.YYYY, then "15 января 2024".
func dateFromText(text string) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	for _, match := range isoDatePattern.FindAllStringSubmatch(text, -1) {
		if parsed, ok := buildDate(match[1], match[2], match[3]); ok {
			return parsed, true
		}
	}
	for _, match := range dottedDatePattern.FindAllStringSubmatch(text, -1) {
		if parsed, ok := buildDate(match[3], match[2], match[1]); ok {
			return parsed, true
		}
	}
	for _, match := range russianDatePattern.FindAllStringSubmatch(text, -1) {
		month, ok := russianMonths[strings.ToLower(match[2])]
		if !ok {
			continue
		}
		if parsed, ok := buildDate(match[3], strconv.Itoa(int(month)), match[1]); ok {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func buildDate(yearText, monthText, dayText string) (time.Time, bool) {
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(monthText)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayText)
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return time.Time{}, false
	}
	return date, true
}
