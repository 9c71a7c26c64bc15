package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const (
	DirectionGrowing   = "growing"
	DirectionDeclining = "declining"
	DirectionEmerging  = "emerging"
	DirectionStable    = "stable"

	minTrendFrequency = 2
	maxTrends         = 20
	topicsInSummary   = 3
)

type Trend struct {
	Phrase       string  `json:"phrase"`
	Frequency    int     `json:"frequency"`
	GrowthRate   float64 `json:"growth_rate"`
	Direction    string  `json:"direction"`
	Score        float64 `json:"significance_score"`
	Significance string  `json:"significance"`
}

type TrendReport struct {
	Industry      string  `json:"industry"`
	FindingsCount int     `json:"findings_count"`
	Trends        []Trend `json:"trends"`
	Summary       string  `json:"summary"`
}

// Trends ranks the phrases mentioned by at least two findings. Frequency
// counts findings, not occurrences.
func Trends(industry string, findings []store.Finding) TrendReport {
	report := TrendReport{Industry: industry, FindingsCount: len(findings), Trends: []Trend{}}

	mentions := map[string][]time.Time{}
	counts := map[string]int{}
	for _, finding := range findings {
		date, dated := findingDate(finding)
		for _, phrase := range keyPhrases(finding.Title + " " + finding.Content) {
			counts[phrase]++
			if dated {
				mentions[phrase] = append(mentions[phrase], date)
			}
		}
	}

	for phrase, count := range counts {
		if count < minTrendFrequency {
			continue
		}
		growth := growthRate(mentions[phrase])
		score := float64(count)*0.6 + growth*10*0.4
		report.Trends = append(report.Trends, Trend{
			Phrase:       phrase,
			Frequency:    count,
			GrowthRate:   math.Round(growth*1000) / 1000,
			Direction:    direction(growth),
			Score:        math.Round(score*100) / 100,
			Significance: significance(score),
		})
	}
	sort.Slice(report.Trends, func(i, j int) bool {
		left, right := report.Trends[i], report.Trends[j]
		if left.Frequency != right.Frequency {
			return left.Frequency > right.Frequency
		}
		if left.Score != right.Score {
			return left.Score > right.Score
		}
		return left.Phrase < right.Phrase
	})
	if len(report.Trends) > maxTrends {
		report.Trends = report.Trends[:maxTrends]
	}
	report.Summary = trendSummary(report.Trends)
	return report
}

// growthRate compares mentions in the later half of the observed time span
// with the earlier half. A span of zero carries no signal and yields 0.
func growthRate(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	sorted := append([]time.Time(nil), dates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	first, last := sorted[0], sorted[len(sorted)-1]
	if !last.After(first) {
		return 0
	}
	mid := first.Add(last.Sub(first) / 2)
	var early, late int
	for _, date := range sorted {
		if date.After(mid) {
			late++
		} else {
			early++
		}
	}
	return float64(late-early) / float64(early)
}

func direction(growth float64) string {
	switch {
	case growth > 0.5:
		return DirectionGrowing
	case growth < -0.3:
		return DirectionDeclining
	case growth > 0.1:
		return DirectionEmerging
	default:
		return DirectionStable
	}
}

func significance(score float64) string {
	switch {
	case score > 20:
		return levelHigh
	case score > 10:
		return levelMedium
	default:
		return levelLow
	}
}

func trendSummary(trends []Trend) string {
	if len(trends) == 0 {
		return "Недостаточно данных для анализа трендов."
	}
	var summary strings.Builder
	fmt.Fprintf(&summary, "Основной тренд: '%s' (частота: %d). ", trends[0].Phrase, trends[0].Frequency)
	var growing []string
	for _, trend := range trends {
		if trend.Direction == DirectionGrowing {
			growing = append(growing, trend.Phrase)
		}
		if len(growing) == topicsInSummary {
			break
		}
	}
	if len(growing) > 0 {
		fmt.Fprintf(&summary, "Растущие тренды: %s.", strings.Join(growing, ", "))
	}
	return strings.TrimSpace(summary.String())
}
