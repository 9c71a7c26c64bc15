package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sentiment"
	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const (
	levelHigh   = "high"
	levelMedium = "medium"
	levelLow    = "low"

	competitorCategory = "competitor"
)

type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

type Competitor struct {
	Name            string   `json:"name"`
	SourceURL       string   `json:"source_url,omitempty"`
	Similarity      float64  `json:"similarity"`
	MarketShare     *float64 `json:"market_share,omitempty"`
	Mentions        int      `json:"mentions"`
	Recognition     string   `json:"brand_recognition"`
	Sentiment       string   `json:"sentiment"`
	ThreatScore     float64  `json:"threat_score"`
	ThreatLevel     string   `json:"threat_level"`
	SWOT            SWOT     `json:"swot"`
	Advantages      []string `json:"key_advantages"`
	Vulnerabilities []string `json:"vulnerabilities"`
}

type Landscape struct {
	TotalCompetitors   int            `json:"total_competitors"`
	Competitors        []Competitor   `json:"competitors"`
	ThreatDistribution map[string]int `json:"threat_distribution"`
	MainCompetitors    []string       `json:"main_competitors"`
	Recommendations    []string       `json:"recommendations"`
}

// Competitive builds the landscape from competitor findings, one entry per
// distinct name. Every other finding that names a competitor counts as a
// mention and feeds its brand recognition and news sentiment.
func Competitive(productDescription string, findings []store.Finding) Landscape {
	landscape := Landscape{
		Competitors:        []Competitor{},
		ThreatDistribution: map[string]int{levelHigh: 0, levelMedium: 0, levelLow: 0},
		MainCompetitors:    []string{},
	}

	seen := map[string]struct{}{}
	for _, finding := range findings {
		if finding.Category != competitorCategory {
			continue
		}
		name := strings.TrimSpace(finding.Title)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		competitor := assessCompetitor(name, finding, productDescription, findings)
		landscape.Competitors = append(landscape.Competitors, competitor)
		landscape.ThreatDistribution[competitor.ThreatLevel]++
	}

	sort.SliceStable(landscape.Competitors, func(i, j int) bool {
		return landscape.Competitors[i].ThreatScore > landscape.Competitors[j].ThreatScore
	})
	for _, competitor := range landscape.Competitors {
		if competitor.ThreatLevel == levelHigh {
			landscape.MainCompetitors = append(landscape.MainCompetitors, competitor.Name)
		}
	}
	landscape.TotalCompetitors = len(landscape.Competitors)
	landscape.Recommendations = recommendations(landscape)
	return landscape
}

func assessCompetitor(name string, source store.Finding, productDescription string, findings []store.Finding) Competitor {
	competitor := Competitor{
		Name:            name,
		SourceURL:       source.SourceURL,
		Similarity:      math.Round(jaccard(productDescription, source.Content)*1000) / 1000,
		Sentiment:       sentiment.NotMentioned,
		Advantages:      []string{},
		Vulnerabilities: []string{},
	}

	needle := strings.ToLower(name)
	var coverage strings.Builder
	for _, finding := range findings {
		text := finding.Title + " " + finding.Content
		if !strings.Contains(strings.ToLower(text), needle) {
			continue
		}
		competitor.Mentions++
		if finding.Category != competitorCategory {
			coverage.WriteString(finding.Content)
			coverage.WriteString(". ")
		}
		if competitor.MarketShare == nil {
			if share, ok := firstPercent(finding.Content); ok {
				competitor.MarketShare = &share
			}
		}
	}
	if result, err := sentiment.Analyze(coverage.String()); err == nil {
		competitor.Sentiment = result.Sentiment
	}

	var share float64
	if competitor.MarketShare != nil {
		share = *competitor.MarketShare
	}
	competitor.Recognition = recognition(competitor.Mentions)

	score := competitor.Similarity*40 + share/100*30
	switch competitor.Recognition {
	case levelHigh:
		score += 20
	case levelMedium:
		score += 10
	}
	if competitor.Sentiment == sentiment.Positive {
		score += 10
	}
	competitor.ThreatScore = math.Round(score*10) / 10
	competitor.ThreatLevel = threatLevel(score)
	competitor.SWOT = swot(competitor, share)

	if share > 15 {
		competitor.Advantages = append(competitor.Advantages, "Лидерская позиция на рынке")
	}
	if competitor.Recognition == levelHigh {
		competitor.Advantages = append(competitor.Advantages, "Сильный бренд")
	}
	if competitor.Sentiment == sentiment.Negative {
		competitor.Vulnerabilities = append(competitor.Vulnerabilities, "Негативный новостной фон")
	}
	if competitor.MarketShare != nil && share < 5 {
		competitor.Vulnerabilities = append(competitor.Vulnerabilities, "Небольшая доля рынка")
	}
	return competitor
}

func recognition(mentions int) string {
	switch {
	case mentions >= 3:
		return levelHigh
	case mentions == 2:
		return levelMedium
	default:
		return levelLow
	}
}

func threatLevel(score float64) string {
	switch {
	case score > 70:
		return levelHigh
	case score > 40:
		return levelMedium
	default:
		return levelLow
	}
}

func swot(competitor Competitor, share float64) SWOT {
	result := SWOT{
		Strengths:     []string{},
		Weaknesses:    []string{},
		Opportunities: []string{},
		Threats:       []string{},
	}
	if share > 20 {
		result.Strengths = append(result.Strengths, "Значительная доля рынка")
	} else if share < 5 {
		result.Weaknesses = append(result.Weaknesses, "Небольшая доля рынка")
	}
	if competitor.Recognition == levelLow {
		result.Opportunities = append(result.Opportunities, "Наращивание узнаваемости бренда")
	} else {
		result.Strengths = append(result.Strengths, "Устоявшийся бренд")
	}
	switch competitor.Sentiment {
	case sentiment.Positive:
		result.Strengths = append(result.Strengths, "Положительные упоминания в СМИ")
	case sentiment.Negative:
		result.Threats = append(result.Threats, "Негативные упоминания в СМИ")
	}
	if competitor.Similarity > 0.3 {
		result.Threats = append(result.Threats, "Прямая конкуренция с похожим продуктом")
	}
	return result
}

func recommendations(landscape Landscape) []string {
	if landscape.TotalCompetitors == 0 {
		return []string{"Конкуренты не найдены. Рекомендуется дополнительный поиск по отрасли."}
	}
	var out []string
	if high := landscape.ThreatDistribution[levelHigh]; high > 0 {
		out = append(out, fmt.Sprintf("Выявлено %d сильных конкурентов. Рекомендуется четкое дифференцирование продукта.", high))
	}
	if landscape.ThreatDistribution[levelLow] > landscape.TotalCompetitors/2 {
		out = append(out, "Конкурентная среда благоприятна для входа на рынок. Рекомендуется активное наступление.")
	}
	if len(out) == 0 {
		out = append(out, "Конкуренция умеренная. Рекомендуется сфокусироваться на ключевых преимуществах продукта.")
	}
	return out
}
