package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sources"
)

const GetStatistics = "get_statistics"

type StatisticsSource interface {
	Indicator(ctx context.Context, metric string, region string) (sources.Statistics, error)
}

type GetStatisticsTool struct {
	stats StatisticsSource
}

func NewGetStatisticsTool(stats StatisticsSource) *GetStatisticsTool {
	return &GetStatisticsTool{stats: stats}
}

func (t *GetStatisticsTool) Name() string { return GetStatistics }

func (t *GetStatisticsTool) Description() string {
	return "Get statistical data and market metrics for a specific region. Use this to find population, GDP, growth rates, inflation and other quantitative data."
}

func (t *GetStatisticsTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"metric": map[string]any{
				"type":        "string",
				"description": "The metric to retrieve: " + strings.Join(sources.SupportedMetrics(), ", "),
				"minLength":   1,
			},
			"region": map[string]any{
				"type":        "string",
				"description": "The region code or name",
				"minLength":   1,
			},
		},
		"required": []string{"metric", "region"},
	}
}

func (t *GetStatisticsTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	metric := stringArg(args, "metric")
	region := stringArg(args, "region")
	stats, err := t.stats.Indicator(ctx, metric, region)
	if err != nil {
		result := Result{Success: false, Error: err.Error(), Data: map[string]any{"metric": metric, "region": region}}
		var unsupportedMetric sources.UnsupportedMetricError
		var unsupportedRegion sources.UnsupportedRegionError
		if errors.As(err, &unsupportedMetric) || errors.As(err, &unsupportedRegion) {
			result.Data["message"] = "No data available for this metric and region. Consider using web search instead."
		}
		return result
	}

	lines := make([]string, 0, len(stats.Values))
	for _, point := range stats.Values {
		lines = append(lines, point.Year+": "+strconv.FormatFloat(point.Value, 'f', -1, 64))
	}
	content := fmt.Sprintf("%s, %s (%s)\n%s", stats.Name, stats.Country, stats.Source, strings.Join(lines, "\n"))
	latest := stats.Values[0]
	return Result{
		Success: true,
		Data: map[string]any{
			"metric":    stats.Metric,
			"region":    stats.Region,
			"indicator": stats.Indicator,
			"values":    stats.Values,
			"source":    stats.Source,
		},
		Findings: []Finding{{
			Category:  "statistics",
			Title:     fmt.Sprintf("%s: %s", stats.Name, stats.Country),
			Content:   content,
			SourceURL: fmt.Sprintf("https://data.worldbank.org/indicator/%s", stats.Indicator),
			Metadata: map[string]any{
				"metric":           stats.Metric,
				"indicator":        stats.Indicator,
				"date":             latest.Year + "-12-31",
				"latest_value":     latest.Value,
				"publication_date": latest.Year + "-12-31",
			},
		}},
	}
}
