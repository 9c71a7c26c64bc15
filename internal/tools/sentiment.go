package tools

import (
	"context"
	"fmt"

	"github.com/konard/RDmitryV-Trial-RDV/internal/sentiment"
)

const AnalyzeSentiment = "analyze_sentiment"

type AnalyzeSentimentTool struct{}

func NewAnalyzeSentimentTool() *AnalyzeSentimentTool {
	return &AnalyzeSentimentTool{}
}

func (t *AnalyzeSentimentTool) Name() string { return AnalyzeSentiment }

func (t *AnalyzeSentimentTool) Description() string {
	return "Analyze the sentiment and tone of text content. Use this to understand public opinion, review sentiment, or market mood."
}

func (t *AnalyzeSentimentTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The text content to analyze for sentiment",
			},
		},
		"required": []string{"text"},
	}
}

func (t *AnalyzeSentimentTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	text := stringArg(args, "text")
	result, err := sentiment.Analyze(text)
	if err != nil {
		return Failure("%v", err)
	}
	return Result{
		Success: true,
		Data: map[string]any{
			"sentiment":           result.Sentiment,
			"score":               result.Score,
			"positive_indicators": result.PositiveIndicators,
			"negative_indicators": result.NegativeIndicators,
			"text_length":         result.TextLength,
		},
		Findings: []Finding{{
			Category: "sentiment",
			Title:    fmt.Sprintf("Sentiment: %s", result.Sentiment),
			Content: fmt.Sprintf("Sentiment %s (score %.2f, %d positive and %d negative indicators) for: %s",
				result.Sentiment, result.Score, result.PositiveIndicators, result.NegativeIndicators, Truncate(text, 500)),
			Metadata: map[string]any{
				"score": result.Score,
			},
		}},
	}
}
