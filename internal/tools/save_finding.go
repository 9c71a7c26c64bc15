package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/konard/RDmitryV-Trial-RDV/internal/store"
)

const SaveFinding = "save_finding"

type FindingSaver interface {
	AddFinding(ctx context.Context, finding store.Finding) error
}

type SaveFindingTool struct {
	saver    FindingSaver
	maxChars int
	now      func() time.Time
	newID    func() string
}

func NewSaveFindingTool(saver FindingSaver, maxChars int) *SaveFindingTool {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &SaveFindingTool{
		saver:    saver,
		maxChars: maxChars,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (t *SaveFindingTool) Name() string { return SaveFinding }

func (t *SaveFindingTool) Description() string {
	return "Save an important finding or insight discovered during research. Use this to store key information for the final report."
}

func (t *SaveFindingTool) Parameters() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"finding_type": map[string]any{
				"type":        "string",
				"description": "Type of finding (e.g., 'competitor', 'trend', 'statistic', 'insight')",
				"minLength":   1,
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Brief title for the finding",
				"minLength":   1,
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Detailed content of the finding",
				"minLength":   1,
			},
			"source_url": map[string]any{
				"type":        "string",
				"description": "Optional URL of the source",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Optional confidence between 0 and 1",
				"minimum":     0,
				"maximum":     1,
			},
			"metadata": map[string]any{
				"type":        "object",
				"description": "Optional additional metadata",
			},
		},
		"required": []string{"finding_type", "title", "content"},
	}
}

func (t *SaveFindingTool) Execute(ctx context.Context, run RunContext, args map[string]any) Result {
	if run.ResearchID == "" {
		return Failure("run has no research id")
	}
	metadata := map[string]any{}
	for key, value := range mapArg(args, "metadata") {
		metadata[key] = value
	}
	findingType := stringArg(args, "finding_type")
	metadata["finding_type"] = findingType
	metadata["agent_generated"] = true

	finding := Finding{
		ID:         t.newID(),
		Category:   findingType,
		Title:      stringArg(args, "title"),
		Content:    Truncate(stringArg(args, "content"), t.maxChars),
		SourceURL:  stringArg(args, "source_url"),
		Confidence: floatArg(args, "confidence"),
		Metadata:   metadata,
		Saved:      true,
	}
	record := store.Finding{
		ID:         finding.ID,
		ResearchID: run.ResearchID,
		RunID:      run.RunID,
		Step:       run.Step,
		Category:   finding.Category,
		Title:      finding.Title,
		Content:    finding.Content,
		SourceURL:  finding.SourceURL,
		Confidence: finding.Confidence,
		Metadata:   finding.Metadata,
		CreatedAt:  t.now().UTC().Format(time.RFC3339Nano),
	}
	if err := t.saver.AddFinding(ctx, record); err != nil {
		return Failure("save finding: %v", err)
	}
	return Result{
		Success: true,
		Data: map[string]any{
			"finding_id":   finding.ID,
			"finding_type": findingType,
			"title":        finding.Title,
		},
		Findings: []Finding{finding},
	}
}
