package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedDecision = errors.New("malformed decision")

type Decision struct {
	Reasoning string
	Action    Action
}

type rawDecision struct {
	Reasoning string          `json:"reasoning"`
	Thought   string          `json:"thought"`
	Action    json.RawMessage `json:"action"`
	Tool      string          `json:"tool"`
	Arguments map[string]any  `json:"arguments"`
}

type rawNestedAction struct {
	Type      string         `json:"type"`
	Tool      string         `json:"tool"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseDecision reads a policy reply. Both {"action": "search_web",
// "arguments": {...}} and {"action": {"type": "tool_call", "tool": ...}} are
// accepted, optionally inside a ```json fence.
func ParseDecision(content string) (Decision, error) {
	body := extractJSON(content)
	if body == "" {
		return Decision{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedDecision)
	}
	var raw rawDecision
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	reasoning := strings.TrimSpace(raw.Reasoning)
	if reasoning == "" {
		reasoning = strings.TrimSpace(raw.Thought)
	}

	name, args, err := resolveAction(raw)
	if err != nil {
		return Decision{}, err
	}
	action, err := NewAction(name, args)
	if err != nil {
		return Decision{Reasoning: reasoning}, err
	}
	return Decision{Reasoning: reasoning, Action: action}, nil
}

func resolveAction(raw rawDecision) (string, map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw.Action))
	switch {
	case trimmed == "" || trimmed == "null":
		if raw.Tool != "" {
			return raw.Tool, raw.Arguments, nil
		}
		return "", nil, fmt.Errorf("%w: action is missing", ErrMalformedDecision)
	case strings.HasPrefix(trimmed, `"`):
		var name string
		if err := json.Unmarshal(raw.Action, &name); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
		}
		return name, raw.Arguments, nil
	case strings.HasPrefix(trimmed, "{"):
		var nested rawNestedAction
		if err := json.Unmarshal(raw.Action, &nested); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
		}
		args := nested.Arguments
		if args == nil {
			args = raw.Arguments
		}
		kind := strings.ToLower(strings.TrimSpace(nested.Type))
		if kind == "complete" || kind == ActionFinish {
			return ActionFinish, args, nil
		}
		name := nested.Tool
		if name == "" {
			name = nested.Name
		}
		if name == "" && kind != "tool_call" {
			name = kind
		}
		if name == "" {
			return "", nil, fmt.Errorf("%w: tool_call without tool", ErrMalformedDecision)
		}
		return name, args, nil
	default:
		return "", nil, fmt.Errorf("%w: unexpected action %s", ErrMalformedDecision, trimmed)
	}
}

// extractJSON returns the first fenced block if present, otherwise the span
// between the first '{' and the last '}'.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "```"); start >= 0 {
		rest := content[start+3:]
		if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
			lang := strings.TrimSpace(rest[:newline])
			if lang == "" || strings.EqualFold(lang, "json") {
				rest = rest[newline+1:]
			}
		}
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		if fenced := strings.TrimSpace(rest); strings.HasPrefix(fenced, "{") {
			return fenced
		}
	}
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
