package brain

import (
	"encoding/json"
	"strings"
)

// parseDecision extracts the first JSON object from the model's reply
// and maps it onto a Decision. Missing action, absent JSON, or plain
// garbage all fail closed: the raw text is preserved for audit and the
// decision is routed to a human.
func parseDecision(content string) *Decision {
	raw := firstJSONObject(content)
	if raw == "" {
		return failClosed(content, "no JSON object in model response")
	}

	var parsed struct {
		Action           string         `json:"action"`
		Reasoning        string         `json:"reasoning"`
		Confidence       *float64       `json:"confidence"`
		RequiresApproval bool           `json:"requires_approval"`
		Data             map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return failClosed(content, "malformed JSON in model response")
	}
	if parsed.Action == "" {
		return failClosed(content, "model response missing action")
	}

	confidence := 0.0
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
	}

	return &Decision{
		Action:           parsed.Action,
		Reasoning:        parsed.Reasoning,
		Confidence:       confidence,
		RequiresApproval: parsed.RequiresApproval,
		Data:             parsed.Data,
		Raw:              content,
	}
}

// failClosed builds the error decision: never executed, always escalated.
func failClosed(raw, reason string) *Decision {
	return &Decision{
		Action:           ActionError,
		Reasoning:        reason,
		Confidence:       0,
		RequiresApproval: true,
		Raw:              raw,
	}
}

// firstJSONObject returns the first balanced {...} in s, honoring string
// literals and escapes, or "" when none exists.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
