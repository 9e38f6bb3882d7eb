package insight

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"slurmsage/internal/types"
)

// observation mirrors one entry of the model's findings array.
type observation struct {
	RuleID     string `json:"rule_id"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	LineNumber int    `json:"line_number"`
	Category   string `json:"category"`
}

type modelResponse struct {
	Findings []observation `json:"findings"`
}

var jsonBlockPattern = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)

// extractJSON pulls the JSON payload out of a model response. Models wrap
// JSON in markdown fences more often than not, sometimes without a closing
// fence, sometimes with prose around a bare object.
func extractJSON(response string) string {
	if i := strings.Index(response, "```json"); i != -1 {
		rest := response[i+len("```json"):]
		if j := strings.Index(rest, "```"); j != -1 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(response, "```"); i != -1 {
		rest := response[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j != -1 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	if m := jsonBlockPattern.FindString(response); m != "" {
		return m
	}
	return trimmed
}

// parseObservations decodes the response into observation entries. An
// explicit empty findings array is a clean no-op, not a parse failure.
// Both the documented object form and a bare array are accepted.
func parseObservations(response string) ([]observation, error) {
	payload := extractJSON(response)

	var doc modelResponse
	if err := json.Unmarshal([]byte(payload), &doc); err == nil && doc.Findings != nil {
		return doc.Findings, nil
	}

	var list []observation
	if err := json.Unmarshal([]byte(payload), &list); err == nil {
		return list, nil
	}

	return nil, fmt.Errorf("response carries no observation JSON")
}

func normalizeSeverity(s string) types.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "critical":
		return types.SeverityError
	case "warning", "warn":
		return types.SeverityWarning
	default:
		return types.SeverityInfo
	}
}

var nonSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := nonSlugPattern.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}
