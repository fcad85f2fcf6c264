package utils

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// ParseJSONResponse attempts to parse a string response as a JSON object.
func ParseJSONResponse(response string) (map[string]any, error) {
	var result map[string]any
	err := json.Unmarshal([]byte(response), &result)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidResponse, "failed to parse JSON"),
			errors.Fields{
				"error_type":   "json_parse_error",
				"data_preview": TruncateString(response, 100),
				"data_length":  len(response),
			})
	}
	if result == nil {
		return nil, errors.WithFields(
			errors.New(errors.InvalidResponse, "JSON value is not an object"),
			errors.Fields{"data_preview": TruncateString(response, 100)},
		)
	}
	return result, nil
}

// TruncateString shortens s to maxLen bytes, marking the cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl != -1 && !strings.ContainsAny(s[:nl], "{[\"") {
			// Language tag such as "json".
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// EscapeInvalidBackslashes doubles every backslash that does not start a
// JSON escape, so LaTeX such as \int survives decoding. Valid escapes are
// kept as-is, which means a literal "\n" in LaTeX (e.g. \nabla) still
// decodes as a newline.
func EscapeInvalidBackslashes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 < len(s) && strings.IndexByte(`u"\/bfnrt`, s[i+1]) != -1 {
			sb.WriteByte(c)
			sb.WriteByte(s[i+1])
			i++
			continue
		}
		sb.WriteString(`\\`)
	}
	return sb.String()
}

// RepairJSON fixes common generation defects (trailing commas, single
// quotes, missing brackets) and parses the result as an object.
func RepairJSON(s string) (map[string]any, error) {
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.InvalidResponse, "failed to repair JSON"),
			errors.Fields{"data_preview": TruncateString(s, 100)},
		)
	}
	return ParseJSONResponse(fixed)
}
