package scenario

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Generative models wrap JSON in markdown fences or prose more often than
// not, so decoding is a salvage operation: strip fences, pattern-match the
// first JSON-looking substring, and report failure instead of erroring.
var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("(?m)\\s*```\\s*$")
	jsonArrayRe  = regexp.MustCompile(`(?s)\[.*?\]`)
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = fenceOpenRe.ReplaceAllString(text, "")
	text = fenceCloseRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// decodeArray finds and decodes the first bracketed JSON array in freeform
// model output. The second return reports whether a decodable array was found.
func decodeArray(text string, v any) bool {
	cleaned := stripFences(text)
	match := jsonArrayRe.FindString(cleaned)
	if match == "" {
		return false
	}
	return json.Unmarshal([]byte(match), v) == nil
}

// decodeObject finds and decodes the outermost braced JSON object in freeform
// model output. The match is greedy so nested objects stay inside it.
func decodeObject(text string, v any) bool {
	cleaned := stripFences(text)
	match := jsonObjectRe.FindString(cleaned)
	if match == "" {
		return false
	}
	return json.Unmarshal([]byte(match), v) == nil
}
