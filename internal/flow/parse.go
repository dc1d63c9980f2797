package flow

import (
	"encoding/json"
	"strings"
)

// decodeModelJSON unmarshals a JSON object out of raw model output. Models
// occasionally wrap the object in markdown fences or surrounding prose, so the
// slice between the first '{' and the last '}' is what gets decoded.
func decodeModelJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return json.Unmarshal([]byte(s), v)
}
