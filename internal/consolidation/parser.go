package consolidation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityExtraction is one entity named inside a DurableExtraction fact.
type EntityExtraction struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FactExtraction is one durable fact/preference/knowledge item extracted by
// the LLM.
type FactExtraction struct {
	Content    string             `json:"content"`
	Category   string             `json:"category"`
	Entities   []EntityExtraction `json:"entities"`
	Importance float64            `json:"importance"`
	Conflict   string             `json:"conflict"`
}

// RelationshipExtraction is one directed edge extracted by the LLM.
type RelationshipExtraction struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// DurableExtraction is DurableMemory's LLM response schema.
type DurableExtraction struct {
	Facts         []FactExtraction         `json:"facts"`
	Relationships []RelationshipExtraction `json:"relationships"`
}

// ItemExtraction is one task/environmental item extracted by the LLM.
type ItemExtraction struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
	Action     string  `json:"action"`
}

// ItemExtractionResponse is TaskMemory's and EnvironmentalMemory's LLM
// response schema.
type ItemExtractionResponse struct {
	Items []ItemExtraction `json:"items"`
}

// stripCodeFences removes a leading/trailing markdown code fence
// (```json ... ``` or ``` ... ```) if present, so a model that wraps its
// JSON in prose formatting still parses.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(s[:nl])
		// Drop a language tag like "json" on the fence's opening line.
		if firstLine == "" || isLanguageTag(firstLine) {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return len(s) > 0
}

// parseDurable parses a DurableMemory LLM response. On malformed JSON the
// caller must skip the whole batch; partial writes are never made.
func parseDurable(raw string) (*DurableExtraction, error) {
	cleaned := stripCodeFences(raw)
	var out DurableExtraction
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLlmExtraction, err)
	}
	return &out, nil
}

// parseItems parses a TaskMemory/EnvironmentalMemory LLM response.
func parseItems(raw string) (*ItemExtractionResponse, error) {
	cleaned := stripCodeFences(raw)
	var out ItemExtractionResponse
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLlmExtraction, err)
	}
	return &out, nil
}
