package consolidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                       `{"a":1}`,
		"```json\n{\"a\":1}\n```":         `{"a":1}`,
		"```\n{\"a\":1}\n```":             `{"a":1}`,
		"  ```json\n{\"a\":1}\n```  ":     `{"a":1}`,
		`{"a":1}` + "\n":                  `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, stripCodeFences(in), "input %q", in)
	}
}

func TestParseItems_Valid(t *testing.T) {
	raw := `{"items": [{"content": "c1", "category": "goal", "importance": 0.5, "action": "new"}]}`
	out, err := parseItems(raw)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "c1", out.Items[0].Content)
	assert.Equal(t, "goal", out.Items[0].Category)
}

func TestParseItems_FencedMarkdown(t *testing.T) {
	raw := "```json\n{\"items\": [{\"content\": \"c1\", \"category\": \"goal\", \"importance\": 0.5, \"action\": \"new\"}]}\n```"
	out, err := parseItems(raw)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
}

func TestParseItems_MalformedReturnsError(t *testing.T) {
	_, err := parseItems("not json at all")
	assert.ErrorIs(t, err, ErrLlmExtraction)
}

func TestParseDurable_Valid(t *testing.T) {
	raw := `{"facts": [{"content": "f1", "entities": [{"name": "Alice", "type": "person"}],
		"importance": 0.7, "conflict": null}], "relationships": [{"from": "Alice", "to": "Bob",
		"relation": "manages", "confidence": 0.9}]}`
	out, err := parseDurable(raw)
	require.NoError(t, err)
	require.Len(t, out.Facts, 1)
	assert.Equal(t, "f1", out.Facts[0].Content)
	assert.Equal(t, "Alice", out.Facts[0].Entities[0].Name)
	require.Len(t, out.Relationships, 1)
	assert.Equal(t, "manages", out.Relationships[0].Relation)
}

func TestParseDurable_MalformedReturnsError(t *testing.T) {
	_, err := parseDurable("{not valid")
	assert.ErrorIs(t, err, ErrLlmExtraction)
}
