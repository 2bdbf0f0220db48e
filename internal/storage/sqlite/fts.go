package sqlite

import (
	"regexp"
	"strings"
)

var nonWordRun = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// sanitizeFTSQuery turns arbitrary, possibly LLM-generated text into a
// syntactically valid FTS5 MATCH expression: non-word characters are
// dropped, surviving tokens are double-quoted (forcing literal
// interpretation so embedded FTS operators can't smuggle syntax in) and
// OR-joined to widen recall for merge-detection queries that share only a
// few key terms.
func sanitizeFTSQuery(query string) string {
	cleaned := nonWordRun.ReplaceAllString(query, " ")
	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
