package types

// Entity is a named node in the knowledge graph. Upsert is by name,
// case-insensitively.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}
