package types

import "time"

// Relationship is a directed typed edge between two entities. The composite
// primary key is (FromEntityID, ToEntityID, Relation).
type Relationship struct {
	FromEntityID string    `json:"from_entity_id"`
	ToEntityID   string    `json:"to_entity_id"`
	Relation     string    `json:"relation"`
	Confidence   float64   `json:"confidence"`
	UpdatedAt    time.Time `json:"updated_at"`
}
