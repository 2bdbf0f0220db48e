package types

// RecallResult pairs a recalled memory with its fused score and the raw
// per-signal breakdown that produced it, so consumers can debug recall
// quality from the result alone.
type RecallResult struct {
	Memory      StoredMemory `json:"memory"`
	FTSScore    float64      `json:"fts_score"`
	VectorScore float64      `json:"vector_score"`
	EntityScore float64      `json:"entity_score"`
	FinalScore  float64      `json:"final_score"`
}
