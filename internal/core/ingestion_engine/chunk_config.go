package ingestion_engine

// ChunkConfig tunes the streaming chunker used by the embedding stage.
//
// TargetTokens:   approximate tokens per chunk (e.g., 500).
// OverlapTokens:  token overlap between consecutive chunks for context bleed (e.g., 50).
// BatchSize:      how many chunks to embed/write in one batch (e.g., 32).
type ChunkConfig struct {
	TargetTokens  int
	OverlapTokens int
	BatchSize     int
}

// DefaultChunkConfig returns the tuning used in production.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{TargetTokens: 400, OverlapTokens: 40, BatchSize: 16}
}

// Chunk is the unit passed from the chunker to the embedder.
//
// Pos:      stable, zero-based position of the chunk inside the document.
// Text:     chunk content (built from one or more fragments).
// TokenCnt: approximate token count (used for batching and overlap math).
type Chunk struct {
	Pos      int
	Text     string
	TokenCnt int
}
