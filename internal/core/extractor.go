package core

import (
	"context"
)

// ExtractionResult is the normalized text of a document plus its structural metadata.
type ExtractionResult struct {
	Text        string
	PageCount   int
	WordCount   int
	ByteSize    int
	Fingerprint string
}

// DocumentExtractor converts raw document bytes into normalized text.
// The `contentType` hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractionResult, error)
}

// ContentFetcher retrieves raw document bytes from a source URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}
