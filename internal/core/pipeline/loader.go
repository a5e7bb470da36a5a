package pipeline

import (
	"context"
	"time"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// Loader turns a source URL into ExtractedContent. It is shared by the job
// pipeline and the consumer read path so both produce identical records.
type Loader struct {
	fetcher   core.ContentFetcher
	extractor core.DocumentExtractor
	now       func() time.Time
}

func NewLoader(fetcher core.ContentFetcher, extractor core.DocumentExtractor) *Loader {
	return &Loader{fetcher: fetcher, extractor: extractor, now: time.Now}
}

func (l *Loader) Download(ctx context.Context, sourceURL string) ([]byte, error) {
	return l.fetcher.Fetch(ctx, sourceURL)
}

// Extract converts data into a complete ExtractedContent record. Version is
// left for the store to assign.
func (l *Loader) Extract(ctx context.Context, documentID, contentType string, data []byte) (*models.ExtractedContent, error) {
	res, err := l.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, err
	}
	return &models.ExtractedContent{
		DocumentID:  documentID,
		Text:        res.Text,
		Fingerprint: res.Fingerprint,
		PageCount:   res.PageCount,
		WordCount:   res.WordCount,
		ByteSize:    res.ByteSize,
		ExtractedAt: l.now().UTC(),
	}, nil
}

// Load downloads and extracts in one call.
func (l *Loader) Load(ctx context.Context, documentID, sourceURL, contentType string) (*models.ExtractedContent, error) {
	data, err := l.Download(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return l.Extract(ctx, documentID, contentType, data)
}
