// Package enrichment derives AI artifacts from extracted document text.
// Each stage generates its artifact and persists it; stages are independent
// of each other and are safe to re-run.
package enrichment

import (
	"context"
	"unicode/utf8"

	"github.com/markdave123-py/Bookwise/internal/models"
)

// Usage reports what a stage produced, for job metrics.
type Usage struct {
	// Items is the number of artifacts produced (pairs, embeddings, or 1 for a summary).
	Items int
	// Chars is the length of generated text, where meaningful.
	Chars int
}

// Stage is one best-effort enrichment step.
type Stage interface {
	Name() models.Stage
	Run(ctx context.Context, book *models.Book, text string) (Usage, error)
}

// FailureRecorder is implemented by stages that persist a failure marker
// once their retries are exhausted.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, book *models.Book, err error)
}

// headRunes returns at most n runes from the start of s.
func headRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
