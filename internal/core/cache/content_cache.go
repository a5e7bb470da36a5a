// Package cache serves extracted document text with a staleness check and an
// optional hot layer in front of the persisted record.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// DefaultStalenessWindow is the age after which cached content is refreshed.
const DefaultStalenessWindow = 7 * 24 * time.Hour

// HotLayer is a byte cache keyed by document id. Get returns ErrCacheMiss
// when the key is absent.
type HotLayer interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ContentCache holds one ExtractedContent per document. The ContentStore is
// the source of truth; the hot layer only saves round trips to it.
type ContentCache struct {
	store  core.ContentStore
	hot    HotLayer
	window time.Duration
	now    func() time.Time
}

// New returns a cache over store. hot may be nil; a non-positive window uses
// DefaultStalenessWindow.
func New(store core.ContentStore, hot HotLayer, window time.Duration) *ContentCache {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	return &ContentCache{store: store, hot: hot, window: window, now: time.Now}
}

func (c *ContentCache) Window() time.Duration { return c.window }

// Get returns the cached content for documentID, or nil when there is none.
func (c *ContentCache) Get(ctx context.Context, documentID string) (*models.ExtractedContent, error) {
	if c.hot != nil {
		raw, err := c.hot.Get(ctx, documentID)
		switch {
		case err == nil:
			var rec models.ExtractedContent
			if jerr := json.Unmarshal(raw, &rec); jerr == nil {
				return &rec, nil
			}
			log.Warn().Str("document_id", documentID).Msg("discarding undecodable hot cache entry")
			_ = c.hot.Delete(ctx, documentID)
		case errors.Is(err, ErrCacheMiss):
		default:
			log.Warn().Err(err).Str("document_id", documentID).Msg("hot cache read failed, using store")
		}
	}

	rec, err := c.store.GetExtractedContent(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", documentID, err)
	}
	if rec != nil {
		c.warm(ctx, rec)
	}
	return rec, nil
}

// Put overwrites the record for content.DocumentID in one write. The store
// assigns the new version, which is written back into content.
func (c *ContentCache) Put(ctx context.Context, content *models.ExtractedContent) error {
	if content == nil || content.DocumentID == "" {
		return errors.New("cache put: content without document id")
	}
	if err := c.store.PutExtractedContent(ctx, content); err != nil {
		return fmt.Errorf("cache put %s: %w", content.DocumentID, err)
	}
	c.warm(ctx, content)

	log.Info().
		Str("document_id", content.DocumentID).
		Int("version", content.Version).
		Str("fingerprint", content.Fingerprint).
		Msg("extracted content cached")
	return nil
}

// Stale reports whether rec is older than the configured window.
func (c *ContentCache) Stale(rec *models.ExtractedContent) bool {
	return IsStale(rec, c.now(), c.window)
}

// IsStale reports whether now - rec.ExtractedAt exceeds window.
func IsStale(rec *models.ExtractedContent, now time.Time, window time.Duration) bool {
	if rec == nil {
		return false
	}
	return now.Sub(rec.ExtractedAt) > window
}

func (c *ContentCache) warm(ctx context.Context, rec *models.ExtractedContent) {
	if c.hot == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.hot.Set(ctx, rec.DocumentID, raw, c.window); err != nil {
		log.Warn().Err(err).Str("document_id", rec.DocumentID).Msg("hot cache write failed")
	}
}
