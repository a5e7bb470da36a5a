// Package reader serves document text to the chat feature. It prefers cached
// content, refreshes stale content in the background and never returns a
// pipeline error to its caller.
package reader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/markdave123-py/Bookwise/internal/core/cache"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// ContentUnavailable is returned in place of an excerpt when the document
// could not be loaded.
const ContentUnavailable = "[The text of this book is currently unavailable. Answer from general knowledge and say that the book content could not be loaded.]"

// ContentLoader downloads and extracts a document.
type ContentLoader interface {
	Load(ctx context.Context, documentID, sourceURL, contentType string) (*models.ExtractedContent, error)
}

// Source tells where an excerpt came from.
type Source string

const (
	SourceSupplied    Source = "supplied"
	SourceCache       Source = "cache"
	SourceStaleCache  Source = "stale_cache"
	SourceFresh       Source = "fresh"
	SourceUnavailable Source = "unavailable"
)

// Query is one chat turn's request for context.
type Query struct {
	DocumentID  string
	SourceURL   string
	ContentType string
	Message     string
	// Content, when set, is used as-is and the cache is not consulted.
	Content string
	// Budget overrides the reader's excerpt budget when positive.
	Budget int
}

type Result struct {
	Excerpt string
	Source  Source
}

type Reader struct {
	cache          *cache.ContentCache
	loader         ContentLoader
	budget         int
	refreshTimeout time.Duration

	// loads collapses concurrent cold extractions of one document.
	loads singleflight.Group
	// refreshing marks documents with a background refresh in flight.
	refreshing sync.Map
	// dispatch runs background work; it must not block.
	dispatch func(func())
}

func New(c *cache.ContentCache, loader ContentLoader, budget int, refreshTimeout time.Duration) *Reader {
	if refreshTimeout <= 0 {
		refreshTimeout = 5 * time.Minute
	}
	return &Reader{
		cache:          c,
		loader:         loader,
		budget:         budget,
		refreshTimeout: refreshTimeout,
		dispatch:       func(f func()) { go f() },
	}
}

// Budget is the character budget of excerpts.
func (r *Reader) Budget() int {
	if r.budget <= 0 {
		return DefaultExcerptBudget
	}
	return r.budget
}

// GetContentForQuestion returns an excerpt relevant to q.Message. At most one
// synchronous extraction happens, and only when nothing is cached.
func (r *Reader) GetContentForQuestion(ctx context.Context, q Query) Result {
	budget := r.Budget()
	if q.Budget > 0 && q.Budget < budget {
		budget = q.Budget
	}
	if q.Content != "" {
		return Result{Excerpt: SelectExcerpt(q.Content, q.Message, budget), Source: SourceSupplied}
	}

	rec, err := r.cache.Get(ctx, q.DocumentID)
	if err != nil {
		log.Warn().Err(err).Str("document_id", q.DocumentID).Msg("content cache read failed, extracting")
	}
	if rec != nil {
		src := SourceCache
		if r.cache.Stale(rec) {
			src = SourceStaleCache
			r.refreshAsync(ctx, q)
		}
		return Result{Excerpt: SelectExcerpt(rec.Text, q.Message, budget), Source: src}
	}

	fresh, err := r.loadShared(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("document_id", q.DocumentID).Msg("on-demand extraction failed")
		return Result{Excerpt: ContentUnavailable, Source: SourceUnavailable}
	}
	return Result{Excerpt: SelectExcerpt(fresh.Text, q.Message, budget), Source: SourceFresh}
}

// loadShared runs one extraction per document for all concurrent cold
// callers. The extraction is detached from any single caller so a cancelled
// request does not fail the others; a cancelled caller stops waiting. The
// returned record is shared and must not be modified.
func (r *Reader) loadShared(ctx context.Context, q Query) (*models.ExtractedContent, error) {
	ch := r.loads.DoChan(q.DocumentID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
		defer cancel()

		rec, err := r.loader.Load(lctx, q.DocumentID, q.SourceURL, q.ContentType)
		if err != nil {
			return nil, err
		}
		stored := *rec
		r.storeAsync(ctx, &stored)
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.ExtractedContent), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refreshAsync re-extracts the document in the background. A document with
// a refresh already in flight is not dispatched again.
func (r *Reader) refreshAsync(ctx context.Context, q Query) {
	if _, busy := r.refreshing.LoadOrStore(q.DocumentID, struct{}{}); busy {
		return
	}
	bg := context.WithoutCancel(ctx)
	r.dispatch(func() {
		defer r.refreshing.Delete(q.DocumentID)

		rctx, cancel := context.WithTimeout(bg, r.refreshTimeout)
		defer cancel()

		rec, err := r.loader.Load(rctx, q.DocumentID, q.SourceURL, q.ContentType)
		if err != nil {
			log.Warn().Err(err).Str("document_id", q.DocumentID).Msg("background refresh failed")
			return
		}
		if err := r.cache.Put(rctx, rec); err != nil {
			log.Warn().Err(err).Str("document_id", q.DocumentID).Msg("background refresh not cached")
			return
		}
		log.Info().Str("document_id", q.DocumentID).Int("version", rec.Version).Msg("stale content refreshed")
	})
}

func (r *Reader) storeAsync(ctx context.Context, rec *models.ExtractedContent) {
	bg := context.WithoutCancel(ctx)
	r.dispatch(func() {
		rctx, cancel := context.WithTimeout(bg, r.refreshTimeout)
		defer cancel()
		if err := r.cache.Put(rctx, rec); err != nil {
			log.Warn().Err(err).Str("document_id", rec.DocumentID).Msg("could not cache on-demand extraction")
		}
	})
}
