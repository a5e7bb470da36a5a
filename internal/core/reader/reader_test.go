package reader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/cache"
	db "github.com/markdave123-py/Bookwise/internal/core/database"
	"github.com/markdave123-py/Bookwise/internal/models"
)

type fakeLoader struct {
	calls atomic.Int32
	text  string
	err   error
	gate  chan struct{}
}

func (f *fakeLoader) Load(ctx context.Context, documentID, _, _ string) (*models.ExtractedContent, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ExtractedContent{DocumentID: documentID, Text: f.text, ExtractedAt: time.Now()}, nil
}

// deferred collects dispatched work instead of running it.
type deferred struct {
	mu    sync.Mutex
	tasks []func()
}

func (d *deferred) dispatch(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, f)
}

func (d *deferred) runAll() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, f := range tasks {
		f()
	}
}

func setup(t *testing.T, loader *fakeLoader) (*Reader, *db.MemoryStore, *deferred) {
	t.Helper()
	store := db.NewMemoryStore()
	c := cache.New(store, nil, 7*24*time.Hour)
	r := New(c, loader, 100, time.Minute)
	d := &deferred{}
	r.dispatch = d.dispatch
	return r, store, d
}

func TestGetContent_SuppliedContentWins(t *testing.T) {
	loader := &fakeLoader{text: "from source"}
	r, store, d := setup(t, loader)
	require.NoError(t, store.PutExtractedContent(context.Background(), &models.ExtractedContent{
		DocumentID: "b", Text: "from cache", ExtractedAt: time.Now(),
	}))

	res := r.GetContentForQuestion(context.Background(), Query{DocumentID: "b", Content: "supplied text", Message: "q"})
	assert.Equal(t, SourceSupplied, res.Source)
	assert.Equal(t, "supplied text", res.Excerpt)
	assert.Zero(t, loader.calls.Load())
	assert.Empty(t, d.tasks)
}

func TestGetContent_FreshCacheHit(t *testing.T) {
	loader := &fakeLoader{text: "from source"}
	r, store, d := setup(t, loader)
	require.NoError(t, store.PutExtractedContent(context.Background(), &models.ExtractedContent{
		DocumentID: "b", Text: "cached text", ExtractedAt: time.Now().Add(-time.Hour),
	}))

	res := r.GetContentForQuestion(context.Background(), Query{DocumentID: "b", Message: "q"})
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "cached text", res.Excerpt)
	assert.Zero(t, loader.calls.Load())
	assert.Empty(t, d.tasks)
}

func TestGetContent_StaleServesCacheAndDispatchesOneRefresh(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{text: "refreshed text"}
	r, store, d := setup(t, loader)
	require.NoError(t, store.PutExtractedContent(ctx, &models.ExtractedContent{
		DocumentID: "b", Text: "old cached text", ExtractedAt: time.Now().Add(-8 * 24 * time.Hour),
	}))

	res := r.GetContentForQuestion(ctx, Query{DocumentID: "b", SourceURL: "https://x/y.pdf", Message: "q"})
	assert.Equal(t, SourceStaleCache, res.Source)
	assert.Equal(t, "old cached text", res.Excerpt)
	require.Len(t, d.tasks, 1)
	assert.Zero(t, loader.calls.Load(), "the caller does not wait for the refresh")

	d.runAll()
	assert.EqualValues(t, 1, loader.calls.Load())

	rec, err := store.GetExtractedContent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "refreshed text", rec.Text)
	assert.Equal(t, 2, rec.Version)
}

func TestGetContent_RefreshInFlightIsNotDispatchedAgain(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{text: "refreshed"}
	r, store, d := setup(t, loader)
	require.NoError(t, store.PutExtractedContent(ctx, &models.ExtractedContent{
		DocumentID: "b", Text: "old", ExtractedAt: time.Now().Add(-30 * 24 * time.Hour),
	}))

	for i := 0; i < 3; i++ {
		res := r.GetContentForQuestion(ctx, Query{DocumentID: "b", Message: "q"})
		assert.Equal(t, SourceStaleCache, res.Source)
	}
	require.Len(t, d.tasks, 1)

	d.runAll()
	assert.EqualValues(t, 1, loader.calls.Load())

	res := r.GetContentForQuestion(ctx, Query{DocumentID: "b", Message: "q"})
	assert.Equal(t, SourceCache, res.Source)
	assert.Empty(t, d.tasks)
}

func TestGetContent_ConcurrentColdLoadsShareExtraction(t *testing.T) {
	loader := &fakeLoader{text: "fresh", gate: make(chan struct{})}
	r, _, _ := setup(t, loader)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetContentForQuestion(context.Background(), Query{DocumentID: "b", Message: "q"})
		}(i)
	}

	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the second caller time to join the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, SourceFresh, res.Source)
		assert.Equal(t, "fresh", res.Excerpt)
	}
	assert.LessOrEqual(t, loader.calls.Load(), int32(2))
}

func TestGetContent_ConcurrentColdLoadsCacheOnce(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{text: "fresh", gate: make(chan struct{})}
	store := db.NewMemoryStore()
	r := New(cache.New(store, nil, 7*24*time.Hour), loader, 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.GetContentForQuestion(ctx, Query{DocumentID: "b", Message: "q"})
			assert.Equal(t, SourceFresh, res.Source)
		}()
	}

	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	require.Eventually(t, func() bool {
		rec, err := store.GetExtractedContent(ctx, "b")
		return err == nil && rec != nil
	}, time.Second, time.Millisecond)
	// Let any extra writes land before checking the version.
	time.Sleep(20 * time.Millisecond)

	rec, err := store.GetExtractedContent(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestGetContent_CancelledCallerDoesNotFailOthers(t *testing.T) {
	loader := &fakeLoader{text: "fresh", gate: make(chan struct{})}
	r, _, _ := setup(t, loader)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan Result, 1)
	go func() {
		first <- r.GetContentForQuestion(firstCtx, Query{DocumentID: "b", Message: "q"})
	}()
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		second <- r.GetContentForQuestion(context.Background(), Query{DocumentID: "b", Message: "q"})
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.Equal(t, SourceUnavailable, (<-first).Source)

	close(loader.gate)
	res := <-second
	assert.Equal(t, SourceFresh, res.Source)
	assert.Equal(t, "fresh", res.Excerpt)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestGetContent_ColdExtractsOnceAndCachesAsync(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{text: "fresh text"}
	r, store, d := setup(t, loader)

	res := r.GetContentForQuestion(ctx, Query{DocumentID: "b", SourceURL: "https://x/y.pdf", Message: "q"})
	assert.Equal(t, SourceFresh, res.Source)
	assert.Equal(t, "fresh text", res.Excerpt)
	assert.EqualValues(t, 1, loader.calls.Load())

	rec, err := store.GetExtractedContent(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, rec, "cache write happens in the background")

	d.runAll()
	rec, err = store.GetExtractedContent(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fresh text", rec.Text)

	res = r.GetContentForQuestion(ctx, Query{DocumentID: "b", Message: "q"})
	assert.Equal(t, SourceCache, res.Source)
	assert.EqualValues(t, 1, loader.calls.Load())
}

func TestGetContent_ColdFailureDegrades(t *testing.T) {
	loader := &fakeLoader{err: &core.FetchError{URL: "https://x/y.pdf", Cause: errors.New("timeout")}}
	r, _, d := setup(t, loader)

	res := r.GetContentForQuestion(context.Background(), Query{DocumentID: "b", SourceURL: "https://x/y.pdf"})
	assert.Equal(t, SourceUnavailable, res.Source)
	assert.Equal(t, ContentUnavailable, res.Excerpt)
	assert.Empty(t, d.tasks)
}

func TestSelectExcerpt(t *testing.T) {
	t.Run("short text is returned whole", func(t *testing.T) {
		assert.Equal(t, "tiny", SelectExcerpt("tiny", "anything", 100))
	})

	t.Run("relevant paragraphs in document order", func(t *testing.T) {
		text := strings.Join([]string{
			"The whale surfaced near the ship.",
			strings.Repeat("filler ", 20),
			"Ahab swore revenge on the whale.",
			strings.Repeat("padding ", 20),
		}, "\n\n")
		got := SelectExcerpt(text, "What did Ahab think of the whale?", 80)

		assert.LessOrEqual(t, len([]rune(got)), 80)
		assert.Equal(t, "The whale surfaced near the ship.\n\nAhab swore revenge on the whale.", got)
	})

	t.Run("no keyword match falls back to the head", func(t *testing.T) {
		text := strings.Repeat("abcdefghij", 10)
		assert.Equal(t, text[:25], SelectExcerpt(text, "zebra", 25))
	})

	t.Run("oversized best paragraph is truncated", func(t *testing.T) {
		text := strings.Repeat("whale ", 50) + "\n\nother"
		got := SelectExcerpt(text, "whale", 30)
		assert.Len(t, []rune(got), 30)
	})
}
