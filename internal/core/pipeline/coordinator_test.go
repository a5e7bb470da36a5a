package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/cache"
	db "github.com/markdave123-py/Bookwise/internal/core/database"
	"github.com/markdave123-py/Bookwise/internal/core/enrichment"
	"github.com/markdave123-py/Bookwise/internal/core/queue"
	"github.com/markdave123-py/Bookwise/internal/core/retry"
	"github.com/markdave123-py/Bookwise/internal/models"
)

type fakeFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type fakeExtractor struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (*core.ExtractionResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &core.ExtractionResult{
		Text:        f.text,
		PageCount:   3,
		WordCount:   len(f.text) / 5,
		ByteSize:    len(f.text),
		Fingerprint: "fp-" + f.text,
	}, nil
}

type fakeStage struct {
	name  models.Stage
	err   error
	usage enrichment.Usage
	calls atomic.Int32

	failedWith error
}

func (s *fakeStage) Name() models.Stage { return s.name }

func (s *fakeStage) Run(context.Context, *models.Book, string) (enrichment.Usage, error) {
	s.calls.Add(1)
	return s.usage, s.err
}

func (s *fakeStage) RecordFailure(_ context.Context, _ *models.Book, err error) {
	s.failedWith = err
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}
func (q *recordingQueue) Start(context.Context, int, queue.Handler) error { return nil }
func (q *recordingQueue) Close() error                                  { return nil }

type harness struct {
	store     *db.MemoryStore
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	summary   *fakeStage
	questions *fakeStage
	embedding *fakeStage
	queue     *recordingQueue
	coord     *Coordinator
	cache     *cache.ContentCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     db.NewMemoryStore(),
		fetcher:   &fakeFetcher{data: []byte("%PDF-1.4 fake")},
		extractor: &fakeExtractor{text: "Call me Ishmael. Some years ago."},
		summary:   &fakeStage{name: models.StageSummary, usage: enrichment.Usage{Items: 1, Chars: 42}},
		questions: &fakeStage{name: models.StageQuestions, usage: enrichment.Usage{Items: 20}},
		embedding: &fakeStage{name: models.StageEmbedding, usage: enrichment.Usage{Items: 7}},
		queue:     &recordingQueue{},
	}
	h.cache = cache.New(h.store, nil, 0)

	opts := DefaultOptions()
	opts.RetryPolicy = retry.Policy{Sleep: func(context.Context, time.Duration) error { return nil }}

	h.coord = NewCoordinator(
		h.store,
		NewLoader(h.fetcher, h.extractor),
		h.cache,
		h.queue,
		[]enrichment.Stage{h.summary, h.questions, h.embedding},
		opts,
	)

	require.NoError(t, h.store.CreateBook(context.Background(), &models.Book{
		ID: "book-1", Title: "Moby Dick", SourceURL: "https://example.com/moby.pdf",
		ContentType: "application/pdf", CreatedAt: time.Now(),
	}))
	return h
}

func (h *harness) runJob(t *testing.T) *models.ProcessingJob {
	t.Helper()
	ctx := context.Background()
	job, err := h.coord.Trigger(ctx, "book-1")
	require.NoError(t, err)
	_ = h.coord.Process(ctx, job.ID)

	got, err := h.store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestTrigger_QueuesPendingJob(t *testing.T) {
	h := newHarness(t)

	job, err := h.coord.Trigger(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, models.StagePending, job.Stages.Download)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, []string{job.ID}, h.queue.ids)

	_, err = h.coord.Trigger(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcess_HappyPath(t *testing.T) {
	h := newHarness(t)
	job := h.runJob(t)

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, models.StageCompleted, job.Stages.Download)
	assert.Equal(t, models.StageCompleted, job.Stages.Extraction)
	assert.Equal(t, models.StageCompleted, job.Stages.Summary)
	assert.Equal(t, models.StageCompleted, job.Stages.Questions)
	assert.Equal(t, models.StageCompleted, job.Stages.Embedding)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.LastAttemptAt)
	assert.Nil(t, job.FailedAt)

	assert.Equal(t, 3, job.Metrics.PagesExtracted)
	assert.Equal(t, 42, job.Metrics.SummaryLength)
	assert.Equal(t, 20, job.Metrics.QuestionsGenerated)
	assert.Equal(t, 7, job.Metrics.EmbeddingsCreated)

	content, err := h.cache.Get(context.Background(), "book-1")
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, "Call me Ishmael. Some years ago.", content.Text)
	assert.Equal(t, 1, content.Version)
}

func TestProcess_DownloadFailureStopsPipeline(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = &core.FetchError{URL: "https://example.com/moby.pdf", StatusCode: 503}

	job := h.runJob(t)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.StageFailed, job.Stages.Download)
	assert.Equal(t, models.StagePending, job.Stages.Extraction)
	assert.Equal(t, models.StagePending, job.Stages.Summary)
	assert.Equal(t, models.StagePending, job.Stages.Questions)
	assert.Equal(t, models.StagePending, job.Stages.Embedding)
	assert.Equal(t, "fetch https://example.com/moby.pdf: HTTP status 503", job.ErrorMessage)
	assert.Equal(t, job.ErrorMessage, job.StageErrors[models.StageDownload])
	require.NotNil(t, job.FailedAt)
	require.NotNil(t, job.NextAttemptAt)
	assert.Equal(t, time.Minute, job.NextAttemptAt.Sub(*job.FailedAt))

	assert.EqualValues(t, 3, h.fetcher.calls.Load(), "download is retried up to the stage budget")
	assert.Zero(t, h.extractor.calls.Load())
	assert.Zero(t, h.summary.calls.Load())
}

func TestProcess_ExtractionFailureSkipsEnrichment(t *testing.T) {
	h := newHarness(t)
	h.extractor.err = &core.ExtractError{Reason: "no extractable text"}

	job := h.runJob(t)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.StageCompleted, job.Stages.Download)
	assert.Equal(t, models.StageFailed, job.Stages.Extraction)
	assert.Equal(t, models.StagePending, job.Stages.Summary)
	assert.Equal(t, "extract: no extractable text", job.ErrorMessage)
	assert.Zero(t, h.questions.calls.Load())

	content, err := h.cache.Get(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Nil(t, content)
}

func TestProcess_EnrichmentFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.summary.err = &core.GenerationError{Stage: models.StageSummary, Reason: "empty output"}

	job := h.runJob(t)

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, models.StageCompleted, job.Stages.Extraction)
	assert.Equal(t, models.StageFailed, job.Stages.Summary)
	assert.Equal(t, models.StageCompleted, job.Stages.Questions)
	assert.Equal(t, models.StageCompleted, job.Stages.Embedding)
	assert.Equal(t, "summary generation: empty output", job.StageErrors[models.StageSummary])
	assert.Equal(t, "summary generation: empty output", job.ErrorMessage)

	assert.EqualValues(t, 3, h.summary.calls.Load())
	assert.EqualValues(t, 1, h.questions.calls.Load())
	assert.Error(t, h.summary.failedWith)
}

func TestRetry_Budget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.err = errors.New("connection reset")

	job := h.runJob(t)
	require.Equal(t, models.JobFailed, job.Status)

	for i := 1; i <= 3; i++ {
		retried, err := h.coord.Retry(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobRetrying, retried.Status)
		assert.Equal(t, i, retried.RetryCount)
		assert.Equal(t, models.StagePending, retried.Stages.Download)
		assert.Empty(t, retried.ErrorMessage)

		require.Error(t, h.coord.Process(ctx, job.ID))
	}

	final, err := h.store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.Nil(t, final.NextAttemptAt, "no next attempt once the budget is used")

	_, err = h.coord.Retry(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrRetryExhausted)
}

func TestRetry_RecoversFailedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.err = errors.New("timeout")

	job := h.runJob(t)
	require.Equal(t, models.JobFailed, job.Status)

	h.fetcher.err = nil
	_, err := h.coord.Retry(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, h.coord.Process(ctx, job.ID))

	got, err := h.store.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.FailedAt)
	assert.Empty(t, got.StageErrors)
}

func TestRetry_RejectsRunningJob(t *testing.T) {
	h := newHarness(t)
	job, err := h.coord.Trigger(context.Background(), "book-1")
	require.NoError(t, err)

	_, err = h.coord.Retry(context.Background(), job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = h.coord.Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcess_SkipsFinishedJob(t *testing.T) {
	h := newHarness(t)
	job := h.runJob(t)
	require.Equal(t, models.JobCompleted, job.Status)

	require.NoError(t, h.coord.Process(context.Background(), job.ID))
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
}

func TestProcess_UnconfiguredStagesAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.coord.stages = []enrichment.Stage{h.questions}

	job := h.runJob(t)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, models.StageSkipped, job.Stages.Summary)
	assert.Equal(t, models.StageCompleted, job.Stages.Questions)
	assert.Equal(t, models.StageSkipped, job.Stages.Embedding)
}
