// Package pipeline owns the ProcessingJob state machine: it sequences the
// download, extraction and enrichment stages and persists progress after
// every transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/cache"
	"github.com/markdave123-py/Bookwise/internal/core/enrichment"
	"github.com/markdave123-py/Bookwise/internal/core/queue"
	"github.com/markdave123-py/Bookwise/internal/core/retry"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// Store is the persistence the coordinator needs.
type Store interface {
	core.BookStore
	core.JobStore
}

type Options struct {
	// MaxRetries caps manual retries per job.
	MaxRetries int
	// StageMaxAttempts bounds the retry controller for each stage call.
	StageMaxAttempts int
	// StageTimeout bounds a single attempt of a stage call.
	StageTimeout time.Duration
	RetryPolicy  retry.Policy
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:       3,
		StageMaxAttempts: retry.DefaultMaxAttempts,
		StageTimeout:     2 * time.Minute,
		RetryPolicy:      retry.DefaultPolicy(),
	}
}

type Coordinator struct {
	store  Store
	loader *Loader
	cache  *cache.ContentCache
	stages []enrichment.Stage
	queue  queue.Queue
	opts   Options
	now    func() time.Time
}

func NewCoordinator(store Store, loader *Loader, c *cache.ContentCache, q queue.Queue, stages []enrichment.Stage, opts Options) *Coordinator {
	if opts.StageMaxAttempts < 1 {
		opts.StageMaxAttempts = retry.DefaultMaxAttempts
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultOptions().StageTimeout
	}
	return &Coordinator{
		store:  store,
		loader: loader,
		cache:  c,
		stages: stages,
		queue:  q,
		opts:   opts,
		now:    time.Now,
	}
}

// Start launches the workers that process queued jobs until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context, workers int) error {
	log.Info().Int("workers", workers).Msg("job coordinator started")
	return c.queue.Start(ctx, workers, c.Process)
}

// Trigger creates a PENDING job for the document and queues it. It returns
// as soon as the job is queued.
func (c *Coordinator) Trigger(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	book, err := c.store.GetBookByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %s: %w", documentID, core.ErrNotFound)
	}

	now := c.now().UTC()
	job := &models.ProcessingJob{
		ID:          uuid.NewString(),
		DocumentID:  book.ID,
		SourceURL:   book.SourceURL,
		Status:      models.JobPending,
		StageErrors: map[models.Stage]string{},
		MaxRetries:  c.opts.MaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	job.Stages.Reset()

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := c.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	log.Info().Str("job_id", job.ID).Str("document_id", job.DocumentID).Msg("processing job queued")
	return job, nil
}

// Retry re-queues a finished job if it still has retry budget. It returns
// ErrRetryExhausted once RetryCount reaches MaxRetries.
func (c *Coordinator) Retry(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	job, err := c.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}
	if !job.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, core.ErrInvalidTransition)
	}
	if !job.CanRetry() {
		log.Warn().Str("job_id", jobID).Int("retry_count", job.RetryCount).Int("max_retries", job.MaxRetries).Msg("retry rejected")
		return nil, fmt.Errorf("job %s used %d of %d retries: %w", jobID, job.RetryCount, job.MaxRetries, core.ErrRetryExhausted)
	}

	job.RetryCount++
	job.Status = models.JobRetrying
	job.Stages.Reset()
	job.StageErrors = map[models.Stage]string{}
	job.ErrorMessage = ""
	job.CompletedAt = nil
	job.FailedAt = nil
	job.NextAttemptAt = nil
	job.Metrics = models.JobMetrics{}
	if err := c.save(ctx, job); err != nil {
		return nil, err
	}
	if err := c.queue.Enqueue(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	log.Info().Str("job_id", job.ID).Int("retry_count", job.RetryCount).Msg("processing job re-queued")
	return job, nil
}

// Process runs one job through every stage. Jobs that are already terminal
// are skipped, so duplicate deliveries are harmless.
func (c *Coordinator) Process(ctx context.Context, jobID string) error {
	job, err := c.store.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", jobID, core.ErrNotFound)
	}
	if job.IsTerminal() {
		log.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job already finished, skipping")
		return nil
	}

	started := c.now()
	run := &jobRun{c: c, job: job, started: started}

	// A retried job keeps RETRYING while it runs.
	if job.Status == models.JobPending {
		job.Status = models.JobProcessing
	}
	startedUTC := started.UTC()
	job.LastAttemptAt = &startedUTC
	job.Stages.Reset()
	if job.StageErrors == nil {
		job.StageErrors = map[models.Stage]string{}
	}
	if err := run.save(ctx); err != nil {
		return err
	}

	book, err := c.store.GetBookByID(ctx, job.DocumentID)
	if err != nil || book == nil {
		if err == nil {
			err = fmt.Errorf("book %s: %w", job.DocumentID, core.ErrNotFound)
		}
		return run.fail(ctx, models.StageDownload, err)
	}
	sourceURL := job.SourceURL
	if sourceURL == "" {
		sourceURL = book.SourceURL
	}

	// download
	if err := run.begin(ctx, models.StageDownload); err != nil {
		return err
	}
	data, err := withStageRetry(ctx, c, models.StageDownload, func(ctx context.Context) ([]byte, error) {
		return c.loader.Download(ctx, sourceURL)
	})
	if err != nil {
		return run.fail(ctx, models.StageDownload, err)
	}
	job.Stages.Set(models.StageDownload, models.StageCompleted)

	// extraction
	if err := run.begin(ctx, models.StageExtraction); err != nil {
		return err
	}
	content, err := withStageRetry(ctx, c, models.StageExtraction, func(ctx context.Context) (*models.ExtractedContent, error) {
		return c.loader.Extract(ctx, book.ID, book.ContentType, data)
	})
	if err != nil {
		return run.fail(ctx, models.StageExtraction, err)
	}
	if _, err := withStageRetry(ctx, c, models.StageExtraction, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.cache.Put(ctx, content)
	}); err != nil {
		return run.fail(ctx, models.StageExtraction, err)
	}
	job.Stages.Set(models.StageExtraction, models.StageCompleted)
	job.Metrics.PagesExtracted = content.PageCount
	job.Metrics.WordsExtracted = content.WordCount
	if err := run.save(ctx); err != nil {
		return err
	}

	run.enrich(ctx, book, content.Text)
	return run.complete(ctx)
}

// jobRun holds the mutable job of a single Process call. mu guards job once
// enrichment stages run concurrently.
type jobRun struct {
	c       *Coordinator
	job     *models.ProcessingJob
	started time.Time
	mu      sync.Mutex
}

func (r *jobRun) save(ctx context.Context) error {
	return r.c.save(ctx, r.job)
}

func (r *jobRun) begin(ctx context.Context, stage models.Stage) error {
	r.job.Stages.Set(stage, models.StageInProgress)
	log.Info().Str("job_id", r.job.ID).Str("document_id", r.job.DocumentID).Str("stage", string(stage)).Msg("stage started")
	return r.save(ctx)
}

// fail ends the job after a download or extraction failure. Later stages stay PENDING.
func (r *jobRun) fail(ctx context.Context, stage models.Stage, cause error) error {
	now := r.c.now().UTC()
	job := r.job
	job.Stages.Set(stage, models.StageFailed)
	job.StageErrors[stage] = cause.Error()
	job.Status = models.JobFailed
	job.ErrorMessage = cause.Error()
	job.FailedAt = &now
	job.Metrics.ProcessingDurationMs = now.Sub(r.started).Milliseconds()
	if job.CanRetry() {
		next := now.Add(time.Duration(math.Pow(2, float64(job.RetryCount))) * time.Minute)
		job.NextAttemptAt = &next
	} else {
		job.NextAttemptAt = nil
	}

	log.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("document_id", job.DocumentID).
		Str("stage", string(stage)).
		Int("retry_count", job.RetryCount).
		Msg("processing job failed")

	if err := r.save(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// enrich runs every enrichment stage concurrently. A stage failure is
// recorded on that stage only.
func (r *jobRun) enrich(ctx context.Context, book *models.Book, text string) {
	stages := r.c.stages
	if text == "" {
		r.mu.Lock()
		for _, st := range models.EnrichmentStages {
			r.job.Stages.Set(st, models.StageSkipped)
		}
		r.mu.Unlock()
		log.Warn().Str("job_id", r.job.ID).Msg("no extracted text, enrichment skipped")
		return
	}

	configured := map[models.Stage]bool{}
	for _, st := range stages {
		configured[st.Name()] = true
	}
	for _, name := range models.EnrichmentStages {
		if !configured[name] {
			r.job.Stages.Set(name, models.StageSkipped)
		}
	}

	var g errgroup.Group
	for _, st := range stages {
		st := st
		g.Go(func() error {
			r.mu.Lock()
			r.job.Stages.Set(st.Name(), models.StageInProgress)
			r.saveLocked(ctx)
			r.mu.Unlock()

			usage, err := withStageRetry(ctx, r.c, st.Name(), func(ctx context.Context) (enrichment.Usage, error) {
				return st.Run(ctx, book, text)
			})

			if err != nil {
				if fr, ok := st.(enrichment.FailureRecorder); ok {
					fr.RecordFailure(ctx, book, err)
				}
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if err != nil {
				r.job.Stages.Set(st.Name(), models.StageFailed)
				r.job.StageErrors[st.Name()] = err.Error()
				r.job.ErrorMessage = err.Error()
				log.Warn().Err(err).Str("job_id", r.job.ID).Str("stage", string(st.Name())).Msg("enrichment stage failed")
			} else {
				r.job.Stages.Set(st.Name(), models.StageCompleted)
				r.applyUsage(st.Name(), usage)
				log.Info().Str("job_id", r.job.ID).Str("stage", string(st.Name())).Int("items", usage.Items).Msg("enrichment stage completed")
			}
			r.saveLocked(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *jobRun) saveLocked(ctx context.Context) {
	if err := r.save(ctx); err != nil {
		log.Error().Err(err).Str("job_id", r.job.ID).Msg("could not persist stage progress")
	}
}

func (r *jobRun) applyUsage(stage models.Stage, u enrichment.Usage) {
	switch stage {
	case models.StageSummary:
		r.job.Metrics.SummaryLength = u.Chars
	case models.StageQuestions:
		r.job.Metrics.QuestionsGenerated = u.Items
	case models.StageEmbedding:
		r.job.Metrics.EmbeddingsCreated = u.Items
	}
}

// complete marks the job COMPLETED. Extraction has succeeded by the time it is
// called; enrichment outcomes do not change the overall status.
func (r *jobRun) complete(ctx context.Context) error {
	now := r.c.now().UTC()
	job := r.job
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	job.FailedAt = nil
	job.NextAttemptAt = nil
	job.Metrics.ProcessingDurationMs = now.Sub(r.started).Milliseconds()

	log.Info().
		Str("job_id", job.ID).
		Str("document_id", job.DocumentID).
		Int("pages", job.Metrics.PagesExtracted).
		Int("words", job.Metrics.WordsExtracted).
		Int64("duration_ms", job.Metrics.ProcessingDurationMs).
		Msg("processing job completed")
	return r.save(ctx)
}

func (c *Coordinator) save(ctx context.Context, job *models.ProcessingJob) error {
	job.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}

// withStageRetry runs op under the retry controller with a per-attempt timeout.
func withStageRetry[T any](ctx context.Context, c *Coordinator, stage models.Stage, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.WithRetry(ctx, c.opts.RetryPolicy, string(stage), c.opts.StageMaxAttempts, func(ctx context.Context) (T, error) {
		actx, cancel := context.WithTimeout(ctx, c.opts.StageTimeout)
		defer cancel()
		return op(actx)
	})
}
