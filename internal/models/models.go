package models

import (
	"time"
)

// JobStatus is the overall state of a ProcessingJob.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobRetrying   JobStatus = "RETRYING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobRetrying, JobCompleted, JobFailed:
		return true
	}
	return false
}

// StageStatus is the state of a single pipeline stage inside a job.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
	StageFailed     StageStatus = "FAILED"
	StageSkipped    StageStatus = "SKIPPED"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageDownload   Stage = "download"
	StageExtraction Stage = "extraction"
	StageSummary    Stage = "summary"
	StageQuestions  Stage = "questions"
	StageEmbedding  Stage = "embedding"
)

// EnrichmentStages are the best-effort stages that run after extraction.
var EnrichmentStages = []Stage{StageSummary, StageQuestions, StageEmbedding}

// StageStatuses holds the five independent per-stage states of a job.
type StageStatuses struct {
	Download   StageStatus `db:"download_status" json:"download"`
	Extraction StageStatus `db:"extraction_status" json:"extraction"`
	Summary    StageStatus `db:"summary_status" json:"summary"`
	Questions  StageStatus `db:"questions_status" json:"questions"`
	Embedding  StageStatus `db:"embedding_status" json:"embedding"`
}

// Get returns the status of stage s.
func (s *StageStatuses) Get(stage Stage) StageStatus {
	switch stage {
	case StageDownload:
		return s.Download
	case StageExtraction:
		return s.Extraction
	case StageSummary:
		return s.Summary
	case StageQuestions:
		return s.Questions
	case StageEmbedding:
		return s.Embedding
	}
	return ""
}

// Set updates the status of stage s.
func (s *StageStatuses) Set(stage Stage, status StageStatus) {
	switch stage {
	case StageDownload:
		s.Download = status
	case StageExtraction:
		s.Extraction = status
	case StageSummary:
		s.Summary = status
	case StageQuestions:
		s.Questions = status
	case StageEmbedding:
		s.Embedding = status
	}
}

// Reset puts every stage back to PENDING.
func (s *StageStatuses) Reset() {
	*s = StageStatuses{
		Download:   StagePending,
		Extraction: StagePending,
		Summary:    StagePending,
		Questions:  StagePending,
		Embedding:  StagePending,
	}
}

// JobMetrics are the outcome counters of a processing run.
type JobMetrics struct {
	PagesExtracted       int   `db:"pages_extracted" json:"pages_extracted"`
	WordsExtracted       int   `db:"words_extracted" json:"words_extracted"`
	SummaryLength        int   `db:"summary_length" json:"summary_length"`
	QuestionsGenerated   int   `db:"questions_generated" json:"questions_generated"`
	EmbeddingsCreated    int   `db:"embeddings_created" json:"embeddings_created"`
	ProcessingDurationMs int64 `db:"processing_duration_ms" json:"processing_duration_ms"`
}

// ProcessingJob is one processing attempt for a document. Jobs are never
// deleted; a document may carry many historical jobs.
type ProcessingJob struct {
	ID            string           `db:"id" json:"id"`
	DocumentID    string           `db:"document_id" json:"document_id"`
	SourceURL     string           `db:"source_url" json:"source_url"`
	Status        JobStatus        `db:"status" json:"status"`
	Stages        StageStatuses    `json:"stages"`
	StageErrors   map[Stage]string `db:"stage_errors" json:"stage_errors,omitempty"`
	RetryCount    int              `db:"retry_count" json:"retry_count"`
	MaxRetries    int              `db:"max_retries" json:"max_retries"`
	LastAttemptAt *time.Time       `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time       `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	ErrorMessage  string           `db:"error_message" json:"error_message,omitempty"`
	Metrics       JobMetrics       `json:"metrics"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt      *time.Time       `db:"failed_at" json:"failed_at,omitempty"`
}

// CanRetry reports whether a manual retry is still within budget.
func (j *ProcessingJob) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IsTerminal reports whether the job has reached COMPLETED or FAILED.
func (j *ProcessingJob) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.StageErrors != nil {
		c.StageErrors = make(map[Stage]string, len(j.StageErrors))
		for k, v := range j.StageErrors {
			c.StageErrors[k] = v
		}
	}
	c.LastAttemptAt = cloneTime(j.LastAttemptAt)
	c.NextAttemptAt = cloneTime(j.NextAttemptAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.FailedAt = cloneTime(j.FailedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobFilter narrows job listings for operator tooling.
type JobFilter struct {
	Status     JobStatus
	DocumentID string
	Page       int
	PageSize   int
}

// ExtractedContent is the cached extraction of a document, one row per document.
type ExtractedContent struct {
	DocumentID  string    `db:"document_id" json:"document_id"`
	Text        string    `db:"text" json:"text"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	PageCount   int       `db:"page_count" json:"page_count"`
	WordCount   int       `db:"word_count" json:"word_count"`
	ByteSize    int       `db:"byte_size" json:"byte_size"`
	ExtractedAt time.Time `db:"extracted_at" json:"extracted_at"`
	Version     int       `db:"version" json:"version"`
}

// OverviewStatus tracks the generation of a book overview.
type OverviewStatus string

const (
	OverviewNone      OverviewStatus = "none"
	OverviewGenerated OverviewStatus = "generated"
	OverviewManual    OverviewStatus = "manual"
	OverviewFailed    OverviewStatus = "failed"
)

// Book is the document entity that owns jobs, content and enrichment artifacts.
type Book struct {
	ID             string         `db:"id" json:"id"`
	Title          string         `db:"title" json:"title"`
	Author         string         `db:"author" json:"author,omitempty"`
	SourceURL      string         `db:"source_url" json:"source_url"`
	ContentType    string         `db:"content_type" json:"content_type"`
	Overview       string         `db:"overview" json:"overview,omitempty"`
	OverviewStatus OverviewStatus `db:"overview_status" json:"overview_status"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// QuestionAnswer is a question/answer pair attached to a book. AI-generated
// pairs are replaced wholesale on regeneration; manual ones are never touched.
type QuestionAnswer struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	Question    string    `db:"question" json:"question" validate:"required"`
	Answer      string    `db:"answer" json:"answer" validate:"required"`
	AIGenerated bool      `db:"ai_generated" json:"ai_generated"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DocumentChunk represents one embedded text chunk from a document.
type DocumentChunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Text       string    `db:"text" json:"text"`
	Embedding  []float32 `db:"embedding" json:"embedding"` // pgvector column
	Position   int       `db:"position" json:"position"`
	TokenCount int       `db:"token_count" json:"token_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
