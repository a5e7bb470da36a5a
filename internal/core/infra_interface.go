package core

import (
	"context"
	"io"

	"github.com/markdave123-py/Bookwise/internal/models"
)

// BookStore persists the document entities that own jobs and content.
type BookStore interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBookByID(ctx context.Context, id string) (*models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	UpdateBookOverview(ctx context.Context, id, overview string, status models.OverviewStatus) error
}

// JobStore persists ProcessingJob records. Writes replace the whole record.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJobByID(ctx context.Context, id string) (*models.ProcessingJob, error)
	UpdateJob(ctx context.Context, job *models.ProcessingJob) error
	ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ProcessingJob, int, error)
	LatestJobForDocument(ctx context.Context, documentID string) (*models.ProcessingJob, error)
}

// ContentStore persists one ExtractedContent per document. PutExtractedContent
// overwrites every extraction field at once and bumps the version.
type ContentStore interface {
	GetExtractedContent(ctx context.Context, documentID string) (*models.ExtractedContent, error)
	PutExtractedContent(ctx context.Context, content *models.ExtractedContent) error
}

// ArtifactStore persists enrichment output: question/answer pairs and embedded chunks.
type ArtifactStore interface {
	ReplaceAIQuestions(ctx context.Context, documentID string, pairs []models.QuestionAnswer) error
	AddQuestion(ctx context.Context, qa *models.QuestionAnswer) error
	ListQuestions(ctx context.Context, documentID string) ([]models.QuestionAnswer, error)

	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error
	SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error)
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	BookStore
	JobStore
	ContentStore
	ArtifactStore

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
