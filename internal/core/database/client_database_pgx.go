package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/Bookwise/internal/config"
	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	log.Info().Msg("database connected")
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Books

func (c *DatabaseClient) CreateBook(ctx context.Context, book *models.Book) error {
	if book == nil {
		return errors.New("nil book")
	}
	const q = `
		INSERT INTO books
			(id, title, author, source_url, content_type, overview, overview_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		book.ID, book.Title, book.Author, book.SourceURL, book.ContentType,
		book.Overview, book.OverviewStatus, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create book: %w", err)
	}
	return nil
}

const bookColumns = `id, title, author, source_url, content_type, overview, overview_status, created_at, updated_at`

func scanBook(row interface{ Scan(dest ...any) error }) (*models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.SourceURL, &b.ContentType,
		&b.Overview, &b.OverviewStatus, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *DatabaseClient) GetBookByID(ctx context.Context, id string) (*models.Book, error) {
	b, err := scanBook(c.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

func (c *DatabaseClient) ListBooks(ctx context.Context) ([]models.Book, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var out []models.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateBookOverview(ctx context.Context, id, overview string, status models.OverviewStatus) error {
	const q = `
		UPDATE books
		SET overview = $2, overview_status = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, overview, status)
	if err != nil {
		return fmt.Errorf("update overview: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("book %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Processing jobs

const jobColumns = `id, document_id, source_url, status,
	download_status, extraction_status, summary_status, questions_status, embedding_status,
	stage_errors, retry_count, max_retries, last_attempt_at, next_attempt_at, error_message,
	pages_extracted, words_extracted, summary_length, questions_generated, embeddings_created,
	processing_duration_ms, created_at, updated_at, completed_at, failed_at`

func jobArgs(j *models.ProcessingJob) ([]any, error) {
	stageErrors, err := json.Marshal(j.StageErrors)
	if err != nil {
		return nil, fmt.Errorf("marshal stage errors: %w", err)
	}
	if j.StageErrors == nil {
		stageErrors = []byte("{}")
	}
	return []any{
		j.ID, j.DocumentID, j.SourceURL, j.Status,
		j.Stages.Download, j.Stages.Extraction, j.Stages.Summary, j.Stages.Questions, j.Stages.Embedding,
		stageErrors, j.RetryCount, j.MaxRetries, j.LastAttemptAt, j.NextAttemptAt, j.ErrorMessage,
		j.Metrics.PagesExtracted, j.Metrics.WordsExtracted, j.Metrics.SummaryLength,
		j.Metrics.QuestionsGenerated, j.Metrics.EmbeddingsCreated,
		j.Metrics.ProcessingDurationMs, j.CreatedAt, j.UpdatedAt, j.CompletedAt, j.FailedAt,
	}, nil
}

func scanJob(row interface{ Scan(dest ...any) error }) (*models.ProcessingJob, error) {
	var (
		j           models.ProcessingJob
		stageErrors []byte
	)
	err := row.Scan(&j.ID, &j.DocumentID, &j.SourceURL, &j.Status,
		&j.Stages.Download, &j.Stages.Extraction, &j.Stages.Summary, &j.Stages.Questions, &j.Stages.Embedding,
		&stageErrors, &j.RetryCount, &j.MaxRetries, &j.LastAttemptAt, &j.NextAttemptAt, &j.ErrorMessage,
		&j.Metrics.PagesExtracted, &j.Metrics.WordsExtracted, &j.Metrics.SummaryLength,
		&j.Metrics.QuestionsGenerated, &j.Metrics.EmbeddingsCreated,
		&j.Metrics.ProcessingDurationMs, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &j.FailedAt)
	if err != nil {
		return nil, err
	}
	if len(stageErrors) > 0 {
		_ = json.Unmarshal(stageErrors, &j.StageErrors)
	}
	return &j, nil
}

func (c *DatabaseClient) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	q := `INSERT INTO processing_jobs (` + jobColumns + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (c *DatabaseClient) GetJobByID(ctx context.Context, id string) (*models.ProcessingJob, error) {
	j, err := scanJob(c.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob replaces every mutable column of the job record.
func (c *DatabaseClient) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	cols := strings.Split(jobColumns, ",")
	sets := make([]string, 0, len(cols)-1)
	for i, col := range cols {
		col = strings.TrimSpace(col)
		if i == 0 {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	q := `UPDATE processing_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`

	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
	}
	return nil
}

func (c *DatabaseClient) ListJobs(ctx context.Context, filter models.JobFilter) ([]models.ProcessingJob, int, error) {
	page, size := normalizePage(filter.Page, filter.PageSize)

	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}
	if filter.DocumentID != "" {
		where += fmt.Sprintf(" AND document_id = $%d", argNum)
		args = append(args, filter.DocumentID)
		argNum++
	}

	var total int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processing_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	q := `SELECT ` + jobColumns + ` FROM processing_jobs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, size, (page-1)*size)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

func (c *DatabaseClient) LatestJobForDocument(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	q := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`
	j, err := scanJob(c.db.QueryRowContext(ctx, q, documentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return j, nil
}

// Extracted content

func (c *DatabaseClient) GetExtractedContent(ctx context.Context, documentID string) (*models.ExtractedContent, error) {
	const q = `
		SELECT document_id, text, fingerprint, page_count, word_count, byte_size, extracted_at, version
		FROM extracted_contents
		WHERE document_id = $1
	`
	var ec models.ExtractedContent
	err := c.db.QueryRowContext(ctx, q, documentID).Scan(
		&ec.DocumentID, &ec.Text, &ec.Fingerprint, &ec.PageCount, &ec.WordCount, &ec.ByteSize, &ec.ExtractedAt, &ec.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get extracted content: %w", err)
	}
	return &ec, nil
}

// PutExtractedContent upserts the whole record in one statement and writes the
// new version back into content.
func (c *DatabaseClient) PutExtractedContent(ctx context.Context, content *models.ExtractedContent) error {
	const q = `
		INSERT INTO extracted_contents
			(document_id, text, fingerprint, page_count, word_count, byte_size, extracted_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (document_id) DO UPDATE SET
			text = EXCLUDED.text,
			fingerprint = EXCLUDED.fingerprint,
			page_count = EXCLUDED.page_count,
			word_count = EXCLUDED.word_count,
			byte_size = EXCLUDED.byte_size,
			extracted_at = EXCLUDED.extracted_at,
			version = extracted_contents.version + 1
		RETURNING version
	`
	err := c.db.QueryRowContext(ctx, q,
		content.DocumentID, content.Text, content.Fingerprint, content.PageCount,
		content.WordCount, content.ByteSize, content.ExtractedAt,
	).Scan(&content.Version)
	if err != nil {
		return fmt.Errorf("put extracted content: %w", err)
	}
	return nil
}

// Questions

// ReplaceAIQuestions deletes every AI-generated pair of the document and inserts
// pairs in a single transaction. Manual pairs are left alone.
func (c *DatabaseClient) ReplaceAIQuestions(ctx context.Context, documentID string, pairs []models.QuestionAnswer) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM book_questions WHERE document_id = $1 AND ai_generated`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete ai questions: %w", err)
	}

	const q = `
		INSERT INTO book_questions (id, document_id, question, answer, ai_generated, position, created_at)
		VALUES ($1, $2, $3, $4, true, $5, $6)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range pairs {
		p := &pairs[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, p.ID, documentID, p.Question, p.Answer, p.Position, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) AddQuestion(ctx context.Context, qa *models.QuestionAnswer) error {
	if qa == nil {
		return errors.New("nil question")
	}
	const q = `
		INSERT INTO book_questions (id, document_id, question, answer, ai_generated, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, q, qa.ID, qa.DocumentID, qa.Question, qa.Answer, qa.AIGenerated, qa.Position, qa.CreatedAt)
	if err != nil {
		return fmt.Errorf("add question: %w", err)
	}
	return nil
}

func (c *DatabaseClient) ListQuestions(ctx context.Context, documentID string) ([]models.QuestionAnswer, error) {
	const q = `
		SELECT id, document_id, question, answer, ai_generated, position, created_at
		FROM book_questions
		WHERE document_id = $1
		ORDER BY ai_generated ASC, position ASC, created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []models.QuestionAnswer
	for rows.Next() {
		var qa models.QuestionAnswer
		if err := rows.Scan(&qa.ID, &qa.DocumentID, &qa.Question, &qa.Answer, &qa.AIGenerated, &qa.Position, &qa.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, qa)
	}
	return out, rows.Err()
}

// Document chunks

// ReplaceDocumentChunks swaps the embedded chunks of a document in a single transaction.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete chunks: %w", err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, position, text, embedding, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range chunks {
		ch := &chunks[i]
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, ch.Position, ch.Text, vec, ch.TokenCount, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

// SearchDocumentChunks finds top-k similar chunks within a document for a query embedding.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, position, text, embedding, token_count
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY embedding <-> $2
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Position, &ch.Text, &emb, &ch.TokenCount); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, rows.Err()
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
