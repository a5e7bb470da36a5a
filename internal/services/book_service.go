package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/cache"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// ErrValidation wraps request validation failures.
var ErrValidation = errors.New("validation failed")

// fallbackFingerprintLen caps the base64 fingerprint used when the caller supplies none.
const fallbackFingerprintLen = 64

type BookService struct {
	db       core.DbClient
	storage  core.ObjectClient
	bucket   string
	cache    *cache.ContentCache
	validate *validator.Validate
	now      func() time.Time
}

func NewBookService(db core.DbClient, storage core.ObjectClient, bucket string, c *cache.ContentCache) *BookService {
	return &BookService{
		db:       db,
		storage:  storage,
		bucket:   bucket,
		cache:    c,
		validate: validator.New(),
		now:      time.Now,
	}
}

type RegisterBookInput struct {
	Title       string `json:"title" validate:"required,max=500"`
	Author      string `json:"author" validate:"max=300"`
	SourceURL   string `json:"source_url" validate:"required,url"`
	ContentType string `json:"content_type"`
}

func (s *BookService) Register(ctx context.Context, in RegisterBookInput) (*models.Book, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.ContentType == "" {
		in.ContentType = "application/pdf"
	}

	now := s.now().UTC()
	book := &models.Book{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(in.Title),
		Author:         strings.TrimSpace(in.Author),
		SourceURL:      in.SourceURL,
		ContentType:    in.ContentType,
		OverviewStatus: models.OverviewNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateBook(ctx, book); err != nil {
		return nil, err
	}
	log.Info().Str("document_id", book.ID).Str("source_url", book.SourceURL).Msg("book registered")
	return book, nil
}

// Upload stores the file in object storage and registers a book pointing at it.
func (s *BookService) Upload(ctx context.Context, title, author, filename, contentType string, data io.Reader) (*models.Book, error) {
	if s.storage == nil {
		return nil, errors.New("object storage is not configured")
	}
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	url, err := s.storage.UploadFile(ctx, s.bucket, s.objectKey(docID, filename), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	now := s.now().UTC()
	book := &models.Book{
		ID:             docID,
		Title:          strings.TrimSpace(title),
		Author:         strings.TrimSpace(author),
		SourceURL:      url,
		ContentType:    contentType,
		OverviewStatus: models.OverviewNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateBook(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

func (s *BookService) Get(ctx context.Context, id string) (*models.Book, error) {
	b, err := s.db.GetBookByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("book %s: %w", id, core.ErrNotFound)
	}
	return b, nil
}

func (s *BookService) List(ctx context.Context) ([]models.Book, error) {
	return s.db.ListBooks(ctx)
}

// Content read-back and write

func (s *BookService) GetContent(ctx context.Context, id string) (*models.ExtractedContent, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	rec, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("content for book %s: %w", id, core.ErrNotFound)
	}
	return rec, nil
}

type ContentInput struct {
	Text        string `json:"text" validate:"required"`
	Fingerprint string `json:"fingerprint"`
	PageCount   int    `json:"page_count" validate:"gte=0"`
	WordCount   int    `json:"word_count" validate:"gte=0"`
}

// PutContent persists caller-supplied extracted text as the new content of the book.
func (s *BookService) PutContent(ctx context.Context, id string, in ContentInput) (*models.ExtractedContent, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	fp := in.Fingerprint
	if fp == "" {
		fp = FallbackFingerprint(in.Text)
	}
	rec := &models.ExtractedContent{
		DocumentID:  id,
		Text:        in.Text,
		Fingerprint: fp,
		PageCount:   in.PageCount,
		WordCount:   in.WordCount,
		ByteSize:    len(in.Text),
		ExtractedAt: s.now().UTC(),
	}
	if err := s.cache.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// FallbackFingerprint is the base64 form of text cut to 64 characters.
func FallbackFingerprint(text string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(text))
	if len(enc) > fallbackFingerprintLen {
		enc = enc[:fallbackFingerprintLen]
	}
	return enc
}

// Overview

type Overview struct {
	DocumentID string                `json:"document_id"`
	Overview   string                `json:"overview"`
	Status     models.OverviewStatus `json:"status"`
}

func (s *BookService) GetOverview(ctx context.Context, id string) (*Overview, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Overview{DocumentID: b.ID, Overview: b.Overview, Status: b.OverviewStatus}, nil
}

func (s *BookService) PutOverview(ctx context.Context, id, overview string) (*Overview, error) {
	overview = strings.TrimSpace(overview)
	if overview == "" {
		return nil, fmt.Errorf("%w: overview is empty", ErrValidation)
	}
	if err := s.db.UpdateBookOverview(ctx, id, overview, models.OverviewManual); err != nil {
		return nil, err
	}
	return &Overview{DocumentID: id, Overview: overview, Status: models.OverviewManual}, nil
}

// Questions

func (s *BookService) ListQuestions(ctx context.Context, id string) ([]models.QuestionAnswer, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.db.ListQuestions(ctx, id)
}

// AddManualQuestion stores an operator-authored pair. Regeneration never touches it.
func (s *BookService) AddManualQuestion(ctx context.Context, id, question, answer string) (*models.QuestionAnswer, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	qa := &models.QuestionAnswer{
		ID:          uuid.NewString(),
		DocumentID:  id,
		Question:    strings.TrimSpace(question),
		Answer:      strings.TrimSpace(answer),
		AIGenerated: false,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.validate.Struct(qa); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.db.AddQuestion(ctx, qa); err != nil {
		return nil, err
	}
	return qa, nil
}

// objectKey creates a consistent S3 key layout.
func (s *BookService) objectKey(docID, filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("books", docID, filename)
}
