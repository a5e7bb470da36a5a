package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

var _ core.DbClient = (*MemoryStore)(nil)

// MemoryStore is an in-process DbClient used when DATABASE_URL is empty and in tests.
// Every method copies values in and out so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	books     map[string]models.Book
	jobs      map[string]*models.ProcessingJob
	contents  map[string]models.ExtractedContent
	questions map[string][]models.QuestionAnswer
	chunks    map[string][]models.DocumentChunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]models.Book),
		jobs:      make(map[string]*models.ProcessingJob),
		contents:  make(map[string]models.ExtractedContent),
		questions: make(map[string][]models.QuestionAnswer),
		chunks:    make(map[string][]models.DocumentChunk),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateBook(_ context.Context, book *models.Book) error {
	if book == nil {
		return errors.New("nil book")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[book.ID]; ok {
		return fmt.Errorf("create book: duplicate id %s", book.ID)
	}
	m.books[book.ID] = *book
	return nil
}

func (m *MemoryStore) GetBookByID(_ context.Context, id string) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryStore) ListBooks(_ context.Context) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Book, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateBookOverview(_ context.Context, id, overview string, status models.OverviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book %s: %w", id, core.ErrNotFound)
	}
	b.Overview = overview
	b.OverviewStatus = status
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.ProcessingJob) error {
	if job == nil {
		return errors.New("nil job")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job: duplicate id %s", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) GetJobByID(_ context.Context, id string) (*models.ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *models.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter models.JobFilter) ([]models.ProcessingJob, int, error) {
	page, size := normalizePage(filter.Page, filter.PageSize)

	m.mu.RLock()
	matched := make([]models.ProcessingJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.DocumentID != "" && j.DocumentID != filter.DocumentID {
			continue
		}
		matched = append(matched, *j.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := int(math.Min(float64((page-1)*size), float64(total)))
	end := int(math.Min(float64(start+size), float64(total)))
	return matched[start:end], total, nil
}

func (m *MemoryStore) LatestJobForDocument(_ context.Context, documentID string) (*models.ProcessingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.ProcessingJob
	for _, j := range m.jobs {
		if j.DocumentID != documentID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	return latest.Clone(), nil
}

func (m *MemoryStore) GetExtractedContent(_ context.Context, documentID string) (*models.ExtractedContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contents[documentID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) PutExtractedContent(_ context.Context, content *models.ExtractedContent) error {
	if content == nil {
		return errors.New("nil content")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *content
	next.Version = m.contents[content.DocumentID].Version + 1
	m.contents[content.DocumentID] = next
	content.Version = next.Version
	return nil
}

func (m *MemoryStore) ReplaceAIQuestions(_ context.Context, documentID string, pairs []models.QuestionAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]models.QuestionAnswer, 0, len(m.questions[documentID])+len(pairs))
	for _, q := range m.questions[documentID] {
		if !q.AIGenerated {
			kept = append(kept, q)
		}
	}
	now := time.Now().UTC()
	for i := range pairs {
		p := &pairs[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		qa := *p
		qa.DocumentID = documentID
		qa.AIGenerated = true
		qa.CreatedAt = now
		kept = append(kept, qa)
	}
	m.questions[documentID] = kept
	return nil
}

func (m *MemoryStore) AddQuestion(_ context.Context, qa *models.QuestionAnswer) error {
	if qa == nil {
		return errors.New("nil question")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[qa.DocumentID] = append(m.questions[qa.DocumentID], *qa)
	return nil
}

func (m *MemoryStore) ListQuestions(_ context.Context, documentID string) ([]models.QuestionAnswer, error) {
	m.mu.RLock()
	out := append([]models.QuestionAnswer(nil), m.questions[documentID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AIGenerated != out[j].AIGenerated {
			return !out[i].AIGenerated
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *MemoryStore) ReplaceDocumentChunks(_ context.Context, documentID string, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.DocumentChunk, len(chunks))
	for i, ch := range chunks {
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		ch.DocumentID = documentID
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		cp[i] = ch
	}
	m.chunks[documentID] = cp
	return nil
}

// SearchDocumentChunks ranks by L2 distance, matching the pgvector <-> operator.
func (m *MemoryStore) SearchDocumentChunks(_ context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	m.mu.RLock()
	cands := append([]models.DocumentChunk(nil), m.chunks[documentID]...)
	m.mu.RUnlock()

	sort.SliceStable(cands, func(i, j int) bool {
		return l2(cands[i].Embedding, queryVec) < l2(cands[j].Embedding, queryVec)
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}

func l2(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
