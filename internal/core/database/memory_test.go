package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

func TestMemoryStore_ReplaceAIQuestionsKeepsManual(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := make([]models.QuestionAnswer, 5)
	for i := range old {
		old[i] = models.QuestionAnswer{Question: fmt.Sprintf("old q%d", i), Answer: "a", Position: i}
	}
	require.NoError(t, s.ReplaceAIQuestions(ctx, "book-1", old))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AddQuestion(ctx, &models.QuestionAnswer{
			ID: fmt.Sprintf("manual-%d", i), DocumentID: "book-1", Question: "mine", Answer: "yes",
		}))
	}

	fresh := make([]models.QuestionAnswer, 10)
	for i := range fresh {
		fresh[i] = models.QuestionAnswer{Question: fmt.Sprintf("new q%d", i), Answer: "b", Position: i}
	}
	require.NoError(t, s.ReplaceAIQuestions(ctx, "book-1", fresh))

	got, err := s.ListQuestions(ctx, "book-1")
	require.NoError(t, err)

	var ai, manual int
	for _, q := range got {
		if q.AIGenerated {
			ai++
			assert.Contains(t, q.Question, "new")
		} else {
			manual++
		}
	}
	assert.Equal(t, 10, ai)
	assert.Equal(t, 2, manual)
}

func TestMemoryStore_PutExtractedContentBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	c := &models.ExtractedContent{DocumentID: "d", Text: "one", ExtractedAt: time.Now()}
	require.NoError(t, s.PutExtractedContent(ctx, c))
	assert.Equal(t, 1, c.Version)

	c2 := &models.ExtractedContent{DocumentID: "d", Text: "two", ExtractedAt: time.Now()}
	require.NoError(t, s.PutExtractedContent(ctx, c2))
	assert.Equal(t, 2, c2.Version)

	got, err := s.GetExtractedContent(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Text)
	assert.Equal(t, 2, got.Version)

	missing, err := s.GetExtractedContent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_JobsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := &models.ProcessingJob{ID: "j1", DocumentID: "d", Status: models.JobPending, StageErrors: map[models.Stage]string{}}
	require.NoError(t, s.CreateJob(ctx, job))

	job.Status = models.JobFailed
	job.StageErrors[models.StageDownload] = "boom"

	got, err := s.GetJobByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Empty(t, got.StageErrors)

	require.ErrorIs(t, s.UpdateJob(ctx, &models.ProcessingJob{ID: "missing"}), core.ErrNotFound)
}

func TestMemoryStore_ListJobsFilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		status := models.JobCompleted
		if i%2 == 0 {
			status = models.JobFailed
		}
		require.NoError(t, s.CreateJob(ctx, &models.ProcessingJob{
			ID: fmt.Sprintf("j%d", i), DocumentID: "d", Status: status, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	failed, total, err := s.ListJobs(ctx, models.JobFilter{Status: models.JobFailed, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, failed, 2)
	assert.Equal(t, "j4", failed[0].ID)
	assert.Equal(t, "j2", failed[1].ID)

	rest, _, err := s.ListJobs(ctx, models.JobFilter{Status: models.JobFailed, Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "j0", rest[0].ID)

	latest, err := s.LatestJobForDocument(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, "j4", latest.ID)

	none, err := s.LatestJobForDocument(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStore_SearchDocumentChunks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.ReplaceDocumentChunks(ctx, "d", []models.DocumentChunk{
		{Text: "far", Embedding: []float32{10, 10}},
		{Text: "near", Embedding: []float32{1, 1}},
	}))

	got, err := s.SearchDocumentChunks(ctx, "d", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Text)
}
