package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// JobRunner starts and retries processing jobs.
type JobRunner interface {
	Trigger(ctx context.Context, documentID string) (*models.ProcessingJob, error)
	Retry(ctx context.Context, jobID string) (*models.ProcessingJob, error)
}

type JobService struct {
	jobs   core.JobStore
	runner JobRunner
}

func NewJobService(jobs core.JobStore, runner JobRunner) *JobService {
	return &JobService{jobs: jobs, runner: runner}
}

func (s *JobService) Trigger(ctx context.Context, documentID string) (*models.ProcessingJob, error) {
	return s.runner.Trigger(ctx, documentID)
}

func (s *JobService) Retry(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	return s.runner.Retry(ctx, jobID)
}

func (s *JobService) Get(ctx context.Context, id string) (*models.ProcessingJob, error) {
	j, err := s.jobs.GetJobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return j, nil
}

type JobPage struct {
	Jobs     []models.ProcessingJob `json:"jobs"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

func (s *JobService) List(ctx context.Context, f models.JobFilter) (*JobPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
	jobs, total, err := s.jobs.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []models.ProcessingJob{}
	}
	return &JobPage{Jobs: jobs, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}
