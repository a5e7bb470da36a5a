package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Bookwise/internal/models"
	"github.com/markdave123-py/Bookwise/internal/services"
)

type JobHandler struct {
	jobs *services.JobService
}

func NewJobHandler(jobs *services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// ListJobs supports ?status=&document_id=&page=&page_size=.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	res, err := h.jobs.List(r.Context(), models.JobFilter{
		Status:     models.JobStatus(q.Get("status")),
		DocumentID: q.Get("document_id"),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob answers 409 once the job has used its retry budget.
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
