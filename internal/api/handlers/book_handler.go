package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Bookwise/internal/services"
)

type BookHandler struct {
	books *services.BookService
	jobs  *services.JobService
}

func NewBookHandler(books *services.BookService, jobs *services.JobService) *BookHandler {
	return &BookHandler{books: books, jobs: jobs}
}

type createBookRequest struct {
	services.RegisterBookInput
	Process bool `json:"process"`
}

type bookResponse struct {
	Book  any    `json:"book"`
	JobID string `json:"job_id,omitempty"`
}

// CreateBook registers a book by source URL and optionally starts processing.
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	book, err := h.books.Register(r.Context(), req.RegisterBookInput)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := bookResponse{Book: book}
	if req.Process {
		job, err := h.jobs.Trigger(r.Context(), book.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.JobID = job.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UploadBook handles a multipart PDF upload to object storage.
func (h *BookHandler) UploadBook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(52 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	book, err := h.books.Upload(uploadCtx, r.FormValue("title"), r.FormValue("author"), filepath.Base(header.Filename), contentType, file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := bookResponse{Book: book}
	if process, _ := strconv.ParseBool(r.FormValue("process")); process {
		job, err := h.jobs.Trigger(r.Context(), book.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.JobID = job.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// ProcessBook starts a processing job and returns its id without waiting.
func (h *BookHandler) ProcessBook(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Trigger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (h *BookHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.books.GetContent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *BookHandler) PutContent(w http.ResponseWriter, r *http.Request) {
	var in services.ContentInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.books.PutContent(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *BookHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.books.GetOverview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *BookHandler) PutOverview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Overview string `json:"overview"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ov, err := h.books.PutOverview(r.Context(), chi.URLParam(r, "id"), req.Overview)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *BookHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.books.ListQuestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *BookHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	qa, err := h.books.AddManualQuestion(r.Context(), chi.URLParam(r, "id"), req.Question, req.Answer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, qa)
}
