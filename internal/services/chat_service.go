package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/reader"
)

const chatSystemPrompt = "You are a reading assistant answering questions about one book. " +
	"Use the provided book text first. If the answer is not in it, say so briefly."

// chatPassages is how many embedded chunks are added next to the excerpt.
const chatPassages = 5

type ChatService struct {
	books    core.BookStore
	chunks   core.ArtifactStore
	reader   *reader.Reader
	llm      core.LLMProvider
	embedder core.EmbeddingProvider
}

// NewChatService builds the chat flow. embedder may be nil, in which case
// only the excerpt is used as context.
func NewChatService(books core.BookStore, chunks core.ArtifactStore, r *reader.Reader, llm core.LLMProvider, embedder core.EmbeddingProvider) *ChatService {
	return &ChatService{books: books, chunks: chunks, reader: r, llm: llm, embedder: embedder}
}

type ChatAnswer struct {
	Answer        string        `json:"answer"`
	ContextSource reader.Source `json:"context_source"`
}

func (s *ChatService) Ask(ctx context.Context, bookID, message, content string) (*ChatAnswer, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrValidation)
	}
	book, err := s.books.GetBookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, fmt.Errorf("book %s: %w", bookID, core.ErrNotFound)
	}

	// Passages and excerpt share one character budget.
	budget := s.reader.Budget()
	passages := truncateRunes(s.passages(ctx, book.ID, message), budget/4)

	res := s.reader.GetContentForQuestion(ctx, reader.Query{
		DocumentID:  book.ID,
		SourceURL:   book.SourceURL,
		ContentType: book.ContentType,
		Message:     message,
		Content:     content,
		Budget:      budget - utf8.RuneCountInString(passages),
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Book: %s", book.Title)
	if book.Author != "" {
		fmt.Fprintf(&sb, " by %s", book.Author)
	}
	sb.WriteString("\n\nBook text:\n")
	sb.WriteString(res.Excerpt)

	if passages != "" {
		sb.WriteString("\n\nRelated passages:\n")
		sb.WriteString(passages)
	}
	fmt.Fprintf(&sb, "\n\nQuestion: %s", message)

	answer, err := s.llm.Generate(ctx, chatSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &ChatAnswer{Answer: strings.TrimSpace(answer), ContextSource: res.Source}, nil
}

// passages returns the nearest embedded chunks, or "" when embeddings are
// unavailable. Failures here only reduce context.
func (s *ChatService) passages(ctx context.Context, bookID, message string) string {
	if s.embedder == nil || s.chunks == nil {
		return ""
	}
	vecs, err := s.embedder.EmbedTexts(ctx, []string{message})
	if err != nil || len(vecs) == 0 {
		log.Debug().Err(err).Str("document_id", bookID).Msg("query embedding unavailable")
		return ""
	}
	found, err := s.chunks.SearchDocumentChunks(ctx, bookID, vecs[0], chatPassages)
	if err != nil {
		log.Debug().Err(err).Str("document_id", bookID).Msg("chunk search failed")
		return ""
	}
	var sb strings.Builder
	for _, ch := range found {
		sb.WriteString(ch.Text)
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
