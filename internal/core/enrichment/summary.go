package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/models"
)

const summarySystemPrompt = `You write short, neutral overviews of books for a library catalogue.
Answer with plain prose only: no headings, no lists, no markdown.`

// SummaryGenerator writes a short overview onto the book record.
type SummaryGenerator struct {
	llm          core.LLMProvider
	books        core.BookStore
	contextChars int
}

func NewSummaryGenerator(llm core.LLMProvider, books core.BookStore, contextChars int) *SummaryGenerator {
	return &SummaryGenerator{llm: llm, books: books, contextChars: contextChars}
}

func (g *SummaryGenerator) Name() models.Stage { return models.StageSummary }

// Generate asks for an overview of text. Empty output is a GenerationError.
func (g *SummaryGenerator) Generate(ctx context.Context, book *models.Book, text string) (string, error) {
	var b strings.Builder
	if book != nil && book.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", book.Title)
		if book.Author != "" {
			fmt.Fprintf(&b, "Author: %s\n", book.Author)
		}
	}
	b.WriteString("Write an overview of three to five sentences for the following book text.\n\n")
	b.WriteString(headRunes(text, g.contextChars))

	out, err := g.llm.Generate(ctx, summarySystemPrompt, b.String())
	if err != nil {
		return "", &core.GenerationError{Stage: models.StageSummary, Reason: "provider call failed", Cause: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &core.GenerationError{Stage: models.StageSummary, Reason: "empty output"}
	}
	return out, nil
}

func (g *SummaryGenerator) Run(ctx context.Context, book *models.Book, text string) (Usage, error) {
	overview, err := g.Generate(ctx, book, text)
	if err != nil {
		return Usage{}, err
	}
	if err := g.books.UpdateBookOverview(ctx, book.ID, overview, models.OverviewGenerated); err != nil {
		return Usage{}, fmt.Errorf("save overview: %w", err)
	}
	return Usage{Items: 1, Chars: len([]rune(overview))}, nil
}

func (g *SummaryGenerator) RecordFailure(ctx context.Context, book *models.Book, err error) {
	if book.OverviewStatus == models.OverviewManual || book.OverviewStatus == models.OverviewGenerated {
		// Keep the existing overview; the job records the failure.
		return
	}
	if uerr := g.books.UpdateBookOverview(ctx, book.ID, book.Overview, models.OverviewFailed); uerr != nil {
		log.Warn().Err(uerr).Str("document_id", book.ID).Msg("could not mark overview failed")
	}
}
