package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	"github.com/markdave123-py/Bookwise/internal/core/llm"
	"github.com/markdave123-py/Bookwise/internal/models"
)

const (
	DefaultQuestionCount        = 20
	DefaultQuestionContextChars = 12000
)

const questionsSystemPrompt = `You write study questions about books.
Respond with a JSON array only. Each element is an object with "question" and "answer" string fields.`

// QuestionGenerator produces question/answer pairs and replaces the
// AI-generated pairs of the book with them.
type QuestionGenerator struct {
	llm          core.LLMProvider
	store        core.ArtifactStore
	count        int
	contextChars int
	validate     *validator.Validate
}

func NewQuestionGenerator(llm core.LLMProvider, store core.ArtifactStore, count, contextChars int) *QuestionGenerator {
	if count < 1 {
		count = DefaultQuestionCount
	}
	if contextChars < 1 {
		contextChars = DefaultQuestionContextChars
	}
	return &QuestionGenerator{
		llm:          llm,
		store:        store,
		count:        count,
		contextChars: contextChars,
		validate:     validator.New(),
	}
}

func (g *QuestionGenerator) Name() models.Stage { return models.StageQuestions }

type rawPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Generate requests g.count pairs using the head of text as context. Pairs
// missing a question or an answer are dropped; it fails only when none remain.
func (g *QuestionGenerator) Generate(ctx context.Context, book *models.Book, text string) ([]models.QuestionAnswer, error) {
	prompt := fmt.Sprintf(
		"Write exactly %d question and answer pairs that test understanding of the text below.\n\n%s",
		g.count, headRunes(text, g.contextChars),
	)
	out, err := g.llm.Generate(ctx, questionsSystemPrompt, prompt)
	if err != nil {
		return nil, &core.GenerationError{Stage: models.StageQuestions, Reason: "provider call failed", Cause: err}
	}

	raw, err := parsePairs(out)
	if err != nil {
		return nil, &core.GenerationError{Stage: models.StageQuestions, Reason: "unparseable output", Cause: err}
	}

	documentID := ""
	if book != nil {
		documentID = book.ID
	}

	pairs := make([]models.QuestionAnswer, 0, len(raw))
	for _, elem := range raw {
		var r rawPair
		if err := json.Unmarshal(elem, &r); err != nil {
			log.Debug().Str("document_id", documentID).Err(err).Msg("dropping undecodable question pair")
			continue
		}
		qa := models.QuestionAnswer{
			DocumentID:  documentID,
			Question:    strings.TrimSpace(r.Question),
			Answer:      strings.TrimSpace(r.Answer),
			AIGenerated: true,
		}
		if err := g.validate.Struct(qa); err != nil {
			log.Debug().Str("document_id", documentID).Err(err).Msg("dropping malformed question pair")
			continue
		}
		qa.Position = len(pairs)
		pairs = append(pairs, qa)
	}

	if len(raw) != g.count {
		log.Warn().
			Str("document_id", documentID).
			Int("requested", g.count).
			Int("returned", len(raw)).
			Int("valid", len(pairs)).
			Msg("question count differs from request")
	}
	if len(pairs) == 0 {
		return nil, &core.GenerationError{Stage: models.StageQuestions, Reason: "no valid question/answer pairs"}
	}
	if len(pairs) > g.count {
		pairs = pairs[:g.count]
	}
	return pairs, nil
}

func (g *QuestionGenerator) Run(ctx context.Context, book *models.Book, text string) (Usage, error) {
	pairs, err := g.Generate(ctx, book, text)
	if err != nil {
		return Usage{}, err
	}
	if err := g.store.ReplaceAIQuestions(ctx, book.ID, pairs); err != nil {
		return Usage{}, fmt.Errorf("replace questions: %w", err)
	}
	return Usage{Items: len(pairs)}, nil
}

// parsePairs accepts a bare JSON array or an object wrapping it under
// "questions", optionally inside a markdown fence. Elements are returned
// undecoded so one bad element does not reject the rest.
func parsePairs(out string) ([]json.RawMessage, error) {
	body := llm.CleanJSONBlock(out)
	if body == "" {
		return nil, fmt.Errorf("empty output")
	}

	var list []json.RawMessage
	if err := json.Unmarshal([]byte(body), &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Questions == nil {
		return nil, fmt.Errorf("no questions array in output")
	}
	return wrapped.Questions, nil
}
