package enrichment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Bookwise/internal/core"
	ie "github.com/markdave123-py/Bookwise/internal/core/ingestion_engine"
	"github.com/markdave123-py/Bookwise/internal/models"
)

// EmbeddingGenerator chunks the text, embeds each chunk and swaps the
// document's stored chunks for the new set.
type EmbeddingGenerator struct {
	embedder core.EmbeddingProvider
	store    core.ArtifactStore
	cfg      ie.ChunkConfig
}

func NewEmbeddingGenerator(embedder core.EmbeddingProvider, store core.ArtifactStore, cfg ie.ChunkConfig) *EmbeddingGenerator {
	if cfg.TargetTokens <= 0 || cfg.BatchSize <= 0 {
		cfg = ie.DefaultChunkConfig()
	}
	return &EmbeddingGenerator{embedder: embedder, store: store, cfg: cfg}
}

func (g *EmbeddingGenerator) Name() models.Stage { return models.StageEmbedding }

// Generate returns one embedded chunk per token window of text, in order.
func (g *EmbeddingGenerator) Generate(ctx context.Context, documentID, text string) ([]models.DocumentChunk, error) {
	grp, gctx := errgroup.WithContext(ctx)

	// text -> fragments -> chunks
	frags := ie.Fragments(gctx, grp, text)
	chunks := ie.StreamChunks(gctx, grp, frags, g.cfg.TargetTokens, g.cfg.OverlapTokens)

	var rows []models.DocumentChunk
	grp.Go(func() error {
		batch := make([]ie.Chunk, 0, g.cfg.BatchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Text
			}
			vecs, err := g.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return &core.GenerationError{Stage: models.StageEmbedding, Reason: "provider call failed", Cause: err}
			}
			if len(vecs) != len(batch) {
				return &core.GenerationError{
					Stage:  models.StageEmbedding,
					Reason: fmt.Sprintf("embed size mismatch: got %d want %d", len(vecs), len(batch)),
				}
			}
			for i := range batch {
				rows = append(rows, models.DocumentChunk{
					DocumentID: documentID,
					Text:       batch[i].Text,
					Embedding:  vecs[i],
					Position:   batch[i].Pos,
					TokenCount: batch[i].TokenCnt,
				})
			}
			batch = batch[:0]
			return nil
		}

		for c := range chunks {
			batch = append(batch, c)
			if len(batch) == g.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &core.GenerationError{Stage: models.StageEmbedding, Reason: "no chunks produced"}
	}
	return rows, nil
}

func (g *EmbeddingGenerator) Run(ctx context.Context, book *models.Book, text string) (Usage, error) {
	rows, err := g.Generate(ctx, book.ID, text)
	if err != nil {
		return Usage{}, err
	}
	if err := g.store.ReplaceDocumentChunks(ctx, book.ID, rows); err != nil {
		return Usage{}, fmt.Errorf("replace chunks: %w", err)
	}
	log.Debug().Str("document_id", book.ID).Int("chunks", len(rows)).Msg("embeddings stored")
	return Usage{Items: len(rows)}, nil
}
