package ingestion_engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func collectChunks(t *testing.T, text string, target, overlap int) []Chunk {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())
	frags := Fragments(ctx, g, text)
	chunks := StreamChunks(ctx, g, frags, target, overlap)

	var out []Chunk
	g.Go(func() error {
		for c := range chunks {
			out = append(out, c)
		}
		return nil
	})
	require.NoError(t, g.Wait())
	return out
}

func TestStreamChunks_NoOverlap(t *testing.T) {
	// Each line is 8 chars, 2 tokens.
	text := strings.Repeat("abcdefgh\n", 10)

	chunks := collectChunks(t, text, 4, 0)
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.Pos)
		assert.Equal(t, 4, c.TokenCnt)
		assert.Equal(t, "abcdefgh\nabcdefgh", c.Text)
	}
}

func TestStreamChunks_TailIsEmitted(t *testing.T) {
	text := "abcdefgh\nabcdefgh\nabcd"

	chunks := collectChunks(t, text, 4, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcd", chunks[1].Text)
}

func TestStreamChunks_Overlap(t *testing.T) {
	text := "aaaaaaaa\nbbbbbbbb\ncccccccc\ndddddddd"

	chunks := collectChunks(t, text, 4, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, "aaaaaaaa\nbbbbbbbb", chunks[0].Text)
	assert.Equal(t, "bbbbbbbb\ncccccccc", chunks[1].Text)
	assert.Equal(t, "cccccccc\ndddddddd", chunks[2].Text)
}

func TestStreamChunks_EmptyText(t *testing.T) {
	assert.Empty(t, collectChunks(t, "\n\n", 4, 1))
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abc"))
	assert.Equal(t, 2, approxTokens("abcde"))
}
