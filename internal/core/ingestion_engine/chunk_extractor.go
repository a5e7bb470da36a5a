package ingestion_engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Fragments splits normalized text into non-empty lines and streams them.
func Fragments(ctx context.Context, g *errgroup.Group, text string) <-chan string {
	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return out
}

// StreamChunks groups incoming fragments into token-bounded chunks with optional overlap.
//
// frags:          upstream fragments channel.
// targetTokens:   approximate tokens per chunk.
// overlapTokens:  tokens to retain from the end of the previous chunk as seed of the next (e.g., 50).
// out:            receive-only channel of Chunk values with Pos/Text/TokenCnt.
func StreamChunks(
	ctx context.Context,
	g *errgroup.Group,
	frags <-chan string,
	targetTokens int,
	overlapTokens int,
) <-chan Chunk {
	out := make(chan Chunk, 8)

	g.Go(func() error {
		defer close(out)

		var (
			buf    []string
			tokSum int
			pos    int
			// fresh counts tokens added since the last emit, so a tail made
			// only of overlap is not emitted twice.
			fresh int
		)

		flush := func() error {
			if fresh == 0 {
				return nil
			}
			ch := Chunk{Pos: pos, Text: strings.Join(buf, "\n"), TokenCnt: tokSum}
			pos++

			// Backpressure applies here.
			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Debug().Int("chunk", ch.Pos).Int("tokens", tokSum).Int("lines", len(buf)).Msg("chunk emitted")

			fresh = 0
			if overlapTokens > 0 {
				keep := []string{}
				remain := overlapTokens
				for j := len(buf) - 1; j >= 0 && remain > 0; j-- {
					keep = append([]string{buf[j]}, keep...)
					remain -= approxTokens(buf[j])
				}
				buf = keep

				tokSum = 0
				for _, s := range buf {
					tokSum += approxTokens(s)
				}
			} else {
				buf = buf[:0]
				tokSum = 0
			}
			return nil
		}

		for frag := range frags {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			t := approxTokens(frag)
			buf = append(buf, frag)
			tokSum += t
			fresh += t

			if tokSum >= targetTokens {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		return flush()
	})

	return out
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
