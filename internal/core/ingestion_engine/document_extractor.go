package ingestion_engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// convertFunc matches docconv.Convert so tests can stand in for the external tools.
type convertFunc func(r io.Reader, mimeType string, readability bool) (*docconv.Response, error)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
	convert        convertFunc
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, convert: docconv.Convert}
}

type conversion struct {
	res *docconv.Response
	err error
}

// Extract converts raw document bytes into normalized text and computes its
// metadata. The fingerprint is taken over the normalized text, not the input.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractionResult, error) {
	if len(data) == 0 {
		return nil, &core.ExtractError{Reason: "empty input"}
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	contentType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])

	done := make(chan conversion, 1)
	go func() {
		res, err := e.convert(bytes.NewReader(data), contentType, e.useReadability)
		done <- conversion{res: res, err: err}
	}()

	var c conversion
	select {
	case c = <-done:
	case <-ctx.Done():
		return nil, &core.ExtractError{Reason: "extraction cancelled", Cause: ctx.Err()}
	}

	if c.err != nil {
		log.Warn().Err(c.err).Str("content_type", contentType).Msg("docconv: extraction failed")
		return nil, &core.ExtractError{Reason: "unparseable document", Cause: c.err}
	}
	if c.res == nil {
		return nil, &core.ExtractError{Reason: "no conversion result"}
	}

	raw := c.res.Body
	text := NormalizeText(raw)
	if text == "" {
		log.Warn().Str("content_type", contentType).Msg("docconv: extracted empty text")
		return nil, &core.ExtractError{Reason: "no extractable text"}
	}

	return &core.ExtractionResult{
		Text:        text,
		PageCount:   pageCount(c.res.Meta, raw),
		WordCount:   WordCount(text),
		ByteSize:    len(text),
		Fingerprint: Fingerprint(text),
	}, nil
}

// Fingerprint is the hex SHA-256 of text. Identical text always yields the same value.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

var inlineSpace = regexp.MustCompile(`[ \t\v\f\r\x{00a0}]+`)

// NormalizeText trims every line, collapses runs of inline whitespace and
// squeezes consecutive blank lines down to one paragraph break.
func NormalizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")

	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// pageCount prefers the page count reported by the converter (pdfinfo "Pages")
// and falls back to counting form-feed separated pages in the raw output.
func pageCount(meta map[string]string, raw string) int {
	if v, ok := meta["Pages"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	pages := 0
	for _, p := range strings.Split(raw, "\f") {
		if strings.TrimSpace(p) != "" {
			pages++
		}
	}
	if pages == 0 {
		return 1
	}
	return pages
}
