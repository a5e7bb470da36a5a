// Package fetcher downloads source documents, resolving share links into
// direct-download form first.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/Bookwise/internal/core"
	objectclient "github.com/markdave123-py/Bookwise/internal/core/object-client"
)

// DefaultTimeout bounds a single download.
const DefaultTimeout = 60 * time.Second

// DefaultMaxBytes caps the size of a downloaded document.
const DefaultMaxBytes = 200 << 20

const userAgent = "Mozilla/5.0 (compatible; Bookwise/1.0)"

var _ core.ContentFetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches documents over HTTP, or from object storage when the
// URL points at an S3 bucket and an object client is configured.
type HTTPFetcher struct {
	client   *http.Client
	obj      core.ObjectClient
	timeout  time.Duration
	maxBytes int64
}

// NewHTTPFetcher builds a fetcher. obj may be nil.
func NewHTTPFetcher(obj core.ObjectClient, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		obj:      obj,
		timeout:  timeout,
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch returns the raw bytes behind sourceURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	direct, err := ResolveDirectURL(sourceURL)
	if err != nil {
		return nil, &core.FetchError{URL: sourceURL, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.obj != nil && objectclient.IsS3URL(direct) {
		bucket, key := objectclient.ParseS3URL(direct)
		data, err := f.obj.GetFile(ctx, bucket, key)
		if err != nil {
			return nil, &core.FetchError{URL: direct, Cause: err}
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, direct, nil)
	if err != nil {
		return nil, &core.FetchError{URL: direct, Cause: err}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &core.FetchError{URL: direct, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.FetchError{URL: direct, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &core.FetchError{URL: direct, Cause: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &core.FetchError{URL: direct, Cause: fmt.Errorf("document larger than %d bytes", f.maxBytes)}
	}

	log.Debug().
		Str("url", direct).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("document fetched")

	return data, nil
}

var driveFilePath = regexp.MustCompile(`^/file/d/([^/]+)(/(view|preview|edit))?/?$`)

// ResolveDirectURL rewrites known share-link shapes into a direct-download
// URL. Anything it does not recognise is returned unchanged.
//
//	https://drive.google.com/file/d/<id>/view   -> https://drive.google.com/uc?export=download&id=<id>
//	https://drive.google.com/open?id=<id>       -> https://drive.google.com/uc?export=download&id=<id>
//	https://www.dropbox.com/s/<key>/a.pdf?dl=0  -> same URL with dl=1
func ResolveDirectURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q", raw)
	}

	host := strings.ToLower(u.Host)
	switch {
	case host == "drive.google.com" || host == "docs.google.com":
		if m := driveFilePath.FindStringSubmatch(u.Path); m != nil {
			return driveDownloadURL(m[1]), nil
		}
		if u.Path == "/open" || u.Path == "/uc" {
			if id := u.Query().Get("id"); id != "" {
				return driveDownloadURL(id), nil
			}
		}
	case host == "www.dropbox.com" || host == "dropbox.com":
		q := u.Query()
		if q.Get("dl") != "1" {
			q.Set("dl", "1")
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}
	return u.String(), nil
}

func driveDownloadURL(id string) string {
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
}
