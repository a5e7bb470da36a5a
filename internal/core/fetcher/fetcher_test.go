package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Bookwise/internal/core"
)

func TestResolveDirectURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"drive view", "https://drive.google.com/file/d/abc123/view?usp=sharing", "https://drive.google.com/uc?export=download&id=abc123"},
		{"drive preview", "https://drive.google.com/file/d/abc123/preview", "https://drive.google.com/uc?export=download&id=abc123"},
		{"drive open", "https://drive.google.com/open?id=xyz", "https://drive.google.com/uc?export=download&id=xyz"},
		{"drive already direct", "https://drive.google.com/uc?export=download&id=xyz", "https://drive.google.com/uc?export=download&id=xyz"},
		{"dropbox share", "https://www.dropbox.com/s/k3y/book.pdf?dl=0", "https://www.dropbox.com/s/k3y/book.pdf?dl=1"},
		{"plain url", "https://cdn.example.com/books/a.pdf", "https://cdn.example.com/books/a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDirectURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDirectURL_Invalid(t *testing.T) {
	_, err := ResolveDirectURL("not a url")
	assert.Error(t, err)
}

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(nil, time.Second)
	data, err := f.Fetch(context.Background(), server.URL+"/book.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), data)
}

func TestFetch_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := NewHTTPFetcher(nil, time.Second)
	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *core.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewHTTPFetcher(nil, 20*time.Millisecond)
	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *core.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestFetch_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	f := NewHTTPFetcher(nil, time.Second)
	f.maxBytes = 16
	_, err := f.Fetch(context.Background(), server.URL)

	var fetchErr *core.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

type fakeObjects struct {
	bucket, key string
	data        []byte
	err         error
}

func (f *fakeObjects) UploadFile(context.Context, string, string, io.Reader, string) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeObjects) DeleteFile(context.Context, string, string) error { return nil }
func (f *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	f.bucket, f.key = bucket, key
	return f.data, f.err
}
func (f *fakeObjects) GetObjectReader(context.Context, string, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func TestFetch_S3URLUsesObjectClient(t *testing.T) {
	obj := &fakeObjects{data: []byte("%PDF-from-s3")}
	f := NewHTTPFetcher(obj, time.Second)

	data, err := f.Fetch(context.Background(), "https://bookwise-books.s3.us-east-2.amazonaws.com/books/b1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-from-s3"), data)
	assert.Equal(t, "bookwise-books", obj.bucket)
	assert.Equal(t, "books/b1/a.pdf", obj.key)
}

func TestFetch_S3ErrorIsFetchError(t *testing.T) {
	obj := &fakeObjects{err: errors.New("s3 get failed: NoSuchKey")}
	f := NewHTTPFetcher(obj, time.Second)

	_, err := f.Fetch(context.Background(), "https://bookwise-books.s3.us-east-2.amazonaws.com/missing.pdf")
	var fetchErr *core.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}
