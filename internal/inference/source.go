package inference

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
)

// ArtifactSource opens named files of a model artifact.
type ArtifactSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DirSource reads artifacts from a local directory.
type DirSource string

// Open returns the file, transparently decompressing gzip content. When
// name is missing but name+".gz" exists, the compressed file is used.
func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	clean := filepath.Clean("/" + name)
	path := filepath.Join(string(d), clean)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		f, err = os.Open(path + ".gz")
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", name, err)
	}
	return maybeGunzip(f)
}

// HTTPSource reads artifacts relative to a base URL, retrying transient
// failures.
type HTTPSource struct {
	BaseURL string
	Client  *retryablehttp.Client
}

// NewHTTPSource creates a source with a quiet retrying client.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, Client: newRetryClient()}
}

func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 10 * time.Second
	c.Logger = nil
	return c
}

// Open fetches base+name.
func (s *HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	url := joinURL(s.BaseURL, name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", name, err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	return maybeGunzip(resp.Body)
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
}

func (g gzipReadCloser) Close() error {
	g.Reader.Close()
	return g.underlying.Close()
}

type bufferedReadCloser struct {
	*bufio.Reader
	io.Closer
}

// maybeGunzip sniffs the gzip magic and wraps rc in a decompressor when
// present.
func maybeGunzip(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		return bufferedReadCloser{Reader: br, Closer: rc}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return gzipReadCloser{Reader: zr, underlying: rc}, nil
}

func readAll(ctx context.Context, src ArtifactSource, name string) ([]byte, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}
