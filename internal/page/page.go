package page

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/GriffinCanCode/imgfirewall/internal/scan"
)

// MaxHTMLSize limits fetched and loaded documents.
const MaxHTMLSize = 10 << 20

var (
	ErrEmpty    = errors.New("html content required")
	ErrTooLarge = fmt.Errorf("html exceeds maximum size of %d bytes", MaxHTMLSize)
	ErrFetch    = errors.New("page fetch failed")
)

// DetectCharset names the encoding of an HTML document. A BOM or the
// Content-Type charset wins; valid UTF-8 is taken as such; otherwise the
// statistical detector decides.
func DetectCharset(data []byte, contentType string) string {
	_, name, certain := charset.DetermineEncoding(data, contentType)
	if certain {
		return name
	}
	if utf8.Valid(data) {
		return "utf-8"
	}
	result, err := chardet.NewHtmlDetector().DetectBest(data)
	if err == nil && result != nil && result.Confidence >= 50 {
		return strings.ToLower(result.Charset)
	}
	return name
}

// FromBytes decodes data to UTF-8 and parses it into a page.
func FromBytes(data []byte, contentType, baseURL string) (*scan.Page, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxHTMLSize {
		return nil, ErrTooLarge
	}

	r, err := charset.NewReaderLabel(DetectCharset(data, contentType), bytes.NewReader(data))
	if err != nil {
		r = bytes.NewReader(data)
	}
	return scan.ParsePage(r, baseURL)
}

// FromHTML parses an HTML string. baseURL may be empty.
func FromHTML(html, baseURL string) (*scan.Page, error) {
	return FromBytes([]byte(html), "", baseURL)
}

// Open loads an HTML file. Relative image references resolve against the
// file's location.
func Open(path string) (*scan.Page, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return FromBytes(data, "", "file://"+filepath.ToSlash(abs))
}

// Fetcher downloads pages over HTTP.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
}

// FetcherOptions tunes a Fetcher.
type FetcherOptions struct {
	Timeout  time.Duration
	MaxBytes int64
}

// NewFetcher creates a fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 || opts.MaxBytes > MaxHTMLSize {
		opts.MaxBytes = MaxHTMLSize
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("User-Agent", "imgfirewall/1.0").
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &Fetcher{client: client, maxBytes: opts.MaxBytes}
}

// Fetch downloads rawURL and parses it. The page origin is the final URL
// after redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*scan.Page, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, rawURL, resp.Status())
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrFetch, rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, ErrTooLarge)
	}

	base := rawURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		base = raw.Request.URL.String()
	}
	return FromBytes(data, resp.Header().Get("Content-Type"), base)
}
