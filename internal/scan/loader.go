package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/resilience"
)

var (
	ErrTainted           = errors.New("cross-origin image: pixels are not readable")
	ErrCORSDenied        = errors.New("cross-origin request denied by server")
	ErrNoPixels          = errors.New("image has no pixel data")
	ErrUnsupportedImage  = errors.New("unsupported image type")
	ErrUnsupportedScheme = errors.New("unsupported image url scheme")
	ErrImageTooLarge     = errors.New("image exceeds size limit")
)

const (
	// MaxImageBytes caps a single image download.
	MaxImageBytes = 20 << 20
	// MaxImagePixels caps the decoded size of an image, checked against its
	// header before any pixel buffer is allocated.
	MaxImagePixels = 40_000_000
)

// LoadedImage is a decoded image plus whether its pixels may be read by
// the page.
type LoadedImage struct {
	Image   image.Image
	Tainted bool
}

// Natural returns the intrinsic size of the image.
func (l *LoadedImage) Natural() Size {
	if l == nil || l.Image == nil {
		return Size{}
	}
	return imageSize(l.Image)
}

// ImageRequest describes one image load as the page would issue it.
type ImageRequest struct {
	URL *url.URL
	// CrossOrigin is the element's crossorigin attribute; empty when absent.
	CrossOrigin string
	// HasCrossOrigin distinguishes crossorigin="" from no attribute.
	HasCrossOrigin bool
	PageOrigin     *url.URL
}

// ImageLoader fetches and decodes images for the coordinator.
type ImageLoader interface {
	Load(ctx context.Context, req ImageRequest) (*LoadedImage, error)
}

// HTTPImageLoaderConfig tunes an HTTPImageLoader.
type HTTPImageLoaderConfig struct {
	// StrictOrigin emulates canvas tainting for cross-origin images.
	StrictOrigin bool
	// RequestsPerSecond limits fetches across all hosts; 0 is unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
	Breaker           resilience.Settings
}

// HTTPImageLoader loads data: URLs locally and http(s) URLs with resty,
// behind a per-host circuit breaker and a shared rate limit.
type HTTPImageLoader struct {
	client   *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	strict   bool
}

// NewHTTPImageLoader creates a loader.
func NewHTTPImageLoader(cfg HTTPImageLoaderConfig) *HTTPImageLoader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("User-Agent", "imgfirewall/1.0").
		SetHeader("Accept", "image/*")

	return &HTTPImageLoader{
		client:   client,
		limiter:  limiter,
		breakers: resilience.NewGroup(cfg.Breaker),
		strict:   cfg.StrictOrigin,
	}
}

// Load fetches and decodes req.URL and applies the cross-origin rules: a
// cross-origin image loaded without a crossorigin attribute is tainted; one
// loaded with it must be granted by Access-Control-Allow-Origin or the load
// fails.
func (l *HTTPImageLoader) Load(ctx context.Context, req ImageRequest) (*LoadedImage, error) {
	if req.URL == nil {
		return nil, ErrNoPixels
	}
	switch req.URL.Scheme {
	case "data":
		return loadDataURL(req.URL.String())
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, req.URL.Scheme)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	crossOrigin := !sameOrigin(req.URL, req.PageOrigin)
	r := l.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if crossOrigin && req.HasCrossOrigin && req.PageOrigin != nil {
		r.SetHeader("Origin", originOf(req.PageOrigin))
	}

	var resp *resty.Response
	err := l.breakers.Do(req.URL.Host, func() error {
		var err error
		resp, err = r.Get(req.URL.String())
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("fetch %s: %s", req.URL, resp.Status())
		}
		return nil
	})
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", req.URL, resp.Status())
	}

	tainted := false
	if crossOrigin && l.strict {
		if !req.HasCrossOrigin {
			tainted = true
		} else if !corsAllowed(resp.Header(), req) {
			return nil, fmt.Errorf("%w: %s", ErrCORSDenied, req.URL)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.RawBody(), MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: %s", ErrImageTooLarge, req.URL)
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	return &LoadedImage{Image: img, Tainted: tainted}, nil
}

func corsAllowed(h http.Header, req ImageRequest) bool {
	allow := strings.TrimSpace(h.Get("Access-Control-Allow-Origin"))
	if allow == "" {
		return false
	}
	credentials := strings.EqualFold(req.CrossOrigin, "use-credentials")
	if allow == "*" {
		return !credentials
	}
	return req.PageOrigin != nil && allow == originOf(req.PageOrigin)
}

func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(hostPort(a), hostPort(b))
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return u.Hostname() + ":" + port
}

func originOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

// loadDataURL decodes a data: URL image. Data URLs are always same-origin.
func loadDataURL(raw string) (*LoadedImage, error) {
	rest := strings.TrimPrefix(raw, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", ErrNoPixels)
	}

	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		var err error
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		data = []byte(unescaped)
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	return &LoadedImage{Image: img}, nil
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoPixels
	}
	mt := mimetype.Detect(data)
	switch mt.String() {
	case "image/jpeg", "image/png", "image/gif":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", mt.String(), err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mt.String(), err)
	}
	return img, nil
}
