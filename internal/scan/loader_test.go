package scan

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := pngBytes(t, 60, 40)

	mux := http.NewServeMux()
	mux.HandleFunc("/plain.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/open.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/pinned.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "https://example.com")
		_, _ = w.Write(img)
	})
	mux.HandleFunc("/note.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("just some text"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestHTTPImageLoaderOrigins(t *testing.T) {
	srv := imageServer(t)
	page := mustURL(t, "https://example.com/article")

	tests := []struct {
		name        string
		path        string
		crossOrigin *string
		pageOrigin  *url.URL
		wantTainted bool
		wantErr     error
	}{
		{name: "cross-origin without attribute is tainted", path: "/plain.png", pageOrigin: page, wantTainted: true},
		{name: "cors request without grant fails", path: "/plain.png", crossOrigin: ptr("anonymous"), pageOrigin: page, wantErr: ErrCORSDenied},
		{name: "wildcard grant", path: "/open.png", crossOrigin: ptr(""), pageOrigin: page},
		{name: "wildcard refused with credentials", path: "/open.png", crossOrigin: ptr("use-credentials"), pageOrigin: page, wantErr: ErrCORSDenied},
		{name: "pinned origin grant", path: "/pinned.png", crossOrigin: ptr("anonymous"), pageOrigin: page},
		{name: "same origin", path: "/plain.png", pageOrigin: mustURL(t, srv.URL+"/index.html")},
		{name: "not an image", path: "/note.txt", pageOrigin: mustURL(t, srv.URL), wantErr: ErrUnsupportedImage},
	}

	loader := NewHTTPImageLoader(HTTPImageLoaderConfig{StrictOrigin: true})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ImageRequest{URL: mustURL(t, srv.URL+tt.path), PageOrigin: tt.pageOrigin}
			if tt.crossOrigin != nil {
				req.HasCrossOrigin = true
				req.CrossOrigin = *tt.crossOrigin
			}

			img, err := loader.Load(context.Background(), req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTainted, img.Tainted)
			assert.Equal(t, Size{Width: 60, Height: 40}, img.Natural())
		})
	}
}

func TestHTTPImageLoaderLenientOrigin(t *testing.T) {
	srv := imageServer(t)
	loader := NewHTTPImageLoader(HTTPImageLoaderConfig{})

	img, err := loader.Load(context.Background(), ImageRequest{
		URL:        mustURL(t, srv.URL+"/plain.png"),
		PageOrigin: mustURL(t, "https://example.com"),
	})
	require.NoError(t, err)
	assert.False(t, img.Tainted)
}

func TestHTTPImageLoaderFailures(t *testing.T) {
	srv := imageServer(t)
	loader := NewHTTPImageLoader(HTTPImageLoaderConfig{StrictOrigin: true, RequestsPerSecond: 100})

	_, err := loader.Load(context.Background(), ImageRequest{URL: mustURL(t, srv.URL+"/missing.png")})
	assert.Error(t, err)

	_, err = loader.Load(context.Background(), ImageRequest{URL: mustURL(t, "ftp://example.com/a.png")})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = loader.Load(context.Background(), ImageRequest{})
	assert.ErrorIs(t, err, ErrNoPixels)
}

func TestLoadDataURL(t *testing.T) {
	loader := NewHTTPImageLoader(HTTPImageLoaderConfig{StrictOrigin: true})

	img, err := loader.Load(context.Background(), ImageRequest{
		URL:        mustURL(t, pngDataURL(t, 70, 30)),
		PageOrigin: mustURL(t, testOrigin),
	})
	require.NoError(t, err)
	assert.False(t, img.Tainted)
	assert.Equal(t, Size{Width: 70, Height: 30}, img.Natural())

	_, err = loadDataURL("data:image/png;base64,!!!")
	assert.Error(t, err)
	_, err = loadDataURL("data:text/plain,hello")
	assert.ErrorIs(t, err, ErrUnsupportedImage)
	_, err = loadDataURL("data:nocomma")
	assert.ErrorIs(t, err, ErrNoPixels)
}

func TestLoaderRejectsOversizedHeader(t *testing.T) {
	huge := headerOnlyPNG(30000, 30000)
	mux := http.NewServeMux()
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(huge)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	loader := NewHTTPImageLoader(HTTPImageLoaderConfig{RequestsPerSecond: 100})
	_, err := loader.Load(context.Background(), ImageRequest{URL: mustURL(t, srv.URL+"/huge.png")})
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = loadDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(huge))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, sameOrigin(mustURL(t, "https://a.test/x.png"), mustURL(t, "https://a.test:443/page")))
	assert.False(t, sameOrigin(mustURL(t, "http://a.test/x.png"), mustURL(t, "https://a.test/page")))
	assert.False(t, sameOrigin(mustURL(t, "https://cdn.a.test/x.png"), mustURL(t, "https://a.test/page")))
	assert.False(t, sameOrigin(mustURL(t, "https://a.test/x.png"), nil))
}

func ptr(s string) *string { return &s }
