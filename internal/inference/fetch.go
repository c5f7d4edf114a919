package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

// FetchResult reports what Fetch did with each artifact file.
type FetchResult struct {
	Downloaded []string
	Skipped    []string
}

// Fetch mirrors a model artifact from baseURL into dir: the manifest first,
// then the script and every shard it lists. Files already present are left
// untouched.
func Fetch(ctx context.Context, baseURL, dir string) (*FetchResult, error) {
	return fetchWith(ctx, newRetryClient(), baseURL, dir)
}

func fetchWith(ctx context.Context, client *retryablehttp.Client, baseURL, dir string) (*FetchResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	res := &FetchResult{}
	if err := download(ctx, client, baseURL, dir, ManifestFile, res); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	files := manifest.Paths()
	if manifest.Script != "" {
		files = append(files, manifest.Script)
	}
	for _, name := range files {
		if err := download(ctx, client, baseURL, dir, name, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func download(ctx context.Context, client *retryablehttp.Client, baseURL, dir, name string, res *FetchResult) error {
	dest := filepath.Join(dir, filepath.Clean("/"+name))
	if _, err := os.Stat(dest); err == nil {
		res.Skipped = append(res.Skipped, name)
		return nil
	}

	url := joinURL(baseURL, name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	res.Downloaded = append(res.Downloaded, name)
	return nil
}
