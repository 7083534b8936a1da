package library

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/media"
)

// Downloader stores environment libraries in a local cache directory.
type Downloader struct {
	dir    string
	client *retryablehttp.Client
}

func NewDownloader(dir string, retryMax int) *Downloader {
	return &Downloader{
		dir:    dir,
		client: NewRetryClient(retryMax),
	}
}

func NewRetryClient(retryMax int) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		log.Trace().
			Str(req.Method, req.URL.String()).
			Int("attempt", attempt).
			Msgf("")
	}
	return retryClient
}

// Path is where lib is cached.
func (d *Downloader) Path(lib media.Library) string {
	name := safeName(lib.ID)
	if lib.Version != "" {
		name += "-" + safeName(lib.Version)
	}
	return filepath.Join(d.dir, name)
}

// Download fetches lib unless a complete copy is already cached and returns
// its local path.
func (d *Downloader) Download(ctx context.Context, lib media.Library) (string, error) {
	path := d.Path(lib)
	if d.cached(path, lib.Size) {
		log.Debug().Str("library", lib.ID).Str("path", path).Msg("library already cached")
		return path, nil
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create library cache: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, lib.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid library url %q: %w", lib.URL, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download library %s: %w", lib.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download library %s: status code %d", lib.ID, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write library %s: %w", lib.ID, err)
	}
	if lib.Size > 0 && n != lib.Size {
		return "", fmt.Errorf("library %s is %d bytes, expected %d", lib.ID, n, lib.Size)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	log.Info().Str("library", lib.ID).Str("version", lib.Version).Int64("bytes", n).Msg("library downloaded")
	return path, nil
}

// DownloadAll stops at the first failure.
func (d *Downloader) DownloadAll(ctx context.Context, libs []media.Library) error {
	for i, lib := range libs {
		log.Info().Str("library", lib.ID).Msgf("downloading library %d/%d", i+1, len(libs))
		if _, err := d.Download(ctx, lib); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) cached(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return size <= 0 || info.Size() == size
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}
