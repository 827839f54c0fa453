package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var downloadClient = &http.Client{Timeout: 5 * time.Minute}

// Download fetches an http(s) artifact to dest.
func Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// ResolveFetch returns a fetch func that downloads http(s) references
// directly (remote encoder outputs are plain URLs) and delegates
// everything else to the store.
func ResolveFetch(s Store) func(ctx context.Context, ref, dest string) error {
	return func(ctx context.Context, ref, dest string) error {
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			return Download(ctx, ref, dest)
		}
		return s.Fetch(ctx, ref, dest)
	}
}
