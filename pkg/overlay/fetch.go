package overlay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

const maxOverlayBytes = 32 << 20

var ErrTooLarge = errors.New("overlay image too large")

// readLimited reads r fully, failing with ErrTooLarge past maxOverlayBytes.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxOverlayBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxOverlayBytes {
		return nil, fmt.Errorf("%w: exceeds %s", ErrTooLarge, humanize.IBytes(maxOverlayBytes))
	}
	return data, nil
}

// Fetcher resolves an image source reference to bytes.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// DefaultFetcher reads http(s) URLs with Client and everything else from
// the local file system.
type DefaultFetcher struct {
	Client *http.Client
}

func (f DefaultFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return f.fetchURL(ctx, source)
	}
	source = strings.TrimPrefix(source, "file://")

	return os.ReadFile(source)
}

func (f DefaultFetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: %s", url, resp.Status)
	}

	return readLimited(resp.Body)
}
