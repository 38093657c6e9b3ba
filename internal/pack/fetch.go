package pack

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher retrieves the bytes behind a record's file URL.
type Fetcher interface {
	Fetch(ctx context.Context, fileURL string) ([]byte, error)
}

// Uploader stores an archive and returns a retrievable URL for it.
type Uploader interface {
	UploadArchive(ctx context.Context, name string, data []byte) (string, error)
}

// HTTPFetcher GETs file URLs directly.
type HTTPFetcher struct {
	Client *http.Client
	// Header is added to every request, typically Authorization.
	Header http.Header
	// MaxBytes bounds a single body; zero means no limit.
	MaxBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range f.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", fileURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", fileURL, resp.StatusCode)
	}
	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileURL, err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("get %s: body exceeds %d bytes", fileURL, f.MaxBytes)
	}
	return data, nil
}
