package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/vanish-chat/vanish/internal/auth"
)

// ErrDeliveryTimeout marks an upload or fetch that exceeded its bounded
// timeout. Callers treat it as retryable, never fatal.
var ErrDeliveryTimeout = errors.New("cache: delivery timed out")

const uploadTimeout = 30 * time.Second

// Uploader moves binary ciphertext out-of-band: payload bytes up to a
// content locator, and back down again for display.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// HTTPUploader talks to the server's upload endpoint with a bounded
// timeout and the caller's bearer credential.
type HTTPUploader struct {
	base   string
	tokens auth.TokenSource
	client *http.Client
}

func NewHTTPUploader(base string, tokens auth.TokenSource) *HTTPUploader {
	return &HTTPUploader{
		base:   base,
		tokens: tokens,
		client: &http.Client{Timeout: uploadTimeout},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	endpoint := u.base + "/upload?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+u.tokens.Token())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", timeoutErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (u *HTTPUploader) Fetch(ctx context.Context, locator string) ([]byte, error) {
	endpoint := locator
	if parsed, err := url.Parse(locator); err == nil && !parsed.IsAbs() {
		endpoint = u.base + locator
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.tokens.Token())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, timeoutErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrDeliveryTimeout, err)
	}
	return err
}
