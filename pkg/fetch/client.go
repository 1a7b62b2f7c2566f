// Package fetch downloads stored objects by their public URL.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"pdf-ingest-go/internal/config"
	"pdf-ingest-go/pkg/log"
)

// ErrTooLarge is returned when the object body exceeds the configured limit.
var ErrTooLarge = errors.New("object exceeds maximum size")

// Client fetches whole objects into memory.
type Client struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewClient creates a fetch client. maxBytes <= 0 disables the size limit.
func NewClient(cfg config.FetchConfig, maxBytes int64) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxBytes:   maxBytes,
	}
}

// Get issues a GET against url and returns the full body.
// Non-2xx responses are errors.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Errorf("[Fetch] 对象下载返回非 2xx 状态码: %s, url: %s", resp.Status, url)
		return nil, fmt.Errorf("fetch returned non-2xx status: %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, ErrTooLarge
	}

	log.Infof("[Fetch] 对象下载成功, url: %s, 大小: %d 字节", url, len(data))
	return data, nil
}
