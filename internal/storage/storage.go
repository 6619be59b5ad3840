package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docchat/internal/config"
	"docchat/internal/models"
)

// Client downloads uploaded files from Supabase Storage over its REST API.
// The bucket contents are opaque blobs; this client only fetches them.
type Client struct {
	baseURL    string
	serviceKey string
	bucket     string
	http       *http.Client
}

func NewClient(cfg *config.StorageConfig) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Download fetches one object by its storage path.
func (c *Client) Download(ctx context.Context, objectPath string) ([]byte, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, strings.TrimPrefix(objectPath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "download storage object", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &models.UpstreamFetchError{
			Op:  "download storage object",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.UpstreamFetchError{Op: "download storage object", Err: err}
	}
	return body, nil
}
