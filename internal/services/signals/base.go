package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"SignalFuse/pkg/retry"
)

// HTTPServiceBase centralizes client construction and JSON POST handling
// for the model service.
type HTTPServiceBase struct {
	baseURL string
	client  *resty.Client
}

func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: baseURL,
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// PostJSON posts payload to path and decodes the JSON reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("model service client not initialized")
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(dest).
		Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// PostJSONWithRetry retries transient failures up to attempts times.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	return retry.Do(ctx, attempts, 50*time.Millisecond, 500*time.Millisecond, func(ctx context.Context) error {
		return b.PostJSON(ctx, path, payload, dest)
	})
}
