package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/coastline-io/flotilla/pkg/api"
)

type (
	// Feed supplies the append-only, monotonically-id'd health signal
	// stream the watcher consumes incrementally
	Feed interface {
		FetchSince(
			ctx context.Context, watermark int64,
		) ([]*api.HealthSignal, error)
	}

	// HTTPFeed reads signals from the monitoring platform's HTTP API
	HTTPFeed struct {
		client  *http.Client
		baseURL string
	}
)

var ErrFeedUnavailable = errors.New("health feed unavailable")

// NewHTTPFeed creates a feed client for the given base URL
func NewHTTPFeed(baseURL string) *HTTPFeed {
	return &HTTPFeed{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

// FetchSince returns every signal with an ID greater than the watermark,
// in feed order
func (f *HTTPFeed) FetchSince(
	ctx context.Context, watermark int64,
) ([]*api.HealthSignal, error) {
	url := fmt.Sprintf("%s/signals?since=%d", f.baseURL, watermark)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d",
			ErrFeedUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	var res []*api.HealthSignal
	for _, item := range gjson.GetBytes(body, "signals").Array() {
		sig := &api.HealthSignal{
			ID:      item.Get("id").Int(),
			Host:    api.Host(item.Get("host").String()),
			Healthy: item.Get("healthy").Bool(),
			Detail:  item.Get("detail").String(),
		}
		if ts := item.Get("timestamp").String(); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				sig.Timestamp = t
			}
		}
		res = append(res, sig)
	}
	return res, nil
}
