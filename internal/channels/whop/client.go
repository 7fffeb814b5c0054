// Package whop talks to the community platform: the event stream listener,
// the message send API and the channel-group directory.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/retry"
	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

const (
	sendPath     = "/messages"
	mappingsPath = "/bot/channel_mappings"
	maxPages     = 100
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	APIBase           string
	Token             string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is the platform REST client. All requests share one token-bucket
// limiter so bursts of replies do not trip the platform's own rate limits.
type Client struct {
	apiBase string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// SendMessage posts a message to a feed and returns the created message id.
// It makes a single attempt; callers wrap it in retry.Do.
func (c *Client) SendMessage(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	body, err := json.Marshal(sendRequest{
		FeedID:    msg.FeedID,
		FeedType:  FeedType(msg.FeedID),
		Content:   msg.Content,
		ReplyToID: msg.ReplyToID,
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("whop: marshal send: %w", err))
	}

	header := http.Header{}
	if msg.IdempotencyKey != "" {
		header.Set("Idempotency-Key", msg.IdempotencyKey)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.apiBase+sendPath, body, header)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp sendResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("whop: decode send response: %w", err)
	}
	return resp.ID, nil
}

// ListMappings returns the full channel-group to tenant directory,
// following pagination cursors.
func (c *Client) ListMappings(ctx context.Context) ([]store.Mapping, error) {
	var (
		out    []store.Mapping
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		u := c.apiBase + mappingsPath
		if cursor != "" {
			u += "?cursor=" + url.QueryEscape(cursor)
		}

		p, err := retry.Do(ctx, retry.DefaultConfig(), func() (*mappingPage, error) {
			respBody, err := c.do(ctx, http.MethodGet, u, nil, nil)
			if err != nil {
				return nil, err
			}
			defer respBody.Close()

			var p mappingPage
			if err := json.NewDecoder(respBody).Decode(&p); err != nil {
				return nil, fmt.Errorf("whop: decode mappings: %w", err)
			}
			return &p, nil
		})
		if err != nil {
			return nil, err
		}

		for _, m := range p.Data {
			if m.ChannelGroupID == "" || m.TenantID == "" {
				continue
			}
			out = append(out, store.Mapping{ChannelGroupID: m.ChannelGroupID, TenantID: m.TenantID})
		}
		if p.Pagination.NextCursor == "" {
			return out, nil
		}
		cursor = p.Pagination.NextCursor
	}
	return out, fmt.Errorf("whop: mappings pagination exceeded %d pages", maxPages)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, header http.Header) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("whop: create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whop: request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			Body:       "whop: " + string(respBody),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}
