package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultNotionBaseURL = "https://api.notion.com"
	notionVersion        = "2022-06-28"
	notionPageSize       = 100
	// notionMaxPages stops runaway pagination on a misbehaving upstream.
	notionMaxPages = 1000
)

// NotionSyncer pages through the Notion search endpoint and counts the results.
type NotionSyncer struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NotionOption customises a NotionSyncer.
type NotionOption func(*NotionSyncer)

func WithNotionBaseURL(u string) NotionOption {
	return func(n *NotionSyncer) {
		if u != "" {
			n.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(c *http.Client) NotionOption {
	return func(n *NotionSyncer) {
		if c != nil {
			n.client = c
		}
	}
}

// WithNotionRate overrides the request rate (Notion allows about three per second).
func WithNotionRate(perSecond float64, burst int) NotionOption {
	return func(n *NotionSyncer) { n.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewNotionSyncer(opts ...NotionOption) *NotionSyncer {
	n := &NotionSyncer{
		baseURL: DefaultNotionBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type notionSearchRequest struct {
	PageSize    int    `json:"page_size"`
	StartCursor string `json:"start_cursor,omitempty"`
}

type notionSearchResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

type notionError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Sync implements Syncer.
func (n *NotionSyncer) Sync(ctx context.Context, _ Connection, token string) (int, error) {
	total := 0
	cursor := ""
	for page := 0; page < notionMaxPages; page++ {
		resp, err := n.search(ctx, token, cursor)
		if err != nil {
			return total, err
		}
		total += len(resp.Results)
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return total, nil
		}
		cursor = *resp.NextCursor
	}
	return total, fmt.Errorf("notion: gave up after %d pages", notionMaxPages)
}

func (n *NotionSyncer) search(ctx context.Context, token, cursor string) (*notionSearchResponse, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(notionSearchRequest{PageSize: notionPageSize, StartCursor: cursor})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notion: search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var ne notionError
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(raw, &ne) == nil && ne.Message != "" {
			return nil, fmt.Errorf("notion: search: %d %s: %s", res.StatusCode, ne.Code, ne.Message)
		}
		return nil, fmt.Errorf("notion: search: unexpected status %d", res.StatusCode)
	}

	var out notionSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("notion: decode search: %w", err)
	}
	return &out, nil
}
