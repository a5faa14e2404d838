package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/clipper/internal/port"
)

const maxErrorBody = 512

// Client posts hand-off requests to the AI worker's trigger endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Trigger succeeds on any 2xx answer; the worker reports everything else
// through the webhooks later.
func (c *Client) Trigger(ctx context.Context, req port.TriggerRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode trigger request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "clipper")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			return fmt.Errorf("worker answered %d", resp.StatusCode)
		}
		return fmt.Errorf("worker answered %d: %s", resp.StatusCode, msg)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var _ port.ProcessingTrigger = (*Client)(nil)
