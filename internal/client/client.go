// Package client talks to a workqueue server over HTTP. A *Client can stand in
// for the local queue service wherever a worker needs a task source.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workqueue/internal/api"
	"workqueue/internal/domain"
	"workqueue/internal/queue"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ClaimNext asks the server for the next due task. The server decides what is
// due using its own clock, so now is ignored.
func (c *Client) ClaimNext(ctx context.Context, _ time.Time) (domain.Task, error) {
	var resp api.NextResponse
	if err := c.do(ctx, http.MethodGet, "/api/next", nil, &resp); err != nil {
		return domain.Task{}, err
	}
	if resp.Task == nil {
		return domain.Task{}, queue.ErrEmpty
	}
	return resp.Task.Domain(), nil
}

// Complete removes the task on the server. A task that is already gone yields
// queue.ErrNotFound.
func (c *Client) Complete(ctx context.Context, t domain.Task) error {
	return c.do(ctx, http.MethodPost, "/api/complete", api.CompleteRequest{ID: t.ID}, nil)
}

func (c *Client) Enqueue(ctx context.Context, payload []byte, priority int, scheduledAt time.Time) (string, error) {
	req := api.EnqueueRequest{Payload: string(payload), Priority: &priority}
	if !scheduledAt.IsZero() {
		req.ScheduledAt = &scheduledAt
	}
	var resp api.EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) RecordCompletion(ctx context.Context, e domain.HistoryEntry) error {
	return c.do(ctx, http.MethodPost, "/api/history", api.HistoryFromDomain(e), nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, queue.ErrNotFound)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
