// Package executor talks to the external code-execution service: one
// POST per run, body {stdin, language}, response {stdout}.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/CodeRoom/internal/domain"
)

type programRequest struct {
	Stdin    string          `json:"stdin"`
	Language domain.Language `json:"language"`
}

type programResponse struct {
	Stdout string `json:"stdout"`
}

type Client struct {
	url  string
	http *http.Client
}

// New bounds every run with timeout; the reference design left the
// call unbounded, which leaks a goroutine per hung compiler.
func New(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Run(ctx context.Context, language domain.Language, source string) (string, error) {
	body, err := json.Marshal(programRequest{Stdin: source, Language: language})
	if err != nil {
		return "", fmt.Errorf("marshal program request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build program request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call compiler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("compiler returned %s", resp.Status)
	}

	var out programResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode compiler response: %w", err)
	}
	return out.Stdout, nil
}
