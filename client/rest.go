package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/scrumdash/boardsync/board"
)

// TokenProvider supplies the current access token, or an empty string when
// the user is not authenticated.
type TokenProvider interface {
	AccessToken() string
}

// StaticToken is a TokenProvider for a fixed token.
type StaticToken string

func (t StaticToken) AccessToken() string { return string(t) }

// Notifier is the sink for user-visible notifications.
type Notifier interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

// RESTClient is the HTTP collaborator the board store depends on.
type RESTClient interface {
	FetchBoard(ctx context.Context, boardID string) (*board.Board, error)
	FetchIssues(ctx context.Context, boardID string) ([]board.Issue, error)
	MoveIssue(ctx context.Context, boardID, issueID, columnID string) (*board.Issue, error)
}

// HTTPClient talks to the board REST API.
type HTTPClient struct {
	base   string
	tokens TokenProvider
	client *http.Client
}

// NewHTTPClient creates a REST client against base, e.g.
// "http://localhost:3001".
func NewHTTPClient(base string, tokens TokenProvider) *HTTPClient {
	return &HTTPClient{
		base:   base,
		tokens: tokens,
		client: &http.Client{},
	}
}

func (c *HTTPClient) FetchBoard(ctx context.Context, boardID string) (*board.Board, error) {
	var b board.Board
	path := fmt.Sprintf("/api/boards/%s/", boardID)
	if err := c.do(ctx, http.MethodGet, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *HTTPClient) FetchIssues(ctx context.Context, boardID string) ([]board.Issue, error) {
	var issues []board.Issue
	path := fmt.Sprintf("/api/issues/?board=%s", boardID)
	if err := c.do(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (c *HTTPClient) MoveIssue(ctx context.Context, boardID, issueID, columnID string) (*board.Issue, error) {
	var issue board.Issue
	path := fmt.Sprintf("/api/boards/%s/issues/%s/move/", boardID, issueID)
	body := map[string]string{"column_id": columnID}
	if err := c.do(ctx, http.MethodPatch, path, body, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// do performs a request and decodes the server's {status, data} envelope.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
