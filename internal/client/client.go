// Package client is a Go client for the ar-frame API, including a live
// event subscription with supervised reconnect.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ar-frame/internal/models"
)

var (
	ErrUnauthorized = fmt.Errorf("arframe unauthorized")
	ErrNotFound     = fmt.Errorf("arframe not found")
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func New(httpClient *http.Client, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

type CreateSessionRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	var out struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) ListObjects(ctx context.Context, sessionID, typeFilter string, limit int) ([]models.ARObject, error) {
	q := ""
	if typeFilter != "" {
		q = "?type=" + url.QueryEscape(typeFilter)
	}
	if limit > 0 {
		if q == "" {
			q = "?"
		} else {
			q += "&"
		}
		q += "limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Objects []models.ARObject `json:"objects"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/objects"+q, nil, &out); err != nil {
		return nil, err
	}
	return out.Objects, nil
}

func (c *Client) UpsertObject(ctx context.Context, sessionID string, in models.UpsertInput) (*models.ARObject, error) {
	var out models.ARObject
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/objects", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteObject(ctx context.Context, sessionID, objectID string) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/objects/" + url.PathEscape(objectID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return false, err
	}
	return out.Removed, nil
}

func (c *Client) ClearSession(ctx context.Context, sessionID string) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	var out models.SessionStats
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventStream is one open SSE connection to a session's change feed.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// StreamEvents opens the session's event feed. The caller must Close the
// stream; Next blocks until an event arrives or the connection drops.
func (c *Client) StreamEvents(ctx context.Context, sessionID string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(sessionID)+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, nil)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// Next returns the next event on the stream. io.EOF means the server ended
// the stream; other errors mean the connection dropped.
func (s *EventStream) Next() (*models.ChangeEvent, error) {
	var data []byte
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data != nil:
			var ev models.ChangeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, fmt.Errorf("decode event: %w", err)
			}
			return &ev, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *EventStream) Close() error { return s.body.Close() }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	var eb struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return statusError(resp.StatusCode, &eb.Error)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == "" {
		return
	}
	token := c.token
	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)
}

func statusError(code int, msg *string) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if msg != nil && strings.TrimSpace(*msg) != "" {
			return fmt.Errorf("arframe %d: %s", code, *msg)
		}
		return fmt.Errorf("arframe status %d", code)
	}
}
