// Package client talks to the roadmap HTTP API. It implements
// roadmap.Remote, roadmap.PositionSwapper and roadmap.Loader so an editor
// can run directly against a server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"roadmap/api/internal/roadmap"
)

const maxErrorBody = 64 << 10

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type RoadmapPage struct {
	Data       []roadmap.Summary `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

type SearchResult struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	RoadmapID string `json:"roadmapId"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *Client) ListRoadmaps(ctx context.Context, limit, offset int) (RoadmapPage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var page RoadmapPage
	err := c.do(ctx, http.MethodGet, withQuery("/api/roadmaps", query), nil, &page)
	return page, err
}

func (c *Client) CreateRoadmap(ctx context.Context, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	var out roadmap.Roadmap
	err := c.do(ctx, http.MethodPost, "/api/roadmaps", in, &out)
	return out, err
}

func (c *Client) GetRoadmap(ctx context.Context, roadmapID string) (roadmap.Details, error) {
	var out roadmap.Details
	err := c.do(ctx, http.MethodGet, roadmapPath(roadmapID), nil, &out)
	return out, err
}

func (c *Client) UpdateRoadmap(ctx context.Context, roadmapID string, patch roadmap.RoadmapPatch) (roadmap.Roadmap, error) {
	var out roadmap.Roadmap
	err := c.do(ctx, http.MethodPatch, roadmapPath(roadmapID), patch, &out)
	return out, err
}

func (c *Client) DeleteRoadmap(ctx context.Context, roadmapID string) error {
	return c.do(ctx, http.MethodDelete, roadmapPath(roadmapID), nil, nil)
}

func (c *Client) ListItems(ctx context.Context, roadmapID string) ([]roadmap.Item, error) {
	var out struct {
		Items []roadmap.Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, roadmapPath(roadmapID)+"/items", nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []roadmap.Item{}
	}
	return out.Items, nil
}

func (c *Client) CreateItem(ctx context.Context, roadmapID string, in roadmap.CreateItemInput) (roadmap.Item, error) {
	var out roadmap.Item
	err := c.do(ctx, http.MethodPost, roadmapPath(roadmapID)+"/items", in, &out)
	return out, err
}

// UpdateItem sends a partial update (PATCH).
func (c *Client) UpdateItem(ctx context.Context, roadmapID, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
	var out roadmap.Item
	err := c.do(ctx, http.MethodPatch, itemPath(roadmapID, itemID), in, &out)
	return out, err
}

// SetCompletion sends the full completion update (PUT). The server may
// answer with the item, an array of items or {"items": [...]}.
func (c *Client) SetCompletion(ctx context.Context, roadmapID, itemID string, in roadmap.CompletionInput) ([]roadmap.Item, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPut, itemPath(roadmapID, itemID), in, &raw); err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

func (c *Client) DeleteItem(ctx context.Context, roadmapID, itemID string) error {
	return c.do(ctx, http.MethodDelete, itemPath(roadmapID, itemID), nil, nil)
}

// SwapPositions exchanges two sibling positions in one server transaction.
func (c *Client) SwapPositions(ctx context.Context, roadmapID, itemID, otherID string) ([]roadmap.Item, error) {
	var raw json.RawMessage
	body := map[string]string{"with": otherID}
	if err := c.do(ctx, http.MethodPost, itemPath(roadmapID, itemID)+"/swap", body, &raw); err != nil {
		return nil, err
	}
	return decodeItems(raw)
}

func (c *Client) Search(ctx context.Context, text, roadmapID string, limit int) (SearchResponse, error) {
	query := url.Values{"q": []string{text}}
	if roadmapID != "" {
		query.Set("roadmapId", roadmapID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out SearchResponse
	err := c.do(ctx, http.MethodGet, withQuery("/api/search", query), nil, &out)
	return out, err
}

// Sequential is a view of the client without the atomic swap, for stores
// that only offer per item updates.
func (c *Client) Sequential() roadmap.Remote {
	return sequential{c}
}

type sequential struct {
	c *Client
}

func (s sequential) CreateItem(ctx context.Context, roadmapID string, in roadmap.CreateItemInput) (roadmap.Item, error) {
	return s.c.CreateItem(ctx, roadmapID, in)
}

func (s sequential) UpdateItem(ctx context.Context, roadmapID, itemID string, in roadmap.UpdateItemInput) (roadmap.Item, error) {
	return s.c.UpdateItem(ctx, roadmapID, itemID, in)
}

func (s sequential) SetCompletion(ctx context.Context, roadmapID, itemID string, in roadmap.CompletionInput) ([]roadmap.Item, error) {
	return s.c.SetCompletion(ctx, roadmapID, itemID, in)
}

func (s sequential) DeleteItem(ctx context.Context, roadmapID, itemID string) error {
	return s.c.DeleteItem(ctx, roadmapID, itemID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &roadmap.RemoteError{Kind: roadmap.KindUnexpected, Message: "encode request: " + err.Error(), Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &roadmap.RemoteError{Kind: roadmap.KindUnexpected, Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &roadmap.RemoteError{Kind: roadmap.KindRemoteUnreachable, Message: "network error: " + unwrapURLError(err).Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejected(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &roadmap.RemoteError{Kind: roadmap.KindUnexpected, Status: resp.StatusCode, Message: "unexpected response: " + err.Error(), Err: err}
	}
	return nil
}

// rejected builds the error for a non-success response. The body's error
// field, either a string or {"message","code"}, or its message field is used
// when present.
func rejected(resp *http.Response) error {
	remote := &roadmap.RemoteError{
		Kind:    roadmap.KindRemoteRejected,
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("HTTP error! status: %d", resp.StatusCode),
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Code    string          `json:"code"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &payload) != nil {
		return remote
	}
	remote.Code = payload.Code

	var text string
	var nested struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	switch {
	case len(payload.Error) == 0:
	case json.Unmarshal(payload.Error, &text) == nil:
	case json.Unmarshal(payload.Error, &nested) == nil:
		text = nested.Message
		if remote.Code == "" {
			remote.Code = nested.Code
		}
	}
	if strings.TrimSpace(text) != "" {
		remote.Message = text
	} else if strings.TrimSpace(payload.Message) != "" {
		remote.Message = payload.Message
	}
	return remote
}

func decodeItems(raw json.RawMessage) ([]roadmap.Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []roadmap.Item{}, nil
	}
	switch trimmed[0] {
	case '[':
		var items []roadmap.Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, unexpected(err)
		}
		return items, nil
	case '{':
		var wrapped struct {
			Items []roadmap.Item `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err == nil && wrapped.Items != nil {
			return wrapped.Items, nil
		}
		var single roadmap.Item
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, unexpected(err)
		}
		if single.ID == "" {
			return nil, unexpected(errors.New("item has no id"))
		}
		return []roadmap.Item{single}, nil
	default:
		return nil, unexpected(fmt.Errorf("unsupported payload %q", string(trimmed[:1])))
	}
}

func unexpected(err error) error {
	return &roadmap.RemoteError{Kind: roadmap.KindUnexpected, Message: "unexpected response: " + err.Error(), Err: err}
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

func roadmapPath(roadmapID string) string {
	return "/api/roadmaps/" + url.PathEscape(roadmapID)
}

func itemPath(roadmapID, itemID string) string {
	return roadmapPath(roadmapID) + "/items/" + url.PathEscape(itemID)
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
