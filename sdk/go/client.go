package huddlesdk

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
	"time"
)

// Client is a minimal huddle HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Group struct {
	ID         int           `json:"id"`
	Name       string        `json:"name"`
	Members    []Participant `json:"members"`
	IceBreaker string        `json:"ice_breaker,omitempty"`
}

// Session mirrors the server's session view.
type Session struct {
	ID          string        `json:"id"`
	AllowRepeat bool          `json:"allow_repeat"`
	Roster      []Participant `json:"roster"`
	Pool        []Participant `json:"pool"`
	PoolSize    int           `json:"pool_size"`
	History     []Participant `json:"history"`
	LastWinner  *Participant  `json:"last_winner,omitempty"`
	Groups      []Group       `json:"groups"`
	Duplicates  []string      `json:"duplicates,omitempty"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

type DrawResult struct {
	Winner   Participant   `json:"winner"`
	PoolSize int           `json:"pool_size"`
	History  []Participant `json:"history"`
}

// Frame is one reel frame from the spin stream.
type Frame struct {
	Phase     string      `json:"phase"`
	Tick      int         `json:"tick"`
	Ticks     int         `json:"ticks"`
	Candidate Participant `json:"candidate"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses and error events.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Is lets callers match on the server's error code, e.g. errors.Is(err, ErrEmptyPool).
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code != "" && t.Code == e.Code
}

var (
	ErrEmptyPool        = &APIError{Code: "empty_pool"}
	ErrDrawInProgress   = &APIError{Code: "draw_in_progress"}
	ErrInvalidGroupSize = &APIError{Code: "invalid_group_size"}
	ErrNotFound         = &APIError{Code: "not_found"}
)

// CreateSession starts a session from raw names.
func (c *Client) CreateSession(ctx context.Context, names []string, allowRepeat bool) (Session, error) {
	body := map[string]any{
		"names":        names,
		"allow_repeat": allowRepeat,
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", body, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, nil)
}

// ReplaceRoster swaps the roster and reinitialises the pool.
func (c *Client) ReplaceRoster(ctx context.Context, id string, names []string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(id, "roster"), map[string]any{"names": names}, &resp)
	return resp, err
}

func (c *Client) SetAllowRepeat(ctx context.Context, id string, allowed bool) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPatch, c.sessionPath(id, "settings"), map[string]any{"allow_repeat": allowed}, &resp)
	return resp, err
}

// Draw picks a winner without animation.
func (c *Client) Draw(ctx context.Context, id string) (DrawResult, error) {
	var resp DrawResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "draw"), nil, &resp)
	return resp, err
}

func (c *Client) Reset(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "reset"), nil, &resp)
	return resp, err
}

// Spin streams reel frames to onFrame and returns the winner. Cancelling ctx
// closes the stream, which cancels the draw on the server.
func (c *Client) Spin(ctx context.Context, id string, onFrame func(Frame)) (DrawResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(c.sessionPath(id, "draw/spin")), nil)
	if err != nil {
		return DrawResult{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	// The stream outlives the default request timeout.
	client := &http.Client{}
	if c.HTTPClient != nil {
		client = &http.Client{Transport: c.HTTPClient.Transport}
	}
	resp, err := client.Do(req)
	if err != nil {
		return DrawResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return DrawResult{}, readAPIError(resp)
	}
	var event string
	var data strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			payload := []byte(data.String())
			data.Reset()
			switch event {
			case "frame":
				var f Frame
				if err := json.Unmarshal(payload, &f); err != nil {
					return DrawResult{}, err
				}
				if onFrame != nil {
					onFrame(f)
				}
			case "winner":
				var out DrawResult
				err := json.Unmarshal(payload, &out)
				return out, err
			case "error":
				var body struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}
				if err := json.Unmarshal(payload, &body); err != nil {
					return DrawResult{}, err
				}
				return DrawResult{}, &APIError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Message, Body: string(payload)}
			}
			event = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return DrawResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return DrawResult{}, err
	}
	return DrawResult{}, io.ErrUnexpectedEOF
}

// Group shuffles the roster into groups of size.
func (c *Client) Group(ctx context.Context, id string, size int, iceBreakers bool) ([]Group, error) {
	var resp struct {
		Items []Group `json:"items"`
	}
	body := map[string]any{"size": size, "ice_breakers": iceBreakers}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "groups"), body, &resp)
	return resp.Items, err
}

func (c *Client) IceBreaker(ctx context.Context, id string, groupID int) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, fmt.Sprintf("groups/%d/icebreaker", groupID)), nil, &resp)
	return resp.Text, err
}

// ExportCSV downloads the latest grouping as CSV.
func (c *Client) ExportCSV(ctx context.Context, id string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, "groups.csv"), nil, &buf)
	return buf.Bytes(), err
}

// Events returns recent events, optionally for one session.
func (c *Client) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, sessionID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, sessionID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	switch o := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(o, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) sessionPath(id, p string) string {
	out := "sessions/" + url.PathEscape(id)
	if p != "" {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
