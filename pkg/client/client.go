package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/scrum-poker/scrumpoker/pkg/domain"
)

// SessionCookie is the cookie the server keeps the session id in.
const SessionCookie = "sessionId"

// CreateRoomRequest is the payload for creating a new room.
type CreateRoomRequest struct {
	Name     string `json:"name"`
	UserName string `json:"userName"`
}

// JoinRoomRequest is the payload for joining an existing room.
type JoinRoomRequest struct {
	UserName string `json:"userName"`
}

// JoinResult is the server's answer to a join: the caller's participant
// record and the room as it stands.
type JoinResult struct {
	User domain.Participant `json:"user"`
	Room *domain.Room       `json:"room"`
}

// ServerSession is the server-side session record.
type ServerSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionLookup is returned when resuming a session from its cookie.
type SessionLookup struct {
	Session ServerSession      `json:"session"`
	User    domain.Participant `json:"user"`
	Room    *domain.Room       `json:"room"`
}

// Client is the scrum poker API client. It keeps cookies between calls so
// a session created with CreateSession is sent on later requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil) //nolint:errcheck // New never fails with nil options
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetSessionID seeds the session cookie, e.g. from a saved local session.
func (c *Client) SetSessionID(id string) {
	u, err := url.Parse(c.baseURL)
	if err != nil || c.httpClient.Jar == nil {
		return
	}
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{{Name: SessionCookie, Value: id, Path: "/"}})
}

// SessionID returns the current session cookie value, if any.
func (c *Client) SessionID() string {
	u, err := url.Parse(c.baseURL)
	if err != nil || c.httpClient.Jar == nil {
		return ""
	}
	for _, ck := range c.httpClient.Jar.Cookies(u) {
		if ck.Name == SessionCookie {
			return ck.Value
		}
	}
	return ""
}

// CreateRoom creates a room with userName as its scrum master.
func (c *Client) CreateRoom(ctx context.Context, name, userName string) (*domain.Room, error) {
	var room domain.Room
	if err := c.post(ctx, "/api/rooms", CreateRoomRequest{Name: name, UserName: userName}, &room); err != nil {
		return nil, fmt.Errorf("client.CreateRoom: %w", err)
	}
	return &room, nil
}

// GetRoom fetches the full room snapshot.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	if err := c.get(ctx, "/api/rooms/"+url.PathEscape(roomID), &room); err != nil {
		return nil, fmt.Errorf("client.GetRoom: %w", err)
	}
	return &room, nil
}

// JoinRoom adds userName to the room. When the client already carries a
// session for the room the server returns the existing participant.
func (c *Client) JoinRoom(ctx context.Context, roomID, userName string) (*JoinResult, error) {
	var res JoinResult
	if err := c.post(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/join", JoinRoomRequest{UserName: userName}, &res); err != nil {
		return nil, fmt.Errorf("client.JoinRoom: %w", err)
	}
	if res.Room == nil {
		return nil, fmt.Errorf("client.JoinRoom: response has no room")
	}
	return &res, nil
}

// CreateSession opens a server session for userID in roomID and returns its
// id. The server also sets it as a cookie.
func (c *Client) CreateSession(ctx context.Context, userID, roomID string) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	path := "/api/sessions/" + url.PathEscape(userID) + "/" + url.PathEscape(roomID)
	if err := c.post(ctx, path, nil, &out); err != nil {
		return "", fmt.Errorf("client.CreateSession: %w", err)
	}
	return out.SessionID, nil
}

// GetSession resumes the session held in the cookie for roomID.
func (c *Client) GetSession(ctx context.Context, roomID string) (*SessionLookup, error) {
	params := url.Values{}
	params.Set("roomId", roomID)

	var out SessionLookup
	if err := c.get(ctx, "/api/sessions?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("client.GetSession: %w", err)
	}
	return &out, nil
}

// DeleteSession ends the current server session.
func (c *Client) DeleteSession(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/sessions", nil, nil); err != nil {
		return fmt.Errorf("client.DeleteSession: %w", err)
	}
	return nil
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) error {
	if err := c.get(ctx, "/api/health", nil); err != nil {
		return fmt.Errorf("client.Health: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		// http.Error bodies are plain text with a trailing newline.
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}
