package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"multiroom/internal/models"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// Client talks to the room lookup endpoints of the chat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. timeout bounds every
// request; zero leaves requests bounded only by their context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ValidateRoom asks the server whether roomCode exists. Any non-2xx answer
// or transport problem is returned as an error.
func (c *Client) ValidateRoom(ctx context.Context, roomCode string) (bool, error) {
	var resp models.ValidationResponse
	if err := c.getJSON(ctx, c.roomURL(roomCode, "validate"), &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// RoomMembers fetches the current membership snapshot of roomCode.
func (c *Client) RoomMembers(ctx context.Context, roomCode string) (models.MembershipSnapshot, error) {
	var snapshot models.MembershipSnapshot
	if err := c.getJSON(ctx, c.roomURL(roomCode, "members"), &snapshot); err != nil {
		return models.MembershipSnapshot{}, err
	}
	if snapshot.RoomCode == "" {
		snapshot.RoomCode = roomCode
	}
	return snapshot, nil
}

func (c *Client) roomURL(roomCode, action string) string {
	return fmt.Sprintf("%s/api/rooms/%s/%s", c.baseURL, url.PathEscape(roomCode), action)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
