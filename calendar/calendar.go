// Package calendar creates Google Calendar events through an Apps Script
// web app that owns the calendar credentials.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yu320/NBot/fetch"
)

// ErrNotConfigured is returned when no web-app URL is set.
var ErrNotConfigured = errors.New("calendar: CALENDAR_API_URL is not set")

// DefaultTimeout bounds one web-app call.
const DefaultTimeout = 10 * time.Second

// Event is the request body understood by the web app.
type Event struct {
	DateTime    string `json:"date_time"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"` // minutes
	CalendarID  string `json:"calendar_id"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Response is the web app's answer.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

// APIError is a web-app reply with a status other than "success".
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "calendar: web app reported an unknown error"
	}
	return "calendar: " + e.Message
}

// Client posts events to the web app.
type Client struct {
	url  string
	http *fetch.Fetcher
}

// NewClient creates a client for the web app at url. Timeout <= 0 means
// DefaultTimeout.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{url: url, http: fetch.New(fetch.Config{Timeout: timeout, MaxBytes: 1 << 20})}
}

// Create submits ev and returns the web app's confirmation.
func (c *Client) Create(ctx context.Context, ev Event) (Response, error) {
	if c == nil || c.url == "" {
		return Response{}, ErrNotConfigured
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return Response{}, fmt.Errorf("calendar: encode event: %w", err)
	}
	raw, err := c.http.PostJSON(ctx, c.url, body)
	if err != nil {
		return Response{}, fmt.Errorf("calendar: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("calendar: decode reply: %w", err)
	}
	if resp.Status != "success" {
		return resp, &APIError{Message: resp.Message}
	}
	return resp, nil
}
