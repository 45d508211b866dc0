// Package google implements the calendar and email adapters on the Google
// Calendar v3 and Gmail v1 REST APIs. It expects a ready OAuth access
// token; acquiring and refreshing one is left to the operator.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/deskmate/internal/adapters"
)

const (
	DefaultCalendarURL = "https://www.googleapis.com/calendar/v3"
	DefaultGmailURL    = "https://gmail.googleapis.com/gmail/v1"
	DefaultCalendarID  = "primary"

	maxErrorBody = 64 << 10
)

// Config configures both adapters.
type Config struct {
	AccessToken string
	CalendarURL string
	GmailURL    string
	CalendarID  string
	// TimeZone is sent with created events, e.g. "Europe/Oslo".
	TimeZone   string
	HTTPClient *http.Client
	Retry      *adapters.RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.CalendarURL == "" {
		c.CalendarURL = DefaultCalendarURL
	}
	if c.GmailURL == "" {
		c.GmailURL = DefaultGmailURL
	}
	if c.CalendarID == "" {
		c.CalendarID = DefaultCalendarID
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Retry == nil {
		c.Retry = adapters.DefaultRetryPolicy()
	}
	return c
}

// client is a JSON-over-HTTPS caller shared by the calendar and gmail
// adapters.
type client struct {
	base       string
	token      string
	httpClient *http.Client
	retry      *adapters.RetryPolicy
}

// apiError is Google's error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// do sends a request and decodes a JSON response into out. Remote failures
// of GET requests are retried by the client's policy; anything that writes
// (sending mail, inserting events) is tried once so a failed turn never
// leaves a duplicate behind.
func (c *client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if c.token == "" {
		return adapters.NewError(adapters.KindNotConfigured, op, "", nil)
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
	}

	endpoint := strings.TrimRight(c.base, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	attempt := func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return fmt.Errorf("%s: create request: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			return adapters.NewError(adapters.KindRemote, op, "", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return statusError(op, resp.StatusCode, raw)
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return adapters.NewError(adapters.KindRemote, op, "", fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	if method != http.MethodGet {
		return attempt(ctx)
	}
	return c.retry.Execute(ctx, attempt)
}

// statusError maps an HTTP failure onto the adapter error taxonomy.
func statusError(op string, status int, raw []byte) error {
	var env apiError
	msg := ""
	if json.Unmarshal(raw, &env) == nil {
		msg = env.Error.Message
	}
	cause := fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw)))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return adapters.NewError(adapters.KindAuth, op, "", cause)
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return adapters.NewError(adapters.KindValidation, op, msg, cause)
	default:
		return adapters.NewError(adapters.KindRemote, op, "", cause)
	}
}
