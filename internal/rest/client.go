package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"giglink/internal/session"

	"golang.org/x/sync/singleflight"
)

const refreshPath = "/auth/refresh"

// Client is a thin JSON client for the marketplace API. It injects the
// bearer token at send time and transparently refreshes it once on 401.
// Concurrent 401s share a single refresh call.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Store
	refresh singleflight.Group
}

func NewClient(baseURL string, sess *session.Store, timeout time.Duration) *Client {
	// The refresh token travels in a cookie, so the client keeps a jar.
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		session: sess,
	}
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	status, respBody, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && path != refreshPath {
		origErr := c.errorFrom(status, respBody)
		if refreshErr := c.refreshToken(ctx); refreshErr != nil {
			// Refresh failed: the session is gone, surface the original 401.
			c.session.Clear()
			slog.Warn("token refresh failed, session cleared", "error", refreshErr)
			return origErr
		}
		// Retry the original request exactly once with the rotated token.
		status, respBody, err = c.send(ctx, method, path, body)
		if err != nil {
			return err
		}
	}

	if status >= http.StatusBadRequest {
		return c.errorFrom(status, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Token is read at send time, never cached: a refresh may have rotated it.
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}

	return resp.StatusCode, respBody, nil
}

// refreshToken performs a single-flight POST /auth/refresh and installs the
// new access token. Concurrent callers get the result of one in-flight call.
func (c *Client) refreshToken(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		status, respBody, err := c.send(ctx, http.MethodPost, refreshPath, nil)
		if err != nil {
			return nil, err
		}
		if status >= http.StatusBadRequest {
			return nil, c.errorFrom(status, respBody)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("decoding refresh response: %w", err)
		}
		if out.AccessToken == "" {
			return nil, fmt.Errorf("refresh response missing access token")
		}

		c.session.SetToken(out.AccessToken)
		return nil, nil
	})
	return err
}

func (c *Client) errorFrom(status int, respBody []byte) error {
	var body apiErrorBody
	_ = json.Unmarshal(respBody, &body)
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	return classify(status, body)
}
