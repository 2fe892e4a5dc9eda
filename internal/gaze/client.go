// Package gaze is the client for the eye tracking sidecar: one-time
// calibration over a message socket, then live gaze streaming. The
// tracker is best-effort and independent of the recording flow; session
// reset closes whatever is open.
package gaze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emolens/emolens/internal/config"
)

var (
	ErrCalibrationFailed = errors.New("calibration failed")
	ErrTooFewPoints      = errors.New("not enough calibration points")
)

// Client talks to the tracker over HTTP for session management and
// WebSocket for calibration and streaming.
type Client struct {
	baseURL   string
	http      *http.Client
	dialer    *websocket.Dialer
	minPoints int
	timeout   time.Duration
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		minPoints: 5,
		timeout:   10 * time.Second,
	}
}

// FromConfig builds a tracker client against the configured backend,
// applying the calibration and socket tunables.
func FromConfig(cfg config.Config) *Client {
	return New(cfg.BaseURL).
		WithMinPoints(cfg.MinCalibration).
		WithTimeout(cfg.GazeSocketTimeout)
}

func (c *Client) WithMinPoints(n int) *Client {
	if n > 0 {
		c.minPoints = n
	}
	return c
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
		c.http.Timeout = d
		c.dialer.HandshakeTimeout = d
	}
	return c
}

// StartCalibration allocates a tracker session and returns its id.
func (c *Client) StartCalibration(ctx context.Context) (string, error) {
	var resp struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := c.postJSON(ctx, "/api/calibration/start", &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.SessionID == "" {
		return "", fmt.Errorf("calibration start refused: %s", resp.Message)
	}
	return resp.SessionID, nil
}

// SessionStatus reports whether a tracker session is calibrated.
type SessionStatus struct {
	Exists     bool `json:"exists"`
	Calibrated bool `json:"calibrated"`
	Points     int  `json:"points_collected"`
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	var st SessionStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/session/"+url.PathEscape(sessionID)+"/status", nil)
	if err != nil {
		return st, err
	}
	if err := c.doJSON(req, &st); err != nil {
		return st, err
	}
	return st, nil
}

// EndSession frees the tracker session server-side.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracker http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode tracker response: %w", err)
	}
	return nil
}

// wsURL rewrites the HTTP base onto the ws scheme for a socket path.
func (c *Client) wsURL(path string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(path), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		return nil, fmt.Errorf("dial tracker socket: %w", err)
	}
	return conn, nil
}
