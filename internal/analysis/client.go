package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emolens/emolens/internal/model"
)

const defaultRequestTimeout = 10 * time.Second

var ErrStatusPayloadInvalid = errors.New("status payload invalid")

// Client speaks the remote analysis protocol: multipart submit, status
// polling, and best-effort cancel. It holds no job state of its own;
// the poll loop in poll.go layers the lifecycle on top.
type Client struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	submitTimeout  time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		requestTimeout: defaultRequestTimeout,
	}
}

func (c *Client) WithTimeouts(request, submit time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	if request > 0 {
		clone.requestTimeout = request
	}
	clone.submitTimeout = submit
	return &clone
}

// RequestError is a decoded HTTP failure from the remote service.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// SubmitResponse is the accepted-job envelope from /analyze/start.
type SubmitResponse struct {
	JobID                string   `json:"job_id"`
	EstimatedTimeMinutes *float64 `json:"estimated_time_minutes,omitempty"`
}

// StatusResponse is one poll result.
type StatusResponse struct {
	Status               model.JobStatus       `json:"status"`
	Progress             float64               `json:"progress"`
	Message              string                `json:"message"`
	EstimatedTimeMinutes *float64              `json:"estimated_time_minutes,omitempty"`
	Results              *model.AnalysisResult `json:"results,omitempty"`
}

// Submit uploads the recorded media plus the settings snapshot. Failures
// are final: retry is a user-initiated re-submit, never automatic, so a
// flaky network cannot double-bill the remote GPU.
func (c *Client) Submit(ctx context.Context, camera model.Artifact, screen *model.Artifact, settings model.Settings, sessionID string) (SubmitResponse, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", "recording"+extFor(camera.MIME))
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(camera.Data); err != nil {
		return SubmitResponse{}, fmt.Errorf("write camera artifact: %w", err)
	}
	if screen != nil {
		part, err := w.CreateFormFile("screen_file", "screen"+extFor(screen.MIME))
		if err != nil {
			return SubmitResponse{}, fmt.Errorf("build multipart: %w", err)
		}
		if _, err := part.Write(screen.Data); err != nil {
			return SubmitResponse{}, fmt.Errorf("write screen artifact: %w", err)
		}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := w.WriteField("settings", string(settingsJSON)); err != nil {
		return SubmitResponse{}, fmt.Errorf("write settings field: %w", err)
	}
	if err := w.WriteField("session_id", sessionID); err != nil {
		return SubmitResponse{}, fmt.Errorf("write session field: %w", err)
	}
	if err := w.Close(); err != nil {
		return SubmitResponse{}, fmt.Errorf("finalize multipart: %w", err)
	}

	timeout := c.submitTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/analyze/start", body)
	if err != nil {
		return SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	payload, err := c.do(req)
	if err != nil {
		return SubmitResponse{}, err
	}
	var resp SubmitResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("decode submit response: %w", err)
	}
	if strings.TrimSpace(resp.JobID) == "" {
		return SubmitResponse{}, fmt.Errorf("submit response missing job_id")
	}
	return resp, nil
}

// Status fetches the current state of one job.
func (c *Client) Status(ctx context.Context, sessionID, jobID string) (StatusResponse, error) {
	path := "/analyze/status/" + url.PathEscape(sessionID) + "/" + url.PathEscape(jobID)
	payload, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	var resp StatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return StatusResponse{}, fmt.Errorf("%w: %v", ErrStatusPayloadInvalid, err)
	}
	return resp, nil
}

// Cancel notifies the remote service, fire and forget. Whatever the ack,
// local state is the source of truth; a failed cancel is only logged.
func (c *Client) Cancel(ctx context.Context, jobID string) {
	path := "/jobs/" + url.PathEscape(jobID) + "/cancel"
	if _, err := c.request(ctx, http.MethodPost, path, nil); err != nil {
		slog.Warn("remote cancel failed", "job_id", jobID, "error", err)
	}
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	reqCtx := ctx
	if c.requestTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.requestTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, payload)
	}
	return payload, nil
}

// decodeError understands the service's error envelope and falls back to
// the raw body.
func decodeError(status int, payload []byte) *RequestError {
	var envelope struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Detail.Message != "" {
		return &RequestError{
			StatusCode: status,
			Code:       fmt.Sprintf("HTTP_%d", status),
			Message:    envelope.Detail.Message,
		}
	}
	return &RequestError{
		StatusCode: status,
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    strings.TrimSpace(string(payload)),
	}
}

func extFor(mime string) string {
	switch {
	case strings.Contains(mime, "mp4"):
		return ".mp4"
	case strings.Contains(mime, "webm"):
		return ".webm"
	default:
		return ".bin"
	}
}
