package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emolens/emolens/internal/analysis"
	"github.com/emolens/emolens/internal/model"
)

func TestSubmitMultipartFields(t *testing.T) {
	var gotSession, gotSettings string
	var gotFile, gotScreen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/start" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotSession = r.FormValue("session_id")
		gotSettings = r.FormValue("settings")
		_, _, errFile := r.FormFile("file")
		gotFile = errFile == nil
		_, _, errScreen := r.FormFile("screen_file")
		gotScreen = errScreen == nil
		json.NewEncoder(w).Encode(map[string]any{"job_id": "abc123", "estimated_time_minutes": 1.5})
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	screen := &model.Artifact{Data: []byte("scr"), MIME: "video/webm"}
	resp, err := c.Submit(context.Background(),
		model.Artifact{Data: []byte("cam"), MIME: "video/webm"},
		screen, model.DefaultSettings(), "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.JobID != "abc123" {
		t.Fatalf("expected job id abc123, got %q", resp.JobID)
	}
	if resp.EstimatedTimeMinutes == nil || *resp.EstimatedTimeMinutes != 1.5 {
		t.Fatalf("expected eta 1.5, got %v", resp.EstimatedTimeMinutes)
	}
	if gotSession != "sess-1" {
		t.Fatalf("expected session id, got %q", gotSession)
	}
	if !gotFile || !gotScreen {
		t.Fatalf("expected both artifacts, got file=%v screen=%v", gotFile, gotScreen)
	}
	var s model.Settings
	if err := json.Unmarshal([]byte(gotSettings), &s); err != nil || s.FrameSkip != 30 {
		t.Fatalf("settings snapshot not carried: %q err=%v", gotSettings, err)
	}
}

func TestSubmitOmitsMissingScreen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("screen_file"); err == nil {
			t.Fatalf("screen_file must be absent for camera-only sessions")
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "j1"})
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	if _, err := c.Submit(context.Background(), model.Artifact{Data: []byte("cam")}, nil, model.Settings{}, "s"); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSubmitFailureNoRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"detail":{"status":"error","message":"unsupported codec"}}`)
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	_, err := c.Submit(context.Background(), model.Artifact{Data: []byte("x")}, nil, model.Settings{}, "s")
	var reqErr *analysis.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusBadRequest || reqErr.Message != "unsupported codec" {
		t.Fatalf("unexpected decoded error: %+v", reqErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("submit must never auto-retry, got %d calls", calls.Load())
	}
}

func TestPollProgressToCompletion(t *testing.T) {
	responses := []string{
		`{"status":"processing","progress":0.2,"message":"Processing video..."}`,
		`{"status":"processing","progress":0.6,"message":"Processing video..."}`,
		`{"status":"completed","progress":1.0,"message":"done","results":{"status":"success","frames":[{"timestamp":0.5}]}}`,
	}
	var idx atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/status/sess-1/abc123" {
			t.Fatalf("unexpected poll path %s", r.URL.Path)
		}
		i := idx.Add(1) - 1
		if i >= int64(len(responses)) {
			i = int64(len(responses)) - 1
		}
		fmt.Fprint(w, responses[i])
	}))
	defer srv.Close()

	var progress []float64
	c := analysis.New(srv.URL)
	term, err := c.Poll(context.Background(), "sess-1", "abc123",
		analysis.PollOptions{Interval: time.Millisecond, Ceiling: time.Minute},
		func(st analysis.StatusResponse) { progress = append(progress, st.Progress) })
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if term.Outcome != model.OutcomeCompleted {
		t.Fatalf("expected completed, got %s", term.Outcome)
	}
	if term.Result == nil || len(term.Result.Frames) != 1 {
		t.Fatalf("expected attached result, got %+v", term.Result)
	}
	want := []float64{0.2, 0.6, 1.0}
	if len(progress) != 3 {
		t.Fatalf("expected three updates, got %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Fatalf("expected progress %v, got %v", want, progress)
		}
	}
}

func TestPollEmptyResultOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"completed","progress":1.0,"results":{"status":"no_faces_detected"}}`)
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	term, err := c.Poll(context.Background(), "s", "j", analysis.PollOptions{Interval: time.Millisecond, Ceiling: time.Minute}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if term.Outcome != model.OutcomeEmpty {
		t.Fatalf("no-data completion must normalize to empty, got %s", term.Outcome)
	}
	if term.Message == "" {
		t.Fatalf("empty outcome needs an explanatory message")
	}
}

func TestPollFailedOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failed","progress":0,"message":"decoder crashed"}`)
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	term, err := c.Poll(context.Background(), "s", "j", analysis.PollOptions{Interval: time.Millisecond, Ceiling: time.Minute}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if term.Outcome != model.OutcomeFailed || term.Message != "decoder crashed" {
		t.Fatalf("unexpected terminal %+v", term)
	}
}

func TestPollCeilingTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"processing","progress":0.1}`)
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	term, err := c.Poll(context.Background(), "s", "j", analysis.PollOptions{Interval: time.Millisecond, Ceiling: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if term.Outcome != model.OutcomeTimeout {
		t.Fatalf("ceiling must surface as timeout, got %s", term.Outcome)
	}
}

func TestPollToleratesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"status":"completed","progress":1.0,"results":{"status":"success","frames":[{"timestamp":1}]}}`)
	}))
	defer srv.Close()

	c := analysis.New(srv.URL)
	term, err := c.Poll(context.Background(), "s", "j", analysis.PollOptions{Interval: time.Millisecond, Ceiling: time.Minute}, nil)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if term.Outcome != model.OutcomeCompleted {
		t.Fatalf("expected completion after transient error, got %s", term.Outcome)
	}
}

func TestPollContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"queued","progress":0}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	c := analysis.New(srv.URL)
	term, err := c.Poll(ctx, "s", "j", analysis.PollOptions{Interval: time.Millisecond, Ceiling: time.Minute}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if term.Outcome != model.OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %s", term.Outcome)
	}
}

func TestCancelBestEffort(t *testing.T) {
	var hit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jobs/j9/cancel" && r.Method == http.MethodPost {
			hit.Store(true)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// A remote failure must not propagate; cancel is notify-and-forget.
	c := analysis.New(srv.URL)
	c.Cancel(context.Background(), "j9")
	if !hit.Load() {
		t.Fatalf("cancel endpoint not reached")
	}
}
