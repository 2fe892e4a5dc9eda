package gaze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Sample is one gaze estimate from the tracker. A blink-only message
// arrives as Blink=true with zero coordinates.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Blink     bool    `json:"blink"`
	Timestamp float64 `json:"timestamp"`
}

// Stream is a live gaze socket: frames go up, samples come down on the
// Samples channel. The channel closes when the socket dies or Close is
// called.
type Stream struct {
	conn    *websocket.Conn
	samples chan Sample

	mu     sync.Mutex
	closed bool
}

// OpenStream connects to a calibrated tracker session.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*Stream, error) {
	conn, err := c.dial(ctx, "/ws/gaze/"+sessionID)
	if err != nil {
		return nil, err
	}
	s := &Stream{conn: conn, samples: make(chan Sample, 64)}
	go s.readLoop()
	return s, nil
}

type streamMessage struct {
	Type      string  `json:"type"`
	Frame     string  `json:"frame,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Blink     bool    `json:"blink,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// SendFrame submits one camera frame for gaze estimation.
func (s *Stream) SendFrame(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if err := s.conn.WriteJSON(streamMessage{Type: "frame", Frame: frame}); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Samples yields gaze estimates until the stream ends.
func (s *Stream) Samples() <-chan Sample {
	return s.samples
}

func (s *Stream) readLoop() {
	defer close(s.samples)
	for {
		var in streamMessage
		if err := s.conn.ReadJSON(&in); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				slog.Warn("gaze stream ended", "error", err)
			}
			return
		}
		switch in.Type {
		case "gaze":
			s.deliver(Sample{X: in.X, Y: in.Y, Blink: in.Blink, Timestamp: in.Timestamp})
		case "blink":
			s.deliver(Sample{Blink: true, Timestamp: in.Timestamp})
		default:
			// Unknown message kinds are skipped so protocol additions
			// do not break older clients.
		}
	}
}

// deliver drops the sample when the consumer lags; gaze data is
// real-time and stale estimates are worthless.
func (s *Stream) deliver(smp Sample) {
	select {
	case s.samples <- smp:
	default:
	}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
