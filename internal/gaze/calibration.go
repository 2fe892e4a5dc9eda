package gaze

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Calibration is one open calibration socket. Not safe for concurrent
// use; the calibration flow is strictly request/reply.
type Calibration struct {
	conn     *websocket.Conn
	min      int
	accepted int
}

// OpenCalibration attaches to an allocated tracker session.
func (c *Client) OpenCalibration(ctx context.Context, sessionID string) (*Calibration, error) {
	conn, err := c.dial(ctx, "/ws/calibration/"+sessionID)
	if err != nil {
		return nil, err
	}
	return &Calibration{conn: conn, min: c.minPoints}, nil
}

type calMessage struct {
	Type    string  `json:"type"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Frame   string  `json:"frame,omitempty"`
	Message string  `json:"message,omitempty"`
	Points  int     `json:"points_collected,omitempty"`
}

// AddPoint submits one screen coordinate with its matching camera frame.
// The tracker may reject a point (eye not found, frame too dark); rejection
// is reported as accepted=false, not as an error.
func (cal *Calibration) AddPoint(x, y float64, frame string) (bool, error) {
	out := calMessage{Type: "calibration_point", X: x, Y: y, Frame: frame}
	if err := cal.conn.WriteJSON(out); err != nil {
		return false, fmt.Errorf("send calibration point: %w", err)
	}
	var in calMessage
	if err := cal.conn.ReadJSON(&in); err != nil {
		return false, fmt.Errorf("read calibration reply: %w", err)
	}
	switch in.Type {
	case "point_added":
		cal.accepted++
		return true, nil
	case "point_rejected":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected calibration reply %q", in.Type)
	}
}

// Accepted reports how many points the tracker has taken so far.
func (cal *Calibration) Accepted() int { return cal.accepted }

// Finalize asks the tracker to fit its model. Requires the minimum
// number of accepted points first.
func (cal *Calibration) Finalize() error {
	if cal.accepted < cal.min {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewPoints, cal.accepted, cal.min)
	}
	if err := cal.conn.WriteJSON(calMessage{Type: "finalize_calibration"}); err != nil {
		return fmt.Errorf("send finalize: %w", err)
	}
	var in calMessage
	if err := cal.conn.ReadJSON(&in); err != nil {
		return fmt.Errorf("read finalize reply: %w", err)
	}
	switch in.Type {
	case "calibration_complete":
		return nil
	case "calibration_failed":
		if in.Message != "" {
			return fmt.Errorf("%w: %s", ErrCalibrationFailed, in.Message)
		}
		return ErrCalibrationFailed
	default:
		return fmt.Errorf("unexpected finalize reply %q", in.Type)
	}
}

// Reset discards the collected points server-side and locally.
func (cal *Calibration) Reset() error {
	if err := cal.conn.WriteJSON(calMessage{Type: "reset"}); err != nil {
		return fmt.Errorf("send reset: %w", err)
	}
	cal.accepted = 0
	return nil
}

func (cal *Calibration) Close() error {
	return cal.conn.Close()
}
