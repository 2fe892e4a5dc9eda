package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/emolens/emolens/internal/model"
)

// PollOptions tunes the status loop. Zero values take the documented
// defaults: a 2 second interval with a 30 minute wall-clock ceiling.
type PollOptions struct {
	Interval time.Duration
	Ceiling  time.Duration
}

// Terminal is the normalized end of a job's lifecycle.
type Terminal struct {
	Outcome model.Outcome
	Result  *model.AnalysisResult
	Message string
}

// Poll repeatedly fetches job status until it reaches a terminal state,
// the ceiling elapses, or ctx is cancelled. Each response is forwarded
// to onUpdate before termination checks. Transient HTTP failures are
// tolerated and simply retried on the next tick; reaching the ceiling is
// surfaced as an explicit timeout, never silently abandoned.
func (c *Client) Poll(ctx context.Context, sessionID, jobID string, opts PollOptions, onUpdate func(StatusResponse)) (Terminal, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = 30 * time.Minute
	}
	deadline := time.Now().Add(ceiling)

	for {
		if err := ctx.Err(); err != nil {
			return Terminal{Outcome: model.OutcomeCancelled, Message: "polling cancelled"}, err
		}
		if time.Now().After(deadline) {
			return Terminal{
				Outcome: model.OutcomeTimeout,
				Message: "analysis timed out before the service finished",
			}, nil
		}

		st, err := c.Status(ctx, sessionID, jobID)
		if err != nil {
			if errors.Is(err, ErrStatusPayloadInvalid) {
				return Terminal{}, err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return Terminal{}, err
			}
			if ctx.Err() != nil {
				return Terminal{Outcome: model.OutcomeCancelled, Message: "polling cancelled"}, ctx.Err()
			}
		} else {
			if onUpdate != nil {
				onUpdate(st)
			}
			if st.Status.Terminal() {
				return normalizeTerminal(st), nil
			}
		}

		if err := sleepWithContext(ctx, interval); err != nil {
			return Terminal{Outcome: model.OutcomeCancelled, Message: "polling cancelled"}, err
		}
	}
}

// normalizeTerminal maps a terminal status onto the outcome taxonomy.
// A completed job with no usable detections is a valid empty outcome,
// distinct from a processing failure.
func normalizeTerminal(st StatusResponse) Terminal {
	switch st.Status {
	case model.JobCompleted:
		if st.Results.Empty() {
			msg := st.Message
			if msg == "" {
				msg = "no faces detected in the recording"
			}
			return Terminal{Outcome: model.OutcomeEmpty, Result: st.Results, Message: msg}
		}
		return Terminal{Outcome: model.OutcomeCompleted, Result: st.Results, Message: st.Message}
	case model.JobCancelled:
		return Terminal{Outcome: model.OutcomeCancelled, Message: st.Message}
	default:
		msg := st.Message
		if msg == "" {
			msg = "remote analysis failed"
		}
		return Terminal{Outcome: model.OutcomeFailed, Message: msg}
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
