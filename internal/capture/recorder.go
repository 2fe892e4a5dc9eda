package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emolens/emolens/internal/model"
)

// Recorder wraps one Device and enforces the lifecycle guarantees the
// orchestrator depends on: stop is safe to call any number of times but
// only the first call while actually recording reaches the device, and
// Release always lands on the hardware even after a completed stop.
type Recorder struct {
	role Role
	dev  Device

	mu        sync.Mutex
	acquired  bool
	recording bool
	released  bool
}

func NewRecorder(role Role, dev Device) *Recorder {
	return &Recorder{role: role, dev: dev}
}

func (r *Recorder) Role() Role { return r.role }

// Acquire obtains the underlying stream with the best supported codec
// profile. Idempotent: a second acquire on a live stream is a no-op.
func (r *Recorder) Acquire(ctx context.Context, videoBPS, audioBPS int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquired && !r.released {
		return nil
	}
	profile := SelectProfile(r.dev, videoBPS, audioBPS)
	if err := r.dev.Acquire(ctx, profile); err != nil {
		return roleErr(r.role, err)
	}
	r.acquired = true
	r.released = false
	return nil
}

// Start begins recording, acquiring first if needed. The completion
// callback fires exactly once, after the matching Stop finalizes.
func (r *Recorder) Start(ctx context.Context, videoBPS, audioBPS int, onComplete func(Role, model.Artifact)) error {
	if err := r.Acquire(ctx, videoBPS, audioBPS); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return nil
	}
	role := r.role
	err := r.dev.StartRecording(ctx, func(a model.Artifact) {
		if onComplete != nil {
			onComplete(role, a)
		}
	})
	if err != nil {
		return roleErr(r.role, err)
	}
	r.recording = true
	return nil
}

// Stop halts recording. Only the first call while recording reaches the
// device, so the device completion callback fires at most once per
// recording regardless of how many times Stop is invoked.
func (r *Recorder) Stop() {
	r.mu.Lock()
	wasRecording := r.recording
	r.recording = false
	r.mu.Unlock()
	if wasRecording {
		r.dev.StopRecording()
	}
}

// Recording reports whether a recording is in flight.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// StillFrame returns a best-effort snapshot, nil when unavailable.
func (r *Recorder) StillFrame() *string {
	r.mu.Lock()
	ok := r.acquired && !r.released
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.dev.StillFrame()
}

// Release stops any in-flight recording and frees the hardware tracks.
// Required on every path that leaves an active-recording state so the
// camera indicator does not leak.
func (r *Recorder) Release() {
	r.Stop()
	r.mu.Lock()
	if r.released || !r.acquired {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()
	r.dev.Release()
	slog.Debug("capture released", "role", r.role)
}
