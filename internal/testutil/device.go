package testutil

import (
	"context"
	"sync"

	"github.com/emolens/emolens/internal/capture"
	"github.com/emolens/emolens/internal/model"
)

// FakeDevice is an in-memory capture.Device. Stop delivers the
// configured artifact synchronously unless HoldArtifact is set, in which
// case the test releases it later via Finalize.
type FakeDevice struct {
	DenyAcquire    bool
	SupportedMIMEs map[string]bool
	Frame          *string
	Artifact       model.Artifact
	HoldArtifact   bool
	// StartHook runs at the top of StartRecording, outside the device
	// lock. Tests use it to stall a start at a chosen point.
	StartHook func()

	mu          sync.Mutex
	acquired    bool
	recording   bool
	releases    int
	starts      int
	stops       int
	completions int
	profile     capture.Profile
	onComplete  func(model.Artifact)
}

func (d *FakeDevice) Acquire(_ context.Context, profile capture.Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DenyAcquire {
		return capture.ErrPermissionDenied
	}
	d.acquired = true
	d.profile = profile
	return nil
}

func (d *FakeDevice) StartRecording(_ context.Context, onComplete func(model.Artifact)) error {
	if d.StartHook != nil {
		d.StartHook()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquired {
		return capture.ErrNotAcquired
	}
	d.starts++
	d.recording = true
	d.onComplete = onComplete
	return nil
}

func (d *FakeDevice) StopRecording() {
	d.mu.Lock()
	d.stops++
	wasRecording := d.recording
	d.recording = false
	cb := d.onComplete
	hold := d.HoldArtifact
	artifact := d.Artifact
	d.mu.Unlock()
	if !wasRecording || cb == nil || hold {
		return
	}
	d.mu.Lock()
	d.completions++
	d.mu.Unlock()
	cb(artifact)
}

// Finalize delivers the held artifact, emulating slow encoder flush.
func (d *FakeDevice) Finalize() {
	d.mu.Lock()
	cb := d.onComplete
	artifact := d.Artifact
	d.completions++
	d.mu.Unlock()
	if cb != nil {
		cb(artifact)
	}
}

func (d *FakeDevice) StillFrame() *string { return d.Frame }

func (d *FakeDevice) Supports(mimeType string) bool {
	return d.SupportedMIMEs[mimeType]
}

func (d *FakeDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	d.acquired = false
}

func (d *FakeDevice) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *FakeDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *FakeDevice) Completions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completions
}

func (d *FakeDevice) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *FakeDevice) Profile() capture.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profile
}

func (d *FakeDevice) Acquired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// Str returns a pointer to s, for optional frame fields.
func Str(s string) *string { return &s }
