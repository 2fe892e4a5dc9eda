package capture

import (
	"sync"

	"github.com/emolens/emolens/internal/model"
)

// Coordinator buffers the per-stream artifacts a session produces and
// fires its callback once every required slot is filled. It resolves the
// camera-vs-screen completion race: whichever artifact lands first is
// held until the other arrives, never submitted early.
type Coordinator struct {
	mu            sync.Mutex
	needScreen    bool
	screenDropped bool
	camera        *model.Artifact
	screen        *model.Artifact
	fired         bool
	onReady       func(camera model.Artifact, screen *model.Artifact)
}

// NewCoordinator creates a buffer expecting a camera artifact and, when
// needScreen is set, a screen artifact as well.
func NewCoordinator(needScreen bool, onReady func(camera model.Artifact, screen *model.Artifact)) *Coordinator {
	return &Coordinator{needScreen: needScreen, onReady: onReady}
}

// Deliver records one finalized artifact. Duplicate deliveries for a
// slot keep the first artifact.
func (c *Coordinator) Deliver(role Role, a model.Artifact) {
	c.mu.Lock()
	switch role {
	case RoleCamera:
		if c.camera == nil {
			c.camera = &a
		}
	case RoleScreen:
		if c.screen == nil && !c.screenDropped {
			c.screen = &a
		}
	}
	c.fireLocked()
}

// DropScreenRequirement marks the screen slot as no longer expected and
// discards anything a dying screen stream still flushes out. Non-fatal:
// the session proceeds camera-only.
func (c *Coordinator) DropScreenRequirement() {
	c.mu.Lock()
	c.needScreen = false
	c.screenDropped = true
	c.screen = nil
	c.fireLocked()
}

// ready reports whether every required slot is filled. Callers hold mu.
func (c *Coordinator) ready() bool {
	if c.camera == nil {
		return false
	}
	return !c.needScreen || c.screen != nil
}

// fireLocked invokes onReady at most once, releasing mu before the
// callback so the handler may re-enter the capture layer.
func (c *Coordinator) fireLocked() {
	if c.fired || !c.ready() {
		c.mu.Unlock()
		return
	}
	c.fired = true
	camera := *c.camera
	screen := c.screen
	cb := c.onReady
	c.mu.Unlock()
	if cb != nil {
		cb(camera, screen)
	}
}
