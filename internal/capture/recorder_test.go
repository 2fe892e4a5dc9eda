package capture_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emolens/emolens/internal/capture"
	"github.com/emolens/emolens/internal/model"
	"github.com/emolens/emolens/internal/testutil"
)

func TestRecorderStopIdempotent(t *testing.T) {
	dev := &testutil.FakeDevice{Artifact: model.Artifact{Data: []byte("v"), MIME: "video/webm"}}
	rec := capture.NewRecorder(capture.RoleCamera, dev)

	completions := 0
	err := rec.Start(context.Background(), 250_000, 32_000, func(role capture.Role, a model.Artifact) {
		if role != capture.RoleCamera {
			t.Fatalf("unexpected role %s", role)
		}
		completions++
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 5; i++ {
		rec.Stop()
	}
	if completions != 1 {
		t.Fatalf("expected exactly one completion callback, got %d", completions)
	}
	if dev.Stops() != 1 {
		t.Fatalf("expected exactly one device stop, got %d", dev.Stops())
	}
}

func TestRecorderStopWithoutRecording(t *testing.T) {
	dev := &testutil.FakeDevice{}
	rec := capture.NewRecorder(capture.RoleScreen, dev)
	rec.Stop()
	rec.Stop()
	if dev.Stops() != 0 {
		t.Fatalf("stop before recording must not reach the device, got %d", dev.Stops())
	}
}

func TestRecorderAcquireDenied(t *testing.T) {
	dev := &testutil.FakeDevice{DenyAcquire: true}
	rec := capture.NewRecorder(capture.RoleCamera, dev)
	err := rec.Acquire(context.Background(), 0, 0)
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestRecorderReleaseStopsRecording(t *testing.T) {
	dev := &testutil.FakeDevice{}
	rec := capture.NewRecorder(capture.RoleCamera, dev)
	if err := rec.Start(context.Background(), 0, 0, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.Release()
	if rec.Recording() {
		t.Fatalf("release must stop recording")
	}
	if dev.Releases() != 1 {
		t.Fatalf("expected one hardware release, got %d", dev.Releases())
	}
	rec.Release()
	if dev.Releases() != 1 {
		t.Fatalf("release must be idempotent, got %d", dev.Releases())
	}
}

func TestRecorderStillFrameBeforeAcquire(t *testing.T) {
	dev := &testutil.FakeDevice{Frame: testutil.Str("data:image/png;base64,xxx")}
	rec := capture.NewRecorder(capture.RoleCamera, dev)
	if rec.StillFrame() != nil {
		t.Fatalf("still frame before acquire must be nil")
	}
	if err := rec.Acquire(context.Background(), 0, 0); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if rec.StillFrame() == nil {
		t.Fatalf("expected frame after acquire")
	}
}

func TestSelectProfileFallbackOrder(t *testing.T) {
	dev := &testutil.FakeDevice{SupportedMIMEs: map[string]bool{"video/webm": true}}
	p := capture.SelectProfile(dev, 250_000, 32_000)
	if p.MimeType != "video/webm" {
		t.Fatalf("expected video/webm fallback, got %q", p.MimeType)
	}
	if p.VideoBitsPerSec != 250_000 || p.AudioBitsPerSec != 32_000 {
		t.Fatalf("expected capped bitrates, got %+v", p)
	}
}

func TestSelectProfileUnconstrainedDefault(t *testing.T) {
	dev := &testutil.FakeDevice{}
	p := capture.SelectProfile(dev, 250_000, 32_000)
	if !p.Unconstrained() {
		t.Fatalf("expected unconstrained default, got %+v", p)
	}
}

func TestSelectProfilePrefersVP9(t *testing.T) {
	dev := &testutil.FakeDevice{SupportedMIMEs: map[string]bool{
		"video/webm;codecs=vp9,opus": true,
		"video/webm;codecs=vp8,opus": true,
		"video/webm":                 true,
	}}
	p := capture.SelectProfile(dev, 1, 1)
	if p.MimeType != "video/webm;codecs=vp9,opus" {
		t.Fatalf("expected vp9 preferred, got %q", p.MimeType)
	}
}
