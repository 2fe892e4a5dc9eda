package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/emolens/emolens/internal/model"
)

var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNotAcquired      = errors.New("stream not acquired")
)

// Role identifies which physical stream a handle wraps.
type Role string

const (
	RoleCamera Role = "camera"
	RoleScreen Role = "screen"
)

// Device is the low-level capture boundary for one stream. Acquire maps
// to the user-gesture permission dialog and may fail with
// ErrPermissionDenied. StopRecording asynchronously finalizes encoding
// and fires the callback registered at StartRecording. StillFrame is a
// best-effort snapshot of the current stream content; it returns nil
// when no decodable frame exists and never fails.
type Device interface {
	Acquire(ctx context.Context, profile Profile) error
	StartRecording(ctx context.Context, onComplete func(model.Artifact)) error
	StopRecording()
	StillFrame() *string
	Supports(mimeType string) bool
	Release()
}

// Profile is one codec/bitrate combination for the encoder. The zero
// Profile means "runtime default, unconstrained".
type Profile struct {
	MimeType        string
	VideoBitsPerSec int
	AudioBitsPerSec int
}

func (p Profile) Unconstrained() bool {
	return p.MimeType == ""
}

// PreferredProfiles returns the ordered codec fallback list. Compressed
// profiles with capped bitrates come first so upload artifacts stay
// small; the final entry is the unconstrained default.
func PreferredProfiles(videoBPS, audioBPS int) []Profile {
	return []Profile{
		{MimeType: "video/webm;codecs=vp9,opus", VideoBitsPerSec: videoBPS, AudioBitsPerSec: audioBPS},
		{MimeType: "video/webm;codecs=vp8,opus", VideoBitsPerSec: videoBPS, AudioBitsPerSec: audioBPS},
		{MimeType: "video/webm", VideoBitsPerSec: videoBPS, AudioBitsPerSec: audioBPS},
		{MimeType: "video/mp4", VideoBitsPerSec: videoBPS, AudioBitsPerSec: audioBPS},
		{},
	}
}

// SelectProfile walks the fallback list and returns the first profile
// the device supports. The unconstrained default always matches.
func SelectProfile(d Device, videoBPS, audioBPS int) Profile {
	for _, p := range PreferredProfiles(videoBPS, audioBPS) {
		if p.Unconstrained() || d.Supports(p.MimeType) {
			return p
		}
	}
	return Profile{}
}

func roleErr(role Role, err error) error {
	return fmt.Errorf("%s: %w", role, err)
}
