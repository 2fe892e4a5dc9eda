package moments

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emolens/emolens/internal/model"
)

// FrameSource yields a best-effort still of the current stream content.
// capture.Recorder satisfies it.
type FrameSource interface {
	StillFrame() *string
}

// ElapsedFunc reports seconds since session start. ok is false before a
// session is running, in which case the event's own timestamp is used.
type ElapsedFunc func() (seconds float64, ok bool)

// Extractor turns the raw activity event stream into a curated list of
// illustrated key moments. Non-trigger events are kept in the raw log
// but produce no moment. Moments are append-only and never mutated.
type Extractor struct {
	delay   time.Duration
	elapsed ElapsedFunc

	mu      sync.Mutex
	face    FrameSource
	game    FrameSource
	events  []model.GameEvent
	moments []model.KeyMoment
	timers  map[int64]*time.Timer
	seq     int64
	closed  bool
}

func NewExtractor(delay time.Duration, elapsed ElapsedFunc) *Extractor {
	return &Extractor{
		delay:   delay,
		elapsed: elapsed,
		timers:  map[int64]*time.Timer{},
	}
}

// SetSources binds the frame sources for the current session. Either may
// be nil; missing frames are recorded as nil, never treated as failure.
func (e *Extractor) SetSources(face, game FrameSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.face = face
	e.game = game
}

// Ingest records one activity event and, for trigger events, schedules a
// delayed frame grab. The delay absorbs the latency between the logical
// event and the post-event state becoming paintable.
func (e *Extractor) Ingest(ev model.GameEvent) {
	reason, kind, trigger := classify(ev)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.events = append(e.events, ev)
	if !trigger {
		e.mu.Unlock()
		return
	}
	ts := ev.TimestampSeconds
	if e.elapsed != nil {
		if secs, ok := e.elapsed(); ok {
			ts = secs
		}
	}
	e.seq++
	seq := e.seq
	e.timers[seq] = time.AfterFunc(e.delay, func() {
		e.capture(seq, ts, reason, kind)
	})
	e.mu.Unlock()
}

// AddEmotionSpike appends a moment driven by live emotion data rather
// than a game event, with the same delayed-capture behavior.
func (e *Extractor) AddEmotionSpike(timestampSeconds float64, reason string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.seq++
	seq := e.seq
	e.timers[seq] = time.AfterFunc(e.delay, func() {
		e.capture(seq, timestampSeconds, reason, model.MomentEmotionSpike)
	})
	e.mu.Unlock()
}

func (e *Extractor) capture(seq int64, ts float64, reason string, kind model.MomentKind) {
	e.mu.Lock()
	delete(e.timers, seq)
	if e.closed {
		e.mu.Unlock()
		return
	}
	face := e.face
	game := e.game
	e.mu.Unlock()

	var faceFrame, gameFrame *string
	if face != nil {
		faceFrame = face.StillFrame()
	}
	if game != nil {
		gameFrame = game.StillFrame()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.moments = append(e.moments, model.KeyMoment{
		MomentID:         uuid.NewString(),
		TimestampSeconds: ts,
		Reason:           reason,
		FaceFrame:        faceFrame,
		GameFrame:        gameFrame,
		Kind:             kind,
		Seq:              seq,
	})
}

// Moments returns a snapshot sorted by timestamp, non-decreasing, with
// ties broken by original trigger order. Two rapid triggers may resolve
// out of wall-clock order because of the capture delay, so the sort is
// mandatory before any consumer reads the list.
func (e *Extractor) Moments() []model.KeyMoment {
	e.mu.Lock()
	out := make([]model.KeyMoment, len(e.moments))
	copy(out, e.moments)
	e.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampSeconds != out[j].TimestampSeconds {
			return out[i].TimestampSeconds < out[j].TimestampSeconds
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Events returns the raw event log in emission order.
func (e *Extractor) Events() []model.GameEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.GameEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Pending reports scheduled captures that have not resolved yet.
func (e *Extractor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Close stops every pending capture timer and drops the frame sources.
// After Close no callback mutates the moment list.
func (e *Extractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for seq, timer := range e.timers {
		timer.Stop()
		delete(e.timers, seq)
	}
	e.face = nil
	e.game = nil
}

// classify maps an event type onto the fixed trigger set.
func classify(ev model.GameEvent) (reason string, kind model.MomentKind, trigger bool) {
	et := strings.ToLower(strings.TrimSpace(ev.Type))
	switch {
	case strings.Contains(et, "difficulty"), strings.Contains(et, "level"):
		return "difficulty_change", model.MomentGameEvent, true
	case strings.Contains(et, "score"):
		return "score_update", model.MomentGameEvent, true
	case strings.Contains(et, "game_over"), strings.Contains(et, "gameover"):
		return "game_over", model.MomentGameEvent, true
	case strings.Contains(et, "website"), strings.Contains(et, "interaction"):
		return "website_interaction", model.MomentGameEvent, true
	default:
		return "", "", false
	}
}
