package moments_test

import (
	"testing"
	"time"

	"github.com/emolens/emolens/internal/model"
	"github.com/emolens/emolens/internal/moments"
	"github.com/emolens/emolens/internal/testutil"
)

func waitForMoments(t *testing.T, e *moments.Extractor, want int) []model.KeyMoment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := e.Moments()
		if len(got) >= want && e.Pending() == 0 {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d moments, have %d", want, len(e.Moments()))
	return nil
}

func TestExtractorTriggerClassification(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()

	e.Ingest(model.GameEvent{Type: "level_up", TimestampSeconds: 1.0})
	e.Ingest(model.GameEvent{Type: "mouse_move", TimestampSeconds: 1.5})
	e.Ingest(model.GameEvent{Type: "score_update", TimestampSeconds: 2.0})
	e.Ingest(model.GameEvent{Type: "game_over", TimestampSeconds: 3.0})

	got := waitForMoments(t, e, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 moments, got %d", len(got))
	}
	if len(e.Events()) != 4 {
		t.Fatalf("raw log must keep non-trigger events, got %d", len(e.Events()))
	}
	reasons := []string{got[0].Reason, got[1].Reason, got[2].Reason}
	want := []string{"difficulty_change", "score_update", "game_over"}
	for i := range want {
		if reasons[i] != want[i] {
			t.Fatalf("expected reasons %v, got %v", want, reasons)
		}
	}
}

func TestExtractorSortedByTimestamp(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()

	// Emitted out of timestamp order; the list must come back sorted.
	e.Ingest(model.GameEvent{Type: "score_update", TimestampSeconds: 5.0})
	e.Ingest(model.GameEvent{Type: "level_up", TimestampSeconds: 2.0})
	e.Ingest(model.GameEvent{Type: "game_over", TimestampSeconds: 9.0})

	got := waitForMoments(t, e, 3)
	for i := 1; i < len(got); i++ {
		if got[i-1].TimestampSeconds > got[i].TimestampSeconds {
			t.Fatalf("moments not sorted: %v", got)
		}
	}
}

func TestExtractorTieBrokenByEventOrder(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()

	e.Ingest(model.GameEvent{Type: "score_update", TimestampSeconds: 4.0})
	e.Ingest(model.GameEvent{Type: "level_up", TimestampSeconds: 4.0})

	got := waitForMoments(t, e, 2)
	if got[0].Reason != "score_update" || got[1].Reason != "difficulty_change" {
		t.Fatalf("tie must preserve trigger order, got %v then %v", got[0].Reason, got[1].Reason)
	}
}

func TestExtractorCapturesFrames(t *testing.T) {
	face := &testutil.FakeDevice{Frame: testutil.Str("face-b64")}
	game := &testutil.FakeDevice{Frame: testutil.Str("game-b64")}
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()
	e.SetSources(face, game)

	e.Ingest(model.GameEvent{Type: "level_up", TimestampSeconds: 1.0})
	got := waitForMoments(t, e, 1)
	if got[0].FaceFrame == nil || *got[0].FaceFrame != "face-b64" {
		t.Fatalf("expected face frame, got %v", got[0].FaceFrame)
	}
	if got[0].GameFrame == nil || *got[0].GameFrame != "game-b64" {
		t.Fatalf("expected game frame, got %v", got[0].GameFrame)
	}
}

func TestExtractorMissingFramesNotFatal(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()
	// No sources bound at all.
	e.Ingest(model.GameEvent{Type: "game_over", TimestampSeconds: 1.0})
	got := waitForMoments(t, e, 1)
	if got[0].FaceFrame != nil || got[0].GameFrame != nil {
		t.Fatalf("expected nil frames, got %+v", got[0])
	}
}

func TestExtractorElapsedOverridesEventTimestamp(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, func() (float64, bool) { return 12.5, true })
	defer e.Close()
	e.Ingest(model.GameEvent{Type: "score_update", TimestampSeconds: 99.0})
	got := waitForMoments(t, e, 1)
	if got[0].TimestampSeconds != 12.5 {
		t.Fatalf("expected session-relative timestamp 12.5, got %v", got[0].TimestampSeconds)
	}
}

func TestExtractorCloseCancelsPendingCaptures(t *testing.T) {
	e := moments.NewExtractor(50*time.Millisecond, nil)
	e.Ingest(model.GameEvent{Type: "level_up", TimestampSeconds: 1.0})
	e.Close()
	time.Sleep(80 * time.Millisecond)
	if n := len(e.Moments()); n != 0 {
		t.Fatalf("expected no moments after close, got %d", n)
	}
	if e.Pending() != 0 {
		t.Fatalf("expected no pending timers after close")
	}
}

func TestExtractorEmotionSpike(t *testing.T) {
	e := moments.NewExtractor(time.Millisecond, nil)
	defer e.Close()
	e.AddEmotionSpike(3.2, "joy_spike")
	got := waitForMoments(t, e, 1)
	if got[0].Kind != model.MomentEmotionSpike || got[0].Reason != "joy_spike" {
		t.Fatalf("unexpected moment %+v", got[0])
	}
}
