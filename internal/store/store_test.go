package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/emolens/emolens/internal/model"
	"github.com/emolens/emolens/internal/store"
	"github.com/emolens/emolens/internal/testutil"
)

func TestSessionLifecycle(t *testing.T) {
	st, ctx := testutil.NewStore(t)

	rec := store.SessionRecord{
		SessionID:  "sess-1",
		Kind:       model.KindStressClick,
		StartedAt:  time.Now().UTC(),
		FinalState: model.FlowGameRecording,
	}
	if err := st.InsertSession(ctx, rec); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if err := st.InsertSession(ctx, rec); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	if err := st.FinishSession(ctx, "sess-1", model.FlowResultsReady, model.OutcomeCompleted, "done"); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	got, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.FinalState != model.FlowResultsReady {
		t.Fatalf("expected results_ready, got %s", got.FinalState)
	}
	if got.Outcome == nil || *got.Outcome != model.OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %v", got.Outcome)
	}
	if got.EndedAt == nil {
		t.Fatalf("expected ended_at stamp")
	}
}

func TestFinishUnknownSession(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	err := st.FinishSession(ctx, "missing", model.FlowIdle, model.OutcomeCancelled, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventsRoundTrip(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	if err := st.InsertSession(ctx, store.SessionRecord{SessionID: "s", Kind: model.KindObstacleRun}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	events := []model.GameEvent{
		{Type: "score_update", TimestampSeconds: 1.5, Data: map[string]any{"score": float64(10)}},
		{Type: "game_over", TimestampSeconds: 29.9, Data: map[string]any{}},
	}
	if err := st.AppendEvents(ctx, "s", events); err != nil {
		t.Fatalf("append events: %v", err)
	}
	got, err := st.ListEvents(ctx, "s")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(got) != 2 || got[0].Type != "score_update" || got[1].Type != "game_over" {
		t.Fatalf("events out of order or missing: %+v", got)
	}
	if got[0].Data["score"] != float64(10) {
		t.Fatalf("event data lost: %+v", got[0].Data)
	}
}

func TestKeyMomentsSortedRead(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	if err := st.InsertSession(ctx, store.SessionRecord{SessionID: "s", Kind: model.KindStressClick}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	frame := "b64"
	moments := []model.KeyMoment{
		{TimestampSeconds: 9.0, Reason: "game_over", Kind: model.MomentGameEvent, Seq: 2},
		{TimestampSeconds: 2.0, Reason: "score_update", Kind: model.MomentGameEvent, FaceFrame: &frame, Seq: 1},
	}
	if err := st.AppendKeyMoments(ctx, "s", moments); err != nil {
		t.Fatalf("append moments: %v", err)
	}
	got, err := st.ListKeyMoments(ctx, "s")
	if err != nil {
		t.Fatalf("list moments: %v", err)
	}
	if len(got) != 2 || got[0].TimestampSeconds != 2.0 {
		t.Fatalf("moments not sorted by timestamp: %+v", got)
	}
	if got[0].FaceFrame == nil || *got[0].FaceFrame != "b64" {
		t.Fatalf("face frame lost")
	}
	if got[1].FaceFrame != nil {
		t.Fatalf("nil frame must stay nil")
	}
}

func TestJobStats(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	if err := st.InsertSession(ctx, store.SessionRecord{SessionID: "s", Kind: model.KindWebsiteBrowse}); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	now := time.Now().UTC()
	jobs := []model.AnalysisJob{
		{JobID: "j1", SessionID: "s", Status: model.JobCompleted, Progress: 1, SubmittedAt: now},
		{JobID: "j2", SessionID: "s", Status: model.JobFailed, SubmittedAt: now},
		{JobID: "j3", SessionID: "s", Status: model.JobCancelled, SubmittedAt: now},
	}
	for _, j := range jobs {
		if err := st.UpsertJob(ctx, j, nil); err != nil {
			t.Fatalf("upsert job: %v", err)
		}
	}
	// Re-upsert updates in place, no double count.
	if err := st.UpsertJob(ctx, jobs[0], nil); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Submitted != 3 || stats.Completed != 1 || stats.Failed != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
