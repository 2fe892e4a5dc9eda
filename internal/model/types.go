package model

import "time"

// FlowState is the single source of truth for what a session is doing.
type FlowState string

const (
	FlowIdle               FlowState = "idle"
	FlowPermissionsPending FlowState = "permissions_pending"
	FlowPermissionsDenied  FlowState = "permissions_denied"
	FlowReadyToStart       FlowState = "ready_to_start"
	FlowGameRecording      FlowState = "game_active_recording"
	FlowBrowseRecording    FlowState = "website_browsing_recording"
	FlowAnalyzing          FlowState = "analyzing"
	FlowResultsReady       FlowState = "results_ready"
)

// SessionKind selects which activity a recording session captures.
type SessionKind string

const (
	KindStressClick   SessionKind = "stress_click"
	KindObstacleRun   SessionKind = "obstacle_run"
	KindWebsiteBrowse SessionKind = "website_browse"
)

func (k SessionKind) IsGame() bool {
	return k == KindStressClick || k == KindObstacleRun
}

// RecordingState maps a SessionKind to its active-recording flow state.
func (k SessionKind) RecordingState() FlowState {
	if k == KindWebsiteBrowse {
		return FlowBrowseRecording
	}
	return FlowGameRecording
}

// GameEvent is one record emitted by a game engine or browsing tab.
// Immutable once emitted; TimestampSeconds is relative to session start.
type GameEvent struct {
	Type             string
	Data             map[string]any
	TimestampSeconds float64
}

type MomentKind string

const (
	MomentEmotionSpike MomentKind = "emotion_spike"
	MomentGameEvent    MomentKind = "game_event"
)

// KeyMoment is a curated, optionally illustrated highlight. Frames are
// base64 images; nil means the capture yielded nothing, which is valid.
type KeyMoment struct {
	MomentID         string
	TimestampSeconds float64
	Reason           string
	FaceFrame        *string
	GameFrame        *string
	Kind             MomentKind
	Seq              int64
}

// JobStatus covers the analysis client state machine, including the
// local-only pre-submit states.
type JobStatus string

const (
	JobNone       JobStatus = "none"
	JobSubmitting JobStatus = "submitting"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Outcome is the normalized terminal result of an analysis job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimeout   Outcome = "timeout"
)

// FrameResult is one analyzed frame returned by the remote service.
type FrameResult struct {
	TimestampSeconds float64            `json:"timestamp"`
	Emotions         map[string]float64 `json:"emotions,omitempty"`
	ActionUnits      map[string]float64 `json:"action_units,omitempty"`
}

// AnalysisResult is the payload attached to a completed job.
type AnalysisResult struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Frames  []FrameResult `json:"frames,omitempty"`
}

// Empty reports whether the remote completed without usable detections.
// This is a valid outcome, not an error.
func (r *AnalysisResult) Empty() bool {
	if r == nil {
		return true
	}
	if r.Status == "no_faces_detected" || r.Status == "no_data" {
		return true
	}
	return len(r.Frames) == 0
}

// AnalysisJob tracks one remote unit of work. Mutated only by poll
// responses or explicit cancel; dereferenced on session reset.
type AnalysisJob struct {
	JobID       string
	SessionID   string
	Status      JobStatus
	Progress    float64
	Message     string
	ETAMinutes  *float64
	Result      *AnalysisResult
	SubmittedAt time.Time
	CompletedAt *time.Time
}

// Settings is the immutable snapshot attached to a job at submit time.
type Settings struct {
	FrameSkip          int     `json:"frame_skip" yaml:"frame_skip"`
	AnalysisType       string  `json:"analysis_type" yaml:"analysis_type"`
	VisualizationStyle string  `json:"visualization_style" yaml:"visualization_style"`
	DetectionThreshold float64 `json:"detection_threshold" yaml:"detection_threshold"`
	BatchSize          int     `json:"batch_size" yaml:"batch_size"`
}

func DefaultSettings() Settings {
	return Settings{
		FrameSkip:          30,
		AnalysisType:       "combined",
		VisualizationStyle: "chart",
		DetectionThreshold: 0.5,
		BatchSize:          8,
	}
}

// Artifact is one finalized recorded media blob.
type Artifact struct {
	Data []byte
	MIME string
}

// Error codes defined by the orchestrator contract.
const (
	ErrPermissionDenied   = "E_PERMISSION_DENIED"
	ErrInvalidTransition  = "E_INVALID_STATE_TRANSITION"
	ErrCaptureFailure     = "E_CAPTURE_FAILURE"
	ErrSubmission         = "E_SUBMISSION"
	ErrPollTimeout        = "E_POLL_TIMEOUT"
	ErrRemoteProcessing   = "E_REMOTE_PROCESSING"
	ErrEmptyResult        = "E_EMPTY_RESULT"
	ErrSessionAlreadyLive = "E_SESSION_ALREADY_LIVE"
	ErrTargetUnreachable  = "E_TARGET_UNREACHABLE"
)
