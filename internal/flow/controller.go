package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emolens/emolens/internal/analysis"
	"github.com/emolens/emolens/internal/capture"
	"github.com/emolens/emolens/internal/config"
	"github.com/emolens/emolens/internal/metrics"
	"github.com/emolens/emolens/internal/model"
	"github.com/emolens/emolens/internal/moments"
	"github.com/emolens/emolens/internal/store"
)

const eventQueueSize = 256

// DeviceFactory builds a fresh capture device for one stream role.
type DeviceFactory func() capture.Device

// Options wires the controller's collaborators. Camera is mandatory;
// Screen, Tabs, and Archive are optional and their absence degrades the
// matching feature rather than failing the session.
type Options struct {
	Camera  DeviceFactory
	Screen  DeviceFactory
	Tabs    TabOpener
	Archive *store.Store
}

// Controller is the single authority over FlowState. It sequences
// permission acquisition, recording start/stop, key-moment extraction,
// and the handoff into the analysis job lifecycle. All exported methods
// are safe for concurrent use.
type Controller struct {
	cfg    config.Config
	client *analysis.Client
	opts   Options

	mu           sync.Mutex
	epoch        int64
	state        model.FlowState
	notice       *Notice
	settings     model.Settings
	sessionID    string
	kind         model.SessionKind
	camera       *capture.Recorder
	screen       *capture.Recorder
	coord        *capture.Coordinator
	extractor    *moments.Extractor
	momentLog    []model.KeyMoment
	eventLog     []model.GameEvent
	eventCh      chan model.GameEvent
	eventStop    chan struct{}
	clock        *countdown
	tab          Tab
	tabWatch     *tabMonitor
	sessionStart time.Time
	started      bool
	starting     bool
	job          *model.AnalysisJob
	jobCancel    context.CancelFunc
	result       *model.AnalysisResult
	activeGauge  bool
}

func NewController(cfg config.Config, client *analysis.Client, opts Options) *Controller {
	return &Controller{
		cfg:      cfg,
		client:   client.WithTimeouts(cfg.RequestTimeout, cfg.SubmitTimeout),
		opts:     opts,
		state:    model.FlowIdle,
		settings: model.DefaultSettings(),
	}
}

// State returns the current flow state.
func (c *Controller) State() model.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notice returns the current user-facing message, nil when there is none.
func (c *Controller) Notice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == nil {
		return nil
	}
	n := *c.notice
	return &n
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Kind reports what the current or last session recorded.
func (c *Controller) Kind() model.SessionKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// Job returns a copy of the tracked analysis job, nil before submit.
func (c *Controller) Job() *model.AnalysisJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return nil
	}
	j := *c.job
	return &j
}

// Result returns the completed analysis payload once results are ready.
func (c *Controller) Result() *model.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// KeyMoments returns the curated highlight list, sorted by timestamp.
// During recording this reads live from the extractor; afterward it
// serves the snapshot taken when the session wound down.
func (c *Controller) KeyMoments() []model.KeyMoment {
	c.mu.Lock()
	ex := c.extractor
	log := c.momentLog
	c.mu.Unlock()
	if ex != nil {
		return ex.Moments()
	}
	return log
}

// Events returns the raw activity log of the current or last session.
func (c *Controller) Events() []model.GameEvent {
	c.mu.Lock()
	ex := c.extractor
	log := c.eventLog
	c.mu.Unlock()
	if ex != nil {
		return ex.Events()
	}
	return log
}

// CountdownRemaining reports seconds left on a game session clock.
func (c *Controller) CountdownRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Remaining()
}

// UpdateSettings replaces the settings used for future submissions.
// An in-flight job keeps the snapshot it was submitted with.
func (c *Controller) UpdateSettings(s model.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// RequestPermissions asks for the camera stream. Idempotent while a
// request is already pending. The flow always resolves to exactly one
// of ready_to_start or permissions_denied.
func (c *Controller) RequestPermissions(ctx context.Context) error {
	c.mu.Lock()
	if c.state == model.FlowPermissionsPending {
		c.mu.Unlock()
		return nil
	}
	if c.state != model.FlowIdle && c.state != model.FlowPermissionsDenied {
		err := &TransitionError{Op: "requestPermissions", From: c.state}
		c.mu.Unlock()
		return err
	}
	c.state = model.FlowPermissionsPending
	c.notice = nil
	epoch := c.epoch
	cam := capture.NewRecorder(capture.RoleCamera, c.opts.Camera())
	c.mu.Unlock()

	err := cam.Acquire(ctx, c.cfg.VideoBitsPerSec, c.cfg.AudioBitsPerSec)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		cam.Release()
		return nil
	}
	if err != nil {
		c.state = model.FlowPermissionsDenied
		c.notice = &Notice{
			Text:  "Camera access was denied. Grant camera permission and try again.",
			Class: NoticeError,
			Code:  model.ErrPermissionDenied,
		}
		c.mu.Unlock()
		metrics.PermissionDenials.Inc()
		return fmt.Errorf("acquire camera: %w", err)
	}
	c.camera = cam
	c.state = model.FlowReadyToStart
	c.mu.Unlock()
	slog.Info("camera permission granted")
	return nil
}

// StartOptions tunes one session start.
type StartOptions struct {
	SiteURL       string
	CaptureScreen bool
}

// StartSession begins recording. Valid only from ready_to_start. The
// start order is camera first, then screen, and for browse sessions the
// external tab opens last so capture permission prompts stay visible.
// Screen capture is best-effort: a denial degrades to camera-only.
func (c *Controller) StartSession(ctx context.Context, kind model.SessionKind, opts StartOptions) error {
	var siteURL string
	if kind == model.KindWebsiteBrowse {
		validated, err := ValidateSiteURL(opts.SiteURL)
		if err != nil {
			return err
		}
		siteURL = validated
		if c.opts.Tabs == nil {
			return fmt.Errorf("browse session requires a tab opener")
		}
	}

	c.mu.Lock()
	if c.state != model.FlowReadyToStart || c.starting {
		err := &TransitionError{Op: "startSession", From: c.state}
		c.mu.Unlock()
		return err
	}
	if c.camera == nil {
		c.mu.Unlock()
		return errors.New("camera handle missing; request permissions first")
	}
	// Claim the start before dropping the lock: a second StartSession
	// racing this one must fail the guard, not share the camera.
	c.starting = true
	epoch := c.epoch
	cam := c.camera
	sessionID := uuid.NewString()
	c.mu.Unlock()

	deliver := func(role capture.Role, a model.Artifact) {
		c.deliverArtifact(epoch, role, a)
	}

	if err := cam.Start(ctx, c.cfg.VideoBitsPerSec, c.cfg.AudioBitsPerSec, deliver); err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.starting = false
			if c.state == model.FlowReadyToStart {
				c.notice = &Notice{
					Text:  "Could not start the camera recording.",
					Class: NoticeError,
					Code:  model.ErrCaptureFailure,
				}
			}
		}
		c.mu.Unlock()
		metrics.CaptureFailures.WithLabelValues(string(capture.RoleCamera)).Inc()
		return fmt.Errorf("start camera recording: %w", err)
	}

	var scr *capture.Recorder
	if opts.CaptureScreen && c.opts.Screen != nil {
		candidate := capture.NewRecorder(capture.RoleScreen, c.opts.Screen())
		if err := candidate.Start(ctx, c.cfg.VideoBitsPerSec, c.cfg.AudioBitsPerSec, deliver); err != nil {
			// Best-effort: the session proceeds camera-only.
			slog.Warn("screen capture unavailable", "error", err)
			metrics.CaptureFailures.WithLabelValues(string(capture.RoleScreen)).Inc()
			candidate.Release()
		} else {
			scr = candidate
		}
	}

	var tab Tab
	if kind == model.KindWebsiteBrowse {
		opened, err := c.opts.Tabs.Open(siteURL)
		if err != nil {
			cam.Stop()
			if scr != nil {
				scr.Release()
			}
			c.mu.Lock()
			if c.epoch == epoch {
				c.starting = false
				if c.state == model.FlowReadyToStart {
					c.notice = &Notice{
						Text:  "Could not open the website tab.",
						Class: NoticeError,
						Code:  model.ErrCaptureFailure,
					}
				}
			}
			c.mu.Unlock()
			return fmt.Errorf("open tab: %w", err)
		}
		tab = opened
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != model.FlowReadyToStart {
		if c.epoch == epoch {
			c.starting = false
		}
		c.mu.Unlock()
		cam.Stop()
		if scr != nil {
			scr.Release()
		}
		if tab != nil {
			_ = tab.Close()
		}
		return errors.New("session reset during start")
	}
	c.starting = false
	c.sessionID = sessionID
	c.kind = kind
	c.screen = scr
	c.coord = capture.NewCoordinator(scr != nil, func(camera model.Artifact, screen *model.Artifact) {
		c.onMediaReady(epoch, camera, screen)
	})
	c.sessionStart = time.Now()
	c.started = true
	c.notice = nil
	c.result = nil
	c.job = nil
	c.momentLog = nil
	c.eventLog = nil
	c.extractor = moments.NewExtractor(c.cfg.SnapshotDelay, c.elapsed)
	var gameSource moments.FrameSource
	if scr != nil {
		gameSource = scr
	}
	c.extractor.SetSources(cam, gameSource)
	c.startEventLoopLocked()
	c.state = kind.RecordingState()
	if kind.IsGame() {
		c.clock = startCountdown(c.cfg.GameDuration, c.cfg.CountdownTick, c.OnCountdownExpired)
	} else {
		c.tab = tab
		c.tabWatch = watchTab(tab, c.cfg.TabCheckInterval, c.OnExternalStop)
	}
	c.setActiveLocked(true)
	c.mu.Unlock()

	metrics.SessionsTotal.WithLabelValues(string(kind)).Inc()
	slog.Info("session started", "session_id", sessionID, "kind", kind, "screen", scr != nil)
	c.archiveInsert(store.SessionRecord{
		SessionID:  sessionID,
		Kind:       kind,
		StartedAt:  time.Now().UTC(),
		FinalState: kind.RecordingState(),
	})
	return nil
}

// Emit feeds one activity event into the session. Events are queued and
// processed off the emitter's call stack, in emission order.
func (c *Controller) Emit(ev model.GameEvent) {
	c.mu.Lock()
	ch := c.eventCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		slog.Warn("event queue full, dropping", "type", ev.Type)
	}
}

// EmitEmotionSpike appends an emotion-driven key moment to the current
// session, outside the game event stream. No-op when no session is
// recording.
func (c *Controller) EmitEmotionSpike(timestampSeconds float64, reason string) {
	c.mu.Lock()
	ex := c.extractor
	c.mu.Unlock()
	if ex == nil {
		return
	}
	ex.AddEmotionSpike(timestampSeconds, reason)
}

// OnCountdownExpired ends a game session when the clock runs out.
func (c *Controller) OnCountdownExpired() {
	c.finishRecording("countdown_expired")
}

// OnExternalStop ends a session on user stop or tab close. Safe to call
// more than once; only the first call while recording takes effect.
func (c *Controller) OnExternalStop() {
	c.finishRecording("external_stop")
}

func (c *Controller) finishRecording(reason string) {
	c.mu.Lock()
	if !c.state.Recording() {
		c.mu.Unlock()
		return
	}
	c.state = model.FlowAnalyzing
	clock := c.clock
	c.clock = nil
	tabWatch := c.tabWatch
	c.tabWatch = nil
	cam := c.camera
	scr := c.screen
	c.mu.Unlock()

	clock.Stop()
	tabWatch.Stop()
	slog.Info("recording stopped", "reason", reason)
	// Stopping triggers the completion callbacks that feed the artifact
	// coordinator; submission happens once every required slot fills.
	if scr != nil {
		scr.Stop()
	}
	if cam != nil {
		cam.Stop()
	}
}

// FailCapture handles a mid-recording stream failure. Losing the screen
// degrades the session to camera-only and recording continues; losing
// the camera is fatal to the session, though not to the app: permission
// state is kept and the flow returns to ready_to_start.
func (c *Controller) FailCapture(role capture.Role, cause error) {
	c.mu.Lock()
	if !c.state.Recording() {
		c.mu.Unlock()
		return
	}
	if role == capture.RoleScreen {
		scr := c.screen
		c.screen = nil
		coord := c.coord
		c.mu.Unlock()
		metrics.CaptureFailures.WithLabelValues(string(role)).Inc()
		slog.Warn("screen stream lost, continuing camera-only", "error", cause)
		// Drop first so the flush the release triggers is discarded.
		if coord != nil {
			coord.DropScreenRequirement()
		}
		if scr != nil {
			scr.Release()
		}
		return
	}
	c.epoch++
	c.state = model.FlowReadyToStart
	c.notice = &Notice{
		Text:  fmt.Sprintf("The %s stream failed during recording.", role),
		Class: NoticeError,
		Code:  model.ErrCaptureFailure,
	}
	c.coord = nil
	cam := c.camera
	sessionID := c.sessionID
	c.setActiveLocked(false)
	teardown := c.teardownSessionLocked(true)
	c.mu.Unlock()

	metrics.CaptureFailures.WithLabelValues(string(role)).Inc()
	slog.Error("capture failed", "role", role, "error", cause)
	// Stop the dead recording so the next session can start the camera
	// again; its final flush carries the old epoch and is discarded.
	if cam != nil {
		cam.Stop()
	}
	teardown()
	c.archiveFinish(sessionID, model.FlowReadyToStart, model.OutcomeFailed, "capture failed")
}

func (c *Controller) deliverArtifact(epoch int64, role capture.Role, a model.Artifact) {
	c.mu.Lock()
	coord := c.coord
	ok := c.epoch == epoch && coord != nil
	c.mu.Unlock()
	if ok {
		coord.Deliver(role, a)
	}
}

// onMediaReady fires once the coordinator has every required artifact.
// The screen handle is released here; the camera keeps its acquired
// stream so a follow-up session does not re-prompt for permission.
func (c *Controller) onMediaReady(epoch int64, camera model.Artifact, screen *model.Artifact) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != model.FlowAnalyzing {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	settings := c.settings
	scr := c.screen
	c.screen = nil
	jobCtx, cancel := context.WithCancel(context.Background())
	c.jobCancel = cancel
	c.mu.Unlock()

	if scr != nil {
		scr.Release()
	}
	go c.submitAndTrack(jobCtx, epoch, sessionID, camera, screen, settings)
}

func (c *Controller) submitAndTrack(ctx context.Context, epoch int64, sessionID string, camera model.Artifact, screen *model.Artifact, settings model.Settings) {
	resp, err := c.client.Submit(ctx, camera, screen, settings, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("analysis submit failed", "session_id", sessionID, "error", err)
		c.failAnalysis(epoch, model.ErrSubmission, "Could not upload the recording for analysis. Try again.")
		return
	}

	submittedAt := time.Now()
	job := model.AnalysisJob{
		JobID:       resp.JobID,
		SessionID:   sessionID,
		Status:      model.JobQueued,
		Message:     "Job queued",
		ETAMinutes:  resp.EstimatedTimeMinutes,
		SubmittedAt: submittedAt,
	}
	c.mu.Lock()
	if c.epoch != epoch || c.state != model.FlowAnalyzing {
		c.mu.Unlock()
		return
	}
	c.job = &job
	c.mu.Unlock()
	slog.Info("job submitted", "job_id", resp.JobID, "session_id", sessionID)
	c.archiveJob(job, nil)

	term, err := c.client.Poll(ctx, sessionID, resp.JobID, analysis.PollOptions{
		Interval: c.cfg.PollInterval,
		Ceiling:  c.cfg.PollCeiling,
	}, func(st analysis.StatusResponse) {
		metrics.PollRequests.Inc()
		c.applyPoll(epoch, resp.JobID, st)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("polling failed", "job_id", resp.JobID, "error", err)
		term = analysis.Terminal{Outcome: model.OutcomeFailed, Message: "Lost contact with the analysis service."}
	}
	c.handleTerminal(epoch, resp.JobID, submittedAt, term)
}

func (c *Controller) applyPoll(epoch int64, jobID string, st analysis.StatusResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.job == nil || c.job.JobID != jobID {
		return
	}
	// A response already in flight when the user cancelled must not
	// resurrect the job.
	if c.state != model.FlowAnalyzing || c.job.Status.Terminal() {
		return
	}
	if st.Status == model.JobQueued || st.Status == model.JobProcessing {
		c.job.Status = st.Status
	}
	c.job.Progress = st.Progress
	if st.Message != "" {
		c.job.Message = st.Message
	}
	if st.EstimatedTimeMinutes != nil {
		c.job.ETAMinutes = st.EstimatedTimeMinutes
	}
}

func (c *Controller) handleTerminal(epoch int64, jobID string, submittedAt time.Time, term analysis.Terminal) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != model.FlowAnalyzing || c.job == nil || c.job.JobID != jobID {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.job.CompletedAt = &now
	c.job.Progress = 1
	c.jobCancel = nil
	finalState := model.FlowReadyToStart
	switch term.Outcome {
	case model.OutcomeCompleted:
		c.job.Status = model.JobCompleted
		c.result = term.Result
		c.state = model.FlowResultsReady
		c.notice = nil
		finalState = model.FlowResultsReady
	case model.OutcomeEmpty:
		c.job.Status = model.JobCompleted
		c.state = model.FlowReadyToStart
		c.notice = &Notice{Text: term.Message, Class: NoticeEmpty, Code: model.ErrEmptyResult}
	case model.OutcomeTimeout:
		c.job.Status = model.JobFailed
		c.state = model.FlowReadyToStart
		c.notice = &Notice{Text: term.Message, Class: NoticeError, Code: model.ErrPollTimeout}
	case model.OutcomeCancelled:
		c.job.Status = model.JobCancelled
		c.state = model.FlowReadyToStart
		c.notice = &Notice{Text: "Analysis cancelled.", Class: NoticeInfo, Code: ""}
	default:
		c.job.Status = model.JobFailed
		c.state = model.FlowReadyToStart
		c.notice = &Notice{Text: term.Message, Class: NoticeError, Code: model.ErrRemoteProcessing}
	}
	job := *c.job
	sessionID := c.sessionID
	outcome := term.Outcome
	message := term.Message
	c.setActiveLocked(false)
	teardown := c.teardownSessionLocked(true)
	c.mu.Unlock()

	metrics.JobOutcomes.WithLabelValues(string(outcome)).Inc()
	metrics.JobDuration.Observe(now.Sub(submittedAt).Seconds())
	slog.Info("analysis finished", "job_id", jobID, "outcome", outcome)
	teardown()
	c.archiveJob(job, &outcome)
	c.archiveFinish(sessionID, finalState, outcome, message)
}

func (c *Controller) failAnalysis(epoch int64, code, text string) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != model.FlowAnalyzing {
		c.mu.Unlock()
		return
	}
	c.state = model.FlowReadyToStart
	c.notice = &Notice{Text: text, Class: NoticeError, Code: code}
	c.jobCancel = nil
	sessionID := c.sessionID
	c.setActiveLocked(false)
	teardown := c.teardownSessionLocked(true)
	c.mu.Unlock()

	metrics.JobOutcomes.WithLabelValues(string(model.OutcomeFailed)).Inc()
	teardown()
	c.archiveFinish(sessionID, model.FlowReadyToStart, model.OutcomeFailed, text)
}

// CancelAnalysis aborts an in-flight job. Local state flips immediately;
// the remote notification is fire-and-forget so the UI never blocks on
// network confirmation. A poll response arriving afterward is ignored.
func (c *Controller) CancelAnalysis() {
	c.mu.Lock()
	if c.state != model.FlowAnalyzing {
		c.mu.Unlock()
		return
	}
	cancel := c.jobCancel
	c.jobCancel = nil
	var jobID string
	var job *model.AnalysisJob
	if c.job != nil {
		c.job.Status = model.JobCancelled
		now := time.Now()
		c.job.CompletedAt = &now
		jobID = c.job.JobID
		copied := *c.job
		job = &copied
	}
	c.state = model.FlowReadyToStart
	c.notice = &Notice{Text: "Analysis cancelled.", Class: NoticeInfo, Code: ""}
	sessionID := c.sessionID
	c.setActiveLocked(false)
	teardown := c.teardownSessionLocked(true)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if jobID != "" {
		go c.client.Cancel(context.Background(), jobID)
	}
	metrics.JobOutcomes.WithLabelValues(string(model.OutcomeCancelled)).Inc()
	teardown()
	if job != nil {
		outcome := model.OutcomeCancelled
		c.archiveJob(*job, &outcome)
	}
	c.archiveFinish(sessionID, model.FlowReadyToStart, model.OutcomeCancelled, "cancelled by user")
}

// Reset tears the whole session down from any state: cancels any
// in-flight job, stops and releases every capture handle, clears every
// timer, and returns to idle. After Reset no stale callback can mutate
// controller state.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.epoch++
	cancel := c.jobCancel
	c.jobCancel = nil
	var jobID string
	if c.job != nil && !c.job.Status.Terminal() {
		jobID = c.job.JobID
	}
	cam := c.camera
	c.camera = nil
	sessionID := c.sessionID
	wasActive := c.activeGauge
	c.setActiveLocked(false)
	teardown := c.teardownSessionLocked(false)
	c.coord = nil
	c.job = nil
	c.result = nil
	c.notice = nil
	c.sessionID = ""
	c.momentLog = nil
	c.eventLog = nil
	c.started = false
	c.starting = false
	c.state = model.FlowIdle
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	teardown()
	if cam != nil {
		cam.Release()
	}
	if jobID != "" {
		go c.client.Cancel(context.Background(), jobID)
	}
	if wasActive && sessionID != "" {
		c.archiveFinish(sessionID, model.FlowIdle, model.OutcomeCancelled, "session reset")
	}
	slog.Info("session reset", "session_id", sessionID)
}

// teardownSessionLocked collects every live timer and stream of the
// current session and returns a function that stops them outside the
// lock. The extractor's moments and events are snapshotted onto the
// controller when keepLogs is set so the results view can still read
// them, and archived either way.
func (c *Controller) teardownSessionLocked(keepLogs bool) func() {
	clock := c.clock
	c.clock = nil
	tabWatch := c.tabWatch
	c.tabWatch = nil
	tab := c.tab
	c.tab = nil
	scr := c.screen
	c.screen = nil
	ex := c.extractor
	c.extractor = nil
	stop := c.eventStop
	c.eventStop = nil
	c.eventCh = nil
	sessionID := c.sessionID
	epoch := c.epoch
	archive := c.opts.Archive

	return func() {
		clock.Stop()
		tabWatch.Stop()
		if stop != nil {
			close(stop)
		}
		if tab != nil {
			if err := tab.Close(); err != nil {
				// Cosmetic: never surfaced to the user.
				slog.Warn("tab close failed", "error", err)
			}
		}
		if scr != nil {
			scr.Release()
		}
		if ex != nil {
			events := ex.Events()
			moms := ex.Moments()
			ex.Close()
			if keepLogs {
				c.mu.Lock()
				if c.epoch == epoch {
					c.momentLog = moms
					c.eventLog = events
				}
				c.mu.Unlock()
			}
			if archive != nil && sessionID != "" {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := archive.AppendEvents(ctx, sessionID, events); err != nil {
						slog.Warn("archive events failed", "error", err)
					}
					if err := archive.AppendKeyMoments(ctx, sessionID, moms); err != nil {
						slog.Warn("archive key moments failed", "error", err)
					}
				}()
			}
			for _, m := range moms {
				metrics.KeyMoments.WithLabelValues(string(m.Kind)).Inc()
			}
		}
	}
}

func (c *Controller) startEventLoopLocked() {
	ch := make(chan model.GameEvent, eventQueueSize)
	stop := make(chan struct{})
	ex := c.extractor
	c.eventCh = ch
	c.eventStop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-ch:
				ex.Ingest(ev)
			}
		}
	}()
}

func (c *Controller) elapsed() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0, false
	}
	return time.Since(c.sessionStart).Seconds(), true
}

func (c *Controller) setActiveLocked(active bool) {
	if active == c.activeGauge {
		return
	}
	c.activeGauge = active
	if active {
		metrics.SessionsActive.Inc()
	} else {
		metrics.SessionsActive.Dec()
	}
}

func (c *Controller) archiveInsert(rec store.SessionRecord) {
	if c.opts.Archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.opts.Archive.InsertSession(ctx, rec); err != nil {
			slog.Warn("archive session failed", "session_id", rec.SessionID, "error", err)
		}
	}()
}

func (c *Controller) archiveFinish(sessionID string, state model.FlowState, outcome model.Outcome, message string) {
	if c.opts.Archive == nil || sessionID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.opts.Archive.FinishSession(ctx, sessionID, state, outcome, message); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("archive finish failed", "session_id", sessionID, "error", err)
		}
	}()
}

func (c *Controller) archiveJob(job model.AnalysisJob, outcome *model.Outcome) {
	if c.opts.Archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.opts.Archive.UpsertJob(ctx, job, outcome); err != nil {
			slog.Warn("archive job failed", "job_id", job.JobID, "error", err)
		}
	}()
}
