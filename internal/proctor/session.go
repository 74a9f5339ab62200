package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseSetup     Phase = "SETUP"
	PhaseActive    Phase = "ACTIVE"
	PhaseCompleted Phase = "COMPLETED"
)

const (
	defaultSubmitTimeout  = 10 * time.Second
	defaultReleaseTimeout = 5 * time.Second
	eventQueueSize        = 64
)

// Params are the immutable inputs of a session.
type Params struct {
	SessionID        uuid.UUID        `json:"session_id"`
	TestID           uuid.UUID        `json:"test_id"`
	LearnerID        int              `json:"learner_id"`
	TimeLimitSeconds int              `json:"time_limit_seconds" validate:"required,min=1"`
	Questions        []model.Question `json:"questions" validate:"required,min=1,unique=ID,dive"`
}

// ViolationRecorder is told about every counted violation, including the one
// that forces submission. It is called from the session loop.
type ViolationRecorder interface {
	RecordViolation(kind ViolationKind, count int, forced bool)
}

// Deps are the collaborators of a session. Gateway and Grader are required.
type Deps struct {
	Gateway    PresentationGateway
	Visibility VisibilitySource
	Grader     Grader
	Notifier   Notifier
	Recorder   ViolationRecorder
	Clock      clockwork.Clock
	Logger     zerolog.Logger

	SubmitTimeout  time.Duration
	ReleaseTimeout time.Duration
}

// Completion is the authoritative outcome of a completed session.
type Completion struct {
	Reason           model.CompletionReason `json:"reason"`
	Answers          Snapshot               `json:"answers"`
	ViolationCount   int                    `json:"violation_count"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	CompletedAt      time.Time              `json:"completed_at"`
}

// State is a point-in-time view of a session.
type State struct {
	SessionID        uuid.UUID              `json:"session_id"`
	TestID           uuid.UUID              `json:"test_id"`
	Phase            Phase                  `json:"phase"`
	TimeLimitSeconds int                    `json:"time_limit_seconds"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	Urgency          Urgency                `json:"urgency"`
	ViolationCount   int                    `json:"violation_count"`
	Reason           model.CompletionReason `json:"reason,omitempty"`
	CurrentIndex     int                    `json:"current_index"`
	// CurrentQuestionID and Selected describe the question on screen and
	// the option chosen for it, if any.
	CurrentQuestionID string      `json:"current_question_id"`
	Selected          string      `json:"selected,omitempty"`
	Progress          Progress    `json:"progress"`
	ProgressPercent   float64     `json:"progress_percent"`
	Engaged           bool        `json:"engaged"`
	Pending           bool        `json:"pending"`
	Closed            bool        `json:"closed"`
	Completion        *Completion `json:"completion,omitempty"`

	answers Snapshot
}

// Session runs one proctored attempt. Every inbound signal is turned into an
// event and handled by a single loop goroutine, one at a time in arrival order.
// Fields below the loop marker are owned by that goroutine.
type Session struct {
	id        uuid.UUID
	testID    uuid.UUID
	learnerID int
	timeLimit int
	questions []model.Question

	gateway        PresentationGateway
	visibility     VisibilitySource
	grader         Grader
	notifier       Notifier
	recorder       ViolationRecorder
	clock          clockwork.Clock
	log            zerolog.Logger
	submitTimeout  time.Duration
	releaseTimeout time.Duration

	events    chan event
	quit      chan struct{}
	loopDone  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	releases  sync.WaitGroup

	// final is written by the loop right before loopDone is closed.
	final State

	// loop-owned
	phase       Phase
	pending     bool
	closed      bool
	remaining   int
	reason      model.CompletionReason
	policy      ViolationPolicy
	monitor     IntegrityMonitor
	ledger      *AnswerLedger
	cursor      *Cursor
	countdown   *Countdown
	unsubscribe []func()
	completion  *Completion
}

type eventKind int

const (
	evBegin eventKind = iota
	evEngaged
	evEngageFailed
	evReengageCheck
	evPresentation
	evVisibility
	evSetAnswer
	evNext
	evPrevious
	evJump
	evSubmit
	evState
)

type event struct {
	kind       eventKind
	flag       bool
	questionID string
	optionID   string
	index      int
	reply      chan result
}

type result struct {
	err    error
	noop   bool
	closed bool
	state  State
}

// NewSession validates params and returns a session in the Setup phase.
func NewSession(p Params, d Deps) (*Session, error) {
	if err := validator.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.TestID == uuid.Nil {
		return nil, fmt.Errorf("%w: test id is required", ErrInvalidParams)
	}
	if d.Gateway == nil || d.Grader == nil {
		return nil, fmt.Errorf("%w: gateway and grader are required", ErrInvalidParams)
	}

	if p.SessionID == uuid.Nil {
		p.SessionID = uuid.New()
	}
	if d.Visibility == nil {
		d.Visibility = nopVisibility{}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.SubmitTimeout <= 0 {
		d.SubmitTimeout = defaultSubmitTimeout
	}
	if d.ReleaseTimeout <= 0 {
		d.ReleaseTimeout = defaultReleaseTimeout
	}

	questions := make([]model.Question, len(p.Questions))
	copy(questions, p.Questions)

	s := &Session{
		id:             p.SessionID,
		testID:         p.TestID,
		learnerID:      p.LearnerID,
		timeLimit:      p.TimeLimitSeconds,
		questions:      questions,
		gateway:        d.Gateway,
		visibility:     d.Visibility,
		grader:         d.Grader,
		notifier:       d.Notifier,
		recorder:       d.Recorder,
		clock:          d.Clock,
		submitTimeout:  d.SubmitTimeout,
		releaseTimeout: d.ReleaseTimeout,
		log: d.Logger.With().
			Str("component", "proctor_session").
			Str("session_id", p.SessionID.String()).
			Str("test_id", p.TestID.String()).
			Logger(),
		events:    make(chan event, eventQueueSize),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
		phase:     PhaseSetup,
		remaining: p.TimeLimitSeconds,
		ledger:    NewAnswerLedger(questions),
		cursor:    NewCursor(len(questions)),
	}

	go s.run()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// TestID returns the id of the test being taken.
func (s *Session) TestID() uuid.UUID { return s.testID }

// LearnerID returns the learner the session belongs to.
func (s *Session) LearnerID() int { return s.learnerID }

// Done is closed when the session completes. It is never closed for an
// abandoned session.
func (s *Session) Done() <-chan struct{} { return s.done }

// ─── Public operations ──────────────────────────────────────────────

// Begin acquires presentation mode and, once it is confirmed, activates the
// session. On refusal the session stays in Setup and Begin may be retried.
func (s *Session) Begin(ctx context.Context) error {
	r := s.call(event{kind: evBegin})
	if r.closed {
		return ErrSessionClosed
	}
	if r.err != nil || r.noop {
		return r.err
	}

	if err := s.gateway.Engage(ctx); err != nil {
		s.call(event{kind: evEngageFailed})
		s.log.Warn().Err(err).Msg("Presentation mode denied")
		return fmt.Errorf("%w: %w", ErrPresentationModeDenied, err)
	}

	r = s.call(event{kind: evEngaged})
	if r.closed || r.err != nil {
		// Abandoned while we were waiting on the gateway.
		relCtx, cancel := context.WithTimeout(context.Background(), s.releaseTimeout)
		defer cancel()
		if err := s.gateway.Release(relCtx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release presentation mode")
		}
		return ErrSessionClosed
	}
	return nil
}

// Reengage asks the gateway to re-enter presentation mode after the learner
// left it. It is a no-op unless the session is active and disengaged.
func (s *Session) Reengage(ctx context.Context) error {
	r := s.call(event{kind: evReengageCheck})
	if r.closed || r.noop {
		return nil
	}
	if err := s.gateway.Engage(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPresentationModeDenied, err)
	}
	s.post(event{kind: evPresentation, flag: true})
	return nil
}

// SetAnswer records an answer. Outside the Active phase it is silently ignored.
func (s *Session) SetAnswer(questionID, optionID string) error {
	return s.call(event{kind: evSetAnswer, questionID: questionID, optionID: optionID}).err
}

// Next moves to the next question.
func (s *Session) Next() {
	s.call(event{kind: evNext})
}

// Previous moves to the previous question.
func (s *Session) Previous() {
	s.call(event{kind: evPrevious})
}

// JumpTo moves to the question at index.
func (s *Session) JumpTo(index int) error {
	return s.call(event{kind: evJump, index: index}).err
}

// ManualSubmit completes the session on the learner's request.
func (s *Session) ManualSubmit() {
	s.call(event{kind: evSubmit})
}

// State returns the current state. After Close it returns the last state.
func (s *Session) State() State {
	r := s.call(event{kind: evState})
	if r.closed {
		return s.final
	}
	return r.state
}

// Snapshot returns the answers: the frozen snapshot once completed, otherwise
// a copy of the live ledger.
func (s *Session) Snapshot() Snapshot {
	st := s.State()
	if st.Completion != nil {
		return copySnapshot(st.Completion.Answers)
	}
	return copySnapshot(st.answers)
}

// Completion returns the outcome once the session has completed.
func (s *Session) Completion() (Completion, bool) {
	st := s.State()
	if st.Completion == nil {
		return Completion{}, false
	}
	c := *st.Completion
	c.Answers = copySnapshot(c.Answers)
	return c, true
}

// Close abandons the session if it has not completed: the countdown stops,
// the integrity monitor is disarmed and presentation mode is released, but
// nothing is submitted. Close is idempotent and waits for the loop to exit.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.loopDone
	s.releases.Wait()
}

// ─── Event plumbing ─────────────────────────────────────────────────

func (s *Session) call(ev event) result {
	ev.reply = make(chan result, 1)
	select {
	case s.events <- ev:
	case <-s.loopDone:
		return result{closed: true}
	}
	select {
	case r := <-ev.reply:
		return r
	case <-s.loopDone:
		return result{closed: true}
	}
}

// post enqueues an event without waiting for it to be handled.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.loopDone:
	}
}

func (s *Session) run() {
	defer close(s.loopDone)

	for {
		var ticks <-chan Tick
		if s.countdown != nil {
			ticks = s.countdown.C()
		}

		select {
		case ev := <-s.events:
			r := s.handle(ev)
			if ev.reply != nil {
				ev.reply <- r
			}
		case t := <-ticks:
			s.onTick(t)
		case <-s.quit:
			s.abandon()
			s.final = s.snapshotState()
			return
		}
	}
}

func (s *Session) handle(ev event) result {
	switch ev.kind {
	case evBegin:
		switch {
		case s.phase == PhaseCompleted:
			return result{err: ErrSessionClosed}
		case s.phase == PhaseActive:
			return result{noop: true}
		case s.pending:
			return result{err: ErrBeginPending}
		}
		s.pending = true
		return result{}

	case evEngageFailed:
		s.pending = false
		return result{}

	case evEngaged:
		s.pending = false
		if s.phase != PhaseSetup {
			return result{err: ErrSessionClosed}
		}
		s.activate()
		return result{}

	case evReengageCheck:
		if s.phase != PhaseActive || s.monitor.Engaged() {
			return result{noop: true}
		}
		return result{}

	case evPresentation:
		if kind, ok := s.monitor.ObservePresentation(ev.flag); ok {
			s.onViolation(kind)
		}
		return result{}

	case evVisibility:
		if kind, ok := s.monitor.ObserveVisibility(ev.flag); ok {
			s.onViolation(kind)
		}
		return result{}

	case evSetAnswer:
		if s.phase != PhaseActive {
			s.log.Debug().Str("phase", string(s.phase)).Msg("Ignoring answer outside active phase")
			return result{noop: true}
		}
		return result{err: s.ledger.SetAnswer(ev.questionID, ev.optionID)}

	case evNext:
		if s.phase == PhaseActive {
			s.cursor.Next()
		}
		return result{}

	case evPrevious:
		if s.phase == PhaseActive {
			s.cursor.Previous()
		}
		return result{}

	case evJump:
		if s.phase != PhaseActive {
			return result{noop: true}
		}
		return result{err: s.cursor.JumpTo(ev.index)}

	case evSubmit:
		if s.phase != PhaseActive {
			return result{noop: true}
		}
		s.complete(model.ReasonManualSubmit)
		return result{}

	case evState:
		return result{state: s.snapshotState()}
	}
	return result{}
}

// ─── Transitions ────────────────────────────────────────────────────

func (s *Session) activate() {
	s.countdown = NewCountdown(s.clock)
	if err := s.countdown.Start(s.remaining); err != nil {
		// remaining is validated positive at construction.
		s.log.Error().Err(err).Msg("Failed to start countdown")
		s.countdown = nil
		return
	}

	s.monitor.Arm(true, true)
	s.unsubscribe = append(s.unsubscribe,
		s.gateway.OnDisengage(func() {
			s.post(event{kind: evPresentation, flag: false})
		}),
		s.visibility.Subscribe(func(visible bool) {
			s.post(event{kind: evVisibility, flag: visible})
		}),
	)
	s.phase = PhaseActive

	s.log.Info().
		Int("learner_id", s.learnerID).
		Int("time_limit_seconds", s.timeLimit).
		Int("questions", len(s.questions)).
		Msg("Session active")

	s.notifier.Notify(TickUpdate{Remaining: s.remaining, Urgency: UrgencyFor(s.remaining)})

	// The learner may have left between confirmation and subscription.
	if !s.gateway.IsEngaged() {
		if kind, ok := s.monitor.ObservePresentation(false); ok {
			s.onViolation(kind)
		}
	}
}

func (s *Session) onTick(t Tick) {
	if s.phase != PhaseActive {
		return
	}
	if t.Remaining < s.remaining {
		s.remaining = t.Remaining
	}
	s.notifier.Notify(TickUpdate{Remaining: s.remaining, Urgency: UrgencyFor(s.remaining)})
	if t.Expired {
		s.complete(model.ReasonTimeout)
	}
}

func (s *Session) onViolation(kind ViolationKind) {
	if s.phase != PhaseActive {
		s.log.Debug().Str("kind", string(kind)).Msg("Discarding violation against inactive session")
		return
	}

	verdict := s.policy.OnViolation()
	forced := verdict.Kind == VerdictForceSubmit

	s.log.Warn().
		Str("kind", string(kind)).
		Int("count", s.policy.Count()).
		Bool("forced", forced).
		Msg("Integrity violation")

	if s.recorder != nil {
		s.recorder.RecordViolation(kind, s.policy.Count(), forced)
	}

	if forced {
		s.complete(model.ReasonPolicyForced)
		return
	}
	s.notifier.Notify(Warning{Ordinal: verdict.Ordinal, Max: verdict.Max, Kind: kind})
}

// complete is the single exit from Active. The phase check makes it run at most once.
func (s *Session) complete(reason model.CompletionReason) {
	if s.phase != PhaseActive {
		return
	}

	s.stopCountdown()
	s.disarm()

	now := s.clock.Now()
	s.phase = PhaseCompleted
	s.reason = reason
	s.completion = &Completion{
		Reason:           reason,
		Answers:          s.ledger.Snapshot(),
		ViolationCount:   s.policy.Count(),
		RemainingSeconds: s.remaining,
		CompletedAt:      now,
	}

	sub := model.Submission{
		SessionID:        s.id,
		TestID:           s.testID,
		LearnerID:        s.learnerID,
		Answers:          copySnapshot(s.completion.Answers),
		Reason:           reason,
		ViolationCount:   s.completion.ViolationCount,
		RemainingSeconds: s.remaining,
		CompletedAt:      now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	err := s.grader.Submit(ctx, sub)
	cancel()
	if err != nil {
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("Submission hand-off failed")
	}

	s.log.Info().
		Str("reason", string(reason)).
		Int("answered", len(sub.Answers)).
		Int("violations", sub.ViolationCount).
		Int("remaining_seconds", s.remaining).
		Msg("Session completed")

	close(s.done)
	s.notifier.Notify(Completed{
		Reason:         reason,
		Answers:        copySnapshot(s.completion.Answers),
		ViolationCount: s.completion.ViolationCount,
	})
	s.release()
}

func (s *Session) abandon() {
	s.closed = true
	if s.phase != PhaseActive {
		return
	}
	s.stopCountdown()
	s.disarm()
	s.log.Info().Int("remaining_seconds", s.remaining).Msg("Session abandoned")
	s.release()
}

func (s *Session) stopCountdown() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *Session) disarm() {
	s.monitor.Disarm()
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}

// release leaves presentation mode in the background. Failure is logged only.
func (s *Session) release() {
	s.releases.Add(1)
	go func() {
		defer s.releases.Done()
		if !s.gateway.IsEngaged() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.releaseTimeout)
		defer cancel()
		if err := s.gateway.Release(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release presentation mode")
		}
	}()
}

func (s *Session) snapshotState() State {
	st := State{
		SessionID:        s.id,
		TestID:           s.testID,
		Phase:            s.phase,
		TimeLimitSeconds: s.timeLimit,
		RemainingSeconds: s.remaining,
		Urgency:          UrgencyFor(s.remaining),
		ViolationCount:   s.policy.Count(),
		Reason:           s.reason,
		CurrentIndex:     s.cursor.Index(),
		Progress:         s.ledger.Progress(),
		Engaged:          s.monitor.Engaged(),
		Pending:          s.pending,
		Closed:           s.closed,
		answers:          s.ledger.Snapshot(),
	}
	st.ProgressPercent = st.Progress.Percent()
	if i := s.cursor.Index(); i < len(s.questions) {
		st.CurrentQuestionID = s.questions[i].ID
		st.Selected, _ = s.ledger.Answer(st.CurrentQuestionID)
	}
	if s.completion != nil {
		c := *s.completion
		c.Answers = copySnapshot(c.Answers)
		st.Completion = &c
	}
	return st
}

func copySnapshot(in Snapshot) Snapshot {
	out := make(Snapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
