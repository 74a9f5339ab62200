package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Validation(t *testing.T) {
	valid := Params{TestID: uuid.New(), TimeLimitSeconds: 60, Questions: threeQuestions()}
	deps := Deps{Gateway: newFakeGateway(), Grader: &recordingGrader{}, Clock: clockwork.NewFakeClock()}

	tests := []struct {
		name   string
		mutate func(p *Params, d *Deps)
	}{
		{"no questions", func(p *Params, _ *Deps) { p.Questions = nil }},
		{"zero time limit", func(p *Params, _ *Deps) { p.TimeLimitSeconds = 0 }},
		{"negative time limit", func(p *Params, _ *Deps) { p.TimeLimitSeconds = -1 }},
		{"missing test id", func(p *Params, _ *Deps) { p.TestID = uuid.Nil }},
		{"duplicate question ids", func(p *Params, _ *Deps) {
			qs := threeQuestions()
			qs[2].ID = "q1"
			p.Questions = qs
		}},
		{"single option", func(p *Params, _ *Deps) {
			qs := threeQuestions()
			qs[0].Options = qs[0].Options[:1]
			p.Questions = qs
		}},
		{"missing gateway", func(_ *Params, d *Deps) { d.Gateway = nil }},
		{"missing grader", func(_ *Params, d *Deps) { d.Grader = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := valid, deps
			tt.mutate(&p, &d)
			s, err := NewSession(p, d)
			assert.ErrorIs(t, err, ErrInvalidParams)
			assert.Nil(t, s)
		})
	}

	s, err := NewSession(valid, deps)
	require.NoError(t, err)
	defer s.Close()
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, PhaseSetup, s.State().Phase)
}

func TestSession_SetupIgnoresMutations(t *testing.T) {
	h := newHarness(t, 60)
	s := h.session

	require.NoError(t, s.SetAnswer("q1", "a"))
	require.NoError(t, s.JumpTo(2))
	s.Next()
	s.ManualSubmit()

	st := s.State()
	assert.Equal(t, PhaseSetup, st.Phase)
	assert.Zero(t, st.Progress.Answered)
	assert.Zero(t, st.CurrentIndex)
	assert.Empty(t, h.grader.Submissions())
	assert.Empty(t, h.notifier.Ticks())
}

func TestSession_BeginActivates(t *testing.T) {
	h := newHarness(t, 3600)
	h.begin(t)

	st := h.session.State()
	assert.Equal(t, PhaseActive, st.Phase)
	assert.True(t, st.Engaged)
	assert.Equal(t, 3600, st.RemainingSeconds)
	assert.Equal(t, UrgencyNormal, st.Urgency)
	assert.Equal(t, []TickUpdate{{Remaining: 3600, Urgency: UrgencyNormal}}, h.notifier.Ticks())

	// A second Begin on an active session changes nothing.
	require.NoError(t, h.session.Begin(context.Background()))
	assert.Len(t, h.notifier.Ticks(), 1)
}

func TestSession_BeginDeniedCanRetry(t *testing.T) {
	h := newHarness(t, 60)
	h.gateway.mu.Lock()
	h.gateway.denyErr = errDenied
	h.gateway.mu.Unlock()

	err := h.session.Begin(context.Background())
	assert.ErrorIs(t, err, ErrPresentationModeDenied)
	assert.ErrorIs(t, err, errDenied)

	st := h.session.State()
	assert.Equal(t, PhaseSetup, st.Phase)
	assert.False(t, st.Pending)
	assert.Equal(t, 60, st.RemainingSeconds)

	h.gateway.mu.Lock()
	h.gateway.denyErr = nil
	h.gateway.mu.Unlock()

	h.begin(t)
	assert.Equal(t, PhaseActive, h.session.State().Phase)
}

func TestSession_BeginWhilePending(t *testing.T) {
	h := newHarness(t, 60)
	gate := make(chan struct{})
	h.gateway.mu.Lock()
	h.gateway.engageGate = gate
	h.gateway.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- h.session.Begin(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.session.State().Pending
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.session.Begin(context.Background()), ErrBeginPending)

	close(gate)
	require.NoError(t, <-errc)
	assert.Equal(t, PhaseActive, h.session.State().Phase)
}

func TestSession_CloseWhileBeginPending(t *testing.T) {
	h := newHarness(t, 60)
	gate := make(chan struct{})
	h.gateway.mu.Lock()
	h.gateway.engageGate = gate
	h.gateway.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- h.session.Begin(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.session.State().Pending
	}, 2*time.Second, 5*time.Millisecond)

	h.session.Close()
	close(gate)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Begin did not return after the late confirmation")
	}

	// The confirmation arrived after the session was abandoned, so it is
	// handed straight back.
	assert.Equal(t, 1, h.gateway.Releases())
	assert.Zero(t, h.gateway.Subscribers())
	assert.Empty(t, h.grader.Submissions())

	st := h.session.State()
	assert.Equal(t, PhaseSetup, st.Phase)
	assert.True(t, st.Closed)
	assert.Nil(t, st.Completion)
}

func TestSession_TimeoutCompletes(t *testing.T) {
	h := newHarness(t, 5)
	h.begin(t)
	require.NoError(t, h.session.SetAnswer("q2", "b"))

	for want := 4; want >= 0; want-- {
		h.advance(t, want)
	}
	waitDone(t, h.session)

	assert.Equal(t, []TickUpdate{
		{Remaining: 5, Urgency: UrgencyCritical},
		{Remaining: 4, Urgency: UrgencyCritical},
		{Remaining: 3, Urgency: UrgencyCritical},
		{Remaining: 2, Urgency: UrgencyCritical},
		{Remaining: 1, Urgency: UrgencyCritical},
		{Remaining: 0, Urgency: UrgencyCritical},
	}, h.notifier.Ticks())

	completions := h.notifier.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, model.ReasonTimeout, completions[0].Reason)
	assert.Equal(t, Snapshot{"q2": "b"}, completions[0].Answers)

	subs := h.grader.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, model.ReasonTimeout, subs[0].Reason)
	assert.Zero(t, subs[0].RemainingSeconds)

	// Nothing arrives after completion.
	h.clock.Advance(3 * time.Second)
	h.session.ManualSubmit()
	assert.Len(t, h.grader.Submissions(), 1)
	assert.Len(t, h.notifier.Ticks(), 6)

	require.Eventually(t, func() bool { return h.gateway.Releases() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_ViolationsWarnThenForce(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	require.NoError(t, h.session.SetAnswer("q1", "c"))

	h.gateway.Exit()
	st := h.session.State()
	assert.Equal(t, 1, st.ViolationCount)
	assert.False(t, st.Engaged)
	assert.Equal(t, PhaseActive, st.Phase)

	// Repeated exit signals without re-entry are one departure.
	h.gateway.Exit()
	assert.Equal(t, 1, h.session.State().ViolationCount)

	require.NoError(t, h.session.Reengage(context.Background()))
	assert.True(t, h.session.State().Engaged)

	h.visibility.Set(false)
	h.visibility.Set(false)
	assert.Equal(t, 2, h.session.State().ViolationCount)
	h.visibility.Set(true)

	assert.Equal(t, []Warning{
		{Ordinal: 1, Max: ViolationThreshold, Kind: ViolationPresentationExit},
		{Ordinal: 2, Max: ViolationThreshold, Kind: ViolationVisibilityHidden},
	}, h.notifier.Warnings())

	h.gateway.Exit()
	waitDone(t, h.session)

	completion, ok := h.session.Completion()
	require.True(t, ok)
	assert.Equal(t, model.ReasonPolicyForced, completion.Reason)
	assert.Equal(t, 3, completion.ViolationCount)
	assert.Equal(t, Snapshot{"q1": "c"}, completion.Answers)

	assert.Len(t, h.notifier.Warnings(), 2)
	assert.Equal(t, []recordedViolation{
		{kind: ViolationPresentationExit, count: 1},
		{kind: ViolationVisibilityHidden, count: 2},
		{kind: ViolationPresentationExit, count: 3, forced: true},
	}, h.recorder.Items())

	subs := h.grader.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, 3, subs[0].ViolationCount)

	// Monitoring has stopped: no subscriptions remain and later signals are ignored.
	assert.Zero(t, h.gateway.Subscribers())
	h.visibility.Set(false)
	assert.Equal(t, 3, h.session.State().ViolationCount)
}

func TestSession_ReengageNoopWhenEngaged(t *testing.T) {
	h := newHarness(t, 600)

	require.NoError(t, h.session.Reengage(context.Background()))
	h.begin(t)
	require.NoError(t, h.session.Reengage(context.Background()))

	h.gateway.mu.Lock()
	engages := h.gateway.engages
	h.gateway.mu.Unlock()
	assert.Equal(t, 1, engages)
}

func TestSession_ReengageDenied(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	h.gateway.Exit()

	h.gateway.mu.Lock()
	h.gateway.denyErr = errDenied
	h.gateway.mu.Unlock()

	err := h.session.Reengage(context.Background())
	assert.ErrorIs(t, err, ErrPresentationModeDenied)

	st := h.session.State()
	assert.False(t, st.Engaged)
	assert.Equal(t, 1, st.ViolationCount)
	assert.Equal(t, PhaseActive, st.Phase)
}

func TestSession_ManualSubmit(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	s := h.session

	require.NoError(t, s.SetAnswer("q1", "a"))
	require.NoError(t, s.SetAnswer("q3", "c"))
	assert.Equal(t, Progress{Answered: 2, Total: 3}, s.State().Progress)

	s.ManualSubmit()
	waitDone(t, s)

	st := s.State()
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, model.ReasonManualSubmit, st.Reason)
	require.NotNil(t, st.Completion)
	assert.Equal(t, Snapshot{"q1": "a", "q3": "c"}, st.Completion.Answers)

	subs := h.grader.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, map[string]string{"q1": "a", "q3": "c"}, subs[0].Answers)
	assert.Equal(t, s.ID(), subs[0].SessionID)
	assert.Equal(t, 7, subs[0].LearnerID)

	// The snapshot is frozen.
	require.NoError(t, s.SetAnswer("q2", "b"))
	assert.Equal(t, Snapshot{"q1": "a", "q3": "c"}, s.Snapshot())

	require.Eventually(t, func() bool { return h.gateway.Releases() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_SubmitExactlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	grader := &mockGrader{}
	grader.On("Submit", mock.Anything, mock.MatchedBy(func(sub model.Submission) bool {
		return sub.Reason == model.ReasonManualSubmit
	})).Return(nil).Once()

	s, err := NewSession(Params{
		TestID:           uuid.New(),
		TimeLimitSeconds: 1,
		Questions:        threeQuestions(),
	}, Deps{Gateway: newFakeGateway(), Grader: grader, Clock: clock})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Begin(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ManualSubmit()
		}()
	}
	wg.Wait()
	waitDone(t, s)

	// Expiry racing behind the submission is ignored.
	clock.Advance(2 * time.Second)
	assert.Equal(t, model.ReasonManualSubmit, s.State().Reason)
	grader.AssertExpectations(t)
}

func TestSession_Navigation(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	s := h.session

	s.Previous()
	assert.Equal(t, 0, s.State().CurrentIndex)

	s.Next()
	s.Next()
	s.Next()
	assert.Equal(t, 2, s.State().CurrentIndex)

	assert.ErrorIs(t, s.JumpTo(3), ErrOutOfRange)
	assert.Equal(t, 2, s.State().CurrentIndex)

	require.NoError(t, s.JumpTo(0))
	assert.Equal(t, 0, s.State().CurrentIndex)

	assert.ErrorIs(t, s.SetAnswer("q1", "nope"), ErrInvalidReference)
	assert.ErrorIs(t, s.SetAnswer("q4", "a"), ErrInvalidReference)
	assert.Zero(t, s.State().Progress.Answered)
}

func TestSession_StateReportsCurrentSelection(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	s := h.session

	st := s.State()
	assert.Equal(t, "q1", st.CurrentQuestionID)
	assert.Empty(t, st.Selected)
	assert.Zero(t, st.ProgressPercent)

	require.NoError(t, s.SetAnswer("q1", "b"))
	st = s.State()
	assert.Equal(t, "b", st.Selected)
	assert.InDelta(t, 100.0/3, st.ProgressPercent, 0.01)

	s.Next()
	st = s.State()
	assert.Equal(t, "q2", st.CurrentQuestionID)
	assert.Empty(t, st.Selected)
	assert.InDelta(t, 100.0/3, st.ProgressPercent, 0.01)
}

func TestSession_CloseAbandonsWithoutGrading(t *testing.T) {
	h := newHarness(t, 600)
	h.begin(t)
	require.NoError(t, h.session.SetAnswer("q1", "a"))

	h.session.Close()
	h.session.Close()

	assert.Empty(t, h.grader.Submissions())
	assert.Empty(t, h.notifier.Completions())
	assert.Equal(t, 1, h.gateway.Releases())
	assert.Zero(t, h.gateway.Subscribers())

	select {
	case <-h.session.Done():
		t.Fatal("abandoned session must not report completion")
	default:
	}

	st := h.session.State()
	assert.True(t, st.Closed)
	assert.Nil(t, st.Completion)
	assert.Equal(t, Snapshot{"q1": "a"}, h.session.Snapshot())

	ticks := len(h.notifier.Ticks())
	h.clock.Advance(5 * time.Second)
	assert.Len(t, h.notifier.Ticks(), ticks)

	assert.ErrorIs(t, h.session.Begin(context.Background()), ErrSessionClosed)
	h.session.ManualSubmit()
	assert.Empty(t, h.grader.Submissions())
}

func TestSession_CloseBeforeBegin(t *testing.T) {
	h := newHarness(t, 600)
	h.session.Close()

	assert.Zero(t, h.gateway.Releases())
	assert.ErrorIs(t, h.session.Begin(context.Background()), ErrSessionClosed)
}
