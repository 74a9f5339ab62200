package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock is the subset of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

type fakeGateway struct {
	mu         sync.Mutex
	engaged    bool
	denyErr    error
	engages    int
	releases   int
	handlers   map[int]func()
	nextID     int
	engageGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{handlers: make(map[int]func())}
}

func (g *fakeGateway) Engage(ctx context.Context) error {
	g.mu.Lock()
	gate := g.engageGate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.engages++
	if g.denyErr != nil {
		return g.denyErr
	}
	g.engaged = true
	return nil
}

func (g *fakeGateway) Release(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
	g.engaged = false
	return nil
}

func (g *fakeGateway) IsEngaged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engaged
}

func (g *fakeGateway) OnDisengage(fn func()) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.handlers[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.handlers, id)
	}
}

// Exit simulates the learner leaving presentation mode.
func (g *fakeGateway) Exit() {
	g.mu.Lock()
	g.engaged = false
	fns := make([]func(), 0, len(g.handlers))
	for _, fn := range g.handlers {
		fns = append(fns, fn)
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (g *fakeGateway) Releases() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releases
}

func (g *fakeGateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handlers)
}

type fakeVisibility struct {
	mu       sync.Mutex
	handlers map[int]func(bool)
	nextID   int
}

func newFakeVisibility() *fakeVisibility {
	return &fakeVisibility{handlers: make(map[int]func(bool))}
}

func (v *fakeVisibility) Subscribe(fn func(bool)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.handlers[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.handlers, id)
	}
}

func (v *fakeVisibility) Set(visible bool) {
	v.mu.Lock()
	fns := make([]func(bool), 0, len(v.handlers))
	for _, fn := range v.handlers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(visible)
	}
}

type mockGrader struct {
	mock.Mock
}

func (m *mockGrader) Submit(ctx context.Context, sub model.Submission) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

type recordingGrader struct {
	mu   sync.Mutex
	subs []model.Submission
}

func (g *recordingGrader) Submit(_ context.Context, sub model.Submission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, sub)
	return nil
}

func (g *recordingGrader) Submissions() []model.Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Submission, len(g.subs))
	copy(out, g.subs)
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (n *recordingNotifier) Notify(item Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *recordingNotifier) Warnings() []Warning {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Warning
	for _, it := range n.items {
		if w, ok := it.(Warning); ok {
			out = append(out, w)
		}
	}
	return out
}

func (n *recordingNotifier) Ticks() []TickUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []TickUpdate
	for _, it := range n.items {
		if t, ok := it.(TickUpdate); ok {
			out = append(out, t)
		}
	}
	return out
}

func (n *recordingNotifier) Completions() []Completed {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Completed
	for _, it := range n.items {
		if c, ok := it.(Completed); ok {
			out = append(out, c)
		}
	}
	return out
}

type recordedViolation struct {
	kind   ViolationKind
	count  int
	forced bool
}

type recordingRecorder struct {
	mu    sync.Mutex
	items []recordedViolation
}

func (r *recordingRecorder) RecordViolation(kind ViolationKind, count int, forced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, recordedViolation{kind: kind, count: count, forced: forced})
}

func (r *recordingRecorder) Items() []recordedViolation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedViolation, len(r.items))
	copy(out, r.items)
	return out
}

func threeQuestions() []model.Question {
	opts := []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}}
	return []model.Question{
		{ID: "q1", Prompt: "First?", Options: opts},
		{ID: "q2", Prompt: "Second?", Options: opts},
		{ID: "q3", Prompt: "Third?", Options: opts},
	}
}

type harness struct {
	session    *Session
	clock      fakeClock
	gateway    *fakeGateway
	visibility *fakeVisibility
	grader     *recordingGrader
	notifier   *recordingNotifier
	recorder   *recordingRecorder
}

func newHarness(t *testing.T, timeLimit int) *harness {
	t.Helper()
	h := &harness{
		clock:      clockwork.NewFakeClock(),
		gateway:    newFakeGateway(),
		visibility: newFakeVisibility(),
		grader:     &recordingGrader{},
		notifier:   &recordingNotifier{},
		recorder:   &recordingRecorder{},
	}
	s, err := NewSession(Params{
		TestID:           uuid.New(),
		LearnerID:        7,
		TimeLimitSeconds: timeLimit,
		Questions:        threeQuestions(),
	}, Deps{
		Gateway:    h.gateway,
		Visibility: h.visibility,
		Grader:     h.grader,
		Notifier:   h.notifier,
		Recorder:   h.recorder,
		Clock:      h.clock,
	})
	require.NoError(t, err)
	h.session = s
	t.Cleanup(s.Close)
	return h
}

// begin activates the session and waits until the countdown ticker exists.
func (h *harness) begin(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Begin(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
}

// advance moves the clock one second and waits for the session to observe it.
func (h *harness) advance(t *testing.T, want int) {
	t.Helper()
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		st := h.session.State()
		return st.RemainingSeconds == want || st.Phase == PhaseCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not complete")
	}
}

var errDenied = errors.New("user gesture required")
