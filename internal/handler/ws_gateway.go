package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// maxOutbox bounds the frames queued for a client that stopped reading.
const maxOutbox = 256

var (
	errConnClosed     = errors.New("connection closed")
	errEngageRefused  = errors.New("client refused presentation mode")
	errOutboxOverflow = errors.New("outbox overflow")
)

// ─── Outbound writer ────────────────────────────────────────────────

// connWriter owns every write to one connection. Frames leave in the order
// they were queued, except that a newer tick drops any queued tick not yet
// written and takes its place at the back.
type connWriter struct {
	write func(v interface{}) error
	log   zerolog.Logger

	mu     sync.Mutex
	items  []interface{}
	tickAt int
	err    error

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newConnWriter(write func(v interface{}) error, log zerolog.Logger) *connWriter {
	return &connWriter{
		write:  write,
		log:    log,
		tickAt: -1,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Send queues v. It never blocks.
func (w *connWriter) Send(v interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if len(w.items) >= maxOutbox {
		w.fail(errOutboxOverflow)
		return
	}
	w.items = append(w.items, v)
	w.signal()
}

// SendTick queues t behind everything already queued. An unwritten tick is
// dropped, so the client never sees a tick older than a frame before it.
func (w *connWriter) SendTick(t ws.TickResponse) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if w.tickAt >= 0 {
		w.items = append(w.items[:w.tickAt], w.items[w.tickAt+1:]...)
	}
	w.tickAt = len(w.items)
	w.items = append(w.items, t)
	w.signal()
}

// Closed is closed when the writer stops, after Close or a write failure.
func (w *connWriter) Closed() <-chan struct{} {
	return w.closed
}

// Close stops the writer once queued frames are flushed.
func (w *connWriter) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
	<-w.done
}

// Run writes queued frames until Close or the first write error.
func (w *connWriter) Run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
		case <-w.closed:
			w.flush()
			return
		}
		if !w.flush() {
			w.closeOnce.Do(func() { close(w.closed) })
			return
		}
	}
}

func (w *connWriter) flush() bool {
	w.mu.Lock()
	batch := w.items
	w.items = nil
	w.tickAt = -1
	failed := w.err != nil
	w.mu.Unlock()
	if failed {
		return false
	}

	for _, v := range batch {
		if err := w.write(v); err != nil {
			w.mu.Lock()
			w.fail(err)
			w.mu.Unlock()
			w.log.Debug().Err(err).Msg("WebSocket write failed")
			return false
		}
	}
	return true
}

// fail must be called with mu held.
func (w *connWriter) fail(err error) {
	if w.err == nil {
		w.err = err
		w.items = nil
		w.tickAt = -1
	}
	w.signal()
}

func (w *connWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// notify renders session notifications as WebSocket events.
func (w *connWriter) notify(n proctor.Notification) {
	switch v := n.(type) {
	case proctor.TickUpdate:
		w.SendTick(ws.TickResponse{
			Event:     ws.EventTick,
			Remaining: v.Remaining,
			Display:   proctor.FormatRemaining(v.Remaining),
			Urgency:   string(v.Urgency),
		})
	case proctor.Warning:
		w.Send(ws.WarningResponse{
			Event:   ws.EventWarning,
			Ordinal: v.Ordinal,
			Max:     v.Max,
			Kind:    string(v.Kind),
		})
	case proctor.Completed:
		w.Send(ws.CompletedResponse{
			Event:          ws.EventCompleted,
			Reason:         string(v.Reason),
			Answers:        v.Answers,
			ViolationCount: v.ViolationCount,
		})
	}
}

// ─── Presentation gateway ───────────────────────────────────────────

// wsGateway drives the browser's full-screen mode over the socket. Engage
// sends engage_request and waits for the matching engage_result.
type wsGateway struct {
	out *connWriter

	mu       sync.Mutex
	engaged  bool
	pending  map[string]chan error
	handlers map[int]func()
	nextID   int
}

func newWSGateway(out *connWriter) *wsGateway {
	return &wsGateway{
		out:      out,
		pending:  make(map[string]chan error),
		handlers: make(map[int]func()),
	}
}

func (g *wsGateway) Engage(ctx context.Context) error {
	id := uuid.NewString()
	reply := make(chan error, 1)

	g.mu.Lock()
	g.pending[id] = reply
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
	}()

	g.out.Send(ws.EngageRequest{Event: ws.EventEngageRequest, RequestID: id})

	select {
	case err := <-reply:
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.engaged = true
		g.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.out.Closed():
		return errConnClosed
	}
}

func (g *wsGateway) Release(context.Context) error {
	g.mu.Lock()
	g.engaged = false
	g.mu.Unlock()
	g.out.Send(ws.ReleaseRequest{Event: ws.EventReleaseRequest})
	return nil
}

func (g *wsGateway) IsEngaged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engaged
}

func (g *wsGateway) OnDisengage(fn func()) func() {
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

// resolve completes the Engage call waiting on requestID. It reports false
// for an unknown or already answered request. A late success that nothing
// is waiting for would leave the browser in full-screen mode, so it is
// answered with release_request unless the gateway is engaged or another
// request is outstanding.
func (g *wsGateway) resolve(requestID string, ok bool, reason string) bool {
	g.mu.Lock()
	reply, found := g.pending[requestID]
	delete(g.pending, requestID)
	orphaned := !found && ok && !g.engaged && len(g.pending) == 0
	g.mu.Unlock()
	if orphaned {
		g.out.Send(ws.ReleaseRequest{Event: ws.EventReleaseRequest})
	}
	if !found {
		return false
	}
	if ok {
		reply <- nil
	} else {
		reply <- fmt.Errorf("%w: %s", errEngageRefused, reason)
	}
	return true
}

// exited records that the browser left full-screen mode. Handlers run
// outside the lock.
func (g *wsGateway) exited() {
	g.mu.Lock()
	if !g.engaged {
		g.mu.Unlock()
		return
	}
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

// ─── Visibility ─────────────────────────────────────────────────────

type wsVisibility struct {
	mu       sync.Mutex
	visible  bool
	handlers map[int]func(bool)
	nextID   int
}

func newWSVisibility() *wsVisibility {
	return &wsVisibility{visible: true, handlers: make(map[int]func(bool))}
}

func (v *wsVisibility) Subscribe(fn func(bool)) func() {
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

// set forwards transitions only; repeated reports of the same state are dropped.
func (v *wsVisibility) set(visible bool) {
	v.mu.Lock()
	if v.visible == visible {
		v.mu.Unlock()
		return
	}
	v.visible = visible
	fns := make([]func(bool), 0, len(v.handlers))
	for _, fn := range v.handlers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(visible)
	}
}
