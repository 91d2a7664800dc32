package bili

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bliveTTS/internal/domain"
)

type fakeSession struct {
	closed  atomic.Bool
	handler domain.EventHandler
}

func (s *fakeSession) Connect(ctx context.Context) error {
	<-ctx.Done()
	s.closed.Store(true)
	return ctx.Err()
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) Closed() bool { return s.closed.Load() }

// deliver pushes an event through the handler the supervisor registered,
// simulating the bridge firing a callback.
func (s *fakeSession) deliver(event domain.LiveEvent) {
	s.handler(context.Background(), event)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	// failures is consumed before dials start succeeding.
	failures int
	// When holdNext is set, the next dial parks on hold after signalling
	// holdEntered, letting tests interleave with an in-flight dial.
	holdNext    bool
	hold        chan struct{}
	holdEntered chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, _ int64, handler domain.EventHandler) (domain.RoomSession, error) {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	wait := d.holdNext
	d.holdNext = false
	d.mu.Unlock()
	if wait {
		d.holdEntered <- struct{}{}
		<-d.hold
	}
	session := &fakeSession{handler: handler}
	d.mu.Lock()
	d.sessions = append(d.sessions, session)
	d.mu.Unlock()
	return session, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.LiveEvent
}

func (r *eventRecorder) handle(_ context.Context, event domain.LiveEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestSupervisor(dialer domain.SessionDialer, handler domain.EventHandler, onTeardown func()) *Supervisor {
	return NewSupervisor(SupervisorConfig{
		Dialer:           dialer,
		Handler:          handler,
		OnTeardown:       onTeardown,
		LivenessInterval: 10 * time.Millisecond,
	})
}

func TestStartSurfacesDialError(t *testing.T) {
	dialer := &fakeDialer{failures: 1}
	s := newTestSupervisor(dialer, nil, nil)

	err := s.Start(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestStartIsIdempotentForSameRoom(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &eventRecorder{}
	s := newTestSupervisor(dialer, rec.handle, nil)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))
	require.NoError(t, s.Start(context.Background(), 42))
	assert.Equal(t, 1, dialer.dialCount())

	dialer.session(0).deliver(domain.DanmakuEvent{Username: "A", Text: "hi"})
	assert.Equal(t, 1, rec.count(), "no duplicate delivery path may exist")
}

func TestEventsReachHandler(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &eventRecorder{}
	s := newTestSupervisor(dialer, rec.handle, nil)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))
	dialer.session(0).deliver(domain.GiftEvent{Username: "A", GiftName: "Rocket", Num: 1})
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, StateConnected, s.State())
}

func TestLivenessLoopReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &eventRecorder{}
	var teardowns atomic.Int32
	s := newTestSupervisor(dialer, rec.handle, func() { teardowns.Add(1) })
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))
	first := dialer.session(0)
	first.closed.Store(true)

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && s.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, teardowns.Load(), int32(1),
		"pending aggregation state must be cleared on reconnect")

	// The replacement session delivers; the dead one is fenced out.
	dialer.session(1).deliver(domain.DanmakuEvent{Username: "B", Text: "back"})
	first.deliver(domain.DanmakuEvent{Username: "A", Text: "stale"})
	assert.Equal(t, 1, rec.count())
}

func TestReconnectKeepsRetrying(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSupervisor(dialer, nil, nil)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))

	// Next three dials fail; the loop must keep trying without giving up.
	dialer.mu.Lock()
	dialer.failures = 3
	dialer.mu.Unlock()
	dialer.session(0).closed.Store(true)

	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2 && s.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
}

func TestReloadFencesOldSession(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &eventRecorder{}
	s := newTestSupervisor(dialer, rec.handle, nil)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))
	old := dialer.session(0)

	require.NoError(t, s.Reload(context.Background(), 99))
	require.Equal(t, 2, dialer.dialCount())

	// A residual callback from the old room must be ignored.
	old.deliver(domain.DanmakuEvent{Username: "A", Text: "from old room"})
	assert.Equal(t, 0, rec.count())

	dialer.session(1).deliver(domain.DanmakuEvent{Username: "B", Text: "from new room"})
	assert.Equal(t, 1, rec.count())
}

func TestStartDuringRedialKeepsFreshSession(t *testing.T) {
	dialer := &fakeDialer{hold: make(chan struct{}), holdEntered: make(chan struct{}, 1)}
	rec := &eventRecorder{}
	s := newTestSupervisor(dialer, rec.handle, nil)
	defer s.Stop()

	require.NoError(t, s.Start(context.Background(), 42))

	// Drop the session and park the liveness redial mid-dial.
	dialer.mu.Lock()
	dialer.holdNext = true
	dialer.mu.Unlock()
	dialer.session(0).closed.Store(true)
	<-dialer.holdEntered

	// A restart while the redial is in flight must win.
	require.NoError(t, s.Start(context.Background(), 42))
	require.Equal(t, StateConnected, s.State())
	fresh := dialer.session(1)

	close(dialer.hold)

	// The redial's late session is discarded, not adopted.
	require.Eventually(t, func() bool {
		return dialer.dialCount() == 3 && dialer.session(2).Closed()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, s.State())
	assert.False(t, fresh.Closed(), "restart's session must survive the losing redial")

	fresh.deliver(domain.DanmakuEvent{Username: "A", Text: "live"})
	dialer.session(2).deliver(domain.DanmakuEvent{Username: "B", Text: "stale"})
	assert.Equal(t, 1, rec.count())
}

func TestStopIsSafeFromAnyState(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSupervisor(dialer, nil, nil)

	s.Stop() // never started

	require.NoError(t, s.Start(context.Background(), 42))
	s.Stop()
	s.Stop() // double stop
	assert.Equal(t, StateDisconnected, s.State())

	// Restart after stop works.
	require.NoError(t, s.Start(context.Background(), 42))
	s.Stop()
}

func TestStopFencesResidualCallbacks(t *testing.T) {
	dialer := &fakeDialer{}
	rec := &eventRecorder{}
	s := newTestSupervisor(dialer, rec.handle, nil)

	require.NoError(t, s.Start(context.Background(), 42))
	session := dialer.session(0)
	s.Stop()

	session.deliver(domain.DanmakuEvent{Username: "A", Text: "late"})
	assert.Equal(t, 0, rec.count())
}
