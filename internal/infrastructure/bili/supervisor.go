package bili

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
	"bliveTTS/internal/metrics"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type SupervisorConfig struct {
	Dialer  domain.SessionDialer
	Handler domain.EventHandler
	// OnTeardown runs whenever a session is discarded (stop, reload,
	// reconnect), before any replacement session delivers events. The
	// aggregator clears its pending groups here.
	OnTeardown func()
	Bus        *events.Bus
	// LivenessInterval is the closed-session poll cadence; zero means one
	// second.
	LivenessInterval time.Duration
}

// Supervisor owns the single logical room session. Initial connect failures
// surface to the caller; once connected, drops are repaired silently by the
// liveness loop until Stop.
type Supervisor struct {
	cfg    SupervisorConfig
	logger zerolog.Logger

	// generation fences event delivery: a session only forwards events while
	// it is still the current one.
	generation atomic.Uint64

	mu          sync.Mutex
	state       State
	roomID      int64
	session     domain.RoomSession
	sessionStop context.CancelFunc
	sessionDone chan struct{}

	livenessStop context.CancelFunc
	livenessDone chan struct{}
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logging.ComponentLogger("supervisor"),
		state:  StateDisconnected,
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects to the room and launches the liveness loop. Calling it
// again for the same room while connected is a no-op; a different room is
// treated as a reload.
func (s *Supervisor) Start(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		if s.roomID == roomID {
			s.mu.Unlock()
			return nil
		}
		s.teardownLocked()
	}
	s.state = StateConnecting
	s.roomID = roomID
	s.mu.Unlock()
	s.publishStatus(StateConnecting, roomID, nil)

	handle, err := s.dialSession(ctx, roomID)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.publishStatus(StateDisconnected, roomID, err)
		return err
	}

	s.mu.Lock()
	if s.generation.Load() != handle.gen {
		// A Stop during the dial superseded this session.
		s.mu.Unlock()
		handle.discard()
		return nil
	}
	s.adoptLocked(handle)
	s.state = StateConnected
	if s.livenessStop == nil {
		liveCtx, cancel := context.WithCancel(ctx)
		s.livenessStop = cancel
		s.livenessDone = make(chan struct{})
		go s.livenessLoop(liveCtx, s.livenessDone)
	}
	s.mu.Unlock()
	s.publishStatus(StateConnected, roomID, nil)
	s.logger.Info().Int64("room_id", roomID).Msg("connected")
	return nil
}

// Stop cancels the liveness loop and the session, atomically with respect to
// concurrent Start calls. Safe from any state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	liveCancel := s.livenessStop
	liveDone := s.livenessDone
	s.livenessStop = nil
	s.livenessDone = nil
	s.teardownLocked()
	roomID := s.roomID
	s.state = StateDisconnected
	s.mu.Unlock()

	if liveCancel != nil {
		liveCancel()
		<-liveDone
	}
	s.publishStatus(StateDisconnected, roomID, nil)
	s.logger.Info().Int64("room_id", roomID).Msg("stopped")
}

// Reload swaps to a new room. The generation bump in teardown guarantees the
// old session's callbacks cannot deliver once the new session is live.
func (s *Supervisor) Reload(ctx context.Context, newRoomID int64) error {
	s.Stop()
	return s.Start(ctx, newRoomID)
}

// sessionHandle is a dialed session not yet adopted as the current one.
type sessionHandle struct {
	gen     uint64
	session domain.RoomSession
	cancel  context.CancelFunc
	done    chan struct{}
}

func (h *sessionHandle) discard() {
	h.cancel()
	_ = h.session.Close()
}

// dialSession dials and spawns the session pump without touching supervisor
// state. The caller adopts the handle under s.mu, or discards it when its
// generation has been superseded during the dial.
func (s *Supervisor) dialSession(ctx context.Context, roomID int64) (*sessionHandle, error) {
	gen := s.generation.Add(1)
	handler := s.fencedHandler(gen)

	session, err := s.cfg.Dialer.Dial(ctx, roomID, handler)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := session.Connect(sessCtx); err != nil && sessCtx.Err() == nil {
			// Mid-stream drops are not surfaced; the liveness loop notices
			// the closed session and redials.
			s.logger.Warn().Err(err).Int64("room_id", roomID).Msg("session ended")
		}
	}()
	return &sessionHandle{gen: gen, session: session, cancel: cancel, done: done}, nil
}

// adoptLocked installs a dialed session as the current one. Must hold s.mu
// and have verified the handle's generation is still current.
func (s *Supervisor) adoptLocked(h *sessionHandle) {
	s.session = h.session
	s.sessionStop = h.cancel
	s.sessionDone = h.done
}

// fencedHandler drops events from sessions that have been superseded, so a
// reload can never leak the previous room's events into the pipeline.
func (s *Supervisor) fencedHandler(gen uint64) domain.EventHandler {
	return func(ctx context.Context, event domain.LiveEvent) {
		if s.generation.Load() != gen {
			return
		}
		if s.cfg.Handler != nil {
			s.cfg.Handler(ctx, event)
		}
	}
}

// teardownLocked invalidates the current session. Must hold s.mu.
func (s *Supervisor) teardownLocked() {
	// Fence first: residual callbacks become no-ops immediately.
	s.generation.Add(1)
	if s.sessionStop != nil {
		s.sessionStop()
		s.sessionStop = nil
	}
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
	s.sessionDone = nil
	if s.cfg.OnTeardown != nil {
		s.cfg.OnTeardown()
	}
}

// livenessLoop polls the session's terminal status and redials the same room
// on closure. It retries indefinitely; persistent outages just keep failing
// once per tick. Only Stop cancels it.
func (s *Supervisor) livenessLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkLiveness(ctx)
		}
	}
}

func (s *Supervisor) checkLiveness(ctx context.Context) {
	s.mu.Lock()
	needsRedial := false
	switch s.state {
	case StateConnected:
		if s.session == nil || s.session.Closed() {
			s.logger.Warn().Int64("room_id", s.roomID).Msg("session closed, reconnecting")
			s.teardownLocked()
			s.state = StateReconnecting
			needsRedial = true
		}
	case StateReconnecting:
		needsRedial = true
	}
	roomID := s.roomID
	s.mu.Unlock()

	if !needsRedial {
		return
	}
	s.publishStatus(StateReconnecting, roomID, nil)

	handle, err := s.dialSession(ctx, roomID)
	if err != nil {
		// Stay in Reconnecting; the next tick tries again.
		s.logger.Warn().Err(err).Int64("room_id", roomID).Msg("redial failed")
		return
	}

	s.mu.Lock()
	if s.state != StateReconnecting || s.generation.Load() != handle.gen {
		// A Stop or Start won the race while we were dialing. Discard only
		// our own session; whatever the winner installed stays untouched.
		s.mu.Unlock()
		handle.discard()
		return
	}
	s.adoptLocked(handle)
	s.state = StateConnected
	s.mu.Unlock()
	metrics.Reconnects.Inc()
	s.publishStatus(StateConnected, roomID, nil)
	s.logger.Info().Int64("room_id", roomID).Msg("reconnected")
}

func (s *Supervisor) publishStatus(state State, roomID int64, err error) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(events.TopicConnectionStatus,
		events.NewConnectionStatusDTO(string(state), roomID, err))
}
