// Package bili maintains the connection to a live room: a websocket session
// against the danmaku bridge, and a supervisor that keeps exactly one session
// alive across drops.
package bili

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
)

const (
	defaultHeartbeat = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	readLimit        = 1 << 20
)

// DialerConfig points at the danmaku bridge, which handles the binary room
// protocol and hands us one JSON frame per event.
type DialerConfig struct {
	// Endpoint is the bridge websocket URL, e.g. ws://127.0.0.1:7190/sub.
	Endpoint string
	// Heartbeat is the ping cadence; zero means the 30 s default.
	Heartbeat time.Duration
}

type WSDialer struct {
	cfg    DialerConfig
	logger zerolog.Logger
}

func NewWSDialer(cfg DialerConfig) *WSDialer {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &WSDialer{
		cfg:    cfg,
		logger: logging.ComponentLogger("bili-dialer"),
	}
}

// Dial opens the websocket and subscribes to the room. Connection and
// subscription errors surface here, synchronously; everything after the
// handshake is the session's problem.
func (d *WSDialer) Dial(ctx context.Context, roomID int64, handler domain.EventHandler) (domain.RoomSession, error) {
	endpoint, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bili: bad endpoint %q: %w", d.cfg.Endpoint, err)
	}
	query := endpoint.Query()
	query.Set("room_id", strconv.FormatInt(roomID, 10))
	endpoint.RawQuery = query.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bili: dial room %d: %w", roomID, err)
	}
	conn.SetReadLimit(readLimit)

	d.logger.Info().Int64("room_id", roomID).Msg("room session opened")
	return &wsSession{
		conn:      conn,
		roomID:    roomID,
		handler:   handler,
		heartbeat: d.cfg.Heartbeat,
		logger:    d.logger.With().Int64("room_id", roomID).Logger(),
	}, nil
}

type wsSession struct {
	conn      *websocket.Conn
	roomID    int64
	handler   domain.EventHandler
	heartbeat time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Connect pumps frames until the stream ends or ctx is cancelled. The
// returned error reflects why the pump stopped; the supervisor ignores it and
// relies on Closed.
func (s *wsSession) Connect(ctx context.Context) error {
	defer s.markClosed()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx)

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bili: read: %w", err)
		}
		event, err := parseFrame(payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("unparseable frame skipped")
			continue
		}
		if event == nil || s.handler == nil {
			continue
		}
		s.handler(ctx, event)
	}
}

func (s *wsSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.heartbeat / 2)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}

func (s *wsSession) Close() error {
	s.markClosed()
	return s.conn.Close()
}

func (s *wsSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSession) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
