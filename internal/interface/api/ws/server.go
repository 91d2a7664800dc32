// Package ws exposes the pipeline to frontends: a WebSocket stream of bus
// events plus a small HTTP control API.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/logging"
)

// Envelope wraps every pushed payload with its topic so one socket carries
// all event kinds.
type Envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type Config struct {
	Addr    string
	Bus     *events.Bus
	Control Controller
	History HistoryReader
}

type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	httpSrv *http.Server

	// last seen status per topic, replayed to newly connected clients.
	statusMu   sync.RWMutex
	lastStatus map[string]any
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: logging.ComponentLogger("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*wsClient]struct{}),
		lastStatus: make(map[string]any),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	registerAPI(mux, s.cfg.Control, s.cfg.History, s.Snapshot)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			setCORSHeaders(w)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: handler,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.startPump(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the routes without a listener, for tests.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	registerAPI(mux, s.cfg.Control, s.cfg.History, s.Snapshot)
	s.startPump(ctx)
	return mux
}

// startPump forwards the bus topics to connected clients.
func (s *Server) startPump(ctx context.Context) {
	if s.cfg.Bus == nil {
		return
	}

	topics := []string{
		events.TopicNotification,
		events.TopicConnectionStatus,
		events.TopicPlaybackStatus,
		events.TopicAppError,
	}
	for _, topic := range topics {
		ch, unsubscribe := s.cfg.Bus.Subscribe(topic)
		go func(topic string, ch <-chan any) {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.rememberStatus(topic, payload)
					s.broadcast(Envelope{Topic: topic, Data: payload})
				}
			}
		}(topic, ch)
	}
}

func (s *Server) rememberStatus(topic string, payload any) {
	if topic != events.TopicConnectionStatus && topic != events.TopicPlaybackStatus {
		return
	}
	s.statusMu.Lock()
	s.lastStatus[topic] = payload
	s.statusMu.Unlock()
}

// Snapshot returns the last known connection and playback status.
func (s *Server) Snapshot() map[string]any {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	snapshot := make(map[string]any, len(s.lastStatus))
	for topic, payload := range s.lastStatus {
		snapshot[topic] = payload
	}
	return snapshot
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("upgrade")
		return
	}

	client := &wsClient{conn: conn}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.logger.Info().Str("remote", r.RemoteAddr).Int("clients", clientCount).Msg("client connected")

	// Replay the last known status so the frontend starts consistent.
	for topic, payload := range s.Snapshot() {
		if err := client.writeJSON(Envelope{Topic: topic, Data: payload}); err != nil {
			break
		}
	}

	go s.drainClient(ctx, client)
}

// drainClient keeps the read side alive so control frames are processed; the
// stream is push only and inbound text is discarded.
func (s *Server) drainClient(ctx context.Context, client *wsClient) {
	defer func() {
		client.conn.Close()

		s.mu.Lock()
		delete(s.clients, client)
		clientCount := len(s.clients)
		s.mu.Unlock()

		s.logger.Info().Int("clients", clientCount).Msg("client disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("read")
			}
			return
		}
	}
}

func (s *Server) broadcast(envelope Envelope) {
	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(envelope); err != nil {
			s.logger.Warn().Err(err).Msg("removing client after write error")
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			c.conn.Close()
		}
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
