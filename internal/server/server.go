package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"moro/internal/config"
	"moro/internal/types"
)

//go:embed web
var webFS embed.FS

// State gives a newly connected viewer the picture it would otherwise wait for.
type State interface {
	CachedFrame() string
	CameraInfo() types.Info
}

type client struct {
	id      string
	writeMu sync.Mutex
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*client
	mu       sync.Mutex
	cfg      config.StreamConfig
	state    State
	statusFn func() map[string]any
	log      *slog.Logger

	messages  chan types.Event
	broadcast atomic.Uint64
	dropped   atomic.Uint64
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.StreamConfig, state State, statusFn func() map[string]any, logger *slog.Logger) *Server {
	queue := cfg.BroadcastQueue
	if queue < 1 {
		queue = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]*client),
		cfg:      cfg,
		state:    state,
		statusFn: statusFn,
		log:      logger.With("component", "server"),
		messages: make(chan types.Event, queue),
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	return mux, nil
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	go s.Broadcast(ctx)

	s.log.Info("listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Publish queues an event for every client. When the queue is full the
// event is dropped; viewers only care about the newest frame anyway.
func (s *Server) Publish(ev types.Event) error {
	select {
	case s.messages <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{id: uuid.NewString()}
	s.log.Info("new client connected", "client", c.id, "remote", r.RemoteAddr)
	s.sendState(conn, c)

	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, c, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request.Type == types.EventSync {
				s.sendState(conn, c)
			}
		}
	}()
}

// sendState pushes the cached frame and camera info, in that order.
func (s *Server) sendState(conn *websocket.Conn, c *client) {
	if s.state == nil {
		return
	}
	if frame := s.state.CachedFrame(); frame != "" {
		s.log.Debug("sending cached frame", "client", c.id)
		if err := s.writeJSON(conn, c, types.FrameEvent(frame)); err != nil {
			s.log.Error("error handling client connection", "client", c.id, "error", err)
			return
		}
	}
	if info := s.state.CameraInfo(); info != nil {
		s.log.Debug("sending camera info", "client", c.id)
		if err := s.writeJSON(conn, c, types.InfoEvent(info)); err != nil {
			s.log.Error("error handling client connection", "client", c.id, "error", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"device":           s.cfg.Device,
		"width":            s.cfg.Width,
		"height":           s.cfg.Height,
		"fps":              s.cfg.FPS,
		"quality":          s.cfg.Quality,
		"port":             s.cfg.Port,
		"grayscale":        s.cfg.Grayscale,
		"motion_detection": s.cfg.Motion,
	}
	if s.cfg.HasResize() {
		payload["stream_resolution"] = []int{s.cfg.ResizeWidth, s.cfg.ResizeHeight}
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	payload["ws_clients"] = s.clientCount()
	payload["events_broadcast_total"] = s.broadcast.Load()
	payload["events_dropped_total"] = s.dropped.Load()
	_ = json.NewEncoder(w).Encode(payload)
}

// Broadcast writes queued events to all clients until ctx ends.
func (s *Server) Broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.messages:
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("encode event", "event", ev.Type, "error", err)
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, c := range s.clients {
				if err := s.writeMessage(conn, c, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			s.broadcast.Add(1)
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	c, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		s.log.Info("client disconnected", "client", c.id)
	}
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.removeClient(conn)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, c *client, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, c *client, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
