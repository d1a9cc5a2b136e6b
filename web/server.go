// Package web serves live keyframe results over a websocket and a JSON
// snapshot endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vio-engine-go/monitoring"
)

const socketBufferSize = 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  socketBufferSize,
	WriteBufferSize: socketBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Server struct {
	Hub *Hub
	// State returns the snapshot served at /api/state.
	State func() interface{}

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(state func() interface{}) *Server {
	return &Server{Hub: NewHub(), State: state}
}

// Handler routes /ws, /api/state, /config.yaml when configPath is set, and
// static files from distDir when set.
func (s *Server) Handler(distDir, configPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		var state interface{}
		if s.State != nil {
			state = s.State()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			monitoring.Logf("web: encoding state: %v", err)
		}
	})

	if configPath != "" {
		mux.HandleFunc("/config.yaml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, configPath)
		})
	}

	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// Start runs the hub and serves HTTP on addr until Shutdown. It returns nil
// after a clean shutdown.
func (s *Server) Start(ctx context.Context, addr, distDir, configPath string) error {
	go s.Hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(distDir, configPath),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	monitoring.Logf("HTTP server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func serveWs(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("web: upgrade: %v", err)
		return
	}
	c := &client{id: uuid.New(), hub: h, conn: conn, send: make(chan []byte, messageBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.write()
	c.read()
}
