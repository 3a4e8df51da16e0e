package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"canb0t/internal/canbus"
)

// Server streams every logged frame to WebSocket clients for live
// observation. It is a read-only window on the capture; slow clients are
// skipped rather than allowed to stall the acquisition path.
type Server struct {
	addr string

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Record is the JSON structure sent to all WebSocket clients.
type Record struct {
	Timestamp uint64 `json:"timestampMs"`
	ID        string `json:"id"`
	DLC       uint8  `json:"dlc"`
	Data      string `json:"data"`
	Stamp     int64  `json:"stamp"` // Unix ms at broadcast
}

func New(addr string) *Server {
	return &Server{
		addr:    addr,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves the /ws endpoint until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[monitor] listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Printf("[monitor] client connected (%d total)", total)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive / disconnect detection)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[monitor] client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Observe implements logger.Observer.
func (s *Server) Observe(f canbus.Frame) {
	rec := Record{
		Timestamp: f.Timestamp,
		ID:        fmt.Sprintf("%X", f.ID),
		DLC:       f.DLC,
		Data:      hexData(f),
		Stamp:     time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func hexData(f canbus.Frame) string {
	var b strings.Builder
	for i, v := range f.Payload() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}
