// Package ws streams live run metrics to observers over websockets. The
// stream is one-way: a client sends a single HELLO, gets a WELCOME with the
// run identity, then receives a METRICS message per profiling interval.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cartsim.ai/internal/sim/cells"
)

const Version = 1

const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeMetrics = "METRICS"
)

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Series          string `json:"series"`
	Seed            int64  `json:"seed"`
}

type MetricsMsg struct {
	Type string `json:"type"`
	cells.Metrics
}

type Server struct {
	runID  string
	series string
	seed   int64
	log    *log.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*client]bool
}

type client struct {
	out chan []byte
}

func NewServer(runID, series string, seed int64, logger *log.Logger) *Server {
	return &Server{
		runID:  runID,
		series: series,
		seed:   seed,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[*client]bool{},
	}
}

// Broadcast fans a metrics summary out to every connected observer. Slow
// observers drop messages rather than stalling the run loop.
func (s *Server) Broadcast(m cells.Metrics) {
	b, err := json.Marshal(MetricsMsg{Type: TypeMetrics, Metrics: m})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.out <- b:
		default:
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if !s.handshake(conn) {
			return
		}

		c := &client{out: make(chan []byte, 16)}
		s.mu.Lock()
		s.conns[c] = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop exists only to notice the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				close(done)
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return false
	}

	var hello HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return false
	}
	if hello.ProtocolVersion != Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return false
	}

	welcome := WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: Version,
		RunID:           s.runID,
		Series:          s.series,
		Seed:            s.seed,
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if s.log != nil {
			s.log.Printf("ws: welcome write failed: %v", err)
		}
		return false
	}
	return true
}
