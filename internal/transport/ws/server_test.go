package ws

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"cartsim.ai/internal/persistence/snapshot"
	"cartsim.ai/internal/sim/cells"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validateJSON(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate %s: %v", b, err)
	}
}

// The wire structs must stay in lockstep with the published schemas.
func TestSchemas_ValidateWireMessages(t *testing.T) {
	validateJSON(t, compileSchema(t, "hello.schema.json"),
		HelloMsg{Type: TypeHello, ProtocolVersion: Version})

	validateJSON(t, compileSchema(t, "welcome.schema.json"),
		WelcomeMsg{Type: TypeWelcome, ProtocolVersion: Version, RunID: "run-1", Series: "default", Seed: 1337})

	validateJSON(t, compileSchema(t, "metrics.schema.json"), MetricsMsg{
		Type: TypeMetrics,
		Metrics: cells.Metrics{
			Tick:    720,
			Cells:   12,
			Targets: 57,
			ByType:  map[string]int{"neutral": 60, "apoptotic": 9},
			ByPop:   []int{57, 9, 3},
			Lysed:   4,
			Pending: 80,
		},
	})

	validateJSON(t, compileSchema(t, "checkpoint_header.schema.json"),
		snapshot.Header{Version: 1, RunID: "run-1", Series: "default", Tick: 1440})
}

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServer_HandshakeAndBroadcast(t *testing.T) {
	s := NewServer("run-1", "default", 1337, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	hello, _ := json.Marshal(HelloMsg{Type: TypeHello, ProtocolVersion: Version})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var welcome WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != TypeWelcome || welcome.RunID != "run-1" || welcome.Seed != 1337 {
		t.Fatalf("welcome = %+v", welcome)
	}

	// The observer registers just after the welcome goes out.
	for i := 0; i < 100; i++ {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Broadcast(cells.Metrics{Tick: 720, Cells: 3, ByType: map[string]int{"neutral": 3}, ByPop: []int{0, 3}})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m MetricsMsg
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if m.Type != TypeMetrics || m.Tick != 720 || m.Cells != 3 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestServer_RejectsWrongProtocolVersion(t *testing.T) {
	s := NewServer("run-1", "default", 1337, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialTest(t, srv)
	defer conn.Close()

	hello, _ := json.Marshal(HelloMsg{Type: TypeHello, ProtocolVersion: Version + 1})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("server accepted an unknown protocol version")
	}

	s.mu.Lock()
	n := len(s.conns)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("rejected observer stayed registered")
	}
}
