package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/CLIAIMONITOR/internal/bus"
	"github.com/CLIAIMONITOR/internal/executor"
	"github.com/CLIAIMONITOR/internal/neverhang"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// the dashboard is localhost-only observability, not a cross-origin API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the dashboard's HTTP+WebSocket frontend.
type Server struct {
	router   *mux.Router
	hub      *Hub
	executor *executor.Executor
	breaker  *neverhang.Breaker
	bus      *bus.Bus

	unsubs []func()
}

// New builds a dashboard Server wired to the given executor, breaker, and
// bus. Call Run to start its background goroutines, and ListenAndServe (via
// http.Server) with Router() to serve it.
func New(e *executor.Executor, breaker *neverhang.Breaker, b *bus.Bus) *Server {
	s := &Server{
		hub:      NewHub(),
		executor: e,
		breaker:  breaker,
		bus:      b,
	}
	s.setupRoutes()
	return s
}

// Router returns the http.Handler to serve.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the hub loop and the Bus-to-WebSocket relay. Call once, before
// serving HTTP traffic.
func (s *Server) Run() {
	go s.hub.Run()
	s.relaySubject(bus.SubjectTaskStarted)
	s.relaySubject(bus.SubjectTaskCompleted)
	s.relaySubject(bus.SubjectTaskTimeout)
	s.relaySubject(bus.SubjectTaskKilled)
	s.relaySubject(bus.SubjectTaskError)
	s.relaySubject(bus.SubjectNeverhangTransition)
	s.relaySubject(bus.SubjectAlanInsight)
	s.relaySubject(bus.SubjectAlanManopt)
}

// Shutdown unsubscribes from the Bus. It does not close already-connected
// WebSocket clients; those drain naturally when their connection drops.
func (s *Server) Shutdown() {
	for _, unsub := range s.unsubs {
		unsub()
	}
}

func (s *Server) relaySubject(subject string) {
	events, unsub := s.bus.Subscribe(subject)
	s.unsubs = append(s.unsubs, unsub)
	go func() {
		for ev := range events {
			s.hub.BroadcastJSON(ev)
		}
	}()
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	s.router.HandleFunc("/api/tasks", s.handleTasks).Methods("GET")
	s.router.HandleFunc("/api/neverhang", s.handleNeverhang).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"tasks": s.executor.ListTasks()})
}

func (s *Server) handleNeverhang(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.breaker.GetStatus())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, clientSendBuffer)}
	s.hub.register <- client

	initial, _ := json.Marshal(map[string]any{
		"type":      "snapshot",
		"tasks":     s.executor.ListTasks(),
		"neverhang": s.breaker.GetStatus(),
	})
	client.send <- initial

	go client.writePump()
	client.readPump()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>zshtool dashboard</title></head>
<body>
<h1>zshtool</h1>
<p>Live task, circuit state, and A.L.A.N. manopt events over <code>/ws</code>.</p>
<p>REST: <a href="/api/tasks">/api/tasks</a>, <a href="/api/neverhang">/api/neverhang</a></p>
</body>
</html>
`
