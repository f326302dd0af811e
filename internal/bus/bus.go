// Package bus provides the in-process event fan-out used to carry NEVERHANG
// transitions, task lifecycle events, and A.L.A.N. manopt harvest events from
// the executor/neverhang/alan components to any subscriber, including the
// optional dashboard. SubjectAlanInsight is defined, but no component
// publishes on it. It embeds a loopback-only NATS server and client,
// adapting internal/nats/server.go's EmbeddedServer and
// internal/nats/client.go's reconnecting Client, and falls back to a no-op
// bus (matching the teacher's tolerance for NATS being optional
// infrastructure) if the embedded server cannot start.
package bus

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	nc "github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Event is one message delivered to a subscriber.
type Event struct {
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Subject constants used by the rest of the service.
const (
	SubjectNeverhangTransition = "neverhang.transition"
	SubjectTaskStarted         = "task.started"
	SubjectTaskCompleted       = "task.completed"
	SubjectTaskTimeout         = "task.timeout"
	SubjectTaskKilled          = "task.killed"
	SubjectTaskError           = "task.error"
	SubjectAlanInsight         = "alan.insight"
	SubjectAlanManopt          = "alan.manopt"
)

// Bus publishes JSON payloads on subjects and fans them out to subscribers.
type Bus struct {
	server  *natsserver.Server
	conn    *nc.Conn
	running bool
	dropped uint64
}

// Config mirrors the teacher's EmbeddedServerConfig shape, restricted to
// the loopback/no-JetStream case this service needs.
type Config struct {
	Port int // 0 = ephemeral
}

// Start embeds a loopback NATS server and connects a client to it. If
// either step fails, Start logs a warning and returns a Bus that behaves as
// a no-op (Publish/Subscribe never error, they just do nothing).
func Start(cfg Config) *Bus {
	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		log.Printf("[BUS] embedded NATS server failed to initialize, falling back to no-op bus: %v", err)
		return &Bus{}
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		log.Printf("[BUS] embedded NATS server not ready within timeout, falling back to no-op bus")
		ns.Shutdown()
		return &Bus{}
	}

	conn, err := nc.Connect(ns.ClientURL(),
		nc.ReconnectWait(time.Second),
		nc.MaxReconnects(-1),
		nc.ClosedHandler(func(*nc.Conn) {
			log.Println("[BUS] connection closed")
		}),
	)
	if err != nil {
		log.Printf("[BUS] client connect failed, falling back to no-op bus: %v", err)
		ns.Shutdown()
		return &Bus{}
	}

	log.Printf("[BUS] embedded NATS listening on %s", ns.ClientURL())
	return &Bus{server: ns, conn: conn, running: true}
}

// IsRunning reports whether the embedded server/client pair is live.
func (b *Bus) IsRunning() bool {
	return b != nil && b.running
}

// Shutdown closes the client connection and the embedded server.
func (b *Bus) Shutdown() {
	if b == nil || !b.running {
		return
	}
	b.conn.Close()
	b.server.Shutdown()
	b.server.WaitForShutdown()
	b.running = false
}

// Publish marshals v to JSON and publishes it on subject. A no-op (and
// never an error) when the bus did not start — publishing is part of the
// observability path, never load-bearing for a tool call.
func (b *Bus) Publish(subject string, v any) {
	if !b.IsRunning() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[BUS] marshal error for subject %s: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		atomic.AddUint64(&b.dropped, 1)
		log.Printf("[BUS] publish error for subject %s: %v", subject, err)
	}
}

// Subscribe returns a buffered channel of Events on subject, and an
// unsubscribe function. When the bus is not running, returns a closed
// channel and a no-op unsubscribe.
func (b *Bus) Subscribe(subject string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	if !b.IsRunning() {
		close(ch)
		return ch, func() {}
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nc.Msg) {
		select {
		case ch <- Event{Subject: msg.Subject, Payload: json.RawMessage(msg.Data), CreatedAt: time.Now()}:
		default:
			atomic.AddUint64(&b.dropped, 1)
			log.Printf("[BUS] dropped event on subject %s, subscriber channel full", subject)
		}
	})
	if err != nil {
		log.Printf("[BUS] subscribe error for subject %s: %v", subject, err)
		close(ch)
		return ch, func() {}
	}

	return ch, func() {
		sub.Unsubscribe()
		close(ch)
	}
}

// DroppedCount returns the number of events dropped due to a full
// subscriber channel or a publish error.
func (b *Bus) DroppedCount() uint64 {
	if b == nil {
		return 0
	}
	return atomic.LoadUint64(&b.dropped)
}

// URL returns the embedded server's client URL, or an empty string when the
// bus is not running.
func (b *Bus) URL() string {
	if !b.IsRunning() {
		return ""
	}
	return b.server.ClientURL()
}
