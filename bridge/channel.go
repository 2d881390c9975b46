// Package bridge owns the single logical agent connection and the
// outstanding-command correlation table. Arbitrarily many HTTP callers
// dispatch through one channel; replies are matched purely by request
// id. A mutex-guarded state struct is the synchronization point.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// Transport is the write side of an agent connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

type connWaiter struct {
	ch   chan error
	done bool
}

// Channel manages the authoritative agent connection, its heartbeat,
// the connection-wait queue, and the pending command table.
type Channel struct {
	cfg schema.ServiceConfig
	log pslog.Logger

	// writeMu serializes frame writes; gorilla connections allow only
	// one concurrent writer. Held independently of mu.
	writeMu sync.Mutex

	mu                   sync.Mutex
	conn                 Transport
	gen                  uint64
	connectedAt          time.Time
	lastPingAt           time.Time
	lastDisconnectReason string
	reconnectAttempts    int
	agentVersion         string
	waiters              []*connWaiter
	pending              map[schema.RequestID]*pendingCommand
	events               *history
	disconnects          *history
	closed               bool
}

// NewChannel constructs a Channel.
func NewChannel(cfg schema.ServiceConfig, logger pslog.Logger) *Channel {
	cfg = schema.NormalizeServiceConfig(cfg)
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Channel{
		cfg:         cfg,
		log:         logger.With("component", "bridge"),
		pending:     make(map[schema.RequestID]*pendingCommand),
		events:      newHistory(cfg.HistoryMax),
		disconnects: newHistory(cfg.HistoryMax),
	}
}

// Connected reports whether an agent connection is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Status summarizes the connection for the status command.
func (c *Channel) Status() schema.StatusResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := schema.StatusResult{
		Connected:            c.conn != nil,
		ReconnectAttempts:    c.reconnectAttempts,
		LastDisconnectReason: c.lastDisconnectReason,
	}
	if !c.connectedAt.IsZero() {
		t := c.connectedAt
		status.ConnectedAt = &t
	}
	if !c.lastPingAt.IsZero() {
		t := c.lastPingAt
		status.LastPingAt = &t
	}
	return status
}

// Events returns recent diagnostic events, newest last.
func (c *Channel) Events(limit int) []schema.DiagnosticEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.Recent(limit)
}

// Disconnects returns recent disconnect records, newest last.
func (c *Channel) Disconnects(limit int) []schema.DiagnosticEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects.Recent(limit)
}

// AwaitConnection blocks until a connection becomes authoritative or
// the timeout elapses. Resolves immediately if already connected.
// Waiters are resolved in arrival order exactly once.
func (c *Channel) AwaitConnection(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return schema.ErrDisconnected("daemon shutting down")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	waiter := &connWaiter{ch: make(chan error, 1)}
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-waiter.ch:
		return err
	case <-timer.C:
		if c.takeWaiter(waiter) {
			return schema.ErrTimeout(schema.PhaseWaitForExtension, int(timeout/time.Millisecond))
		}
		return <-waiter.ch
	case <-ctx.Done():
		if c.takeWaiter(waiter) {
			return schema.NewError(schema.KindInternal, "request cancelled while waiting for extension")
		}
		return <-waiter.ch
	}
}

// takeWaiter removes the waiter if it has not been resolved yet and
// reports whether the caller now owns its outcome.
func (c *Channel) takeWaiter(w *connWaiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.done {
		return false
	}
	w.done = true
	for i, candidate := range c.waiters {
		if candidate == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	return true
}

// attach makes conn the authoritative connection, force-closing any
// previous one, and resolves queued waiters FIFO. It returns the
// connection generation used to correlate the eventual close.
func (c *Channel) attach(conn Transport) uint64 {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return 0
	}
	prev := c.conn
	c.gen++
	gen := c.gen
	c.conn = conn
	c.connectedAt = time.Now()
	c.lastPingAt = time.Time{}
	c.reconnectAttempts = 0
	resolved := c.takeWaitersLocked()
	var orphaned []*pendingCommand
	if prev != nil {
		c.lastDisconnectReason = reasonReplaced
		orphaned = c.takePendingLocked()
		c.events.Append("disconnect", reasonReplaced, nil)
	}
	c.events.Append("connect", "agent connected", nil)
	c.mu.Unlock()

	if prev != nil {
		c.log.Info("agent connection replaced", "orphaned_pending", len(orphaned))
		failPending(orphaned, schema.ErrDisconnected(reasonReplaced))
		_ = prev.Close()
	} else {
		c.log.Info("agent connected")
	}
	for _, w := range resolved {
		w.ch <- nil
	}
	return gen
}

// takeWaitersLocked claims every unresolved waiter, marking them done
// while the lock is still held so a racing timeout cannot also claim
// them. Caller holds c.mu and delivers on each waiter's channel.
func (c *Channel) takeWaitersLocked() []*connWaiter {
	resolved := c.waiters[:0]
	for _, w := range c.waiters {
		if w.done {
			continue
		}
		w.done = true
		resolved = append(resolved, w)
	}
	c.waiters = nil
	return resolved
}

const reasonReplaced = "replaced by new connection"

// handleClose clears the connection if gen still identifies the
// authoritative one, then bulk-rejects every pending command. This is
// a hard cutover: no partial results are delivered after close.
func (c *Channel) handleClose(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		// A replaced connection closing late; the cutover already happened.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.lastDisconnectReason = reason
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	pending := c.takePendingLocked()
	c.disconnects.Append("disconnect", reason, nil)
	c.events.Append("disconnect", reason, nil)
	c.mu.Unlock()

	c.log.Warn("agent disconnected", "reason", reason, "pending", len(pending), "attempts", attempts)
	failPending(pending, schema.ErrDisconnected("extension disconnected: "+reason))
}

// send transmits a payload on the current connection.
func (c *Channel) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return schema.ErrDisconnected("")
	}
	if err := c.writeJSON(conn, v); err != nil {
		return schema.ErrDisconnected("extension send failed: " + err.Error())
	}
	return nil
}

func (c *Channel) writeJSON(conn Transport, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// ServeConn runs the read loop for a freshly upgraded websocket
// connection until it closes. The caller owns the upgrade and the
// token check.
func (c *Channel) ServeConn(ctx context.Context, conn *websocket.Conn) {
	gen := c.attach(conn)
	if gen == 0 {
		return
	}
	stopHeartbeat := make(chan struct{})
	go c.heartbeat(gen, stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, closeReason(err))
			return
		}
		c.handleMessage(gen, raw)
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("close %d: %s", closeErr.Code, closeErr.Text)
	}
	return err.Error()
}

// heartbeat pushes a liveness probe down the channel while gen is
// authoritative. A failed send is logged, not fatal; the transport's
// own close event declares disconnect.
func (c *Channel) heartbeat(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.gen || c.conn == nil
			conn := c.conn
			c.mu.Unlock()
			if stale {
				return
			}
			if err := c.writeJSON(conn, schema.NewPing(time.Now().UnixMilli())); err != nil {
				c.log.Warn("heartbeat send failed", "err", err)
			}
		}
	}
}

// handleMessage parses and routes one raw agent frame.
func (c *Channel) handleMessage(gen uint64, raw []byte) {
	var header schema.WireHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		c.log.Warn("agent frame parse failed", "err", err)
		return
	}
	switch header.Type {
	case schema.MessageHello:
		var hello schema.HelloMessage
		if err := json.Unmarshal(raw, &hello); err != nil {
			c.log.Warn("agent hello parse failed", "err", err)
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.agentVersion = hello.Version
		}
		c.events.Append("hello", fmt.Sprintf("version=%s retry_count=%d", hello.Version, hello.RetryCount), nil)
		c.mu.Unlock()
		c.log.Info("agent hello", "version", hello.Version, "retry_count", hello.RetryCount)
	case schema.MessagePong:
		c.mu.Lock()
		if gen == c.gen {
			c.lastPingAt = time.Now()
		}
		c.mu.Unlock()
		c.log.Trace("agent pong")
	case schema.MessageEvent:
		var event schema.EventMessage
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.Warn("agent event parse failed", "err", err)
			return
		}
		c.mu.Lock()
		c.events.Append("event", event.Name, event.Payload)
		c.mu.Unlock()
		c.log.Debug("agent event", "name", event.Name)
	case schema.MessageResult:
		var result schema.ResultMessage
		if err := json.Unmarshal(raw, &result); err != nil {
			c.log.Warn("agent result parse failed", "err", err)
			return
		}
		c.deliverResult(result)
	default:
		c.log.Warn("agent frame unknown type", "type", header.Type)
	}
}

// Shutdown is the global cancellation: every pending command and
// connection waiter is rejected before the listener closes.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	waiters := c.takeWaitersLocked()
	pending := c.takePendingLocked()
	c.mu.Unlock()

	rejection := schema.ErrDisconnected("daemon shutting down")
	for _, w := range waiters {
		w.ch <- rejection
	}
	failPending(pending, rejection)
	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info("bridge shut down", "rejected_pending", len(pending), "rejected_waiters", len(waiters))
}
