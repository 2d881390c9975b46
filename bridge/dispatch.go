package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pkt.systems/browsercx/internal/logx"
	"pkt.systems/browsercx/schema"
)

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCommand is one row of the correlation table. Ownership of the
// outcome transfers exactly once: whoever removes the row from the
// table delivers on ch.
type pendingCommand struct {
	id      schema.RequestID
	command string
	ch      chan outcome
}

// Dispatch sends one command to the agent and blocks until the
// correlated reply arrives, the timeout fires, or the connection drops.
// Result delivery is exactly-once per request id; late replies are
// dropped by deliverResult.
func (c *Channel) Dispatch(ctx context.Context, command string, payload json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	if !c.Connected() {
		if queueMode == schema.QueueFail {
			return nil, schema.ErrDisconnected("")
		}
		if err := c.AwaitConnection(ctx, timeout); err != nil {
			return nil, err
		}
	}

	id := schema.RequestID(uuid.NewString())
	entry := &pendingCommand{id: id, command: command, ch: make(chan outcome, 1)}
	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()

	log := logx.WithRequest(logx.WithCommand(c.log, command), id)
	if err := c.send(schema.NewCommand(id, command, payload)); err != nil {
		c.takePending(id)
		log.Warn("command transmit failed", "err", err)
		return nil, err
	}
	log.Debug("command dispatched", "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-entry.ch:
		if out.err != nil {
			log.Warn("command failed", "err", out.err)
			return nil, out.err
		}
		log.Debug("command resolved")
		return out.result, nil
	case <-timer.C:
		if c.takePending(id) != nil {
			log.Warn("command timed out")
			return nil, schema.ErrTimeout(schema.PhaseExtensionResponse, int(timeout/time.Millisecond))
		}
		// The reply raced the timer and already owns the outcome.
		out := <-entry.ch
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-ctx.Done():
		if c.takePending(id) != nil {
			log.Debug("command cancelled by caller")
			return nil, schema.NewError(schema.KindInternal, "request cancelled")
		}
		out := <-entry.ch
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	}
}

// takePending removes and returns the table row for id, or nil if it
// was already claimed.
func (c *Channel) takePending(id schema.RequestID) *pendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return entry
}

// takePendingLocked drains the whole table. Caller holds c.mu.
func (c *Channel) takePendingLocked() []*pendingCommand {
	if len(c.pending) == 0 {
		return nil
	}
	entries := make([]*pendingCommand, 0, len(c.pending))
	for _, entry := range c.pending {
		entries = append(entries, entry)
	}
	c.pending = make(map[schema.RequestID]*pendingCommand)
	return entries
}

func failPending(entries []*pendingCommand, err *schema.StructuredError) {
	for _, entry := range entries {
		entry.ch <- outcome{err: err}
	}
}

// deliverResult resolves the matching pending command. A reply for an
// unknown request id is logged and dropped, never raised to a caller.
func (c *Channel) deliverResult(msg schema.ResultMessage) {
	entry := c.takePending(msg.RequestID)
	if entry == nil {
		c.log.Debug("dropping reply for unknown request", "request_id", msg.RequestID)
		return
	}
	if msg.OK {
		entry.ch <- outcome{result: msg.Result}
		return
	}
	var code, message string
	var details map[string]any
	if msg.Error != nil {
		code = msg.Error.Code
		message = msg.Error.Message
		details = msg.Error.Details
	}
	entry.ch <- outcome{err: schema.ErrExtension(code, message, details)}
}

// PendingCount reports outstanding commands, for diagnostics.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
