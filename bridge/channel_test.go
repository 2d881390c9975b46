package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/browsercx/schema"
)

type fakeTransport struct {
	mu       sync.Mutex
	commands []schema.CommandMessage
	writes   int
	closed   bool
	writeErr error
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	if cmd, ok := v.(schema.CommandMessage); ok {
		f.commands = append(f.commands, cmd)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) lastCommand(t *testing.T) schema.CommandMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.commands) > 0 {
			cmd := f.commands[len(f.commands)-1]
			f.mu.Unlock()
			return cmd
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no command written")
	return schema.CommandMessage{}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestChannel() *Channel {
	return NewChannel(schema.ServiceConfig{}, nil)
}

func resultFrame(t *testing.T, id schema.RequestID, ok bool, result any, remote *schema.RemoteError) []byte {
	t.Helper()
	msg := schema.ResultMessage{Type: schema.MessageResult, RequestID: id, OK: ok, Error: remote}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal result: %v", err)
		}
		msg.Result = data
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func kindOf(t *testing.T, err error) schema.ErrorKind {
	t.Helper()
	var structured *schema.StructuredError
	if !errors.As(err, &structured) {
		t.Fatalf("expected StructuredError, got %T: %v", err, err)
	}
	return structured.Code
}

func TestDispatchQueueFailWhenDisconnected(t *testing.T) {
	c := newTestChannel()
	start := time.Now()
	_, err := c.Dispatch(context.Background(), "snapshot", nil, time.Second, schema.QueueFail)
	if kindOf(t, err) != schema.KindDisconnected {
		t.Fatalf("expected DISCONNECTED, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("queue_mode=fail must reject immediately, took %v", elapsed)
	}
	var structured *schema.StructuredError
	errors.As(err, &structured)
	if structured.Recovery == nil || !structured.Recovery.ReconnectRequired {
		t.Fatalf("DISCONNECTED must set recovery.reconnect_required")
	}
}

func TestDispatchQueueHoldResolvesOnConnect(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}

	type dispatchResult struct {
		result json.RawMessage
		err    error
	}
	done := make(chan dispatchResult, 1)
	go func() {
		result, err := c.Dispatch(context.Background(), "snapshot", nil, 2*time.Second, schema.QueueHold)
		done <- dispatchResult{result, err}
	}()

	time.Sleep(20 * time.Millisecond)
	gen := c.attach(ft)

	cmd := ft.lastCommand(t)
	if cmd.Command != "snapshot" {
		t.Fatalf("expected snapshot command, got %q", cmd.Command)
	}
	c.handleMessage(gen, resultFrame(t, cmd.RequestID, true, map[string]any{"elements": []any{}}, nil))

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("dispatch failed: %v", out.err)
		}
		if len(out.result) == 0 {
			t.Fatalf("expected result payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch did not resolve")
	}
}

func TestDispatchQueueHoldTimesOut(t *testing.T) {
	c := newTestChannel()
	_, err := c.Dispatch(context.Background(), "snapshot", nil, 50*time.Millisecond, schema.QueueHold)
	if kindOf(t, err) != schema.KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	var structured *schema.StructuredError
	errors.As(err, &structured)
	if structured.Details["phase"] != string(schema.PhaseWaitForExtension) {
		t.Fatalf("expected wait_for_extension phase, got %v", structured.Details["phase"])
	}
}

func TestDispatchTimeoutRemovesPendingAndDropsLateReply(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}
	gen := c.attach(ft)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), "click", nil, 50*time.Millisecond, schema.QueueFail)
		errCh <- err
	}()
	cmd := ft.lastCommand(t)

	err := <-errCh
	if kindOf(t, err) != schema.KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	var structured *schema.StructuredError
	errors.As(err, &structured)
	if structured.Details["phase"] != string(schema.PhaseExtensionResponse) {
		t.Fatalf("expected extension_response phase, got %v", structured.Details["phase"])
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entry not removed after timeout")
	}

	// A late reply must be silently dropped.
	c.handleMessage(gen, resultFrame(t, cmd.RequestID, true, map[string]any{}, nil))
	if c.PendingCount() != 0 {
		t.Fatalf("late reply must not recreate pending state")
	}
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}
	gen := c.attach(ft)

	const callers = 5
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := c.Dispatch(context.Background(), "navigate", nil, 5*time.Second, schema.QueueFail)
			errCh <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.PendingCount() < callers {
		if time.Now().After(deadline) {
			t.Fatalf("pending table never filled: %d", c.PendingCount())
		}
		time.Sleep(time.Millisecond)
	}

	c.handleClose(gen, "read error")

	for i := 0; i < callers; i++ {
		select {
		case err := <-errCh:
			if kindOf(t, err) != schema.KindDisconnected {
				t.Fatalf("expected DISCONNECTED, got %v", err)
			}
			var structured *schema.StructuredError
			errors.As(err, &structured)
			if structured.Recovery == nil || !structured.Recovery.ReconnectRequired {
				t.Fatalf("expected recovery.reconnect_required")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("caller %d left pending after disconnect", i)
		}
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending table not drained")
	}
}

// Gorilla connections tolerate exactly one concurrent writer, so every
// frame write must go through the shared write lock. A fast heartbeat
// plus many dispatchers on a real connection panics if any write path
// skips it.
func TestConcurrentDispatchAndHeartbeatWritesSerialized(t *testing.T) {
	c := NewChannel(schema.ServiceConfig{HeartbeatInterval: 2 * time.Millisecond}, nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.ServeConn(r.Context(), conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("agent connection never attached")
		}
		time.Sleep(time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				// Timeouts are expected; only write safety is under test.
				_, _ = c.Dispatch(context.Background(), "tabs", nil, 10*time.Millisecond, schema.QueueFail)
			}
		}()
	}
	wg.Wait()
}

func TestWaiterTimeoutRacesConnect(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := newTestChannel()
		errCh := make(chan error, 1)
		go func() { errCh <- c.AwaitConnection(context.Background(), time.Millisecond) }()
		time.Sleep(time.Millisecond)
		c.attach(&fakeTransport{})
		if err := <-errCh; err != nil && kindOf(t, err) != schema.KindTimeout {
			t.Fatalf("waiter must either connect or time out, got %v", err)
		}
	}
}

func TestReplacementRejectsPendingOnOldConnection(t *testing.T) {
	c := newTestChannel()
	c.attach(&fakeTransport{})

	const callers = 3
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := c.Dispatch(context.Background(), "navigate", nil, 5*time.Second, schema.QueueFail)
			errCh <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.PendingCount() < callers {
		if time.Now().After(deadline) {
			t.Fatalf("pending table never filled: %d", c.PendingCount())
		}
		time.Sleep(time.Millisecond)
	}

	c.attach(&fakeTransport{})

	// The new agent never saw these ids, so callers must fail now with
	// DISCONNECTED rather than ride out their full timeout.
	for i := 0; i < callers; i++ {
		select {
		case err := <-errCh:
			if kindOf(t, err) != schema.KindDisconnected {
				t.Fatalf("expected DISCONNECTED after replacement, got %v", err)
			}
			var structured *schema.StructuredError
			errors.As(err, &structured)
			if structured.Recovery == nil || !structured.Recovery.ReconnectRequired {
				t.Fatalf("expected recovery.reconnect_required")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("caller %d still pending after replacement", i)
		}
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending table not drained on replacement")
	}
}

func TestRemoteErrorBecomesExtensionError(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}
	gen := c.attach(ft)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), "click", nil, time.Second, schema.QueueFail)
		errCh <- err
	}()
	cmd := ft.lastCommand(t)
	c.handleMessage(gen, resultFrame(t, cmd.RequestID, false, nil, &schema.RemoteError{
		Code:    "element_not_visible",
		Message: "element is not visible",
	}))

	err := <-errCh
	if kindOf(t, err) != schema.KindExtensionError {
		t.Fatalf("expected EXTENSION_ERROR, got %v", err)
	}
	var structured *schema.StructuredError
	errors.As(err, &structured)
	if structured.Details["extension_code"] != "element_not_visible" {
		t.Fatalf("remote code not carried: %v", structured.Details)
	}
}

func TestNewConnectionReplacesPrevious(t *testing.T) {
	c := newTestChannel()
	first := &fakeTransport{}
	second := &fakeTransport{}

	gen1 := c.attach(first)
	gen2 := c.attach(second)
	if gen2 <= gen1 {
		t.Fatalf("generation must advance on replacement")
	}
	if !first.isClosed() {
		t.Fatalf("previous connection must be force-closed")
	}
	if !c.Connected() {
		t.Fatalf("replacement must stay authoritative")
	}

	// The replaced connection's close event must not clear the new one.
	c.handleClose(gen1, "replaced connection closing late")
	if !c.Connected() {
		t.Fatalf("stale close cleared the authoritative connection")
	}
}

func TestAwaitConnectionResolvesAllWaitersOnce(t *testing.T) {
	c := newTestChannel()
	const waiters = 4
	resolved := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			resolved <- c.AwaitConnection(context.Background(), 2*time.Second)
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		n := len(c.waiters)
		c.mu.Unlock()
		if n == waiters {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("waiters never registered: %d", n)
		}
		time.Sleep(time.Millisecond)
	}

	c.attach(&fakeTransport{})
	for i := 0; i < waiters; i++ {
		select {
		case err := <-resolved:
			if err != nil {
				t.Fatalf("waiter failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never resolved", i)
		}
	}
	c.mu.Lock()
	remaining := len(c.waiters)
	c.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("waiter queue not drained: %d", remaining)
	}
}

func TestWaiterTimeoutDoesNotAffectOthers(t *testing.T) {
	c := newTestChannel()
	shortErr := make(chan error, 1)
	longErr := make(chan error, 1)
	go func() { shortErr <- c.AwaitConnection(context.Background(), 30*time.Millisecond) }()
	go func() { longErr <- c.AwaitConnection(context.Background(), 2*time.Second) }()

	if err := <-shortErr; kindOf(t, err) != schema.KindTimeout {
		t.Fatalf("expected TIMEOUT for short waiter, got %v", err)
	}
	c.attach(&fakeTransport{})
	if err := <-longErr; err != nil {
		t.Fatalf("surviving waiter must resolve, got %v", err)
	}
}

func TestAwaitConnectionImmediateWhenConnected(t *testing.T) {
	c := newTestChannel()
	c.attach(&fakeTransport{})
	if err := c.AwaitConnection(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("expected immediate resolve, got %v", err)
	}
}

func TestShutdownRejectsEverything(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}
	c.attach(ft)

	pendingErr := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), "snapshot", nil, 5*time.Second, schema.QueueFail)
		pendingErr <- err
	}()
	ft.lastCommand(t)

	c.Shutdown()

	select {
	case err := <-pendingErr:
		if kindOf(t, err) != schema.KindDisconnected {
			t.Fatalf("expected DISCONNECTED on shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending command survived shutdown")
	}
	if err := c.AwaitConnection(context.Background(), 10*time.Millisecond); kindOf(t, err) != schema.KindDisconnected {
		t.Fatalf("waiters after shutdown must be rejected, got %v", err)
	}
	if !ft.isClosed() {
		t.Fatalf("connection must be closed on shutdown")
	}
}

func TestTransmitFailureClearsPending(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{writeErr: errors.New("broken pipe")}
	c.attach(ft)

	_, err := c.Dispatch(context.Background(), "navigate", nil, time.Second, schema.QueueFail)
	if kindOf(t, err) != schema.KindDisconnected {
		t.Fatalf("expected DISCONNECTED on transmit failure, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Fatalf("pending entry must be cleared on transmit failure")
	}
}

func TestHistoryCapTrimsOldestFirst(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.Append("event", fmt.Sprintf("entry-%d", i), nil)
	}
	entries := h.Recent(0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(entries))
	}
	if entries[0].Detail != "entry-2" || entries[2].Detail != "entry-4" {
		t.Fatalf("oldest entries not trimmed first: %+v", entries)
	}
	limited := h.Recent(2)
	if len(limited) != 2 || limited[0].Detail != "entry-3" {
		t.Fatalf("limit not applied newest-last: %+v", limited)
	}
}

func TestDisconnectHistoryRecorded(t *testing.T) {
	c := newTestChannel()
	ft := &fakeTransport{}
	gen := c.attach(ft)
	c.handleClose(gen, "read error")

	disconnects := c.Disconnects(0)
	if len(disconnects) != 1 || disconnects[0].Detail != "read error" {
		t.Fatalf("disconnect not recorded: %+v", disconnects)
	}
	status := c.Status()
	if status.Connected {
		t.Fatalf("status must report disconnected")
	}
	if status.ReconnectAttempts != 1 {
		t.Fatalf("reconnect attempts = %d, want 1", status.ReconnectAttempts)
	}
	if status.LastDisconnectReason != "read error" {
		t.Fatalf("reason = %q", status.LastDisconnectReason)
	}

	// Reconnection resets the counter.
	c.attach(&fakeTransport{})
	if got := c.Status().ReconnectAttempts; got != 0 {
		t.Fatalf("reconnect attempts after attach = %d, want 0", got)
	}
}
