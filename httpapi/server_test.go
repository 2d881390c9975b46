package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/browsercx/bridge"
	"pkt.systems/browsercx/core"
	"pkt.systems/browsercx/schema"
)

const testToken = "test-token-0123456789abcdef"

func newTestServer(t *testing.T) (*httptest.Server, *bridge.Channel) {
	t.Helper()
	channel := bridge.NewChannel(schema.ServiceConfig{}, nil)
	service := core.NewService(schema.ServiceConfig{}, channel, nil)
	srv := NewServer(Config{Token: testToken}, service, channel)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		channel.Shutdown()
		ts.Close()
	})
	return ts, channel
}

func postCommand(t *testing.T, ts *httptest.Server, token string, body any) (*http.Response, schema.CommandResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/command", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded schema.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestHealthUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var health schema.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !health.OK || health.Connected {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.Time.IsZero() {
		t.Fatalf("health must carry the current timestamp")
	}
}

func TestCommandRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, decoded := postCommand(t, ts, "", schema.CommandRequest{Command: "status"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if decoded.OK || decoded.Error == nil || decoded.Error.Code != schema.KindUnauthorized {
		t.Fatalf("unexpected body: %+v", decoded)
	}

	resp, decoded = postCommand(t, ts, "wrong-token", schema.CommandRequest{Command: "status"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCommandStatusOK(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, decoded := postCommand(t, ts, testToken, schema.CommandRequest{Command: "status"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !decoded.OK || decoded.Error != nil {
		t.Fatalf("unexpected body: %+v", decoded)
	}
}

func TestCommandBadBody(t *testing.T) {
	ts, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/command", strings.NewReader(`{"command":`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var decoded schema.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != schema.KindBadRequest {
		t.Fatalf("unexpected error: %+v", decoded.Error)
	}
}

func TestDisconnectedMapsTo400WithCode(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, decoded := postCommand(t, ts, testToken, schema.CommandRequest{
		Command:   "tabs",
		QueueMode: schema.QueueFail,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if decoded.Error == nil || decoded.Error.Code != schema.KindDisconnected {
		t.Fatalf("unexpected error: %+v", decoded.Error)
	}
	if decoded.Error.Recovery == nil || !decoded.Error.Recovery.ReconnectRequired {
		t.Fatalf("expected recovery.reconnect_required: %+v", decoded.Error)
	}
}

func TestBridgeRejectsBadToken(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + DefaultBridgePath + "?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial must fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before handshake, got %+v", resp)
	}
}

func TestBridgeEndToEndCommand(t *testing.T) {
	ts, channel := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + DefaultBridgePath + "?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(schema.NewHello("test-agent/1.0", 0)); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !channel.Connected() {
		if time.Now().After(deadline) {
			t.Fatalf("channel never became connected")
		}
		time.Sleep(time.Millisecond)
	}

	// The agent side answers the forwarded tabs command.
	agentDone := make(chan error, 1)
	go func() {
		for {
			var frame map[string]json.RawMessage
			if err := conn.ReadJSON(&frame); err != nil {
				agentDone <- err
				return
			}
			var msgType string
			_ = json.Unmarshal(frame["type"], &msgType)
			if msgType != string(schema.MessageCommand) {
				continue
			}
			var id schema.RequestID
			_ = json.Unmarshal(frame["request_id"], &id)
			result, _ := json.Marshal(map[string]any{
				"tabs": []schema.TabInfo{{ID: 1, Title: "Example", Active: true}},
			})
			agentDone <- conn.WriteJSON(schema.NewResult(id, result))
			return
		}
	}()

	resp, decoded := postCommand(t, ts, testToken, schema.CommandRequest{
		Command:   "tabs",
		TimeoutMS: 2000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !decoded.OK {
		t.Fatalf("command failed: %+v", decoded.Error)
	}
	if err := <-agentDone; err != nil {
		t.Fatalf("agent loop failed: %v", err)
	}
}
