package schema

import "encoding/json"

// MessageType discriminates bridge wire envelopes.
type MessageType string

const (
	// MessagePing is a daemon-to-agent liveness probe.
	MessagePing MessageType = "ping"
	// MessageCommand carries a correlated command to the agent.
	MessageCommand MessageType = "command"
	// MessageHello announces a fresh agent connection.
	MessageHello MessageType = "hello"
	// MessagePong answers a ping.
	MessagePong MessageType = "pong"
	// MessageEvent carries an unsolicited agent notification.
	MessageEvent MessageType = "event"
	// MessageResult answers a command by request id.
	MessageResult MessageType = "result"
)

// WireHeader is decoded first to sniff the envelope type.
type WireHeader struct {
	Type MessageType `json:"type"`
}

// PingMessage probes agent liveness.
type PingMessage struct {
	Type MessageType `json:"type"`
	TS   int64       `json:"ts"`
}

// CommandMessage carries one command toward the agent.
type CommandMessage struct {
	Type      MessageType     `json:"type"`
	RequestID RequestID       `json:"request_id"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HelloMessage opens an agent connection.
type HelloMessage struct {
	Type       MessageType `json:"type"`
	Version    string      `json:"version,omitempty"`
	RetryCount int         `json:"retry_count,omitempty"`
}

// PongMessage answers a ping with the probe timestamp echoed back.
type PongMessage struct {
	Type MessageType `json:"type"`
	TS   int64       `json:"ts"`
}

// EventMessage is an unsolicited agent notification.
type EventMessage struct {
	Type    MessageType     `json:"type"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RemoteError is the agent-side error shape inside a result.
type RemoteError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ResultMessage answers exactly one command.
type ResultMessage struct {
	Type      MessageType     `json:"type"`
	RequestID RequestID       `json:"request_id"`
	OK        bool            `json:"ok"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *RemoteError    `json:"error,omitempty"`
}

// NewPing constructs a ping with the given unix-millisecond timestamp.
func NewPing(ts int64) PingMessage {
	return PingMessage{Type: MessagePing, TS: ts}
}

// NewCommand constructs a command envelope.
func NewCommand(id RequestID, command string, payload json.RawMessage) CommandMessage {
	return CommandMessage{Type: MessageCommand, RequestID: id, Command: command, Payload: payload}
}

// NewPong constructs a pong echoing the probe timestamp.
func NewPong(ts int64) PongMessage {
	return PongMessage{Type: MessagePong, TS: ts}
}

// NewHello constructs a hello envelope.
func NewHello(version string, retryCount int) HelloMessage {
	return HelloMessage{Type: MessageHello, Version: version, RetryCount: retryCount}
}

// NewResult constructs a successful result envelope.
func NewResult(id RequestID, result json.RawMessage) ResultMessage {
	return ResultMessage{Type: MessageResult, RequestID: id, OK: true, Result: result}
}

// NewResultError constructs a failed result envelope.
func NewResultError(id RequestID, remote *RemoteError) ResultMessage {
	return ResultMessage{Type: MessageResult, RequestID: id, OK: false, Error: remote}
}
