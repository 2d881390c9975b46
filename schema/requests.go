package schema

import (
	"encoding/json"
	"time"
)

// CommandRequest is the body of POST /v1/command.
type CommandRequest struct {
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
	QueueMode QueueMode       `json:"queue_mode,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// CommandResponse is the body of every /v1/command reply.
type CommandResponse struct {
	OK    bool             `json:"ok"`
	Data  any              `json:"data,omitempty"`
	Error *StructuredError `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Connected bool      `json:"connected"`
	Time      time.Time `json:"time"`
}

// TabArgs targets an optional tab.
type TabArgs struct {
	Tab TabSelector `json:"tab,omitempty"`
}

// NavigateArgs requests a navigation on the resolved tab.
type NavigateArgs struct {
	Tab TabSelector `json:"tab,omitempty"`
	URL string      `json:"url"`
}

// RefArgs addresses one element of a retained snapshot. Value is used
// by fill, Key by press.
type RefArgs struct {
	Ref        RefID      `json:"ref"`
	SnapshotID SnapshotID `json:"snapshot_id"`
	Value      string     `json:"value,omitempty"`
	Key        string     `json:"key,omitempty"`
}

// ScreenshotArgs requests a capture of the resolved tab.
type ScreenshotArgs struct {
	Tab      TabSelector `json:"tab,omitempty"`
	FullPage bool        `json:"full_page,omitempty"`
}

// LimitArgs bounds history-style queries.
type LimitArgs struct {
	Tab   TabSelector `json:"tab,omitempty"`
	Limit int         `json:"limit,omitempty"`
}

// SelectorPayload is the selector-addressed payload forwarded to the
// agent after a ref has been resolved against the retained snapshot.
type SelectorPayload struct {
	TabID    TabID  `json:"tab_id"`
	Selector string `json:"selector"`
	Nth      *int   `json:"nth,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
}

// TabPayload is the tab-addressed payload forwarded to the agent.
type TabPayload struct {
	TabID    TabID  `json:"tab_id,omitempty"`
	Active   bool   `json:"active,omitempty"`
	URL      string `json:"url,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// TabInfo describes one browser tab as reported by the agent.
type TabInfo struct {
	ID     TabID  `json:"id"`
	URL    string `json:"url,omitempty"`
	Title  string `json:"title,omitempty"`
	Active bool   `json:"active,omitempty"`
}

// SnapshotResult is returned by the snapshot command.
type SnapshotResult struct {
	SnapshotID SnapshotID `json:"snapshot_id"`
	TabID      TabID      `json:"tab_id"`
	Tree       string     `json:"tree"`
	RefCount   int        `json:"ref_count"`
}

// StatusResult summarizes the agent connection.
type StatusResult struct {
	Connected            bool       `json:"connected"`
	ConnectedAt          *time.Time `json:"connected_at,omitempty"`
	LastPingAt           *time.Time `json:"last_ping_at,omitempty"`
	ReconnectAttempts    int        `json:"reconnect_attempts"`
	LastDisconnectReason string     `json:"last_disconnect_reason,omitempty"`
	SelectedTab          *TabID     `json:"selected_tab,omitempty"`
	SnapshotID           SnapshotID `json:"snapshot_id,omitempty"`
}

// DiagnosticEvent is one entry of the capped diagnostics history.
type DiagnosticEvent struct {
	Time   time.Time       `json:"time"`
	Kind   string          `json:"kind"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// DiagnoseResult is returned by the diagnose command.
type DiagnoseResult struct {
	Connected   bool              `json:"connected"`
	Events      []DiagnosticEvent `json:"events"`
	Disconnects []DiagnosticEvent `json:"disconnects"`
}

// ResetResult reports what a reset cleared.
type ResetResult struct {
	SnapshotCleared bool `json:"snapshot_cleared"`
	AgentNotified   bool `json:"agent_notified"`
}
