package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TabID identifies a browser tab as reported by the agent.
type TabID int

// SnapshotID identifies one retained snapshot.
type SnapshotID string

// RequestID correlates a dispatched command with its reply.
type RequestID string

// RefID identifies one element within a snapshot.
type RefID string

// QueueMode selects the policy for commands issued while no agent
// connection is live.
type QueueMode string

const (
	// QueueHold blocks the caller until a connection appears or the
	// command deadline expires.
	QueueHold QueueMode = "hold"
	// QueueFail rejects the caller immediately.
	QueueFail QueueMode = "fail"
)

// Valid reports whether the queue mode is a known value.
func (m QueueMode) Valid() bool {
	return m == QueueHold || m == QueueFail
}

// TabSelector is a tab argument that accepts either a numeric tab id or
// the literal "active". The zero value means "not specified".
type TabSelector struct {
	ID     TabID
	Active bool
	Set    bool
}

// UnmarshalJSON accepts a JSON number, a numeric string, or "active".
func (t *TabSelector) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		t.ID = TabID(v)
		t.Set = true
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if strings.EqualFold(s, "active") {
			t.Active = true
			t.Set = true
			return nil
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid tab %q", v)
		}
		t.ID = TabID(id)
		t.Set = true
		return nil
	default:
		return fmt.Errorf("invalid tab argument")
	}
}

// MarshalJSON renders the selector the way it was provided.
func (t TabSelector) MarshalJSON() ([]byte, error) {
	switch {
	case !t.Set:
		return []byte("null"), nil
	case t.Active:
		return json.Marshal("active")
	default:
		return json.Marshal(int(t.ID))
	}
}
