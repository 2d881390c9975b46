package bridge

import (
	"encoding/json"
	"time"

	"pkt.systems/browsercx/schema"
)

// history is a capped diagnostics list trimmed oldest-first on append.
type history struct {
	entries []schema.DiagnosticEvent
	max     int
}

func newHistory(max int) *history {
	if max <= 0 {
		max = schema.DefaultHistoryMax
	}
	return &history{max: max}
}

func (h *history) Append(kind, detail string, data json.RawMessage) {
	if h == nil {
		return
	}
	h.entries = append(h.entries, schema.DiagnosticEvent{
		Time:   time.Now(),
		Kind:   kind,
		Detail: detail,
		Data:   data,
	})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Recent returns up to limit entries, newest last. limit <= 0 returns
// everything retained.
func (h *history) Recent(limit int) []schema.DiagnosticEvent {
	if h == nil || len(h.entries) == 0 {
		return nil
	}
	entries := h.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]schema.DiagnosticEvent(nil), entries...)
}
