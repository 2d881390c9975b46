package schema

import "time"

// Element is one targetable page element as reported by the agent,
// in document order.
type Element struct {
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Selector string `json:"selector"`
	Suffix   string `json:"suffix,omitempty"`
}

// RefEntry resolves one ref to its selector. Nth is populated only
// when the (role, name) group contains real duplicates.
type RefEntry struct {
	Selector string `json:"selector"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	Nth      *int   `json:"nth,omitempty"`
}

// Snapshot is the point-in-time view ref-addressed commands act
// against. Exactly one is retained at a time.
type Snapshot struct {
	ID        SnapshotID         `json:"snapshot_id"`
	TabID     TabID              `json:"tab_id"`
	Tree      string             `json:"tree"`
	Refs      map[RefID]RefEntry `json:"refs"`
	CreatedAt time.Time          `json:"created_at"`
}
