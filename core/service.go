// Package core implements session state and command execution: tab
// resolution, snapshot gating, and the translation of ref-addressed
// commands into selector-addressed agent commands.
package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pkt.systems/browsercx/internal/logx"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// Dispatcher is the bridge surface the service depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, payload json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (json.RawMessage, error)
	Connected() bool
	Status() schema.StatusResult
	Events(limit int) []schema.DiagnosticEvent
	Disconnects(limit int) []schema.DiagnosticEvent
}

// Service owns the daemon-wide session state: the selected tab and the
// single retained snapshot.
type Service struct {
	cfg    schema.ServiceConfig
	log    pslog.Logger
	bridge Dispatcher

	mu          sync.Mutex
	selectedTab *schema.TabID
	latest      *schema.Snapshot
}

// NewService constructs the command execution service.
func NewService(cfg schema.ServiceConfig, bridge Dispatcher, logger pslog.Logger) *Service {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Service{
		cfg:    schema.NormalizeServiceConfig(cfg),
		log:    logger.With("component", "core"),
		bridge: bridge,
	}
}

// Execute runs one command end-to-end and returns its data payload.
// Every failure is a StructuredError.
func (s *Service) Execute(ctx context.Context, req schema.CommandRequest) (any, error) {
	if req.Command == "" {
		return nil, schema.ErrBadRequest("command is required")
	}
	queueMode := req.QueueMode
	if queueMode == "" {
		queueMode = schema.QueueHold
	}
	if !queueMode.Valid() {
		return nil, schema.ErrBadRequest("unknown queue_mode %q", req.QueueMode)
	}
	timeout := s.timeoutFor(req.TimeoutMS)
	log := logx.WithCommand(s.log, req.Command)
	log.Debug("execute", "queue_mode", queueMode, "timeout", timeout)

	switch req.Command {
	case "status":
		return s.executeStatus(), nil
	case "diagnose":
		return s.executeDiagnose(req.Args)
	case "use":
		return s.executeUse(ctx, req.Args, timeout, queueMode)
	case "reset":
		return s.executeReset(ctx), nil
	case "reconnect":
		return s.executeReconnect(ctx, timeout)
	case "tabs":
		return s.forward(ctx, "tabs", nil, timeout, queueMode)
	case "navigate":
		return s.executeNavigate(ctx, req.Args, timeout, queueMode)
	case "snapshot":
		return s.executeSnapshot(ctx, req.Args, timeout, queueMode)
	case "click", "fill", "press", "hover":
		return s.executeRefCommand(ctx, req.Command, req.Args, timeout, queueMode)
	case "screenshot":
		return s.executeScreenshot(ctx, req.Args, timeout, queueMode)
	case "console", "network":
		return s.executeTailQuery(ctx, req.Command, req.Args, timeout, queueMode)
	case "clear_cookies":
		return s.executeClearCookies(ctx, req.Args, timeout, queueMode)
	default:
		return nil, schema.ErrBadRequest("unknown command %q", req.Command)
	}
}

// timeoutFor clamps a caller-supplied timeout into configured bounds.
func (s *Service) timeoutFor(ms int) time.Duration {
	if ms <= 0 {
		return s.cfg.DefaultTimeout
	}
	timeout := time.Duration(ms) * time.Millisecond
	if timeout > s.cfg.MaxTimeout {
		return s.cfg.MaxTimeout
	}
	return timeout
}

// forward marshals a payload and dispatches it over the bridge.
func (s *Service) forward(ctx context.Context, command string, payload any, timeout time.Duration, queueMode schema.QueueMode) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, schema.NewError(schema.KindInternal, "marshal %s payload: %s", command, err)
		}
		raw = data
	}
	return s.bridge.Dispatch(ctx, command, raw, timeout, queueMode)
}

// resolveTab applies the target precedence: explicit argument, then
// previously selected tab, then the latest snapshot's tab, then
// delegation to the agent's active tab.
func (s *Service) resolveTab(selector schema.TabSelector) schema.TabPayload {
	if selector.Set {
		if selector.Active {
			return schema.TabPayload{Active: true}
		}
		return schema.TabPayload{TabID: selector.ID}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedTab != nil {
		return schema.TabPayload{TabID: *s.selectedTab}
	}
	if s.latest != nil {
		return schema.TabPayload{TabID: s.latest.TabID}
	}
	return schema.TabPayload{Active: true}
}

// selectTab records the selected tab and, when it differs from the
// retained snapshot's tab, drops the snapshot so refs cannot be
// resolved against a page the session no longer points at.
func (s *Service) selectTab(id schema.TabID) (snapshotCleared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := id
	s.selectedTab = &tab
	if s.latest != nil && s.latest.TabID != id {
		s.latest = nil
		return true
	}
	return false
}

// retainSnapshot atomically replaces the retained snapshot and marks
// its tab selected.
func (s *Service) retainSnapshot(snapshot *schema.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snapshot
	tab := snapshot.TabID
	s.selectedTab = &tab
}

// lookupRef validates the snapshot gate and resolves a ref to its
// entry. Staleness is strict equality on snapshot id, never heuristic.
func (s *Service) lookupRef(ref schema.RefID, snapshotID schema.SnapshotID) (schema.TabID, schema.RefEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return 0, schema.RefEntry{}, schema.ErrNoActiveSnapshot()
	}
	if s.latest.ID != snapshotID {
		return 0, schema.RefEntry{}, schema.ErrStaleSnapshot(s.latest.ID, snapshotID)
	}
	entry, ok := s.latest.Refs[ref]
	if !ok {
		return 0, schema.RefEntry{}, schema.ErrNoSuchRef(ref, snapshotID)
	}
	return s.latest.TabID, entry, nil
}

func decodeArgs(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return schema.ErrBadRequest("invalid args: %s", err)
	}
	return nil
}
