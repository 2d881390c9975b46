package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pkt.systems/browsercx/internal/logx"
	"pkt.systems/browsercx/internal/snapref"
	"pkt.systems/browsercx/schema"
)

func (s *Service) executeStatus() schema.StatusResult {
	status := s.bridge.Status()
	s.mu.Lock()
	if s.selectedTab != nil {
		tab := *s.selectedTab
		status.SelectedTab = &tab
	}
	if s.latest != nil {
		status.SnapshotID = s.latest.ID
	}
	s.mu.Unlock()
	return status
}

func (s *Service) executeDiagnose(rawArgs json.RawMessage) (any, error) {
	var args schema.LimitArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	return schema.DiagnoseResult{
		Connected:   s.bridge.Connected(),
		Events:      s.bridge.Events(args.Limit),
		Disconnects: s.bridge.Disconnects(args.Limit),
	}, nil
}

// executeUse selects a tab. A numeric tab is recorded locally; "active"
// is resolved by asking the agent which tab currently has focus.
func (s *Service) executeUse(ctx context.Context, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.TabArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	if !args.Tab.Set {
		return nil, schema.ErrBadRequest("use requires a tab argument")
	}
	tab := args.Tab.ID
	if args.Tab.Active {
		raw, err := s.forward(ctx, "active_tab", nil, timeout, queueMode)
		if err != nil {
			return nil, err
		}
		var resolved struct {
			TabID schema.TabID `json:"tab_id"`
		}
		if err := json.Unmarshal(raw, &resolved); err != nil {
			return nil, schema.NewError(schema.KindInternal, "decode active_tab result: %s", err)
		}
		tab = resolved.TabID
	}
	cleared := s.selectTab(tab)
	logx.WithTab(s.log, tab).Info("tab selected", "snapshot_cleared", cleared)
	return map[string]any{"tab_id": tab, "snapshot_cleared": cleared}, nil
}

// executeReset clears the retained snapshot unconditionally and asks
// the agent to drop its own attachment state only when a connection is
// live. The agent side is best-effort.
func (s *Service) executeReset(ctx context.Context) schema.ResetResult {
	s.mu.Lock()
	hadSnapshot := s.latest != nil
	s.latest = nil
	s.selectedTab = nil
	s.mu.Unlock()

	notified := false
	if s.bridge.Connected() {
		if _, err := s.forward(ctx, "reset", nil, 5*time.Second, schema.QueueFail); err != nil {
			s.log.Warn("agent reset failed", "err", err)
		} else {
			notified = true
		}
	}
	s.log.Info("session reset", "had_snapshot", hadSnapshot, "agent_notified", notified)
	return schema.ResetResult{SnapshotCleared: hadSnapshot, AgentNotified: notified}
}

// executeReconnect asks a live agent to tear down and re-establish its
// connection. The daemon cannot create the transport from its side, so
// without a live connection this fails fast.
func (s *Service) executeReconnect(ctx context.Context, timeout time.Duration) (any, error) {
	if !s.bridge.Connected() {
		return nil, schema.ErrDisconnected("cannot reconnect: extension not connected")
	}
	return s.forward(ctx, "reconnect", nil, timeout, schema.QueueFail)
}

func (s *Service) executeNavigate(ctx context.Context, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.NavigateArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	if args.URL == "" {
		return nil, schema.ErrBadRequest("navigate requires a url")
	}
	payload := s.resolveTab(args.Tab)
	payload.URL = args.URL
	return s.forward(ctx, "navigate", payload, timeout, queueMode)
}

// executeSnapshot asks the agent for the flat element list of the
// resolved tab, builds refs and the rendered tree, and atomically
// replaces the retained snapshot.
func (s *Service) executeSnapshot(ctx context.Context, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.TabArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	raw, err := s.forward(ctx, "snapshot", s.resolveTab(args.Tab), timeout, queueMode)
	if err != nil {
		return nil, err
	}
	var reply struct {
		TabID    schema.TabID     `json:"tab_id"`
		Elements []schema.Element `json:"elements"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, schema.NewError(schema.KindInternal, "decode snapshot result: %s", err)
	}

	tree, refs := snapref.BuildTree(reply.Elements)
	snapshot := &schema.Snapshot{
		ID:        schema.SnapshotID(uuid.NewString()),
		TabID:     reply.TabID,
		Tree:      tree,
		Refs:      refs,
		CreatedAt: time.Now(),
	}
	s.retainSnapshot(snapshot)
	logx.WithTab(s.log, snapshot.TabID).Info("snapshot retained", "snapshot_id", snapshot.ID, "refs", len(refs))
	return schema.SnapshotResult{
		SnapshotID: snapshot.ID,
		TabID:      snapshot.TabID,
		Tree:       tree,
		RefCount:   len(refs),
	}, nil
}

// executeRefCommand gates a ref-addressed action on the retained
// snapshot, then forwards the selector-addressed equivalent.
func (s *Service) executeRefCommand(ctx context.Context, command string, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.RefArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	if args.Ref == "" {
		return nil, schema.ErrBadRequest("%s requires a ref", command)
	}
	if args.SnapshotID == "" {
		return nil, schema.ErrBadRequest("%s requires the snapshot_id the ref was read from", command)
	}
	if command == "press" && args.Key == "" {
		return nil, schema.ErrBadRequest("press requires a key")
	}
	tabID, entry, err := s.lookupRef(args.Ref, args.SnapshotID)
	if err != nil {
		return nil, err
	}
	payload := schema.SelectorPayload{
		TabID:    tabID,
		Selector: entry.Selector,
		Nth:      entry.Nth,
		Value:    args.Value,
		Key:      args.Key,
	}
	return s.forward(ctx, command, payload, timeout, queueMode)
}

func (s *Service) executeScreenshot(ctx context.Context, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.ScreenshotArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	payload := s.resolveTab(args.Tab)
	payload.FullPage = args.FullPage
	return s.forward(ctx, "screenshot", payload, timeout, queueMode)
}

func (s *Service) executeTailQuery(ctx context.Context, command string, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.LimitArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	payload := s.resolveTab(args.Tab)
	payload.Limit = args.Limit
	return s.forward(ctx, command, payload, timeout, queueMode)
}

// executeClearCookies forwards the bulk cookie clear. Per-cookie
// failures are swallowed agent-side; the reply is an aggregate count.
func (s *Service) executeClearCookies(ctx context.Context, rawArgs json.RawMessage, timeout time.Duration, queueMode schema.QueueMode) (any, error) {
	var args schema.TabArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	return s.forward(ctx, "clear_cookies", s.resolveTab(args.Tab), timeout, queueMode)
}
