package chromeagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"pkt.systems/browsercx/schema"
)

const opTimeout = 30 * time.Second

// execute routes one forwarded command to its handler. Every handler
// returns either a result payload or a remote error, never both.
func (a *Agent) execute(cmd schema.CommandMessage) (json.RawMessage, *schema.RemoteError) {
	switch cmd.Command {
	case "tabs":
		return a.cmdTabs()
	case "active_tab":
		return a.cmdActiveTab()
	case "navigate":
		return a.cmdNavigate(cmd.Payload)
	case "snapshot":
		return a.cmdSnapshot(cmd.Payload)
	case "screenshot":
		return a.cmdScreenshot(cmd.Payload)
	case "click", "fill", "press", "hover":
		return a.cmdElement(cmd.Command, cmd.Payload)
	case "console", "network":
		return a.cmdTail(cmd.Command, cmd.Payload)
	case "clear_cookies":
		return a.cmdClearCookies()
	case "reset":
		return a.cmdReset()
	case "reconnect":
		return okResult(map[string]any{"acknowledged": true})
	default:
		return nil, &schema.RemoteError{
			Code:    "UNSUPPORTED_COMMAND",
			Message: fmt.Sprintf("agent does not implement %q", cmd.Command),
		}
	}
}

func okResult(v any) (json.RawMessage, *schema.RemoteError) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, remoteErr("ENCODE_FAILED", err)
	}
	return raw, nil
}

func remoteErr(code string, err error) *schema.RemoteError {
	return &schema.RemoteError{Code: code, Message: err.Error()}
}

// resolveTab honors an explicit tab id and otherwise falls back to
// the visible tab.
func (a *Agent) resolveTab(payload schema.TabPayload) (*tabHandle, *schema.RemoteError) {
	id := payload.TabID
	if id == 0 {
		active, err := a.browser.activeTab()
		if err != nil {
			return nil, remoteErr("BROWSER_UNAVAILABLE", err)
		}
		id = active
	}
	h, err := a.browser.handle(id)
	if err != nil {
		return nil, remoteErr("NO_SUCH_TAB", err)
	}
	return h, nil
}

func decodeTabPayload(raw json.RawMessage) (schema.TabPayload, *schema.RemoteError) {
	var payload schema.TabPayload
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, remoteErr("BAD_PAYLOAD", err)
	}
	return payload, nil
}

func (a *Agent) cmdTabs() (json.RawMessage, *schema.RemoteError) {
	pages, err := a.browser.pageTargets()
	if err != nil {
		return nil, remoteErr("BROWSER_UNAVAILABLE", err)
	}
	active, _ := a.browser.activeTab()
	tabs := make([]schema.TabInfo, 0, len(pages))
	for _, info := range pages {
		id := a.browser.tabID(info.TargetID)
		tabs = append(tabs, schema.TabInfo{
			ID:     id,
			URL:    info.URL,
			Title:  info.Title,
			Active: id == active,
		})
	}
	return okResult(map[string]any{"tabs": tabs})
}

func (a *Agent) cmdActiveTab() (json.RawMessage, *schema.RemoteError) {
	id, err := a.browser.activeTab()
	if err != nil {
		return nil, remoteErr("BROWSER_UNAVAILABLE", err)
	}
	return okResult(map[string]any{"tab_id": id})
}

func (a *Agent) cmdNavigate(raw json.RawMessage) (json.RawMessage, *schema.RemoteError) {
	payload, rerr := decodeTabPayload(raw)
	if rerr != nil {
		return nil, rerr
	}
	h, rerr := a.resolveTab(payload)
	if rerr != nil {
		return nil, rerr
	}
	ctx, cancel := context.WithTimeout(h.ctx, opTimeout)
	defer cancel()
	err := chromedp.Run(ctx,
		chromedp.Navigate(payload.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, remoteErr("NAVIGATION_FAILED", err)
	}
	var finalURL string
	if err := chromedp.Run(ctx, chromedp.Location(&finalURL)); err != nil {
		finalURL = payload.URL
	}
	return okResult(map[string]any{"tab_id": h.id, "url": finalURL})
}

func (a *Agent) cmdSnapshot(raw json.RawMessage) (json.RawMessage, *schema.RemoteError) {
	payload, rerr := decodeTabPayload(raw)
	if rerr != nil {
		return nil, rerr
	}
	h, rerr := a.resolveTab(payload)
	if rerr != nil {
		return nil, rerr
	}
	ctx, cancel := context.WithTimeout(h.ctx, opTimeout)
	defer cancel()
	var elements []schema.Element
	if err := chromedp.Run(ctx, chromedp.Evaluate(snapshotScript(a.cfg.SnapshotMaxNodes), &elements)); err != nil {
		return nil, remoteErr("SNAPSHOT_FAILED", err)
	}
	return okResult(map[string]any{"tab_id": h.id, "elements": elements})
}

func (a *Agent) cmdScreenshot(raw json.RawMessage) (json.RawMessage, *schema.RemoteError) {
	payload, rerr := decodeTabPayload(raw)
	if rerr != nil {
		return nil, rerr
	}
	h, rerr := a.resolveTab(payload)
	if rerr != nil {
		return nil, rerr
	}
	ctx, cancel := context.WithTimeout(h.ctx, opTimeout)
	defer cancel()
	var buf []byte
	var err error
	if payload.FullPage {
		err = chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100))
	} else {
		err = chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, remoteErr("SCREENSHOT_FAILED", err)
	}
	return okResult(map[string]any{"tab_id": h.id, "format": "png", "data": buf})
}

// cmdElement serves click, fill, press and hover. The payload carries
// a plain CSS selector plus an occurrence index resolved daemon-side.
func (a *Agent) cmdElement(command string, raw json.RawMessage) (json.RawMessage, *schema.RemoteError) {
	var payload schema.SelectorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, remoteErr("BAD_PAYLOAD", err)
	}
	h, rerr := a.resolveTab(schema.TabPayload{TabID: payload.TabID})
	if rerr != nil {
		return nil, rerr
	}
	nth := 0
	if payload.Nth != nil {
		nth = *payload.Nth
	}
	ctx, cancel := context.WithTimeout(h.ctx, opTimeout)
	defer cancel()

	switch command {
	case "click":
		var nodes []*cdp.Node
		if err := chromedp.Run(ctx, chromedp.Nodes(payload.Selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
			return nil, remoteErr("QUERY_FAILED", err)
		}
		if nth >= len(nodes) {
			return nil, &schema.RemoteError{
				Code:    "NO_SUCH_ELEMENT",
				Message: fmt.Sprintf("selector %q matched %d element(s), wanted occurrence %d", payload.Selector, len(nodes), nth),
			}
		}
		if err := chromedp.Run(ctx,
			chromedp.ScrollIntoView([]cdp.NodeID{nodes[nth].NodeID}, chromedp.ByNodeID),
			chromedp.MouseClickNode(nodes[nth]),
		); err != nil {
			return nil, remoteErr("CLICK_FAILED", err)
		}
	case "fill":
		found, err := runElementScript(ctx, fillScript(payload.Selector, nth, payload.Value))
		if err != nil {
			return nil, remoteErr("FILL_FAILED", err)
		}
		if !found {
			return nil, noSuchElement(payload.Selector, nth)
		}
	case "press":
		found, err := runElementScript(ctx, focusScript(payload.Selector, nth))
		if err != nil {
			return nil, remoteErr("PRESS_FAILED", err)
		}
		if !found {
			return nil, noSuchElement(payload.Selector, nth)
		}
		if err := chromedp.Run(ctx, chromedp.KeyEvent(resolveKey(payload.Key))); err != nil {
			return nil, remoteErr("PRESS_FAILED", err)
		}
	case "hover":
		found, err := runElementScript(ctx, hoverScript(payload.Selector, nth))
		if err != nil {
			return nil, remoteErr("HOVER_FAILED", err)
		}
		if !found {
			return nil, noSuchElement(payload.Selector, nth)
		}
	}
	return okResult(map[string]any{"tab_id": h.id, "action": command})
}

func noSuchElement(selector string, nth int) *schema.RemoteError {
	return &schema.RemoteError{
		Code:    "NO_SUCH_ELEMENT",
		Message: fmt.Sprintf("selector %q has no occurrence %d", selector, nth),
	}
}

func runElementScript(ctx context.Context, script string) (bool, error) {
	var found bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// resolveKey maps a key name to the chord chromedp's key dispatcher
// understands. Single characters pass through unchanged.
func resolveKey(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Escape":
		return kb.Escape
	case "Backspace":
		return kb.Backspace
	case "Delete":
		return kb.Delete
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	case "Home":
		return kb.Home
	case "End":
		return kb.End
	case "PageUp":
		return kb.PageUp
	case "PageDown":
		return kb.PageDown
	default:
		return key
	}
}

func (a *Agent) cmdTail(command string, raw json.RawMessage) (json.RawMessage, *schema.RemoteError) {
	payload, rerr := decodeTabPayload(raw)
	if rerr != nil {
		return nil, rerr
	}
	h, rerr := a.resolveTab(payload)
	if rerr != nil {
		return nil, rerr
	}
	switch command {
	case "console":
		return okResult(map[string]any{"tab_id": h.id, "entries": h.console.recent(payload.Limit)})
	default:
		return okResult(map[string]any{"tab_id": h.id, "entries": h.network.recent(payload.Limit)})
	}
}

// cmdClearCookies deletes cookies one by one; a cookie that refuses
// to die is skipped and only the deleted ones are counted.
func (a *Agent) cmdClearCookies() (json.RawMessage, *schema.RemoteError) {
	root, err := a.browser.root()
	if err != nil {
		return nil, remoteErr("BROWSER_UNAVAILABLE", err)
	}
	ctx, cancel := context.WithTimeout(root, opTimeout)
	defer cancel()

	cleared := 0
	skipped := 0
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			del := network.DeleteCookies(c.Name).WithDomain(c.Domain).WithPath(c.Path)
			if err := del.Do(ctx); err != nil {
				skipped++
				continue
			}
			cleared++
		}
		return nil
	}))
	if err != nil {
		return nil, remoteErr("CLEAR_COOKIES_FAILED", err)
	}
	return okResult(map[string]any{"cleared": cleared, "skipped": skipped})
}

// cmdReset drops cached tab attachments and their tails so the next
// command starts from a fresh view of the browser.
func (a *Agent) cmdReset() (json.RawMessage, *schema.RemoteError) {
	a.browser.close()
	return okResult(map[string]any{"acknowledged": true})
}
