package chromeagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// browser wraps the chromedp attachment to a running Chrome and keeps
// a stable small-integer tab id per DevTools target.
type browser struct {
	devtoolsURL string
	log         pslog.Logger

	mu        sync.Mutex
	allocCtx  context.Context
	cancelAll context.CancelFunc
	rootCtx   context.Context
	nextID    schema.TabID
	byTarget  map[target.ID]schema.TabID
	tabs      map[schema.TabID]*tabHandle
}

// tabHandle is one attached tab with its own chromedp context and the
// console/network tails fed by DevTools events.
type tabHandle struct {
	id       schema.TabID
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	console  *tail[consoleEntry]
	network  *tail[networkEntry]
}

type consoleEntry struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
}

type networkEntry struct {
	Time   time.Time `json:"time"`
	Method string    `json:"method"`
	URL    string    `json:"url"`
	Status int64     `json:"status,omitempty"`
}

const tailMax = 500

func newBrowser(devtoolsURL string, log pslog.Logger) *browser {
	return &browser{
		devtoolsURL: devtoolsURL,
		log:         log.With("component", "browser"),
		nextID:      1,
		byTarget:    make(map[target.ID]schema.TabID),
		tabs:        make(map[schema.TabID]*tabHandle),
	}
}

// root attaches to Chrome on first use and returns the root chromedp
// context used for target enumeration.
func (b *browser) root() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rootCtx != nil && b.rootCtx.Err() == nil {
		return b.rootCtx, nil
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), b.devtoolsURL)
	rootCtx, cancelRoot := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(rootCtx); err != nil {
		cancelRoot()
		cancelAlloc()
		return nil, fmt.Errorf("attach to chrome at %s: %w", b.devtoolsURL, err)
	}
	b.allocCtx = allocCtx
	b.rootCtx = rootCtx
	b.cancelAll = func() {
		cancelRoot()
		cancelAlloc()
	}
	b.log.Info("attached to chrome", "devtools_url", b.devtoolsURL)
	return b.rootCtx, nil
}

func (b *browser) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.tabs {
		h.cancel()
	}
	b.tabs = make(map[schema.TabID]*tabHandle)
	b.byTarget = make(map[target.ID]schema.TabID)
	if b.cancelAll != nil {
		b.cancelAll()
		b.cancelAll = nil
		b.rootCtx = nil
	}
}

// pageTargets lists the current page targets and assigns ids to the
// ones seen for the first time.
func (b *browser) pageTargets() ([]*target.Info, error) {
	root, err := b.root()
	if err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(root)
	if err != nil {
		return nil, err
	}
	pages := make([]*target.Info, 0, len(infos))
	live := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		pages = append(pages, info)
		live[info.TargetID] = true
	}

	b.mu.Lock()
	for _, info := range pages {
		if _, ok := b.byTarget[info.TargetID]; !ok {
			b.byTarget[info.TargetID] = b.nextID
			b.nextID++
		}
	}
	for tid, id := range b.byTarget {
		if !live[tid] {
			delete(b.byTarget, tid)
			if h, ok := b.tabs[id]; ok {
				h.cancel()
				delete(b.tabs, id)
			}
		}
	}
	b.mu.Unlock()
	return pages, nil
}

func (b *browser) tabID(tid target.ID) schema.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byTarget[tid]
}

// handle returns the attached tab for id, attaching and installing
// console/network listeners on first use.
func (b *browser) handle(id schema.TabID) (*tabHandle, error) {
	b.mu.Lock()
	if h, ok := b.tabs[id]; ok && h.ctx.Err() == nil {
		b.mu.Unlock()
		return h, nil
	}
	b.mu.Unlock()

	pages, err := b.pageTargets()
	if err != nil {
		return nil, err
	}
	var tid target.ID
	found := false
	for _, info := range pages {
		if b.tabID(info.TargetID) == id {
			tid = info.TargetID
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no such tab: %d", id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	root := b.rootCtx
	tabCtx, cancel := chromedp.NewContext(root, chromedp.WithTargetID(tid))
	h := &tabHandle{
		id:       id,
		targetID: tid,
		ctx:      tabCtx,
		cancel:   cancel,
		console:  newTail[consoleEntry](tailMax),
		network:  newTail[networkEntry](tailMax),
	}
	h.listen()
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("attach to tab %d: %w", id, err)
	}
	b.tabs[id] = h
	return h, nil
}

// listen feeds the tab's console and network tails from DevTools
// events. Installed before the first Run so early events are kept.
func (h *tabHandle) listen() {
	chromedp.ListenTarget(h.ctx, func(ev any) {
		switch e := ev.(type) {
		case *cdpruntime.EventConsoleAPICalled:
			text := ""
			for i, arg := range e.Args {
				if i > 0 {
					text += " "
				}
				text += consoleArgText(arg)
			}
			h.console.append(consoleEntry{
				Time:  time.Now().UTC(),
				Level: string(e.Type),
				Text:  text,
			})
		case *cdpruntime.EventExceptionThrown:
			h.console.append(consoleEntry{
				Time:  time.Now().UTC(),
				Level: "error",
				Text:  e.ExceptionDetails.Error(),
			})
		case *network.EventResponseReceived:
			h.network.append(networkEntry{
				Time:   time.Now().UTC(),
				Method: "",
				URL:    e.Response.URL,
				Status: e.Response.Status,
			})
		case *network.EventRequestWillBeSent:
			h.network.append(networkEntry{
				Time:   time.Now().UTC(),
				Method: e.Request.Method,
				URL:    e.Request.URL,
			})
		}
	})
}

func consoleArgText(arg *cdpruntime.RemoteObject) string {
	if arg == nil {
		return ""
	}
	if len(arg.Value) > 0 {
		var v any
		if err := json.Unmarshal(arg.Value, &v); err == nil {
			return fmt.Sprint(v)
		}
		return string(arg.Value)
	}
	if arg.Description != "" {
		return arg.Description
	}
	return string(arg.Type)
}

// activeTab picks the visible tab, falling back to the first page
// target when no tab reports itself visible.
func (b *browser) activeTab() (schema.TabID, error) {
	pages, err := b.pageTargets()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("no open tabs")
	}
	for _, info := range pages {
		id := b.tabID(info.TargetID)
		h, err := b.handle(id)
		if err != nil {
			continue
		}
		var visibility string
		evalCtx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
		err = chromedp.Run(evalCtx, chromedp.Evaluate(`document.visibilityState`, &visibility))
		cancel()
		if err == nil && visibility == "visible" {
			return id, nil
		}
	}
	return b.tabID(pages[0].TargetID), nil
}

// tail is a capped append-only buffer, oldest entries dropped first.
type tail[T any] struct {
	mu      sync.Mutex
	max     int
	entries []T
}

func newTail[T any](max int) *tail[T] {
	return &tail[T]{max: max}
}

func (t *tail[T]) append(entry T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.max {
		t.entries = t.entries[len(t.entries)-t.max:]
	}
}

// recent returns up to limit entries, newest last.
func (t *tail[T]) recent(limit int) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.entries) {
		limit = len(t.entries)
	}
	out := make([]T, limit)
	copy(out, t.entries[len(t.entries)-limit:])
	return out
}
