// Package chromeagent implements the browser-resident side of the
// bridge: it attaches to a running Chrome over the DevTools protocol,
// dials the daemon's WebSocket endpoint and answers forwarded commands.
package chromeagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// Config carries everything the agent needs to run.
type Config struct {
	// DaemonURL is the daemon's HTTP base URL, e.g. http://127.0.0.1:27490.
	DaemonURL  string
	BridgePath string
	Token      string
	// DevtoolsURL is the Chrome DevTools endpoint, e.g. http://127.0.0.1:9222.
	DevtoolsURL      string
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	SnapshotMaxNodes int
	Version          string
}

// Agent maintains one WebSocket session to the daemon at a time and
// reconnects with exponential backoff when the session drops.
type Agent struct {
	cfg Config
	log pslog.Logger

	browser *browser

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New constructs an agent. The browser attachment happens lazily on
// the first command that needs it, so the agent can connect to the
// daemon before Chrome is up.
func New(cfg Config, log pslog.Logger) *Agent {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.SnapshotMaxNodes <= 0 {
		cfg.SnapshotMaxNodes = 500
	}
	if cfg.BridgePath == "" {
		cfg.BridgePath = "/v1/bridge"
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	return &Agent{
		cfg:     cfg,
		log:     log.With("component", "chromeagent"),
		browser: newBrowser(cfg.DevtoolsURL, log),
	}
}

// Run dials the daemon and serves commands until ctx is cancelled.
// Every session failure is retried with exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	defer a.browser.close()

	bridgeURL, err := a.bridgeURL()
	if err != nil {
		return err
	}

	backoff := a.cfg.MinBackoff
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, bridgeURL, nil)
		if err != nil {
			a.log.Warn("daemon dial failed", "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			retries++
			backoff = min(backoff*2, a.cfg.MaxBackoff)
			continue
		}

		a.log.Info("connected to daemon", "retries", retries)
		err = a.serve(ctx, conn, retries)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("daemon session ended", "error", err)

		retries = 0
		backoff = a.cfg.MinBackoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (a *Agent) bridgeURL() (string, error) {
	u, err := url.Parse(a.cfg.DaemonURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = a.cfg.BridgePath
	q := u.Query()
	q.Set("token", a.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// serve runs one daemon session: hello, then a read loop answering
// pings and commands until the connection drops.
func (a *Agent) serve(ctx context.Context, conn *websocket.Conn, retries int) error {
	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()

	if err := a.writeJSON(schema.NewHello(a.cfg.Version, retries)); err != nil {
		return err
	}

	// Unblock ReadMessage when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var head schema.WireHeader
		if err := json.Unmarshal(raw, &head); err != nil {
			a.log.Warn("unparseable frame from daemon", "error", err)
			continue
		}
		switch head.Type {
		case schema.MessagePing:
			var ping schema.PingMessage
			if err := json.Unmarshal(raw, &ping); err != nil {
				continue
			}
			if err := a.writeJSON(schema.NewPong(ping.TS)); err != nil {
				return err
			}
		case schema.MessageCommand:
			var cmd schema.CommandMessage
			if err := json.Unmarshal(raw, &cmd); err != nil {
				a.log.Warn("unparseable command frame", "error", err)
				continue
			}
			// Commands run concurrently so a slow page never stalls
			// heartbeat replies.
			go a.handle(conn, cmd)
		default:
			a.log.Debug("ignoring frame", "type", string(head.Type))
		}
	}
}

// handle executes one command and always writes exactly one result.
func (a *Agent) handle(conn *websocket.Conn, cmd schema.CommandMessage) {
	log := a.log.With("command", cmd.Command, "request_id", string(cmd.RequestID))
	start := time.Now()

	result, remoteErr := a.execute(cmd)
	if remoteErr != nil {
		log.Warn("command failed", "code", remoteErr.Code, "error", remoteErr.Message, "duration", time.Since(start).String())
		if err := a.writeJSON(schema.NewResultError(cmd.RequestID, remoteErr)); err != nil {
			log.Warn("result write failed", "error", err)
		}
		return
	}
	log.Debug("command done", "duration", time.Since(start).String())
	if err := a.writeJSON(schema.NewResult(cmd.RequestID, result)); err != nil {
		log.Warn("result write failed", "error", err)
	}

	// A reconnect is acknowledged first, then the session is dropped
	// so the run loop dials fresh.
	if cmd.Command == "reconnect" {
		conn.Close()
	}
}

func (a *Agent) writeJSON(v any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return errors.New("no daemon connection")
	}
	return a.conn.WriteJSON(v)
}
