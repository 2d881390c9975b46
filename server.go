// Package browsercx composes the bridge daemon: the command service,
// the agent channel and the local HTTP API, plus an optional embedded
// Chrome agent for setups without a browser extension.
package browsercx

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/browsercx/bridge"
	"pkt.systems/browsercx/core"
	"pkt.systems/browsercx/httpapi"
	"pkt.systems/browsercx/internal/chromeagent"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

// Server composes the daemon services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	Agent   chromeagent.Config
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	Logger pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP  bool
	enableAgent bool
}

// WithHTTP enables the HTTP API and the bridge WebSocket endpoint.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithAgent runs the Chrome DevTools agent inside the daemon process.
func WithAgent() ServerOption {
	return func(o *serverOptions) { o.enableAgent = true }
}

// New constructs a composable browsercx server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP {
		return nil, errors.New("no services enabled")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	cfg.Service = schema.NormalizeServiceConfig(cfg.Service)
	channel := bridge.NewChannel(cfg.Service, logger)
	service := core.NewService(cfg.Service, channel, logger)
	httpSrv := httpapi.NewServer(cfg.HTTP, service, channel)

	var agent *chromeagent.Agent
	if options.enableAgent {
		agent = chromeagent.New(cfg.Agent, logger)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		channel: channel,
		httpSrv: httpSrv,
		agent:   agent,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	channel *bridge.Channel
	httpSrv *httpapi.Server
	agent   *chromeagent.Agent
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"bridge_path", s.cfg.HTTP.BridgePath,
		"embedded_agent", s.options.enableAgent,
	)
	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	if s.agent != nil {
		go func() {
			if err := s.agent.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("embedded agent failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	s.channel.Shutdown()
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}
