package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/browsercx"
	"pkt.systems/browsercx/httpapi"
	"pkt.systems/browsercx/internal/appconfig"
	"pkt.systems/browsercx/internal/authtoken"
	"pkt.systems/browsercx/internal/chromeagent"
	"pkt.systems/browsercx/internal/version"
	"pkt.systems/browsercx/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var withAgent bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browsercx daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			token, err := authtoken.LoadOrGenerate(cfg.Auth.TokenFile)
			if err != nil {
				return err
			}

			serverCfg := browsercx.ServerConfig{
				Service: schema.ServiceConfig{
					DefaultTimeout:    time.Duration(cfg.Commands.DefaultTimeoutMS) * time.Millisecond,
					MaxTimeout:        time.Duration(cfg.Commands.MaxTimeoutMS) * time.Millisecond,
					HistoryMax:        cfg.Bridge.HistoryMax,
					HeartbeatInterval: time.Duration(cfg.Bridge.HeartbeatIntervalSeconds) * time.Second,
				},
				HTTP: httpapi.Config{
					Addr:       cfg.HTTP.Addr,
					BridgePath: cfg.HTTP.BridgePath,
					Token:      token,
				},
				Agent: agentConfig(cfg, token),
			}

			opts := []browsercx.ServerOption{browsercx.WithHTTP()}
			if withAgent {
				opts = append(opts, browsercx.WithAgent())
			}
			server, err := browsercx.New(serverCfg, browsercx.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("daemon listening", "addr", cfg.HTTP.Addr, "version", version.Current())
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&withAgent, "with-agent", false, "run the Chrome DevTools agent in-process")
	return cmd
}

func agentConfig(cfg appconfig.Config, token string) chromeagent.Config {
	return chromeagent.Config{
		DaemonURL:        "http://" + cfg.HTTP.Addr,
		BridgePath:       cfg.HTTP.BridgePath,
		Token:            token,
		DevtoolsURL:      cfg.Agent.DevtoolsURL,
		MinBackoff:       time.Duration(cfg.Agent.MinBackoffMS) * time.Millisecond,
		MaxBackoff:       time.Duration(cfg.Agent.MaxBackoffMS) * time.Millisecond,
		SnapshotMaxNodes: cfg.Agent.SnapshotMaxNodes,
		Version:          version.Current(),
	}
}
