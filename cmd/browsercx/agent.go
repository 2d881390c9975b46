package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/browsercx/internal/appconfig"
	"pkt.systems/browsercx/internal/authtoken"
	"pkt.systems/browsercx/internal/chromeagent"
	"pkt.systems/pslog"
)

func newAgentCmd() *cobra.Command {
	var cfgPath string
	var daemonURL string
	var devtoolsURL string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the standalone Chrome DevTools agent",
		Long: "Connects to a running Chrome over the DevTools protocol and to a " +
			"browsercx daemon over the bridge WebSocket, answering forwarded commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			token, err := authtoken.Load(cfg.Auth.TokenFile)
			if err != nil {
				return err
			}
			agentCfg := agentConfig(cfg, token)
			if daemonURL != "" {
				agentCfg.DaemonURL = daemonURL
			}
			if devtoolsURL != "" {
				agentCfg.DevtoolsURL = devtoolsURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger.Info("agent starting", "daemon_url", agentCfg.DaemonURL, "devtools_url", agentCfg.DevtoolsURL)
			err = chromeagent.New(agentCfg, logger).Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&daemonURL, "daemon-url", "", "daemon base URL (default from config)")
	cmd.Flags().StringVar(&devtoolsURL, "devtools-url", "", "Chrome DevTools URL (default from config)")
	return cmd
}
