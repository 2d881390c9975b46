package main

import (
	"fmt"
	"net/url"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/browsercx/internal/appconfig"
	"pkt.systems/browsercx/internal/authtoken"
)

func newPairCmd() *cobra.Command {
	var cfgPath string
	var rotate bool
	var noQR bool
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Show the bridge URL and token for connecting an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			var token string
			if rotate {
				token, err = authtoken.Rotate(cfg.Auth.TokenFile)
			} else {
				token, err = authtoken.LoadOrGenerate(cfg.Auth.TokenFile)
			}
			if err != nil {
				return err
			}

			bridge := url.URL{
				Scheme:   "ws",
				Host:     cfg.HTTP.Addr,
				Path:     cfg.HTTP.BridgePath,
				RawQuery: url.Values{"token": {token}}.Encode(),
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "api_url: http://%s\n", cfg.HTTP.Addr)
			_, _ = fmt.Fprintf(w, "bridge_url: %s\n", bridge.String())
			_, _ = fmt.Fprintf(w, "token: %s\n", token)
			if !noQR {
				_, _ = fmt.Fprintln(w, "bridge_qr:")
				qrterminal.GenerateHalfBlock(bridge.String(), qrterminal.L, w)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "rotate the token before printing")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip the QR code")
	return cmd
}
