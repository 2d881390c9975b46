package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/browsercx/internal/apiclient"
	"pkt.systems/browsercx/internal/appconfig"
	"pkt.systems/browsercx/internal/authtoken"
	"pkt.systems/browsercx/schema"
)

// clientFlags are shared by every verb that talks to the daemon.
type clientFlags struct {
	cfgPath   string
	timeoutMS int
	queueMode string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&f.timeoutMS, "timeout", 0, "command timeout in milliseconds")
	cmd.Flags().StringVar(&f.queueMode, "queue-mode", "", "hold or fail when the agent is disconnected")
}

func (f *clientFlags) client() (*apiclient.Client, error) {
	cfg, err := appconfig.Load(f.cfgPath)
	if err != nil {
		return nil, err
	}
	token, err := authtoken.Load(cfg.Auth.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("no token at %s, run \"browsercx bootstrap\" first: %w", cfg.Auth.TokenFile, err)
	}
	return apiclient.New("http://"+cfg.HTTP.Addr, token), nil
}

func (f *clientFlags) run(cmd *cobra.Command, command string, args any) error {
	data, err := f.exec(cmd, command, args)
	if err != nil {
		return err
	}
	return printData(cmd, data)
}

func (f *clientFlags) exec(cmd *cobra.Command, command string, args any) (json.RawMessage, error) {
	client, err := f.client()
	if err != nil {
		return nil, err
	}
	req := schema.CommandRequest{
		Command:   command,
		QueueMode: schema.QueueMode(f.queueMode),
		TimeoutMS: f.timeoutMS,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		req.Args = raw
	}
	return client.Command(cmd.Context(), req)
}

func printData(cmd *cobra.Command, data json.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return err
	}
	var buf any
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// parseTab accepts a numeric tab id or the word "active".
func parseTab(value string) (schema.TabSelector, error) {
	var tab schema.TabSelector
	if value == "" {
		return tab, nil
	}
	raw, _ := json.Marshal(value)
	if err := tab.UnmarshalJSON(raw); err != nil {
		return tab, fmt.Errorf("invalid tab %q: want a tab id or \"active\"", value)
	}
	return tab, nil
}

func addClientCommands(root *cobra.Command) {
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDiagnoseCmd())
	root.AddCommand(newTabsCmd())
	root.AddCommand(newUseCmd())
	root.AddCommand(newNavigateCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newRefCmd("click", "Click an element from the current snapshot"))
	root.AddCommand(newFillCmd())
	root.AddCommand(newPressCmd())
	root.AddCommand(newRefCmd("hover", "Hover an element from the current snapshot"))
	root.AddCommand(newScreenshotCmd())
	root.AddCommand(newTailCmd("console", "Show recent console output from a tab"))
	root.AddCommand(newTailCmd("network", "Show recent network activity from a tab"))
	root.AddCommand(newClearCookiesCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newReconnectCmd())
}

func newStatusCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and agent connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "status", nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newDiagnoseCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Show recent bridge events and disconnects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "diagnose", nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newTabsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List browser tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "tabs", nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newUseCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "use <tab-id|active>",
		Short: "Select the tab later commands act on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := parseTab(args[0])
			if err != nil {
				return err
			}
			return flags.run(cmd, "use", schema.TabArgs{Tab: tab})
		},
	}
	flags.register(cmd)
	return cmd
}

func newNavigateCmd() *cobra.Command {
	var flags clientFlags
	var tabFlag string
	cmd := &cobra.Command{
		Use:   "navigate <url>",
		Short: "Navigate a tab to a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := parseTab(tabFlag)
			if err != nil {
				return err
			}
			return flags.run(cmd, "navigate", schema.NavigateArgs{Tab: tab, URL: args[0]})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tabFlag, "tab", "", "tab id or \"active\"")
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	var flags clientFlags
	var tabFlag string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a page snapshot with element refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := parseTab(tabFlag)
			if err != nil {
				return err
			}
			data, err := flags.exec(cmd, "snapshot", schema.TabArgs{Tab: tab})
			if err != nil {
				return err
			}
			var result schema.SnapshotResult
			if err := json.Unmarshal(data, &result); err != nil {
				return printData(cmd, data)
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "snapshot_id: %s\n", result.SnapshotID)
			_, _ = fmt.Fprintf(w, "tab_id: %d\n", result.TabID)
			_, _ = fmt.Fprintf(w, "refs: %d\n", result.RefCount)
			_, _ = fmt.Fprintln(w, result.Tree)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tabFlag, "tab", "", "tab id or \"active\"")
	return cmd
}

func newRefCmd(name, short string) *cobra.Command {
	var flags clientFlags
	var snapshotID string
	cmd := &cobra.Command{
		Use:   name + " <ref>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, name, schema.RefArgs{
				Ref:        schema.RefID(args[0]),
				SnapshotID: schema.SnapshotID(snapshotID),
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id the ref belongs to")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func newFillCmd() *cobra.Command {
	var flags clientFlags
	var snapshotID string
	cmd := &cobra.Command{
		Use:   "fill <ref> <value>",
		Short: "Fill an input from the current snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "fill", schema.RefArgs{
				Ref:        schema.RefID(args[0]),
				SnapshotID: schema.SnapshotID(snapshotID),
				Value:      args[1],
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id the ref belongs to")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func newPressCmd() *cobra.Command {
	var flags clientFlags
	var snapshotID string
	cmd := &cobra.Command{
		Use:   "press <ref> <key>",
		Short: "Press a key on an element from the current snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "press", schema.RefArgs{
				Ref:        schema.RefID(args[0]),
				SnapshotID: schema.SnapshotID(snapshotID),
				Key:        args[1],
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "snapshot id the ref belongs to")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func newScreenshotCmd() *cobra.Command {
	var flags clientFlags
	var tabFlag string
	var fullPage bool
	var outputPath string
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture a screenshot of a tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := parseTab(tabFlag)
			if err != nil {
				return err
			}
			data, err := flags.exec(cmd, "screenshot", schema.ScreenshotArgs{Tab: tab, FullPage: fullPage})
			if err != nil {
				return err
			}
			if outputPath == "" {
				return printData(cmd, data)
			}
			var result struct {
				Data string `json:"data"`
			}
			if err := json.Unmarshal(data, &result); err != nil {
				return err
			}
			img, err := base64.StdEncoding.DecodeString(result.Data)
			if err != nil {
				return fmt.Errorf("decode screenshot data: %w", err)
			}
			if err := os.WriteFile(outputPath, img, 0o600); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", outputPath, len(img))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tabFlag, "tab", "", "tab id or \"active\"")
	cmd.Flags().BoolVar(&fullPage, "full-page", false, "capture the full page")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the image to a file")
	return cmd
}

func newTailCmd(name, short string) *cobra.Command {
	var flags clientFlags
	var tabFlag string
	var limit int
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tab, err := parseTab(tabFlag)
			if err != nil {
				return err
			}
			return flags.run(cmd, name, schema.LimitArgs{Tab: tab, Limit: limit})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&tabFlag, "tab", "", "tab id or \"active\"")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

func newClearCookiesCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "clear-cookies",
		Short: "Delete browser cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "clear_cookies", nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear session state on daemon and agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "reset", nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newReconnectCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Ask the agent to drop and redial its connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, "reconnect", nil)
		},
	}
	flags.register(cmd)
	return cmd
}
