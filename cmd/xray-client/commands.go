package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/probe"
	"github.com/creamcroissant/xray-client/internal/tui"
)

func init() {
	// Update
	var updateName string
	var updateNoApply bool
	var updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Fetch subscriptions and rebuild the node list",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			report, err := c.Update(cmd.Context(), updateName)
			if err != nil {
				return err
			}
			printUpdateReport(os.Stdout, report)
			if updateNoApply {
				return nil
			}
			if err := c.Apply(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("xray restarted with the selected node")
			return nil
		},
	}
	updateCmd.Flags().StringVarP(&updateName, "name", "n", "", "Only update the named subscription")
	updateCmd.Flags().BoolVar(&updateNoApply, "no-apply", false, "Do not regenerate config or restart xray")
	rootCmd.AddCommand(updateCmd)

	// List
	var listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			printListing(os.Stdout, c.List())
			return nil
		},
	}
	rootCmd.AddCommand(listCmd)

	// Select
	var selectIndex int
	var selectCmd = &cobra.Command{
		Use:   "select",
		Short: "Select a node and restart xray",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			if err := c.SelectAndApply(cmd.Context(), selectIndex); err != nil {
				return err
			}
			if n, ok := c.List().Current(); ok {
				fmt.Printf("Selected [%d] %s (%s:%d)\n", selectIndex, n.Name, n.Server, n.Port)
			}
			return nil
		},
	}
	selectCmd.Flags().IntVarP(&selectIndex, "index", "i", 0, "Node index (see list)")
	_ = selectCmd.MarkFlagRequired("index")
	rootCmd.AddCommand(selectCmd)

	// Test
	var testTimeout int
	var testCmd = &cobra.Command{
		Use:   "test",
		Short: "Measure TCP connect latency of every node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if testTimeout > 0 {
				cfg.Probe.Timeout = time.Duration(testTimeout) * time.Second
			}
			c, err := newClient(cfg, client.Deps{}, logger)
			if err != nil {
				return err
			}
			printLatency(os.Stdout, c.Test(cmd.Context()))
			return nil
		},
	}
	testCmd.Flags().IntVarP(&testTimeout, "timeout", "t", 0, "Per-node timeout in seconds")
	rootCmd.AddCommand(testCmd)

	// Auto-select
	var autoCmd = &cobra.Command{
		Use:   "auto-select",
		Short: "Select the lowest latency node and restart xray",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			res, err := c.AutoSelect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Selected [%d] %s (%d ms)\n", res.Index, res.Node.Name, res.Latency.Milliseconds())
			return nil
		},
	}
	rootCmd.AddCommand(autoCmd)

	// Service control
	rootCmd.AddCommand(
		engineCommand("apply", "Regenerate xray config and restart the service", "Config applied", (*client.Client).Apply),
		engineCommand("reload", "Re-read settings, regenerate config and reload xray", "Reloaded", (*client.Client).Reload),
		engineCommand("start", "Generate config and start xray", "xray started", (*client.Client).Start),
		engineCommand("stop", "Stop xray", "xray stopped", (*client.Client).Stop),
		engineCommand("restart", "Regenerate config and restart xray", "xray restarted", (*client.Client).Restart),
		engineCommand("tun-on", "Enable TUN transparent proxy (root)", "TUN mode enabled", (*client.Client).TunOn),
		engineCommand("tun-off", "Disable TUN transparent proxy (root)", "TUN mode disabled", (*client.Client).TunOff),
	)

	// Status
	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show service, node and mode status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := getClient()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				logger.Warn("service status unavailable", "error", err)
			}
			printStatus(os.Stdout, st)
			return nil
		},
	}
	rootCmd.AddCommand(statusCmd)

	// Ping
	var pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity through the local SOCKS inbound",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			res, err := c.Ping(cmd.Context())
			if err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("ping %s: HTTP %d (%d ms)", res.URL, res.StatusCode, res.Elapsed.Milliseconds())
			}
			fmt.Printf("ping %s: OK (%d ms)\n", res.URL, res.Elapsed.Milliseconds())
			return nil
		},
	}
	rootCmd.AddCommand(pingCmd)

	// Shell proxy environment
	var proxyOnCmd = &cobra.Command{
		Use:   "proxy-on",
		Short: "Export http_proxy/https_proxy/all_proxy for new shells",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			ep, err := c.ProxyOn()
			if err != nil {
				return err
			}
			paths := c.ProxyPaths()
			fmt.Printf("Proxy enabled: http 127.0.0.1:%d, socks5 127.0.0.1:%d\n", ep.HTTPPort, ep.SocksPort)
			fmt.Printf("Run `source %s` to apply in the current shell\n", paths.Profile)
			return nil
		},
	}
	var proxyOffCmd = &cobra.Command{
		Use:   "proxy-off",
		Short: "Remove the shell proxy environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			removed, err := c.ProxyOff()
			if err != nil {
				return err
			}
			if !removed {
				fmt.Println("Proxy was not enabled")
				return nil
			}
			fmt.Println("Proxy disabled, open a new shell or run `unset http_proxy https_proxy all_proxy`")
			return nil
		},
	}
	rootCmd.AddCommand(proxyOnCmd, proxyOffCmd)

	// Version
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xray-client %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)
}

func engineCommand(use, short, done string, op func(*client.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := getClient()
			if err != nil {
				return err
			}
			if err := op(c, cmd.Context()); err != nil {
				return err
			}
			fmt.Println(done)
			return nil
		},
	}
}

func printUpdateReport(w io.Writer, report client.UpdateReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSCRIPTION\tFORMAT\tNODES\tERRORS\tUNSUPPORTED\tSTATUS")
	for _, out := range report.Outcomes {
		status := "ok"
		if out.Err != nil {
			status = out.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			out.Subscription.Name, orDash(string(out.Result.Format)),
			len(out.Result.Nodes), len(out.Result.Errors), out.Result.Unsupported, status)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d nodes saved\n", report.Registry.Len())
}

func printListing(w io.Writer, list client.Listing) {
	if list.Registry.Len() == 0 {
		fmt.Fprintln(w, "No nodes, run `xray-client update` first")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tINDEX\tTYPE\tNAME\tADDRESS\tSUBSCRIPTION")
	for i, n := range list.Registry.Nodes {
		mark := ""
		if i == list.Selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s:%d\t%s\n", mark, i, n.Kind(), n.Name, n.Server, n.Port, orDash(n.Origin))
	}
	tw.Flush()
	if !list.Registry.UpdateTime.IsZero() {
		fmt.Fprintf(w, "\nUpdated: %s\n", list.Registry.UpdateTime.Local().Format("2006-01-02 15:04:05"))
	}
}

func printLatency(w io.Writer, results []probe.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tLATENCY")
	for _, res := range probe.Sorted(results) {
		latency := "timeout"
		if res.OK() {
			latency = fmt.Sprintf("%d ms", res.Latency.Milliseconds())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", res.Index, res.Node.Name, latency)
	}
	tw.Flush()
}

func printStatus(w io.Writer, st client.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Service:\t%s (%s)\n", st.Service, tui.StatusIcon(st.Active))
	if st.Node != nil {
		fmt.Fprintf(tw, "Node:\t[%d] %s (%s %s:%d)\n", st.Selected, st.Node.Name, st.Node.Kind(), st.Node.Server, st.Node.Port)
	} else {
		fmt.Fprintf(tw, "Node:\t-\n")
	}
	fmt.Fprintf(tw, "Nodes:\t%d\n", st.NodeCount)
	updated := "never"
	if !st.UpdateTime.IsZero() {
		updated = st.UpdateTime.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(tw, "Updated:\t%s\n", updated)
	fmt.Fprintf(tw, "TUN:\t%s (port %d)\n", st.TunState, st.Tun.Port)
	fmt.Fprintf(tw, "Proxy env:\t%s\n", onOff(st.Proxy))
	tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
