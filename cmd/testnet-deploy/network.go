package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/churn"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Operate on the nodes of a running network",
}

var churnCmd = &cobra.Command{
	Use:   "churn",
	Short: "Restart nodes to simulate churn",
}

var churnFixedCmd = &cobra.Command{
	Use:   "fixed-interval",
	Short: "Restart the nodes of each VM in batches at a fixed interval",
	Long: `Restart the running nodes of each VM in turn, pausing --interval after
every --concurrent-churns restarts.

Examples:
  testnet-deploy network churn fixed-interval -n alpha --interval 60s --concurrent-churns 2`,
	RunE: runChurnFixed,
}

var churnRandomCmd = &cobra.Command{
	Use:   "random-interval",
	Short: "Restart nodes at random times within a time frame",
	Long: `Restart --churn-count randomly chosen nodes at random offsets within each
--time-frame, until every node has been restarted once per cycle.`,
	RunE: runChurnRandom,
}

var updateLogLevelCmd = &cobra.Command{
	Use:   "update-log-level",
	Short: "Set the log levels of every node",
	Long: `Set the log levels of every generic and peer cache node through its RPC
endpoint.

Examples:
  testnet-deploy network update-log-level -n alpha --level "libp2p=debug,ant_node=trace"`,
	RunE: runUpdateLogLevel,
}

func init() {
	for _, cmd := range []*cobra.Command{churnFixedCmd, churnRandomCmd} {
		addNameFlag(cmd)
		addMetricsFlag(cmd)
		cmd.Flags().Bool("retain-peer-id", false, "Keep each node's peer ID across restarts")
		cmd.Flags().Int("churn-cycles", 1, "Number of times every node is churned")
		cmd.Flags().Duration("restart-delay", 0, "Delay the daemon applies before each restart")
	}
	churnFixedCmd.Flags().Duration("interval", 60*time.Second, "Pause after each batch of restarts")
	churnFixedCmd.Flags().Int("concurrent-churns", 2, "Nodes restarted on a VM before pausing")
	churnRandomCmd.Flags().Duration("time-frame", 10*time.Minute, "Window the churn count is restarted in")
	churnRandomCmd.Flags().Int("churn-count", 10, "Nodes restarted in each time frame")

	addNameFlag(updateLogLevelCmd)
	updateLogLevelCmd.Flags().String("level", "", "Log levels, e.g. libp2p=debug,ant_node=trace (required)")
	updateLogLevelCmd.Flags().Int("concurrent-updates", 10, "Nodes updated at once")
	_ = updateLogLevelCmd.MarkFlagRequired("level")

	churnCmd.AddCommand(churnFixedCmd)
	churnCmd.AddCommand(churnRandomCmd)
	networkCmd.AddCommand(churnCmd)
	networkCmd.AddCommand(updateLogLevelCmd)
	rootCmd.AddCommand(networkCmd)
}

func runChurnFixed(cmd *cobra.Command, args []string) error {
	var opts churn.FixedIntervalOptions
	opts.Interval, _ = cmd.Flags().GetDuration("interval")
	opts.ConcurrentChurns, _ = cmd.Flags().GetInt("concurrent-churns")
	opts.RetainPeerID, _ = cmd.Flags().GetBool("retain-peer-id")
	opts.MaxChurnCycles, _ = cmd.Flags().GetInt("churn-cycles")
	opts.RestartDelay, _ = cmd.Flags().GetDuration("restart-delay")

	return withEnvironment(cmd, func(e *environment) error {
		inv, err := loadInventory(cmd, e, false)
		if err != nil {
			return err
		}
		serveMetrics(cmd)
		if err := churn.NewChurner(e.name, e.broker).FixedInterval(cmd.Context(), inv, opts); err != nil {
			return err
		}
		success("Churn of %s completed", e.name)
		return nil
	})
}

func runChurnRandom(cmd *cobra.Command, args []string) error {
	var opts churn.RandomIntervalOptions
	opts.TimeFrame, _ = cmd.Flags().GetDuration("time-frame")
	opts.ChurnCount, _ = cmd.Flags().GetInt("churn-count")
	opts.RetainPeerID, _ = cmd.Flags().GetBool("retain-peer-id")
	opts.MaxChurnCycles, _ = cmd.Flags().GetInt("churn-cycles")
	opts.RestartDelay, _ = cmd.Flags().GetDuration("restart-delay")

	return withEnvironment(cmd, func(e *environment) error {
		inv, err := loadInventory(cmd, e, false)
		if err != nil {
			return err
		}
		serveMetrics(cmd)
		if err := churn.NewChurner(e.name, e.broker).RandomInterval(cmd.Context(), inv, opts); err != nil {
			return err
		}
		success("Churn of %s completed", e.name)
		return nil
	})
}

func runUpdateLogLevel(cmd *cobra.Command, args []string) error {
	levels, _ := cmd.Flags().GetString("level")
	concurrency, _ := cmd.Flags().GetInt("concurrent-updates")

	return withEnvironment(cmd, func(e *environment) error {
		inv, err := loadInventory(cmd, e, false)
		if err != nil {
			return err
		}
		summary := churn.NewChurner(e.name, e.broker).UpdateNodeLogLevels(cmd.Context(), inv, levels, concurrency)
		if len(summary.Failed) > 0 {
			return fmt.Errorf("failed to update %d nodes: %w", len(summary.Failed), summary.LastError)
		}
		success("Updated the log levels of %d nodes", summary.Updated)
		return nil
	})
}
