package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/blang/semver/v4"
	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node services of an environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, false)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the node services of an environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLifecycle(cmd, true)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the node services of an environment and a summary",
	RunE:  runStatus,
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the node services of an environment",
	Long: `Upgrade node services to a released version, restarting each one.

Examples:
  # Upgrade every node, genesis last
  testnet-deploy upgrade -n alpha --version 0.110.1

  # Upgrade only the peer cache nodes
  testnet-deploy upgrade -n alpha --version 0.110.1 --node-type peer-cache`,
	RunE: runUpgrade,
}

var upgradeNodeManagerCmd = &cobra.Command{
	Use:   "node-manager",
	Short: "Install a node manager release on the node VMs",
	RunE:  runUpgradeNodeManager,
}

var upgradeFaucetCmd = &cobra.Command{
	Use:   "faucet",
	Short: "Replace the faucet binary on the genesis VM",
	RunE:  runUpgradeFaucet,
}

var telegrafCmd = &cobra.Command{
	Use:   "telegraf",
	Short: "Manage the metrics agent on the VMs",
}

var telegrafStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the metrics agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTelegraf(cmd, true)
	},
}

var telegrafStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the metrics agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTelegraf(cmd, false)
	},
}

var telegrafUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Rewrite the metrics agent configuration",
	RunE:  runTelegrafUpgrade,
}

var uploadersCmd = &cobra.Command{
	Use:   "uploaders",
	Short: "Manage the uploader services",
}

var uploadersStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the uploader services",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploaders(cmd, true)
	},
}

var uploadersStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the uploader services",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploaders(cmd, false)
	},
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-type", "", "Only target one node type (genesis, peer-cache, bootstrap, generic, private)")
	cmd.Flags().StringSlice("custom-inventory", nil, "Only target these VMs, by name")
	cmd.MarkFlagsMutuallyExclusive("node-type", "custom-inventory")
}

func init() {
	for _, cmd := range []*cobra.Command{startCmd, stopCmd} {
		addNameFlag(cmd)
		addTargetFlags(cmd)
		cmd.Flags().Duration("interval", provision.DefaultInterval, "Pause between node service operations on a VM")
	}
	stopCmd.Flags().Duration("delay", 0, "Pause before stopping each service")
	stopCmd.Flags().StringSlice("service-name", nil, "Only stop these services, e.g. antnode3")

	addNameFlag(statusCmd)
	statusCmd.Flags().Bool("force-regeneration", false, "Rebuild the inventory from live state first")

	addNameFlag(upgradeCmd)
	addTargetFlags(upgradeCmd)
	upgradeCmd.Flags().String("version", "", "Node version to upgrade to (default the latest release)")
	upgradeCmd.Flags().Bool("force", false, "Upgrade even when the version is not newer")
	upgradeCmd.Flags().Duration("interval", provision.DefaultInterval, "Pause between node upgrades on a VM")
	upgradeCmd.Flags().Duration("pre-upgrade-delay", 0, "Pause before each node is upgraded")
	upgradeCmd.Flags().StringSlice("env", nil, "KEY=VALUE environment variables for the upgraded services")

	addNameFlag(upgradeNodeManagerCmd)
	addTargetFlags(upgradeNodeManagerCmd)
	upgradeNodeManagerCmd.Flags().String("version", "", "Node manager version (required)")
	_ = upgradeNodeManagerCmd.MarkFlagRequired("version")

	addNameFlag(upgradeFaucetCmd)
	upgradeFaucetCmd.Flags().String("version", "", "Faucet version (required)")
	_ = upgradeFaucetCmd.MarkFlagRequired("version")

	upgradeCmd.AddCommand(upgradeNodeManagerCmd)
	upgradeCmd.AddCommand(upgradeFaucetCmd)

	for _, cmd := range []*cobra.Command{telegrafStartCmd, telegrafStopCmd} {
		addNameFlag(cmd)
		addTargetFlags(cmd)
	}
	addNameFlag(telegrafUpgradeCmd)
	telegrafUpgradeCmd.Flags().Bool("uploaders", false, "Upgrade the uploader configuration instead of the node configuration")
	telegrafCmd.AddCommand(telegrafStartCmd)
	telegrafCmd.AddCommand(telegrafStopCmd)
	telegrafCmd.AddCommand(telegrafUpgradeCmd)

	for _, cmd := range []*cobra.Command{uploadersStartCmd, uploadersStopCmd} {
		addNameFlag(cmd)
		cmd.Flags().Int("uploaders-count", 1, "Uploader services per VM")
		cmd.Flags().Bool("skip-err", false, "Ignore uploader services that fail to change state")
	}
	uploadersCmd.AddCommand(uploadersStartCmd)
	uploadersCmd.AddCommand(uploadersStopCmd)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(telegrafCmd)
	rootCmd.AddCommand(uploadersCmd)
}

// prepareNodes loads the inventory and routes SSH to the private nodes
// through the NAT gateway
func prepareNodes(cmd *cobra.Command, e *environment, force bool) (*inventory.DeploymentInventory, error) {
	inv, err := loadInventory(cmd, e, force)
	if err != nil {
		return nil, err
	}
	if inv.NatGatewayVM != nil && len(inv.PrivateNodeVMs) > 0 {
		if err := e.provisioner.RoutePrivateNodes(cmd.Context(), inv.NatGatewayVM); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// targetFromFlags resolves --node-type or --custom-inventory
func targetFromFlags(cmd *cobra.Command, e *environment) (provision.Target, error) {
	var target provision.Target
	if s, _ := cmd.Flags().GetString("node-type"); s != "" {
		nodeType, err := types.ParseNodeType(s)
		if err != nil {
			return target, err
		}
		target.NodeType = &nodeType
		return target, nil
	}

	names, _ := cmd.Flags().GetStringSlice("custom-inventory")
	if len(names) == 0 {
		return target, nil
	}
	inv, err := loadInventory(cmd, e, false)
	if err != nil {
		return target, err
	}
	vms := inv.VMList()
	for _, name := range names {
		i := slices.IndexFunc(vms, func(vm types.VirtualMachine) bool { return vm.Name == name })
		if i < 0 {
			return target, fmt.Errorf("VM %s is not in the inventory of %s", name, e.name)
		}
		target.CustomVMs = append(target.CustomVMs, vms[i])
	}
	return target, nil
}

func runLifecycle(cmd *cobra.Command, stop bool) error {
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		target, err := targetFromFlags(cmd, e)
		if err != nil {
			return err
		}
		opts := provision.LifecycleOptions{Target: target}
		opts.Interval, _ = cmd.Flags().GetDuration("interval")

		if !stop {
			if err := e.provisioner.StartNodes(cmd.Context(), opts); err != nil {
				return err
			}
			success("Started nodes in %s", e.name)
			return nil
		}
		opts.Delay, _ = cmd.Flags().GetDuration("delay")
		opts.ServiceNames, _ = cmd.Flags().GetStringSlice("service-name")
		if err := e.provisioner.StopNodes(cmd.Context(), opts); err != nil {
			return err
		}
		success("Stopped nodes in %s", e.name)
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force-regeneration")
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, force); err != nil {
			return err
		}
		summary, err := e.deployer.Status(cmd.Context())
		if err != nil {
			return err
		}
		summary.Print(cmd.OutOrStdout())
		return nil
	})
}

func requiredVersionFlag(cmd *cobra.Command) (*semver.Version, error) {
	v, err := parseVersionFlag(cmd)
	if err == nil && v == nil {
		return nil, fmt.Errorf("--version is required")
	}
	return v, err
}

func parseVersionFlag(cmd *cobra.Command) (*semver.Version, error) {
	s, _ := cmd.Flags().GetString("version")
	if s == "" {
		return nil, nil
	}
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return &v, nil
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	version, err := parseVersionFlag(cmd)
	if err != nil {
		return err
	}
	envPairs, _ := cmd.Flags().GetStringSlice("env")
	envVars, err := parseEnvVariables(envPairs)
	if err != nil {
		return err
	}

	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		target, err := targetFromFlags(cmd, e)
		if err != nil {
			return err
		}
		opts := provision.UpgradeOptions{Target: target, Version: version, EnvVariables: envVars}
		opts.Force, _ = cmd.Flags().GetBool("force")
		opts.Interval, _ = cmd.Flags().GetDuration("interval")
		opts.PreUpgradeDelay, _ = cmd.Flags().GetDuration("pre-upgrade-delay")

		started := time.Now()
		if err := e.provisioner.UpgradeNodes(cmd.Context(), opts); err != nil {
			return err
		}
		// node versions changed, so the cached inventory is stale
		if _, err := e.currentInventory(cmd.Context(), true); err != nil {
			return err
		}
		success("Upgraded nodes in %s in %s", e.name, time.Since(started).Round(time.Second))
		return nil
	})
}

func runUpgradeNodeManager(cmd *cobra.Command, args []string) error {
	version, err := requiredVersionFlag(cmd)
	if err != nil {
		return err
	}
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		target, err := targetFromFlags(cmd, e)
		if err != nil {
			return err
		}
		if err := e.provisioner.UpgradeNodeManager(cmd.Context(), *version, target); err != nil {
			return err
		}
		success("Upgraded the node manager in %s to %s", e.name, version)
		return nil
	})
}

func runUpgradeFaucet(cmd *cobra.Command, args []string) error {
	version, err := requiredVersionFlag(cmd)
	if err != nil {
		return err
	}
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := loadInventory(cmd, e, false); err != nil {
			return err
		}
		if err := e.provisioner.UpgradeFaucet(cmd.Context(), *version); err != nil {
			return err
		}
		success("Upgraded the faucet in %s to %s", e.name, version)
		return nil
	})
}

func runTelegraf(cmd *cobra.Command, start bool) error {
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		target, err := targetFromFlags(cmd, e)
		if err != nil {
			return err
		}
		if start {
			if err := e.provisioner.StartTelegraf(cmd.Context(), target); err != nil {
				return err
			}
			success("Started telegraf in %s", e.name)
			return nil
		}
		if err := e.provisioner.StopTelegraf(cmd.Context(), target); err != nil {
			return err
		}
		success("Stopped telegraf in %s", e.name)
		return nil
	})
}

func runTelegrafUpgrade(cmd *cobra.Command, args []string) error {
	uploaders, _ := cmd.Flags().GetBool("uploaders")
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		if uploaders {
			if err := e.provisioner.UpgradeUploaderTelegrafConfig(cmd.Context(), e.name); err != nil {
				return err
			}
			success("Upgraded the uploader telegraf configuration in %s", e.name)
			return nil
		}
		if err := e.provisioner.UpgradeNodeTelegrafConfig(cmd.Context(), e.name); err != nil {
			return err
		}
		success("Upgraded the node telegraf configuration in %s", e.name)
		return nil
	})
}

func runUploaders(cmd *cobra.Command, start bool) error {
	var opts provision.UploaderOptions
	opts.UploadersCount, _ = cmd.Flags().GetInt("uploaders-count")
	opts.SkipErr, _ = cmd.Flags().GetBool("skip-err")

	return withEnvironment(cmd, func(e *environment) error {
		if _, err := loadInventory(cmd, e, false); err != nil {
			return err
		}
		if start {
			if err := e.provisioner.StartUploaders(cmd.Context(), opts); err != nil {
				return err
			}
			success("Started uploaders in %s", e.name)
			return nil
		}
		if err := e.provisioner.StopUploaders(cmd.Context(), opts); err != nil {
			return err
		}
		success("Stopped uploaders in %s", e.name)
		return nil
	})
}
