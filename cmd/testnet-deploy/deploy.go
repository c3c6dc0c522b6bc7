package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/deploy"
	"github.com/cuemby/testnet-deploy/pkg/funding"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new network started from a genesis node",
	Long: `Create the infrastructure of an environment and provision a network on
it: an optional build VM, the genesis node, bootstrap, generic and private
nodes, then the faucet, RPC client, auditor and uploaders.

Running deploy again on an existing environment updates its node VMs and
leaves the auxiliary services alone.

Settings can be read from a YAML deployment file whose keys are flag names;
flags given on the command line take precedence.

Examples:
  # Deploy released binaries
  testnet-deploy deploy -n alpha --safenode-version 0.110.0 \
    --safenode-manager-version 0.10.0 --faucet-version 0.4.0 \
    --auditor-version 0.2.0 --safe-version 0.94.0

  # Deploy a branch with settings from a file
  testnet-deploy deploy -n beta -f beta.yml --branch main --repo-owner maidsafe`,
	RunE: runDeploy,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Deploy nodes that join an existing network",
	Long: `Create node VMs that join an existing network through --bootstrap-peer.
No genesis node or auxiliary services are deployed.`,
	RunE: runBootstrap,
}

func addDeploymentFlags(cmd *cobra.Command) {
	addNameFlag(cmd)
	addMetricsFlag(cmd)
	addBinaryFlags(cmd)
	addEvmFlags(cmd)

	cmd.Flags().String("environment-type", string(types.EnvironmentTypeDevelopment), "Environment type (development, staging, production)")
	cmd.Flags().String("region", "", "Region the VMs are created in (default from config)")
	cmd.Flags().Int("node-count", 0, "Generic node services per VM (default from environment type)")
	cmd.Flags().Int("private-node-count", 0, "Private node services per VM (default from environment type)")
	cmd.Flags().Int("node-vm-count", 0, "Generic node VMs")
	cmd.Flags().Int("private-node-vm-count", 0, "Private node VMs behind the NAT gateway")
	cmd.Flags().String("node-vm-size", "", "Size of the generic node VMs")
	cmd.Flags().StringSlice("env", nil, "KEY=VALUE environment variables for the node services")
	cmd.Flags().Duration("interval", provision.DefaultInterval, "Pause between node service operations on a VM")
	cmd.Flags().String("log-format", string(types.LogFormatDefault), "Node log format (default, json)")
	cmd.Flags().String("logstash-stack-name", "", "Ship node logs to this logstash stack")
	cmd.Flags().StringSlice("logstash-host", nil, "host:port of a logstash server")
	cmd.Flags().Int("max-archived-log-files", 5, "Archived log files kept per node")
	cmd.Flags().Int("max-log-files", 10, "Log files kept per node")
	cmd.Flags().Bool("public-rpc", false, "Expose the node RPC endpoints publicly")
	cmd.Flags().Uint8("network-id", 0, "Network ID the nodes use (unset means the default network)")
	cmd.Flags().String("rewards-address", "", "Address node rewards are paid to")
	cmd.Flags().Uint64("chunk-size", 0, "Chunk size the uploaders use")
	cmd.Flags().String("funding-wallet-secret-key", "", "Secret key of the wallet uploaders are funded from")
	cmd.Flags().Bool("force-inventory", true, "Regenerate the inventory from live state before deploying")
	cmd.Flags().Bool("notify", false, "Post a summary of the deployment to the configured Slack webhook")
	cmd.Flags().StringP("file", "f", "", "YAML deployment file; keys are flag names")
}

func init() {
	addDeploymentFlags(deployCmd)
	deployCmd.Flags().Int("bootstrap-node-count", 0, "Bootstrap node services per VM (default from environment type)")
	deployCmd.Flags().Int("bootstrap-node-vm-count", 0, "Bootstrap node VMs")
	deployCmd.Flags().String("bootstrap-node-vm-size", "", "Size of the bootstrap node VMs")
	deployCmd.Flags().Int("uploaders-count", 1, "Uploader services per uploader VM")
	deployCmd.Flags().Int("uploader-vm-count", 0, "Uploader VMs")
	deployCmd.Flags().String("uploader-vm-size", "", "Size of the uploader VMs")
	deployCmd.Flags().Int("downloaders-count", 0, "Downloader services per uploader VM")

	addDeploymentFlags(bootstrapCmd)
	bootstrapCmd.Flags().String("bootstrap-peer", "", "Multiaddr of a node in the network to join (required)")
	_ = bootstrapCmd.MarkFlagRequired("bootstrap-peer")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

// deployOptionsFromFlags builds DeployOptions from the flags, after the
// deployment file has been applied
func deployOptionsFromFlags(cmd *cobra.Command, e *environment) (deploy.DeployOptions, error) {
	var opts deploy.DeployOptions
	var err error

	if opts.BinaryOption, opts.SafeVersion, err = binaryOptionFromFlags(cmd); err != nil {
		return opts, err
	}
	envType, _ := cmd.Flags().GetString("environment-type")
	if opts.EnvironmentType, err = types.ParseEnvironmentType(envType); err != nil {
		return opts, err
	}
	if opts.Evm, err = evmDetailsFromFlags(cmd); err != nil {
		return opts, err
	}
	logFormat, _ := cmd.Flags().GetString("log-format")
	if opts.LogFormat, err = types.ParseLogFormat(logFormat); err != nil {
		return opts, err
	}
	if opts.Logstash, err = parseLogstash(cmd); err != nil {
		return opts, err
	}
	envPairs, _ := cmd.Flags().GetStringSlice("env")
	if opts.EnvVariables, err = parseEnvVariables(envPairs); err != nil {
		return opts, err
	}

	opts.Region, _ = cmd.Flags().GetString("region")
	if opts.Region == "" {
		opts.Region = e.cfg.Region
	}
	if cmd.Flags().Changed("network-id") {
		id, _ := cmd.Flags().GetUint8("network-id")
		opts.NetworkID = &id
	}
	opts.RewardsAddress, _ = cmd.Flags().GetString("rewards-address")
	opts.Interval, _ = cmd.Flags().GetDuration("interval")
	opts.MaxArchivedLogFiles, _ = cmd.Flags().GetInt("max-archived-log-files")
	opts.MaxLogFiles, _ = cmd.Flags().GetInt("max-log-files")
	opts.PublicRPC, _ = cmd.Flags().GetBool("public-rpc")
	opts.ChunkSize, _ = cmd.Flags().GetUint64("chunk-size")

	opts.NodeCount = countOrDefault(cmd, "node-count", opts.EnvironmentType.DefaultNodeCount())
	opts.PrivateNodeCount = countOrDefault(cmd, "private-node-count", opts.EnvironmentType.DefaultPrivateNodeCount())
	opts.NodeVMCount = optionalInt(cmd, "node-vm-count")
	opts.PrivateNodeVMCount = optionalInt(cmd, "private-node-vm-count")
	opts.NodeVMSize = optionalString(cmd, "node-vm-size")

	if cmd.Flags().Lookup("bootstrap-node-count") != nil {
		opts.BootstrapNodeCount = countOrDefault(cmd, "bootstrap-node-count", opts.EnvironmentType.DefaultBootstrapNodeCount())
		opts.BootstrapNodeVMCount = optionalInt(cmd, "bootstrap-node-vm-count")
		opts.BootstrapNodeVMSize = optionalString(cmd, "bootstrap-node-vm-size")
		opts.UploadersCount, _ = cmd.Flags().GetInt("uploaders-count")
		opts.UploaderVMCount = optionalInt(cmd, "uploader-vm-count")
		opts.UploaderVMSize = optionalString(cmd, "uploader-vm-size")
		opts.DownloadersCount, _ = cmd.Flags().GetInt("downloaders-count")
	}

	fundingKey, _ := cmd.Flags().GetString("funding-wallet-secret-key")
	if fundingKey != "" {
		key, err := funding.ParseKey(fundingKey)
		if err != nil {
			return opts, err
		}
		opts.FundingWalletAddress = funding.Address(key).Hex()
	}
	if f := funderFor(e, opts.Evm, funding.Options{FundingKey: fundingKey}); f != nil {
		e.deployer.WithFunder(f)
	}
	return opts, nil
}

func countOrDefault(cmd *cobra.Command, name string, def int) int {
	if !cmd.Flags().Changed(name) {
		return def
	}
	v, _ := cmd.Flags().GetInt(name)
	return v
}

// prepareDeployment opens the environment, applies the deployment file and
// loads the current inventory
func prepareDeployment(cmd *cobra.Command) (*environment, deploy.DeployOptions, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		if err := applyDeploymentFile(cmd, path); err != nil {
			return nil, deploy.DeployOptions{}, err
		}
	}

	e, err := openEnvironment(cmd.Context(), environmentName(cmd))
	if err != nil {
		return nil, deploy.DeployOptions{}, err
	}
	opts, err := deployOptionsFromFlags(cmd, e)
	if err != nil {
		e.Close()
		return nil, opts, err
	}
	if err := e.initWorkspace(cmd.Context()); err != nil {
		e.Close()
		return nil, opts, err
	}

	force, _ := cmd.Flags().GetBool("force-inventory")
	opts.CurrentInventory, err = e.inventory.GenerateOrRetrieve(cmd.Context(), e.name, force, opts.BinaryOption)
	if err != nil {
		e.Close()
		return nil, opts, err
	}
	return e, opts, nil
}

// finishDeployment regenerates the inventory, prints it and optionally notifies Slack
func finishDeployment(cmd *cobra.Command, e *environment, opts deploy.DeployOptions, started time.Time) error {
	inv, err := e.inventory.GenerateOrRetrieve(cmd.Context(), e.name, true, opts.BinaryOption)
	if err != nil {
		return err
	}
	inv.PrintReport(os.Stdout)

	if notify, _ := cmd.Flags().GetBool("notify"); notify {
		client := &http.Client{Timeout: 30 * time.Second}
		if err := deploy.NotifySlack(cmd.Context(), client, e.cfg.Credentials.SlackWebhookURL, inv); err != nil {
			return err
		}
		success("Posted deployment summary to Slack")
	}
	success("Environment %s deployed in %s", e.name, time.Since(started).Round(time.Second))
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	started := time.Now()
	e, opts, err := prepareDeployment(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	serveMetrics(cmd)

	if err := e.deployer.Deploy(cmd.Context(), opts); err != nil {
		return fmt.Errorf("deployment failed: %w", err)
	}
	return finishDeployment(cmd, e, opts, started)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	started := time.Now()
	e, opts, err := prepareDeployment(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	serveMetrics(cmd)

	peer, _ := cmd.Flags().GetString("bootstrap-peer")
	if err := e.deployer.Bootstrap(cmd.Context(), peer, opts); err != nil {
		return fmt.Errorf("bootstrap deployment failed: %w", err)
	}
	return finishDeployment(cmd, e, opts, started)
}

// loadInventory returns the environment's inventory, failing when it was never deployed
func loadInventory(cmd *cobra.Command, e *environment, force bool) (*inventory.DeploymentInventory, error) {
	inv, err := e.currentInventory(cmd.Context(), force)
	if err != nil {
		return nil, err
	}
	if inv.IsEmpty() {
		return nil, fmt.Errorf("environment %s has no deployed VMs", e.name)
	}
	return inv, nil
}
