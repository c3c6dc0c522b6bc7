package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/deploy"
	"github.com/cuemby/testnet-deploy/pkg/funding"
	"github.com/cuemby/testnet-deploy/pkg/provision"
)

var upscaleCmd = &cobra.Command{
	Use:   "upscale",
	Short: "Grow a deployed environment",
	Long: `Grow the VM and node service counts of a deployed environment. Counts
can only increase; unset counts keep their current value. Only the new VMs
are provisioned.

Examples:
  # Add two node VMs and go to 30 nodes per VM
  testnet-deploy upscale -n alpha --desired-node-vm-count 12 --desired-node-count 30

  # Preview the infrastructure change
  testnet-deploy upscale -n alpha --desired-node-vm-count 12 --plan`,
	RunE: runUpscale,
}

var uploadersUpscaleCmd = &cobra.Command{
	Use:   "upscale",
	Short: "Grow the uploader VMs and services of a deployed environment",
	RunE:  runUpscaleUploaders,
}

func addUpscaleFlags(cmd *cobra.Command) {
	addNameFlag(cmd)
	addMetricsFlag(cmd)
	cmd.Flags().Int("desired-uploader-vm-count", 0, "Uploader VMs after the upscale")
	cmd.Flags().Int("desired-uploaders-count", 0, "Uploader services per VM after the upscale")
	cmd.Flags().Int("downloaders-count", 0, "Downloader services per uploader VM")
	cmd.Flags().String("safe-version", "", "Released version of the client binary for new uploaders")
	cmd.Flags().String("funding-wallet-secret-key", "", "Secret key of the wallet new uploaders are funded from")
	cmd.Flags().Bool("plan", false, "Print the terraform plan for the new counts and stop")
	cmd.Flags().Bool("infra-only", false, "Stop after the infrastructure has been updated")
	cmd.Flags().Bool("provision-only", false, "Skip the infrastructure update")
	cmd.MarkFlagsMutuallyExclusive("infra-only", "provision-only")
}

func init() {
	addUpscaleFlags(upscaleCmd)
	upscaleCmd.Flags().Int("desired-auditor-vm-count", 0, "Auditor VMs after the upscale")
	upscaleCmd.Flags().Int("desired-bootstrap-node-count", 0, "Bootstrap node services per VM after the upscale")
	upscaleCmd.Flags().Int("desired-bootstrap-node-vm-count", 0, "Bootstrap node VMs after the upscale")
	upscaleCmd.Flags().Int("desired-node-count", 0, "Generic node services per VM after the upscale")
	upscaleCmd.Flags().Int("desired-node-vm-count", 0, "Generic node VMs after the upscale")
	upscaleCmd.Flags().Int("desired-private-node-count", 0, "Private node services per VM after the upscale")
	upscaleCmd.Flags().Int("desired-private-node-vm-count", 0, "Private node VMs after the upscale")
	upscaleCmd.Flags().Duration("interval", provision.DefaultInterval, "Pause between node service operations on a VM")
	upscaleCmd.Flags().Int("max-archived-log-files", 5, "Archived log files kept per node")
	upscaleCmd.Flags().Int("max-log-files", 10, "Log files kept per node")
	upscaleCmd.Flags().Bool("public-rpc", false, "Expose the node RPC endpoints publicly")

	addUpscaleFlags(uploadersUpscaleCmd)
	uploadersCmd.AddCommand(uploadersUpscaleCmd)

	rootCmd.AddCommand(upscaleCmd)
}

func upscaleOptionsFromFlags(cmd *cobra.Command) deploy.UpscaleOptions {
	var o deploy.UpscaleOptions
	o.DesiredUploaderVMCount = optionalInt(cmd, "desired-uploader-vm-count")
	o.DesiredUploadersCount = optionalInt(cmd, "desired-uploaders-count")
	o.DownloadersCount, _ = cmd.Flags().GetInt("downloaders-count")
	o.SafeVersion, _ = cmd.Flags().GetString("safe-version")
	o.Plan, _ = cmd.Flags().GetBool("plan")
	o.InfraOnly, _ = cmd.Flags().GetBool("infra-only")
	o.ProvisionOnly, _ = cmd.Flags().GetBool("provision-only")

	if cmd.Flags().Lookup("desired-node-count") == nil {
		return o
	}
	o.DesiredAuditorVMCount = optionalInt(cmd, "desired-auditor-vm-count")
	o.DesiredBootstrapNodeCount = optionalInt(cmd, "desired-bootstrap-node-count")
	o.DesiredBootstrapNodeVMCount = optionalInt(cmd, "desired-bootstrap-node-vm-count")
	o.DesiredNodeCount = optionalInt(cmd, "desired-node-count")
	o.DesiredNodeVMCount = optionalInt(cmd, "desired-node-vm-count")
	o.DesiredPrivateNodeCount = optionalInt(cmd, "desired-private-node-count")
	o.DesiredPrivateNodeVMCount = optionalInt(cmd, "desired-private-node-vm-count")
	o.Interval, _ = cmd.Flags().GetDuration("interval")
	o.MaxArchivedLogFiles, _ = cmd.Flags().GetInt("max-archived-log-files")
	o.MaxLogFiles, _ = cmd.Flags().GetInt("max-log-files")
	o.PublicRPC, _ = cmd.Flags().GetBool("public-rpc")
	return o
}

// prepareUpscale opens the environment and regenerates its inventory from
// live state, since upscaling is measured against what is running
func prepareUpscale(cmd *cobra.Command) (*environment, deploy.UpscaleOptions, error) {
	o := upscaleOptionsFromFlags(cmd)
	e, err := openEnvironment(cmd.Context(), environmentName(cmd))
	if err != nil {
		return nil, o, err
	}
	if o.CurrentInventory, err = loadInventory(cmd, e, true); err != nil {
		e.Close()
		return nil, o, err
	}
	if details := o.CurrentInventory.EnvironmentDetails; details != nil {
		key, _ := cmd.Flags().GetString("funding-wallet-secret-key")
		if f := funderFor(e, details.EvmDetails, funding.Options{FundingKey: key}); f != nil {
			e.deployer.WithFunder(f)
		}
	}
	return e, o, nil
}

func runUpscale(cmd *cobra.Command, args []string) error {
	e, o, err := prepareUpscale(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	serveMetrics(cmd)

	if err := e.deployer.Upscale(cmd.Context(), o); err != nil {
		return err
	}
	if o.Plan {
		return nil
	}
	inv, err := e.currentInventory(cmd.Context(), true)
	if err != nil {
		return err
	}
	inv.PrintReport(cmd.OutOrStdout())
	success("Environment %s upscaled", e.name)
	return nil
}

func runUpscaleUploaders(cmd *cobra.Command, args []string) error {
	e, o, err := prepareUpscale(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	serveMetrics(cmd)

	if err := e.deployer.UpscaleUploaders(cmd.Context(), o); err != nil {
		return err
	}
	if !o.Plan {
		success("Uploaders of %s upscaled", e.name)
	}
	return nil
}
