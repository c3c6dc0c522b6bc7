package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/logs"
)

const logsRoot = "logs"

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Retrieve and manage the logs of an environment",
}

var logsRsyncCmd = &cobra.Command{
	Use:   "rsync",
	Short: "Copy the logs of every VM into ./logs/<name>",
	Long: `Copy the node and uploader logs of every VM into ./logs/<name>/<vm>.
Rerunning the command only transfers what changed.`,
	RunE: runLogsRsync,
}

var logsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Download the logs the VMs shipped to the object store",
	RunE:  runLogsGet,
}

var logsReassembleCmd = &cobra.Command{
	Use:   "reassemble",
	Short: "Join the downloaded log parts into one file per node",
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := logs.NewRetriever(nil, nil, "", logsRoot).Reassemble(environmentName(cmd))
		if err != nil {
			return err
		}
		success("Reassembled logs written to %s", dest)
		return nil
	},
}

var logsRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Delete the logs of an environment",
	RunE:  runLogsRm,
}

var logsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove rotated node logs on the VMs",
	RunE:  runLogsCleanup,
}

var logsCopyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Archive the node logs on each VM and fetch the archives",
	RunE:  runLogsCopy,
}

func init() {
	for _, cmd := range []*cobra.Command{logsRsyncCmd, logsGetCmd, logsReassembleCmd, logsRmCmd, logsCleanupCmd, logsCopyCmd} {
		addNameFlag(cmd)
		logsCmd.AddCommand(cmd)
	}
	logsRsyncCmd.Flags().String("vm-filter", "", "Only sync VMs whose name contains this")
	logsRsyncCmd.Flags().Bool("disable-uploader-logs", false, "Skip the uploader VMs")
	logsRmCmd.Flags().Bool("remote", false, "Delete the shipped logs from the object store instead of the local copy")
	logsCleanupCmd.Flags().Bool("setup-cron", false, "Install a cron job that keeps removing rotated logs")
	logsCopyCmd.Flags().Bool("resources-only", false, "Only fetch the resource usage logs")

	rootCmd.AddCommand(logsCmd)
}

func newRetriever(e *environment) *logs.Retriever {
	return logs.NewRetriever(e.runner, e.store, e.cfg.SSHKeyPath, logsRoot).WithRoutes(e.provisioner.Routes())
}

func runLogsRsync(cmd *cobra.Command, args []string) error {
	var opts logs.RsyncOptions
	opts.VMFilter, _ = cmd.Flags().GetString("vm-filter")
	opts.DisableUploaderLogs, _ = cmd.Flags().GetBool("disable-uploader-logs")

	return withEnvironment(cmd, func(e *environment) error {
		inv, err := prepareNodes(cmd, e, false)
		if err != nil {
			return err
		}
		result, err := newRetriever(e).Rsync(cmd.Context(), e.name, inv.VMList(), opts)
		if err != nil {
			return err
		}
		if len(result.Failed) == 0 {
			success("Synced logs from %d VMs", result.Synced)
		}
		return nil
	})
}

func runLogsGet(cmd *cobra.Command, args []string) error {
	return withEnvironment(cmd, func(e *environment) error {
		n, err := newRetriever(e).Download(cmd.Context(), e.name)
		if err != nil {
			return err
		}
		success("Downloaded %d log files", n)
		return nil
	})
}

func runLogsRm(cmd *cobra.Command, args []string) error {
	remote, _ := cmd.Flags().GetBool("remote")
	if !remote {
		return logs.NewRetriever(nil, nil, "", logsRoot).Remove(environmentName(cmd))
	}
	return withEnvironment(cmd, func(e *environment) error {
		return newRetriever(e).DeleteRemote(cmd.Context(), e.name)
	})
}

func runLogsCleanup(cmd *cobra.Command, args []string) error {
	setupCron, _ := cmd.Flags().GetBool("setup-cron")
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		if err := e.provisioner.CleanupNodeLogs(cmd.Context(), setupCron); err != nil {
			return err
		}
		success("Cleaned up node logs in %s", e.name)
		return nil
	})
}

func runLogsCopy(cmd *cobra.Command, args []string) error {
	resourcesOnly, _ := cmd.Flags().GetBool("resources-only")
	return withEnvironment(cmd, func(e *environment) error {
		if _, err := prepareNodes(cmd, e, false); err != nil {
			return err
		}
		if err := e.provisioner.CopyLogs(cmd.Context(), e.name, resourcesOnly); err != nil {
			return err
		}
		success("Copied node logs of %s", e.name)
		return nil
	})
}
