package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/config"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/logs"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage the object store holding environment records",
}

var storageMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy environment records between a local bolt file and the configured store",
	Long: `Copy the environment details records, and optionally the shipped logs,
from a local bolt database into the configured object store, or back with
--to-bolt. Source objects are left in place.

Examples:
  # Push records kept in a local database to S3
  testnet-deploy storage migrate --bolt-path ~/.local/share/testnet-deploy/objects.db

  # Show what would be copied
  testnet-deploy storage migrate --bolt-path ./objects.db --dry-run`,
	RunE: runStorageMigrate,
}

func init() {
	storageMigrateCmd.Flags().String("bolt-path", "", "Local bolt database (required)")
	storageMigrateCmd.Flags().Bool("to-bolt", false, "Copy from the configured store into the bolt database")
	storageMigrateCmd.Flags().Bool("include-logs", false, "Also copy the shipped logs")
	storageMigrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	_ = storageMigrateCmd.MarkFlagRequired("bolt-path")

	storageCmd.AddCommand(storageMigrateCmd)
	rootCmd.AddCommand(storageCmd)
}

func validateEnvironmentDetails(key string, data []byte) error {
	var details types.EnvironmentDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return fmt.Errorf("invalid environment details: %w", err)
	}
	if _, err := types.ParseDeploymentType(string(details.DeploymentType)); err != nil {
		return err
	}
	return nil
}

func runStorageMigrate(cmd *cobra.Command, args []string) error {
	boltPath, _ := cmd.Flags().GetString("bolt-path")
	toBolt, _ := cmd.Flags().GetBool("to-bolt")
	includeLogs, _ := cmd.Flags().GetBool("include-logs")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	remote, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}
	defer remote.Close()

	local, err := storage.NewBoltStore(boltPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", boltPath, err)
	}
	defer local.Close()

	var src, dst storage.ObjectStore = local, remote
	if toBolt {
		src, dst = remote, local
	}

	out := cmd.OutOrStdout()
	if _, err := storage.Migrate(cmd.Context(), src, dst, inventory.EnvironmentDetailsBucket, storage.MigrateOptions{
		DryRun:   dryRun,
		Validate: validateEnvironmentDetails,
		Out:      out,
	}); err != nil {
		return err
	}
	if includeLogs {
		if _, err := storage.Migrate(cmd.Context(), src, dst, logs.Bucket, storage.MigrateOptions{
			Prefix: "testnet-logs/",
			DryRun: dryRun,
			Out:    out,
		}); err != nil {
			return err
		}
	}
	if dryRun {
		fmt.Fprintln(out, "Dry run completed. No changes made.")
	}
	return nil
}
