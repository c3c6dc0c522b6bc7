package main

import (
	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/funding"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Print the inventory of an environment",
	Long: `Print the VMs, node peers and endpoints of an environment. The inventory
is cached in the data directory; --force-regeneration rebuilds it from the
live infrastructure and node registries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force-regeneration")
		return withEnvironment(cmd, func(e *environment) error {
			inv, err := e.currentInventory(cmd.Context(), force)
			if err != nil {
				return err
			}
			inv.PrintReport(cmd.OutOrStdout())
			return nil
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Tear an environment down",
	Long: `Drain the uploader wallets, destroy the infrastructure, delete the
terraform workspace and remove the local inventory and the recorded
environment details.`,
	RunE: runClean,
}

func init() {
	addNameFlag(inventoryCmd)
	inventoryCmd.Flags().Bool("force-regeneration", false, "Rebuild the inventory from live state")

	addNameFlag(cleanCmd)
	cleanCmd.Flags().String("funding-wallet-secret-key", "", "Secret key of the funding wallet the uploaders are drained to")

	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(cleanCmd)
}

// withEnvironment opens the named environment for the duration of fn
func withEnvironment(cmd *cobra.Command, fn func(e *environment) error) error {
	e, err := openEnvironment(cmd.Context(), environmentName(cmd))
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}

func runClean(cmd *cobra.Command, args []string) error {
	return withEnvironment(cmd, func(e *environment) error {
		if err := e.terraform.Init(cmd.Context()); err != nil {
			return err
		}
		details, err := inventory.GetEnvironmentDetails(cmd.Context(), e.store, e.name)
		if err == nil && details.EvmDetails.Network != types.EvmNetworkAnvil {
			key, _ := cmd.Flags().GetString("funding-wallet-secret-key")
			if f := funderFor(e, details.EvmDetails, funding.Options{FundingKey: key}); f != nil {
				e.deployer.WithFunder(f)
			}
		}
		if err := e.deployer.Clean(cmd.Context()); err != nil {
			return err
		}
		success("Environment %s cleaned", e.name)
		return nil
	})
}
