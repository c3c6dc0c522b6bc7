package deploy

import (
	"context"
	"fmt"
	"slices"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// Clean tears an environment down: uploader funds are drained, the
// infrastructure destroyed, the workspace deleted and the local and remote
// records removed. Missing environment details do not stop the cleanup.
func (d *Deployer) Clean(ctx context.Context) error {
	logger := log.WithEnvironment(d.name)

	workspaces, err := d.infra.WorkspaceList(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(workspaces, d.name) {
		return &ansible.EnvironmentDoesNotExistError{Name: d.name}
	}

	details, err := inventory.GetEnvironmentDetails(ctx, d.store, d.name)
	if err != nil {
		fmt.Fprintf(d.out, "Failed to get environment details: %v. Continuing cleanup...\n", err)
		details = nil
	}

	if details != nil && d.funder != nil {
		vms, err := d.provisioner.Ansible().GetInventory(ctx, types.InventoryUploaders, false)
		if err != nil {
			return err
		}
		if len(vms) > 0 {
			if err := d.funder.DrainFunds(ctx, vms); err != nil {
				return fmt.Errorf("failed to drain funds: %w", err)
			}
		}
	}

	if err := d.destroyInfra(ctx, details); err != nil {
		return err
	}

	if err := d.inventory.CleanupInventory(d.name); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "Deleted Ansible inventory for %s\n", d.name)

	if err := inventory.DeleteEnvironmentDetails(ctx, d.store, d.name); err != nil {
		fmt.Fprintf(d.out, "Failed to delete environment type: %v. Continuing cleanup...\n", err)
	}
	logger.Info().Msg("Environment cleaned")
	return nil
}

// destroyInfra destroys with the tfvars the environment was applied with
func (d *Deployer) destroyInfra(ctx context.Context, details *types.EnvironmentDetails) error {
	if err := d.infra.WorkspaceSelect(ctx, d.name); err != nil {
		return err
	}

	tfvars := types.EnvironmentTypeDevelopment.TfvarsFilename(d.name, d.terraformDir)
	if details != nil {
		tfvars = details.EnvironmentType.TfvarsFilename(d.name, d.terraformDir)
	}

	fmt.Fprintln(d.out, "Running terraform destroy...")
	timer := metrics.NewTimer()
	err := d.infra.Destroy(ctx, tfvars)
	timer.ObserveDurationVec(metrics.PhaseDuration, "destroy", metrics.Result(err))
	if err != nil {
		return err
	}

	if err := d.infra.WorkspaceSelect(ctx, "default"); err != nil {
		return err
	}
	return d.infra.WorkspaceDelete(ctx, d.name)
}
