package provision

import (
	"context"
	"fmt"

	"github.com/blang/semver/v4"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// resolveTarget returns the inventory groups a targeted playbook runs
// against, generating the custom inventory when VMs were named.
func (p *Provisioner) resolveTarget(target Target, action string) ([]types.InventoryType, error) {
	if target.NodeType != nil {
		fmt.Printf("Running the %s playbook for %s nodes\n", action, target.NodeType)
		return []types.InventoryType{target.NodeType.InventoryType()}, nil
	}
	if len(target.CustomVMs) > 0 {
		fmt.Printf("Running the %s playbook with a custom inventory\n", action)
		if err := ansible.GenerateCustomInventory(p.environment(), p.ansible.Provider(), p.ansible.InventoryDir(), target.CustomVMs); err != nil {
			return nil, err
		}
		return []types.InventoryType{types.InventoryCustom}, nil
	}
	fmt.Printf("Running the %s playbook for all node types\n", action)
	return types.NodeInventoryTypes, nil
}

func (p *Provisioner) runTargeted(ctx context.Context, playbook ansible.Playbook, target Target, action, vars string) error {
	groups, err := p.resolveTarget(target, action)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if err := p.ansible.RunPlaybook(ctx, playbook, group, vars); err != nil {
			return err
		}
	}
	return nil
}

// StartNodes starts node services
func (p *Provisioner) StartNodes(ctx context.Context, opts LifecycleOptions) error {
	vars, err := BuildLifecycleExtraVars(opts, false)
	if err != nil {
		return err
	}
	return p.runTargeted(ctx, ansible.PlaybookStartNodes, opts.Target, "start nodes", vars)
}

// StopNodes stops node services, optionally only the named ones
func (p *Provisioner) StopNodes(ctx context.Context, opts LifecycleOptions) error {
	vars, err := BuildLifecycleExtraVars(opts, true)
	if err != nil {
		return err
	}
	return p.runTargeted(ctx, ansible.PlaybookStopNodes, opts.Target, "stop nodes", vars)
}

// StartTelegraf starts the metrics agent
func (p *Provisioner) StartTelegraf(ctx context.Context, target Target) error {
	return p.runTargeted(ctx, ansible.PlaybookStartTelegraf, target, "start telegraf", "")
}

// StopTelegraf stops the metrics agent
func (p *Provisioner) StopTelegraf(ctx context.Context, target Target) error {
	return p.runTargeted(ctx, ansible.PlaybookStopTelegraf, target, "stop telegraf", "")
}

// Status prints the node services on every node VM
func (p *Provisioner) Status(ctx context.Context) error {
	for _, group := range types.NodeInventoryTypes {
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookNodeStatus, group, ""); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeNodes upgrades node services. Failures are reported as warnings,
// since some nodes not restarting does not invalidate the network. When every
// group is targeted the genesis node goes last.
func (p *Provisioner) UpgradeNodes(ctx context.Context, opts UpgradeOptions) error {
	vars, err := BuildUpgradeNodesExtraVars(opts)
	if err != nil {
		return err
	}

	if opts.NodeType != nil || len(opts.CustomVMs) > 0 {
		groups, err := p.resolveTarget(opts.Target, "upgrade nodes")
		if err != nil {
			return err
		}
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookUpgradeNodes, groups[0], vars); err != nil {
			fmt.Println("WARNING: some nodes may not have been upgraded or restarted")
			return nil
		}
		fmt.Println("All nodes were successfully upgraded")
		return nil
	}

	fmt.Println("Running the upgrade nodes playbook for all node types")
	for _, group := range []types.InventoryType{
		types.InventoryPeerCacheNodes,
		types.InventoryNodes,
		types.InventoryPrivateNodes,
		types.InventoryGenesis,
	} {
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookUpgradeNodes, group, vars); err != nil {
			fmt.Printf("WARNING: some %s nodes may not have been upgraded or restarted\n", group)
			continue
		}
		fmt.Printf("All %s nodes were successfully upgraded\n", group)
	}
	return nil
}

// UpgradeNodeManager installs a node manager release on the targeted VMs
func (p *Provisioner) UpgradeNodeManager(ctx context.Context, version semver.Version, target Target) error {
	vars, err := ansible.NewExtraVars().AddVariable("version", version.String()).Build()
	if err != nil {
		return err
	}
	return p.runTargeted(ctx, ansible.PlaybookUpgradeNodeManager, target, "upgrade node manager", vars)
}

// UpgradeFaucet replaces the faucet binary on the genesis VM
func (p *Provisioner) UpgradeFaucet(ctx context.Context, version semver.Version) error {
	vars, err := ansible.NewExtraVars().AddVariable("version", version.String()).Build()
	if err != nil {
		return err
	}
	PrintBanner("Upgrade Faucet")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookUpgradeFaucet, types.InventoryGenesis, vars)
}

// UpgradeNodeTelegrafConfig rewrites the metrics agent config on every node group
func (p *Provisioner) UpgradeNodeTelegrafConfig(ctx context.Context, name string) error {
	for _, nodeType := range []types.NodeType{
		types.NodeTypeGenesis,
		types.NodeTypePeerCache,
		types.NodeTypeGeneric,
		types.NodeTypePrivate,
	} {
		vars, err := BuildTelegrafUpgradeExtraVars(name, nodeType)
		if err != nil {
			return err
		}
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookUpgradeNodeTelegrafConfig, nodeType.InventoryType(), vars); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeUploaderTelegrafConfig rewrites the metrics agent config on the uploaders
func (p *Provisioner) UpgradeUploaderTelegrafConfig(ctx context.Context, name string) error {
	vars, err := ansible.NewExtraVars().AddVariable("testnet_name", name).Build()
	if err != nil {
		return err
	}
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookUpgradeUploaderTelegrafConf, types.InventoryUploaders, vars)
}

// StartUploaders starts the uploader services
func (p *Provisioner) StartUploaders(ctx context.Context, opts UploaderOptions) error {
	vars, err := BuildUploaderLifecycleExtraVars(p.environment(), p.ansible.Provider(), opts)
	if err != nil {
		return err
	}
	PrintBanner("Start Uploaders")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookStartUploaders, types.InventoryUploaders, vars)
}

// StopUploaders stops the uploader services
func (p *Provisioner) StopUploaders(ctx context.Context, opts UploaderOptions) error {
	vars, err := BuildUploaderLifecycleExtraVars(p.environment(), p.ansible.Provider(), opts)
	if err != nil {
		return err
	}
	PrintBanner("Stop Uploaders")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookStopUploaders, types.InventoryUploaders, vars)
}

// CleanupNodeLogs removes rotated node logs, optionally installing a cron job
// that keeps doing so
func (p *Provisioner) CleanupNodeLogs(ctx context.Context, setupCron bool) error {
	vars, err := ansible.NewExtraVars().AddVariable("setup_cron", fmt.Sprintf("%t", setupCron)).Build()
	if err != nil {
		return err
	}
	for _, group := range types.NodeInventoryTypes {
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookCleanupLogs, group, vars); err != nil {
			return err
		}
	}
	return nil
}

// CopyLogs runs the logs playbook, which archives node logs on each VM and
// fetches them to the local logs directory
func (p *Provisioner) CopyLogs(ctx context.Context, name string, resourcesOnly bool) error {
	vars, err := ansible.NewExtraVars().
		AddVariable("env_name", name).
		AddVariable("resources_only", fmt.Sprintf("%t", resourcesOnly)).
		Build()
	if err != nil {
		return err
	}
	for _, group := range types.NodeInventoryTypes {
		if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookLogs, group, vars); err != nil {
			return err
		}
	}
	return nil
}
