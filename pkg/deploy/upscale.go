package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/infra"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var (
	ErrInvalidUpscaleDesiredBootstrapVMCount   = errors.New("the desired bootstrap node VM count is smaller than the current count")
	ErrInvalidUpscaleDesiredNodeVMCount        = errors.New("the desired node VM count is smaller than the current count")
	ErrInvalidUpscaleDesiredPrivateNodeVMCount = errors.New("the desired private node VM count is smaller than the current count")
	ErrInvalidUpscaleDesiredUploaderVMCount    = errors.New("the desired uploader VM count is smaller than the current count")
	ErrInvalidUpscaleDesiredBootstrapNodeCount = errors.New("the desired bootstrap node count is smaller than the current count")
	ErrInvalidUpscaleDesiredNodeCount          = errors.New("the desired node count is smaller than the current count")
	ErrInvalidUpscaleDesiredPrivateNodeCount   = errors.New("the desired private node count is smaller than the current count")
	ErrInvalidUpscaleDesiredUploaderCount      = errors.New("the desired uploader count is smaller than the current count")

	// ErrInvalidUpscaleOptionsForBootstrapDeployment is returned when a bootstrap
	// deployment is asked to grow a role it does not have
	ErrInvalidUpscaleOptionsForBootstrapDeployment = errors.New("bootstrap deployments cannot upscale auditor, bootstrap node or uploader VMs")
	// ErrInvalidUploaderUpscaleDeploymentType is returned when uploaders are upscaled on a bootstrap deployment
	ErrInvalidUploaderUpscaleDeploymentType = errors.New("uploaders cannot be upscaled on a bootstrap deployment")
	// ErrMissingEnvironmentDetails is returned when the inventory does not record how the environment was created
	ErrMissingEnvironmentDetails = errors.New("the inventory has no environment details")
)

// UpscaleInventoryTypeNotSupportedError is returned for groups upscale does not grow
type UpscaleInventoryTypeNotSupportedError struct {
	Type types.InventoryType
}

func (e *UpscaleInventoryTypeNotSupportedError) Error() string {
	return fmt.Sprintf("upscaling the %s inventory is not supported", e.Type)
}

// UpscaleOptions grow a live deployment. Nil desired counts keep the
// current value; node counts are per VM.
type UpscaleOptions struct {
	CurrentInventory *inventory.DeploymentInventory

	DesiredAuditorVMCount       *int
	DesiredBootstrapNodeCount   *int
	DesiredBootstrapNodeVMCount *int
	DesiredNodeCount            *int
	DesiredNodeVMCount          *int
	DesiredPrivateNodeCount     *int
	DesiredPrivateNodeVMCount   *int
	DesiredUploaderVMCount      *int
	DesiredUploadersCount       *int

	DownloadersCount    int
	Interval            time.Duration
	MaxArchivedLogFiles int
	MaxLogFiles         int
	PublicRPC           bool
	SafeVersion         string

	// Plan prints the terraform plan for the new counts and stops
	Plan bool
	// InfraOnly stops after terraform apply
	InfraOnly bool
	// ProvisionOnly skips terraform apply
	ProvisionOnly bool
}

// desiredCounts are the validated targets of an upscale
type desiredCounts struct {
	bootstrapVMs   int
	nodeVMs        int
	privateNodeVMs int
	uploaderVMs    int
	bootstrapNodes int
	nodes          int
	privateNodes   int
	uploaders      int
}

func desired(v *int, current int, invalid error) (int, error) {
	if v == nil {
		return current, nil
	}
	if *v < current {
		return 0, fmt.Errorf("%w: desired %d, current %d", invalid, *v, current)
	}
	return *v, nil
}

// validate checks every desired count is at least the current one. Equal
// counts are a valid no-op.
func (o UpscaleOptions) validate() (desiredCounts, error) {
	inv := o.CurrentInventory
	var c desiredCounts
	var err error
	if c.bootstrapVMs, err = desired(o.DesiredBootstrapNodeVMCount, len(inv.PeerCacheNodeVMs), ErrInvalidUpscaleDesiredBootstrapVMCount); err != nil {
		return c, err
	}
	if c.nodeVMs, err = desired(o.DesiredNodeVMCount, len(inv.NodeVMs), ErrInvalidUpscaleDesiredNodeVMCount); err != nil {
		return c, err
	}
	if c.privateNodeVMs, err = desired(o.DesiredPrivateNodeVMCount, len(inv.PrivateNodeVMs), ErrInvalidUpscaleDesiredPrivateNodeVMCount); err != nil {
		return c, err
	}
	if c.uploaderVMs, err = desired(o.DesiredUploaderVMCount, len(inv.UploaderVMs), ErrInvalidUpscaleDesiredUploaderVMCount); err != nil {
		return c, err
	}
	if c.bootstrapNodes, err = desired(o.DesiredBootstrapNodeCount, inv.PeerCacheNodeCount(), ErrInvalidUpscaleDesiredBootstrapNodeCount); err != nil {
		return c, err
	}
	if c.nodes, err = desired(o.DesiredNodeCount, inv.GenericNodeCount(), ErrInvalidUpscaleDesiredNodeCount); err != nil {
		return c, err
	}
	if c.privateNodes, err = desired(o.DesiredPrivateNodeCount, inv.PrivateNodeCount(), ErrInvalidUpscaleDesiredPrivateNodeCount); err != nil {
		return c, err
	}
	if c.uploaders, err = desired(o.DesiredUploadersCount, inv.UploadersCount(), ErrInvalidUpscaleDesiredUploaderCount); err != nil {
		return c, err
	}
	return c, nil
}

// existingVMs are the VMs of group t recorded in inv
func existingVMs(inv *inventory.DeploymentInventory, t types.InventoryType) ([]types.VirtualMachine, error) {
	nodeVMs := func(vms []types.NodeVirtualMachine) []types.VirtualMachine {
		out := make([]types.VirtualMachine, 0, len(vms))
		for _, v := range vms {
			out = append(out, v.VM)
		}
		return out
	}
	switch t {
	case types.InventoryPeerCacheNodes:
		return nodeVMs(inv.PeerCacheNodeVMs), nil
	case types.InventoryNodes:
		return nodeVMs(inv.NodeVMs), nil
	case types.InventoryPrivateNodes:
		return nodeVMs(inv.PrivateNodeVMs), nil
	case types.InventoryNatGateway:
		if inv.NatGatewayVM == nil {
			return nil, nil
		}
		return []types.VirtualMachine{*inv.NatGatewayVM}, nil
	case types.InventoryUploaders:
		out := make([]types.VirtualMachine, 0, len(inv.UploaderVMs))
		for _, u := range inv.UploaderVMs {
			out = append(out, u.VM)
		}
		return out, nil
	default:
		return nil, &UpscaleInventoryTypeNotSupportedError{Type: t}
	}
}

// knownVMs lists the VMs that already existed before the upscale, so SSH
// is only polled on the new ones
func knownVMs(inv *inventory.DeploymentInventory, groups ...types.InventoryType) ([]types.VirtualMachine, error) {
	var known []types.VirtualMachine
	for _, t := range groups {
		vms, err := existingVMs(inv, t)
		if err != nil {
			return nil, err
		}
		known = append(known, vms...)
	}
	return known, nil
}

func maxVolume(current *int, nodeCount int) *int {
	want := volumeSize(nodeCount)
	if current == nil || (want != nil && *want > *current) {
		return want
	}
	return current
}

// upscaleInfraOptions starts from the applied resources so attributes that
// are not being grown are applied unchanged
func (d *Deployer) upscaleInfraOptions(ctx context.Context, details types.EnvironmentDetails, c desiredCounts) (infra.InfraRunOptions, error) {
	opts, err := infra.GenerateExisting(ctx, d.name, d.terraformDir, d.infra, details)
	if err != nil {
		return infra.InfraRunOptions{}, fmt.Errorf("failed to read the existing infrastructure: %w", err)
	}
	opts.EnableBuildVM = false
	opts.BootstrapNodeVMCount = infra.Int(c.bootstrapVMs)
	opts.NodeVMCount = infra.Int(c.nodeVMs)
	opts.PrivateNodeVMCount = infra.Int(c.privateNodeVMs)
	opts.UploaderVMCount = infra.Int(c.uploaderVMs)
	opts.EvmNodeCount = infra.Int(details.EvmDetails.Network.EvmNodeCount())
	if details.DeploymentType == types.DeploymentTypeBootstrap {
		opts.GenesisVMCount = infra.Int(0)
	} else {
		opts.GenesisVMCount = infra.Int(1)
	}
	if c.bootstrapVMs > 0 {
		opts.BootstrapNodeVolumeSize = maxVolume(opts.BootstrapNodeVolumeSize, c.bootstrapNodes)
	}
	if c.nodeVMs > 0 {
		opts.NodeVolumeSize = maxVolume(opts.NodeVolumeSize, c.nodes)
	}
	if c.privateNodeVMs > 0 {
		opts.PrivateNodeVolumeSize = maxVolume(opts.PrivateNodeVolumeSize, c.privateNodes)
	}
	return opts, nil
}

func (d *Deployer) plan(ctx context.Context, opts infra.InfraRunOptions) error {
	if err := d.infra.WorkspaceSelect(ctx, d.name); err != nil {
		return err
	}
	return d.infra.Plan(ctx, opts.Vars(), opts.TfvarsFile)
}

func (d *Deployer) initialMultiaddr(ctx context.Context, bootstrapDeploy bool) (string, error) {
	var multiaddr string
	var err error
	if bootstrapDeploy {
		multiaddr, _, err = d.provisioner.NodeMultiaddr(ctx)
	} else {
		multiaddr, _, err = d.provisioner.GenesisMultiaddr(ctx)
	}
	if err != nil {
		fmt.Fprintf(d.out, "Failed to get the initial multiaddr: %v\n", err)
		return "", err
	}
	if multiaddr == "" {
		return "", provision.ErrGenesisMultiaddrNotSupplied
	}
	logger := log.WithComponent("deploy")
	logger.Debug().Str("multiaddr", multiaddr).Msg("Retrieved initial peer")
	return multiaddr, nil
}

func (d *Deployer) upscaleProvisionOptions(o UpscaleOptions, c desiredCounts) provision.ProvisionOptions {
	inv := o.CurrentInventory
	details := inv.EnvironmentDetails
	return provision.ProvisionOptions{
		Name:                d.name,
		Provider:            d.provisioner.Ansible().Provider(),
		BinaryOption:        inv.BinaryOption,
		BootstrapNodeCount:  c.bootstrapNodes,
		NodeCount:           c.nodes,
		PrivateNodeCount:    c.privateNodes,
		Interval:            o.Interval,
		MaxArchivedLogFiles: o.MaxArchivedLogFiles,
		MaxLogFiles:         o.MaxLogFiles,
		PublicRPC:           o.PublicRPC,
		RewardsAddress:      details.RewardsAddress,
		Evm: provision.EvmSettings{
			Network:             details.EvmDetails.Network,
			DataPaymentsAddress: details.EvmDetails.DataPaymentsAddress,
			PaymentTokenAddress: details.EvmDetails.PaymentTokenAddress,
			RPCURL:              details.EvmDetails.RPCURL,
		},
		SafeVersion:      o.SafeVersion,
		UploadersCount:   c.uploaders,
		DownloadersCount: o.DownloadersCount,
	}
}

// Upscale grows a live deployment to the desired counts. Only the delta is
// created and SSH is only polled on VMs that did not exist before.
func (d *Deployer) Upscale(ctx context.Context, o UpscaleOptions) error {
	inv := o.CurrentInventory
	if inv == nil || inv.EnvironmentDetails == nil {
		return ErrMissingEnvironmentDetails
	}
	details := *inv.EnvironmentDetails
	bootstrapDeploy := details.DeploymentType == types.DeploymentTypeBootstrap
	if bootstrapDeploy && (o.DesiredAuditorVMCount != nil || o.DesiredBootstrapNodeCount != nil ||
		o.DesiredBootstrapNodeVMCount != nil || o.DesiredUploaderVMCount != nil) {
		return ErrInvalidUpscaleOptionsForBootstrapDeployment
	}

	c, err := o.validate()
	if err != nil {
		return err
	}
	logger := log.WithComponent("deploy")
	logger.Debug().
		Int("bootstrap_vms", c.bootstrapVMs).
		Int("node_vms", c.nodeVMs).
		Int("private_node_vms", c.privateNodeVMs).
		Int("uploader_vms", c.uploaderVMs).
		Int("nodes_per_vm", c.nodes).
		Msg("Validated upscale counts")

	if o.Plan || !o.ProvisionOnly {
		infraOpts, err := d.upscaleInfraOptions(ctx, details, c)
		if err != nil {
			return err
		}
		if o.Plan {
			return d.plan(ctx, infraOpts)
		}
		if err := d.createOrUpdateInfra(ctx, infraOpts); err != nil {
			return err
		}
	}
	if o.InfraOnly {
		return nil
	}

	known, err := knownVMs(inv,
		types.InventoryPeerCacheNodes,
		types.InventoryNodes,
		types.InventoryNatGateway,
		types.InventoryPrivateNodes,
		types.InventoryUploaders,
	)
	if err != nil {
		return err
	}
	popts := d.upscaleProvisionOptions(o, c)
	popts.KnownVMs = known

	multiaddr, err := d.initialMultiaddr(ctx, bootstrapDeploy)
	if err != nil {
		return err
	}

	var steps []step
	if !bootstrapDeploy {
		steps = append(steps, step{
			title: "Provision Bootstrap Nodes",
			soft:  true,
			done:  "Provisioned bootstrap nodes",
			run: func(ctx context.Context) error {
				return d.provisioner.ProvisionNodes(ctx, popts, multiaddr, types.NodeTypeBootstrap)
			},
		})
	}
	steps = append(steps, step{
		title: "Provision Normal Nodes",
		soft:  true,
		done:  "Provisioned normal nodes",
		run: func(ctx context.Context) error {
			return d.provisioner.ProvisionNodes(ctx, popts, multiaddr, types.NodeTypeGeneric)
		},
	})
	if c.privateNodeVMs > 0 {
		steps = append(steps, d.privateNodeSteps(&popts, &multiaddr)...)
	}
	if !bootstrapDeploy {
		steps = append(steps, step{
			title: "Provision Uploaders",
			run: func(ctx context.Context) error {
				if err := d.prepareUploaderWallets(ctx, &popts, c.uploaders); err != nil {
					return err
				}
				return d.provisioner.ProvisionUploaders(ctx, popts, multiaddr, inv.FaucetAddress)
			},
		})
	}

	failed, err := d.runSteps(ctx, steps)
	if err != nil {
		return err
	}
	d.reportFailures(failed)
	return nil
}

// UpscaleUploaders grows only the uploader VMs and services
func (d *Deployer) UpscaleUploaders(ctx context.Context, o UpscaleOptions) error {
	inv := o.CurrentInventory
	if inv == nil || inv.EnvironmentDetails == nil {
		return ErrMissingEnvironmentDetails
	}
	details := *inv.EnvironmentDetails
	if details.DeploymentType == types.DeploymentTypeBootstrap {
		return ErrInvalidUploaderUpscaleDeploymentType
	}

	uploaderVMs, err := desired(o.DesiredUploaderVMCount, len(inv.UploaderVMs), ErrInvalidUpscaleDesiredUploaderVMCount)
	if err != nil {
		return err
	}
	uploaders, err := desired(o.DesiredUploadersCount, inv.UploadersCount(), ErrInvalidUpscaleDesiredUploaderCount)
	if err != nil {
		return err
	}

	if o.Plan || !o.ProvisionOnly {
		infraOpts, err := infra.GenerateExisting(ctx, d.name, d.terraformDir, d.infra, details)
		if err != nil {
			return fmt.Errorf("failed to read the existing infrastructure: %w", err)
		}
		infraOpts.EnableBuildVM = false
		infraOpts.UploaderVMCount = infra.Int(uploaderVMs)
		if o.Plan {
			return d.plan(ctx, infraOpts)
		}
		if err := d.createOrUpdateInfra(ctx, infraOpts); err != nil {
			return err
		}
	}
	if o.InfraOnly {
		return nil
	}

	known, err := knownVMs(inv, types.InventoryUploaders)
	if err != nil {
		return err
	}
	multiaddr, err := d.initialMultiaddr(ctx, false)
	if err != nil {
		return err
	}
	popts := d.upscaleProvisionOptions(o, desiredCounts{uploaders: uploaders})
	popts.KnownVMs = known

	_, err = d.runSteps(ctx, []step{{
		title: "Provision Uploaders",
		run: func(ctx context.Context) error {
			if err := d.prepareUploaderWallets(ctx, &popts, uploaders); err != nil {
				return err
			}
			return d.provisioner.ProvisionUploaders(ctx, popts, multiaddr, inv.FaucetAddress)
		},
	}})
	return err
}
