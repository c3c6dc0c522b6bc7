package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/infra"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/provision"
	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// ErrBinaryOptionRequired is returned when a deployment does not say where its binaries come from
var ErrBinaryOptionRequired = errors.New("a binary option is required to deploy")

// Infrastructure is the terraform surface the deployer drives
type Infrastructure interface {
	infra.Applier
	infra.Shower
	WorkspaceList(ctx context.Context) ([]string, error)
	Plan(ctx context.Context, vars []infra.Var, tfvarsFile string) error
	Destroy(ctx context.Context, tfvarsFile string) error
	WorkspaceDelete(ctx context.Context, name string) error
}

// Funder manages the EVM wallets of uploader services
type Funder interface {
	// FundUploaders returns one hex secret key per uploader service on each
	// VM, generating and funding keys for services that do not have one yet
	FundUploaders(ctx context.Context, vms []types.VirtualMachine, perVM int) (map[string][]string, error)
	// DrainFunds sweeps the uploader wallets on vms back to the funding wallet
	DrainFunds(ctx context.Context, vms []types.VirtualMachine) error
}

// Deployer drives deployments of one environment. The environment is the
// one the provisioner's ansible runner was created for.
type Deployer struct {
	name         string
	terraformDir string
	infra        Infrastructure
	provisioner  *provision.Provisioner
	inventory    *inventory.Service
	store        storage.ObjectStore
	funder       Funder
	events       *events.Broker
	out          io.Writer
}

// NewDeployer creates a deployer
func NewDeployer(tf Infrastructure, terraformDir string, p *provision.Provisioner, inv *inventory.Service, store storage.ObjectStore, broker *events.Broker) *Deployer {
	return &Deployer{
		name:         p.Ansible().EnvironmentName(),
		terraformDir: terraformDir,
		infra:        tf,
		provisioner:  p,
		inventory:    inv,
		store:        store,
		events:       broker,
		out:          os.Stdout,
	}
}

// WithFunder sets the funder used for uploader wallets
func (d *Deployer) WithFunder(f Funder) *Deployer {
	d.funder = f
	return d
}

// WithOutput sets where progress is printed
func (d *Deployer) WithOutput(w io.Writer) *Deployer {
	d.out = w
	return d
}

// Name returns the environment name
func (d *Deployer) Name() string {
	return d.name
}

// DeployOptions describe a new deployment. VM counts left nil come from the
// environment type's tfvars file; node counts are per VM.
type DeployOptions struct {
	BinaryOption         types.BinaryOption
	EnvironmentType      types.EnvironmentType
	Evm                  types.EvmDetails
	FundingWalletAddress string
	NetworkID            *uint8
	Region               string
	RewardsAddress       string

	BootstrapNodeCount int
	NodeCount          int
	PrivateNodeCount   int
	UploadersCount     int
	DownloadersCount   int

	BootstrapNodeVMCount *int
	NodeVMCount          *int
	PrivateNodeVMCount   *int
	UploaderVMCount      *int

	BootstrapNodeVMSize *string
	NodeVMSize          *string
	UploaderVMSize      *string

	EnvVariables        []ansible.EnvVar
	Interval            time.Duration
	LogFormat           types.LogFormat
	Logstash            *provision.LogstashDetails
	MaxArchivedLogFiles int
	MaxLogFiles         int
	PublicRPC           bool
	SafeVersion         string
	ChunkSize           uint64

	// CurrentInventory is the inventory before this run. Auxiliary services
	// are only provisioned when it is empty.
	CurrentInventory *inventory.DeploymentInventory
}

// Validate rejects option combinations that would fail part way through a run
func (o DeployOptions) Validate() error {
	if o.BinaryOption == nil {
		return ErrBinaryOptionRequired
	}
	if v, ok := o.BinaryOption.(types.Versioned); ok {
		if v.SafenodeVersion == nil {
			return ansible.ErrNoNodeVersion
		}
		if o.isFresh() {
			if v.FaucetVersion == nil {
				return ansible.ErrNoFaucetVersion
			}
			if v.AuditorVersion == nil {
				return ansible.ErrNoAuditorVersion
			}
			if v.SafeVersion == nil && o.SafeVersion == "" {
				return ansible.ErrNoUploadersVersion
			}
		}
	}
	return nil
}

func (o DeployOptions) isFresh() bool {
	return o.CurrentInventory == nil || o.CurrentInventory.IsEmpty()
}

func (o DeployOptions) deploysPrivateNodes() bool {
	return o.PrivateNodeVMCount != nil && *o.PrivateNodeVMCount > 0
}

func (o DeployOptions) details(deploymentType types.DeploymentType) types.EnvironmentDetails {
	return types.EnvironmentDetails{
		DeploymentType:       deploymentType,
		EnvironmentType:      o.EnvironmentType,
		EvmDetails:           o.Evm,
		FundingWalletAddress: o.FundingWalletAddress,
		NetworkID:            o.NetworkID,
		Region:               o.Region,
		RewardsAddress:       o.RewardsAddress,
	}
}

func volumeSize(nodeCount int) *int {
	if nodeCount <= 0 {
		return nil
	}
	return infra.Int(infra.VolumeSize(nodeCount))
}

func (d *Deployer) infraOptions(o DeployOptions) infra.InfraRunOptions {
	return infra.InfraRunOptions{
		Name:                    d.name,
		TfvarsFile:              o.EnvironmentType.TfvarsFilename(d.name, d.terraformDir),
		EnableBuildVM:           o.BinaryOption.ShouldProvisionBuildMachine(),
		GenesisVMCount:          infra.Int(1),
		BootstrapNodeVMCount:    o.BootstrapNodeVMCount,
		NodeVMCount:             o.NodeVMCount,
		PrivateNodeVMCount:      o.PrivateNodeVMCount,
		EvmNodeCount:            infra.Int(o.Evm.Network.EvmNodeCount()),
		UploaderVMCount:         o.UploaderVMCount,
		BootstrapNodeVMSize:     o.BootstrapNodeVMSize,
		NodeVMSize:              o.NodeVMSize,
		UploaderVMSize:          o.UploaderVMSize,
		GenesisNodeVolumeSize:   volumeSize(1),
		BootstrapNodeVolumeSize: volumeSize(o.BootstrapNodeCount),
		NodeVolumeSize:          volumeSize(o.NodeCount),
		PrivateNodeVolumeSize:   volumeSize(o.PrivateNodeCount),
	}
}

func (d *Deployer) provisionOptions(o DeployOptions) provision.ProvisionOptions {
	return provision.ProvisionOptions{
		Name:                d.name,
		Provider:            d.provisioner.Ansible().Provider(),
		BinaryOption:        o.BinaryOption,
		BootstrapNodeCount:  o.BootstrapNodeCount,
		NodeCount:           o.NodeCount,
		PrivateNodeCount:    o.PrivateNodeCount,
		Interval:            o.Interval,
		EnvVariables:        o.EnvVariables,
		LogFormat:           o.LogFormat,
		Logstash:            o.Logstash,
		MaxArchivedLogFiles: o.MaxArchivedLogFiles,
		MaxLogFiles:         o.MaxLogFiles,
		PublicRPC:           o.PublicRPC,
		RewardsAddress:      o.RewardsAddress,
		Evm: provision.EvmSettings{
			Network:             o.Evm.Network,
			DataPaymentsAddress: o.Evm.DataPaymentsAddress,
			PaymentTokenAddress: o.Evm.PaymentTokenAddress,
			RPCURL:              o.Evm.RPCURL,
		},
		SafeVersion:      o.SafeVersion,
		UploadersCount:   o.UploadersCount,
		DownloadersCount: o.DownloadersCount,
		ChunkSize:        o.ChunkSize,
	}
}

func (d *Deployer) createOrUpdateInfra(ctx context.Context, opts infra.InfraRunOptions) error {
	timer := metrics.NewTimer()
	err := infra.CreateOrUpdate(ctx, d.infra, opts)
	timer.ObserveDurationVec(metrics.PhaseDuration, "infra", metrics.Result(err))
	if err != nil {
		fmt.Fprintf(d.out, "Failed to create infra: %v\n", err)
		return fmt.Errorf("failed to create infra: %w", err)
	}
	return nil
}

// Deploy creates or updates a network started from a new genesis node
func (d *Deployer) Deploy(ctx context.Context, opts DeployOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	logger := log.WithEnvironment(d.name)
	logger.Info().Str("binaries", types.DescribeBinaryOption(opts.BinaryOption)).Msg("Deploying environment")

	if err := inventory.WriteEnvironmentDetails(ctx, d.store, d.name, opts.details(types.DeploymentTypeNew)); err != nil {
		return err
	}
	if err := d.createOrUpdateInfra(ctx, d.infraOptions(opts)); err != nil {
		return err
	}

	popts := d.provisionOptions(opts)
	var genesisMultiaddr string
	var genesisIP netip.Addr

	var steps []step
	if opts.BinaryOption.ShouldProvisionBuildMachine() {
		steps = append(steps, step{
			title: "Build Custom Binaries",
			run:   func(ctx context.Context) error { return d.provisioner.BuildBinaries(ctx, popts) },
		})
	}
	if opts.isFresh() && opts.Evm.Network.EvmNodeCount() > 0 {
		steps = append(steps, step{
			title: "Provision EVM Nodes",
			run:   func(ctx context.Context) error { return d.provisioner.ProvisionEvmNodes(ctx, popts) },
		})
	}
	steps = append(steps,
		step{
			title: "Provision Genesis Node",
			run: func(ctx context.Context) error {
				if err := d.provisioner.ProvisionGenesisNode(ctx, popts); err != nil {
					return err
				}
				var err error
				genesisMultiaddr, genesisIP, err = d.provisioner.GenesisMultiaddr(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(d.out, "Obtained multiaddr for genesis node: %s\n", genesisMultiaddr)
				return nil
			},
		},
		step{
			title: "Provision Bootstrap Nodes",
			soft:  true,
			done:  "Provisioned bootstrap nodes",
			run: func(ctx context.Context) error {
				return d.provisioner.ProvisionNodes(ctx, popts, genesisMultiaddr, types.NodeTypeBootstrap)
			},
		},
		step{
			title: "Provision Normal Nodes",
			soft:  true,
			done:  "Provisioned normal nodes",
			run: func(ctx context.Context) error {
				return d.provisioner.ProvisionNodes(ctx, popts, genesisMultiaddr, types.NodeTypeGeneric)
			},
		},
	)
	if opts.deploysPrivateNodes() {
		steps = append(steps, d.privateNodeSteps(&popts, &genesisMultiaddr)...)
	}
	if opts.isFresh() {
		faucetAddress := func() string {
			return netip.AddrPortFrom(genesisIP, inventory.FaucetPort).String()
		}
		steps = append(steps,
			step{
				title:   "Provision Faucet",
				soft:    true,
				service: true,
				done:    "Provisioned and started the faucet",
				run: func(ctx context.Context) error {
					return d.provisioner.ProvisionAndStartFaucet(ctx, popts, genesisMultiaddr)
				},
			},
			step{
				title:   "Provision RPC Client",
				soft:    true,
				service: true,
				done:    "Provisioned the RPC client",
				run: func(ctx context.Context) error {
					return d.provisioner.ProvisionRPCClient(ctx, popts, genesisMultiaddr)
				},
			},
			step{
				title:   "Provision Auditor",
				soft:    true,
				service: true,
				done:    "Provisioned the auditor",
				run: func(ctx context.Context) error {
					return d.provisioner.ProvisionAuditor(ctx, popts, genesisMultiaddr)
				},
			},
			step{
				title:   "Provision Uploaders",
				soft:    true,
				service: true,
				done:    "Provisioned uploaders",
				run: func(ctx context.Context) error {
					if err := d.prepareUploaderWallets(ctx, &popts, popts.UploadersCount); err != nil {
						return err
					}
					return d.provisioner.ProvisionUploaders(ctx, popts, genesisMultiaddr, faucetAddress())
				},
			},
			step{
				title:   "Stop Faucet",
				soft:    true,
				service: true,
				done:    "Stopped the faucet",
				run: func(ctx context.Context) error {
					return d.provisioner.StopFaucet(ctx, popts, genesisMultiaddr)
				},
			},
		)
	}

	failed, err := d.runSteps(ctx, steps)
	if err != nil {
		return err
	}
	d.reportFailures(failed)
	return nil
}

// Bootstrap deploys nodes that join an existing network through peer.
// There is no genesis node and no auxiliary services.
func (d *Deployer) Bootstrap(ctx context.Context, peer string, opts DeployOptions) error {
	if opts.BinaryOption == nil {
		return ErrBinaryOptionRequired
	}
	if peer == "" {
		return provision.ErrGenesisMultiaddrNotSupplied
	}
	logger := log.WithEnvironment(d.name)
	logger.Info().Str("peer", peer).Msg("Bootstrapping environment")

	if err := inventory.WriteEnvironmentDetails(ctx, d.store, d.name, opts.details(types.DeploymentTypeBootstrap)); err != nil {
		return err
	}
	infraOpts := d.infraOptions(opts)
	infraOpts.GenesisVMCount = infra.Int(0)
	infraOpts.BootstrapNodeVMCount = infra.Int(0)
	infraOpts.EvmNodeCount = infra.Int(0)
	infraOpts.UploaderVMCount = infra.Int(0)
	infraOpts.GenesisNodeVolumeSize = nil
	infraOpts.BootstrapNodeVolumeSize = nil
	if err := d.createOrUpdateInfra(ctx, infraOpts); err != nil {
		return err
	}

	popts := d.provisionOptions(opts)
	var steps []step
	if opts.BinaryOption.ShouldProvisionBuildMachine() {
		steps = append(steps, step{
			title: "Build Custom Binaries",
			run:   func(ctx context.Context) error { return d.provisioner.BuildBinaries(ctx, popts) },
		})
	}
	steps = append(steps, step{
		title: "Provision Normal Nodes",
		soft:  true,
		done:  "Provisioned normal nodes",
		run: func(ctx context.Context) error {
			return d.provisioner.ProvisionNodes(ctx, popts, peer, types.NodeTypeGeneric)
		},
	})
	if opts.deploysPrivateNodes() {
		steps = append(steps, d.privateNodeSteps(&popts, &peer)...)
	}

	failed, err := d.runSteps(ctx, steps)
	if err != nil {
		return err
	}
	d.reportFailures(failed)
	return nil
}

// privateNodeSteps provisions the NAT gateway, routes SSH through it and
// then provisions the private nodes behind it. The pointers are read when
// the steps run, after earlier steps have filled them in.
func (d *Deployer) privateNodeSteps(popts *provision.ProvisionOptions, peer *string) []step {
	return []step{
		{
			title: "Provision NAT Gateway",
			run: func(ctx context.Context) error {
				gateway, err := d.provisioner.ProvisionNatGateway(ctx, *popts)
				if err != nil {
					return err
				}
				popts.NatGateway = gateway
				return d.provisioner.RoutePrivateNodes(ctx, gateway)
			},
		},
		{
			title: "Provision Private Nodes",
			soft:  true,
			done:  "Provisioned private nodes",
			run: func(ctx context.Context) error {
				return d.provisioner.ProvisionNodes(ctx, *popts, *peer, types.NodeTypePrivate)
			},
		},
	}
}

// prepareUploaderWallets fills in the uploader secret keys when a funder is configured
func (d *Deployer) prepareUploaderWallets(ctx context.Context, popts *provision.ProvisionOptions, perVM int) error {
	if d.funder == nil || perVM <= 0 {
		return nil
	}
	vms, err := d.provisioner.Ansible().GetInventory(ctx, types.InventoryUploaders, true)
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		return nil
	}
	keys, err := d.funder.FundUploaders(ctx, vms, perVM)
	if err != nil {
		return fmt.Errorf("failed to fund uploaders: %w", err)
	}
	popts.UploaderSecretKeys = keys
	return nil
}

func (d *Deployer) printProvisionWarning() {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, "WARNING!")
	fmt.Fprintln(d.out, "Some nodes failed to provision without error.")
	fmt.Fprintln(d.out, "This usually means a small number of nodes failed to start on a few VMs.")
	fmt.Fprintln(d.out, "However, most of the time the deployment will still be usable.")
	fmt.Fprintln(d.out, "See the output from Ansible to determine which VMs had failures.")
}

// phaseLabel turns a step title into a metric label
func phaseLabel(title string) string {
	return strings.ReplaceAll(strings.ToLower(title), " ", "_")
}
