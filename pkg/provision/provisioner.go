package provision

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// AnsibleRunner is the ansible surface the provisioner drives
type AnsibleRunner interface {
	RunPlaybook(ctx context.Context, playbook ansible.Playbook, t types.InventoryType, extraVars string) error
	GetInventory(ctx context.Context, t types.InventoryType, retry bool) ([]types.VirtualMachine, error)
	EnvironmentName() string
	Provider() types.CloudProvider
	InventoryDir() string
}

// Provisioner runs the per-phase playbooks of a deployment. It owns the SSH
// routing table: private node hosts are added once the NAT gateway is known.
type Provisioner struct {
	ansible    AnsibleRunner
	ssh        ssh.Executor
	routes     ssh.RoutingTable
	sshKeyPath string
	events     *events.Broker
}

// NewProvisioner creates a provisioner
func NewProvisioner(runner AnsibleRunner, executor ssh.Executor, sshKeyPath string, broker *events.Broker) *Provisioner {
	return &Provisioner{
		ansible:    runner,
		ssh:        executor,
		sshKeyPath: sshKeyPath,
		events:     broker,
	}
}

// Ansible returns the underlying runner
func (p *Provisioner) Ansible() AnsibleRunner {
	return p.ansible
}

// SSH returns an executor that honours the current routing table
func (p *Provisioner) SSH() ssh.Executor {
	return p.ssh.Routed(p.routes)
}

// Routes returns the current routing table
func (p *Provisioner) Routes() ssh.RoutingTable {
	return p.routes
}

func (p *Provisioner) sshUser() string {
	return p.ansible.Provider().SSHUser()
}

func (p *Provisioner) environment() string {
	return p.ansible.EnvironmentName()
}

// PrintBanner prints the header shown before each ansible run
func PrintBanner(title string) {
	line := strings.Repeat("=", len(title)+len("Ansible Run: "))
	fmt.Println(line)
	fmt.Printf("Ansible Run: %s\n", title)
	fmt.Println(line)
}

func (p *Provisioner) waitForSSH(ctx context.Context, vms, known []types.VirtualMachine, private bool) error {
	executor := p.SSH()
	for _, vm := range types.NewVirtualMachines(vms, known) {
		ip := vm.PublicIP
		if private {
			if _, ok := p.routes.GatewayFor(vm.PrivateIP); ok {
				ip = vm.PrivateIP
			}
		}
		if err := executor.WaitForSSHAvailability(ctx, ip, p.sshUser()); err != nil {
			return fmt.Errorf("failed to reach %s: %w", vm.Name, err)
		}
		p.events.Publish(&events.Event{
			Type:        events.EventVMSSHReady,
			Environment: p.environment(),
			Message:     fmt.Sprintf("SSH is available on %s", vm.Name),
			Metadata:    map[string]string{"vm": vm.Name, "ip": ip.String()},
		})
	}
	return nil
}

func (p *Provisioner) inventory(ctx context.Context, t types.InventoryType) ([]types.VirtualMachine, error) {
	vms, err := p.ansible.GetInventory(ctx, t, true)
	if err != nil {
		return nil, err
	}
	if len(vms) == 0 {
		return nil, &ansible.EmptyInventoryError{Type: t}
	}
	return vms, nil
}

// BuildBinaries compiles the custom binaries on the build VM
func (p *Provisioner) BuildBinaries(ctx context.Context, opts ProvisionOptions) error {
	vms, err := p.inventory(ctx, types.InventoryBuild)
	if err != nil {
		return err
	}
	if err := p.waitForSSH(ctx, vms[:1], nil, false); err != nil {
		return err
	}
	vars, err := BuildBinariesExtraVars(opts)
	if err != nil {
		return err
	}
	PrintBanner("Build Custom Binaries")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookBuild, types.InventoryBuild, vars)
}

// ProvisionGenesisNode installs and starts the single genesis node
func (p *Provisioner) ProvisionGenesisNode(ctx context.Context, opts ProvisionOptions) error {
	vars, err := BuildNodeExtraVars(opts, types.NodeTypeGenesis, "")
	if err != nil {
		return err
	}
	vms, err := p.inventory(ctx, types.InventoryGenesis)
	if err != nil {
		return err
	}
	if err := p.waitForSSH(ctx, vms[:1], nil, false); err != nil {
		return err
	}
	PrintBanner("Provision Genesis Node")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookGenesisNode, types.InventoryGenesis, vars)
}

// ProvisionNodes installs node services on every VM of nodeType's role.
// The extra vars are validated before any remote call is made.
func (p *Provisioner) ProvisionNodes(ctx context.Context, opts ProvisionOptions, genesisMultiaddr string, nodeType types.NodeType) error {
	if nodeType != types.NodeTypeGenesis && genesisMultiaddr == "" {
		return ErrGenesisMultiaddrNotSupplied
	}
	vars, err := BuildNodeExtraVars(opts, nodeType, genesisMultiaddr)
	if err != nil {
		return err
	}

	vms, err := p.ansible.GetInventory(ctx, nodeType.InventoryType(), true)
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		logger := log.WithComponent("provision")
		logger.Info().Str("node_type", nodeType.String()).Msg("No VMs to provision")
		return nil
	}
	if err := p.waitForSSH(ctx, vms, opts.KnownVMs, nodeType == types.NodeTypePrivate); err != nil {
		return err
	}

	playbook := ansible.PlaybookNodes
	if nodeType == types.NodeTypePrivate {
		playbook = ansible.PlaybookPrivateNodes
	}
	PrintBanner(fmt.Sprintf("Provision %s Nodes", nodeType))
	return p.ansible.RunPlaybook(ctx, playbook, nodeType.PlaybookInventoryType(), vars)
}

// ProvisionNatGateway configures the gateway for the private node VMs and
// returns it
func (p *Provisioner) ProvisionNatGateway(ctx context.Context, opts ProvisionOptions) (*types.VirtualMachine, error) {
	gateways, err := p.inventory(ctx, types.InventoryNatGateway)
	if err != nil {
		return nil, err
	}
	gateway := gateways[0]
	if err := p.waitForSSH(ctx, gateways[:1], opts.KnownVMs, false); err != nil {
		return nil, err
	}
	privateVMs, err := p.inventory(ctx, types.InventoryPrivateNodes)
	if err != nil {
		return nil, err
	}
	vars, err := BuildNatGatewayExtraVars(opts.Name, privateVMs)
	if err != nil {
		return nil, err
	}
	PrintBanner("Provision NAT Gateway")
	if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookNatGateway, types.InventoryNatGateway, vars); err != nil {
		return nil, err
	}
	return &gateway, nil
}

// RoutePrivateNodes writes the static private node inventory and routes SSH
// to the private VMs through gateway
func (p *Provisioner) RoutePrivateNodes(ctx context.Context, gateway *types.VirtualMachine) error {
	privateVMs, err := p.inventory(ctx, types.InventoryPrivateNodes)
	if err != nil {
		return err
	}
	if err := ansible.GeneratePrivateNodeStaticInventory(p.environment(), p.ansible.Provider(), p.ansible.InventoryDir(),
		privateVMs, gateway, p.sshKeyPath); err != nil {
		return err
	}
	if gateway == nil {
		return nil
	}
	hosts := make([]netip.Addr, 0, len(privateVMs))
	for _, vm := range privateVMs {
		hosts = append(hosts, vm.PrivateIP)
	}
	p.routes = p.routes.RouteThroughGateway(gateway.PublicIP, hosts...)
	return nil
}

// ProvisionEvmNodes installs the local EVM node
func (p *Provisioner) ProvisionEvmNodes(ctx context.Context, opts ProvisionOptions) error {
	vms, err := p.inventory(ctx, types.InventoryEvmNodes)
	if err != nil {
		return err
	}
	if err := p.waitForSSH(ctx, vms, opts.KnownVMs, false); err != nil {
		return err
	}
	vars, err := BuildEvmNodesExtraVars(opts.Name, opts.Provider)
	if err != nil {
		return err
	}
	PrintBanner("Provision EVM Nodes")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookEvmNodes, types.InventoryEvmNodes, vars)
}

// ProvisionAndStartFaucet installs the faucet on the genesis VM and starts it
func (p *Provisioner) ProvisionAndStartFaucet(ctx context.Context, opts ProvisionOptions, genesisMultiaddr string) error {
	vars, err := BuildFaucetExtraVars(opts, genesisMultiaddr)
	if err != nil {
		return err
	}
	PrintBanner("Provision Faucet")
	if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookFaucet, types.InventoryGenesis, vars); err != nil {
		return err
	}
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookStartFaucet, types.InventoryGenesis, vars)
}

// StopFaucet stops the faucet service on the genesis VM
func (p *Provisioner) StopFaucet(ctx context.Context, opts ProvisionOptions, genesisMultiaddr string) error {
	vars, err := BuildFaucetExtraVars(opts, genesisMultiaddr)
	if err != nil {
		return err
	}
	PrintBanner("Stop Faucet")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookStopFaucet, types.InventoryGenesis, vars)
}

// ProvisionRPCClient installs the node RPC client on the genesis VM
func (p *Provisioner) ProvisionRPCClient(ctx context.Context, opts ProvisionOptions, genesisMultiaddr string) error {
	vars, err := BuildRPCClientExtraVars(opts, genesisMultiaddr)
	if err != nil {
		return err
	}
	PrintBanner("Provision RPC Client on Genesis Node")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookRPCClient, types.InventoryGenesis, vars)
}

// ProvisionAuditor installs the auditor
func (p *Provisioner) ProvisionAuditor(ctx context.Context, opts ProvisionOptions, genesisMultiaddr string) error {
	vars, err := BuildAuditorExtraVars(opts, genesisMultiaddr)
	if err != nil {
		return err
	}
	vms, err := p.ansible.GetInventory(ctx, types.InventoryAuditor, true)
	if err != nil {
		return err
	}
	inventory := types.InventoryAuditor
	if len(vms) == 0 {
		inventory = types.InventoryGenesis
	}
	PrintBanner("Provision Auditor")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookAuditor, inventory, vars)
}

// ProvisionUploaders installs uploader services on the uploader VMs.
// faucetAddress may be empty when the network pays through an EVM wallet.
func (p *Provisioner) ProvisionUploaders(ctx context.Context, opts ProvisionOptions, genesisMultiaddr, faucetAddress string) error {
	vars, err := BuildUploadersExtraVars(opts, genesisMultiaddr, faucetAddress)
	if err != nil {
		return err
	}
	vms, err := p.ansible.GetInventory(ctx, types.InventoryUploaders, true)
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		fmt.Println("No uploader VMs to provision")
		return nil
	}
	if err := p.waitForSSH(ctx, vms, opts.KnownVMs, false); err != nil {
		return err
	}
	PrintBanner("Provision Uploaders")
	return p.ansible.RunPlaybook(ctx, ansible.PlaybookUploaders, types.InventoryUploaders, vars)
}
