package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func vm(id uint64, name, public, private string) types.VirtualMachine {
	v := types.VirtualMachine{ID: id, Name: name, PublicIP: netip.MustParseAddr(public)}
	if private != "" {
		v.PrivateIP = netip.MustParseAddr(private)
	}
	return v
}

func testOptions() ProvisionOptions {
	return ProvisionOptions{
		Name:             "alpha",
		Provider:         types.CloudProviderDigitalOcean,
		BinaryOption:     types.BuildFromSource{RepoOwner: "acme", Branch: "feat"},
		NodeCount:        20,
		PrivateNodeCount: 5,
		Evm:              EvmSettings{Network: types.EvmNetworkArbitrumOne},
	}
}

func newTestProvisioner(t *testing.T) (*Provisioner, *ansible.FakeRunner, *ssh.FakeExecutor) {
	t.Helper()
	runner := ansible.NewFakeRunner("alpha", types.CloudProviderDigitalOcean, t.TempDir())
	executor := ssh.NewFakeExecutor()
	return NewProvisioner(runner, executor, "/keys/id_rsa", nil), runner, executor
}

func decodeVars(t *testing.T, doc string) map[string]any {
	t.Helper()
	vars := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(doc), &vars))
	return vars
}

func TestProvisionPrivateNodesWithoutGateway(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	runner.SetInventory(types.InventoryPrivateNodes, vm(1, "alpha-private-node-1", "203.0.113.10", "10.0.0.9"))

	err := p.ProvisionNodes(context.Background(), testOptions(), "/ip4/203.0.113.1/udp/12000/quic-v1/p2p/12D3", types.NodeTypePrivate)
	assert.ErrorIs(t, err, ErrNatGatewayNotSupplied)
	assert.Empty(t, runner.Calls())
	assert.Empty(t, runner.Queries())
	assert.Empty(t, executor.Waits())
	assert.Empty(t, executor.Calls())
}

func TestProvisionNodesRequiresGenesisMultiaddr(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)

	err := p.ProvisionNodes(context.Background(), testOptions(), "", types.NodeTypeGeneric)
	assert.ErrorIs(t, err, ErrGenesisMultiaddrNotSupplied)
	assert.Empty(t, runner.Calls())
}

func TestProvisionNodes(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	runner.SetInventory(types.InventoryNodes,
		vm(1, "alpha-node-1", "203.0.113.11", ""),
		vm(2, "alpha-node-2", "203.0.113.12", ""),
	)
	multiaddr := "/ip4/203.0.113.1/udp/12000/quic-v1/p2p/12D3KooW"

	require.NoError(t, p.ProvisionNodes(context.Background(), testOptions(), multiaddr, types.NodeTypeGeneric))

	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("203.0.113.11"),
		netip.MustParseAddr("203.0.113.12"),
	}, executor.Waits())

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ansible.PlaybookNodes, calls[0].Playbook)
	assert.Equal(t, types.InventoryNodes, calls[0].Inventory)

	vars := decodeVars(t, calls[0].ExtraVars)
	assert.Equal(t, multiaddr, vars["genesis_multiaddr"])
	assert.Equal(t, "GENERIC_NODE", vars["node_type"])
	assert.Equal(t, "20", vars["node_instance_count"])
}

func TestProvisionNodesWithoutVMsIsNoop(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)

	require.NoError(t, p.ProvisionNodes(context.Background(), testOptions(), "/ip4/1.2.3.4", types.NodeTypeGeneric))
	assert.Empty(t, runner.Calls())
}

func TestProvisionNodesStopsWhenSSHUnavailable(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	runner.SetInventory(types.InventoryNodes, vm(1, "alpha-node-1", "203.0.113.11", ""))
	executor.FailWait(netip.MustParseAddr("203.0.113.11"), ssh.ErrSSHUnavailable)

	err := p.ProvisionNodes(context.Background(), testOptions(), "/ip4/1.2.3.4", types.NodeTypeGeneric)
	assert.ErrorIs(t, err, ssh.ErrSSHUnavailable)
	assert.Empty(t, runner.Calls())
}

func TestPrivateNodesRouteThroughGateway(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	gateway := vm(9, "alpha-nat-gateway", "203.0.113.99", "10.0.0.2")
	runner.SetInventory(types.InventoryNatGateway, gateway)
	runner.SetInventory(types.InventoryPrivateNodes,
		vm(3, "alpha-private-node-1", "203.0.113.21", "10.0.0.9"),
		vm(4, "alpha-private-node-2", "203.0.113.22", "10.0.0.10"),
	)
	ctx := context.Background()

	got, err := p.ProvisionNatGateway(ctx, testOptions())
	require.NoError(t, err)
	assert.Equal(t, gateway, *got)

	require.NoError(t, p.RoutePrivateNodes(ctx, got))
	assert.Equal(t, 2, p.Routes().Len())

	static := filepath.Join(runner.InventoryDir(), types.InventoryPrivateNodesStatic.Filename("alpha", types.CloudProviderDigitalOcean))
	contents, err := os.ReadFile(static)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "10.0.0.9")
	assert.Contains(t, string(contents), "root@203.0.113.99")

	opts := testOptions()
	opts.NatGateway = got
	require.NoError(t, p.ProvisionNodes(ctx, opts, "/ip4/203.0.113.1/udp/12000/quic-v1/p2p/12D3", types.NodeTypePrivate))

	waits := executor.Waits()
	assert.Contains(t, waits, netip.MustParseAddr("10.0.0.9"))
	assert.Contains(t, waits, netip.MustParseAddr("10.0.0.10"))

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ansible.PlaybookNatGateway, calls[0].Playbook)
	assert.Equal(t, []any{"10.0.0.9", "10.0.0.10"}, decodeVars(t, calls[0].ExtraVars)["node_private_ips_eth1"])

	assert.Equal(t, ansible.PlaybookPrivateNodes, calls[1].Playbook)
	assert.Equal(t, types.InventoryPrivateNodesStatic, calls[1].Inventory)
	vars := decodeVars(t, calls[1].ExtraVars)
	assert.Equal(t, "10.0.0.2", vars["nat_gateway_private_ip_eth1"])
	assert.Equal(t, "true", vars["make_vm_private"])
}

func TestProvisionGenesisNode(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	runner.SetInventory(types.InventoryGenesis, vm(1, "alpha-genesis", "203.0.113.1", ""))

	require.NoError(t, p.ProvisionGenesisNode(context.Background(), testOptions()))
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.1")}, executor.Waits())
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ansible.PlaybookGenesisNode, calls[0].Playbook)
	vars := decodeVars(t, calls[0].ExtraVars)
	assert.Equal(t, "1", vars["node_instance_count"])
	assert.NotContains(t, vars, "genesis_multiaddr")
}

func TestProvisionGenesisNodeEmptyInventory(t *testing.T) {
	p, _, _ := newTestProvisioner(t)

	err := p.ProvisionGenesisNode(context.Background(), testOptions())
	var empty *ansible.EmptyInventoryError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, types.InventoryGenesis, empty.Type)
}

func TestProvisionUploadersWithoutVMs(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)

	require.NoError(t, p.ProvisionUploaders(context.Background(), testOptions(), "/ip4/1.2.3.4", ""))
	assert.Empty(t, runner.Calls())
}

func TestProvisionAuditorFallsBackToGenesis(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	opts := testOptions()

	require.NoError(t, p.ProvisionAuditor(context.Background(), opts, "/ip4/1.2.3.4"))
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.InventoryGenesis, calls[0].Inventory)
}

func TestFaucetPlaybooks(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	ctx := context.Background()

	require.NoError(t, p.ProvisionAndStartFaucet(ctx, testOptions(), "/ip4/1.2.3.4"))
	require.NoError(t, p.StopFaucet(ctx, testOptions(), "/ip4/1.2.3.4"))
	assert.Equal(t, []ansible.Playbook{
		ansible.PlaybookFaucet,
		ansible.PlaybookStartFaucet,
		ansible.PlaybookStopFaucet,
	}, runner.Playbooks())
}

func TestProvisionNodesPollsOnlyNewVMs(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	existing := vm(1, "alpha-node-1", "203.0.113.11", "")
	fresh := vm(7, "alpha-node-7", "203.0.113.17", "")
	runner.SetInventory(types.InventoryNodes, existing, fresh)

	opts := testOptions()
	opts.KnownVMs = []types.VirtualMachine{existing}
	require.NoError(t, p.ProvisionNodes(context.Background(), opts, "/ip4/1.2.3.4", types.NodeTypeGeneric))

	assert.Equal(t, []netip.Addr{fresh.PublicIP}, executor.Waits())
	assert.Len(t, runner.Calls(), 1)
}
