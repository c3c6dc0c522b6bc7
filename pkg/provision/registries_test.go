package provision

import (
	"context"
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

const registryJSON = `{
  "nodes": [
    {
      "number": 1,
      "service_name": "antnode1",
      "peer_id": "12D3KooWAbc",
      "rpc_socket_addr": "127.0.0.1:13000",
      "listen_addr": ["/ip4/203.0.113.11/udp/12000/quic-v1/p2p/12D3KooWAbc"],
      "status": "Running",
      "version": "0.112.3"
    }
  ],
  "daemon": {"endpoint": "203.0.113.11:12500", "status": "Running", "version": "0.10.0"}
}`

func writeRegistry(t *testing.T, dir, host, contents string) {
	t.Helper()
	path := filepath.Join(dir, host, "var", "antctl", "node_registry.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestGetNodeRegistries(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	var dest string
	runner.OnRun(ansible.PlaybookNodeManagerInventory, func(call ansible.PlaybookCall) error {
		dest = decodeVars(t, call.ExtraVars)["dest"].(string)
		writeRegistry(t, dest, "alpha-node-1", registryJSON)
		writeRegistry(t, dest, "alpha-node-2", "not json")
		return nil
	})

	registries, err := p.GetNodeRegistries(context.Background(), types.InventoryNodes)
	require.NoError(t, err)

	assert.Equal(t, types.InventoryNodes, registries.InventoryType)
	require.Len(t, registries.Retrieved, 1)
	assert.Equal(t, "alpha-node-1", registries.Retrieved[0].Host)
	assert.Equal(t, "12D3KooWAbc", registries.Retrieved[0].Registry.Nodes[0].PeerID)
	assert.Equal(t, []string{"alpha-node-2"}, registries.FailedVMs)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.InventoryNodes, calls[0].Inventory)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "fetched registries are removed")
}

func TestGetNodeRegistriesPlaybookFailure(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	runner.Fail(ansible.PlaybookNodeManagerInventory, errors.New("unreachable"))

	_, err := p.GetNodeRegistries(context.Background(), types.InventoryGenesis)
	assert.Error(t, err)
}

func TestCollectNodeRegistriesIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeRegistry(t, dir, "alpha-genesis", registryJSON)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))

	registries, err := CollectNodeRegistries(dir, types.InventoryGenesis)
	require.NoError(t, err)
	require.Len(t, registries.Retrieved, 1)
	assert.Equal(t, "alpha-genesis", registries.Retrieved[0].Host)
	assert.Empty(t, registries.FailedVMs)
}

func TestGenesisMultiaddr(t *testing.T) {
	genesis := vm(1, "alpha-genesis", "203.0.113.1", "")
	addr := "/ip4/203.0.113.1/udp/12000/quic-v1/p2p/12D3KooWGen"

	tests := []struct {
		name     string
		first    ssh.FakeResponse
		fallback ssh.FakeResponse
		want     string
		wantErr  error
	}{
		{
			name:  "first node",
			first: ssh.FakeResponse{Output: []string{addr}},
			want:  addr,
		},
		{
			name:     "falls back to any quic address",
			first:    ssh.FakeResponse{Output: []string{""}},
			fallback: ssh.FakeResponse{Output: []string{addr}},
			want:     addr,
		},
		{
			name:     "first query fails",
			first:    ssh.FakeResponse{Err: errors.New("jq: error")},
			fallback: ssh.FakeResponse{Output: []string{addr}},
			want:     addr,
		},
		{
			name:     "no address",
			first:    ssh.FakeResponse{},
			fallback: ssh.FakeResponse{},
			wantErr:  ErrGenesisListenAddressNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, runner, executor := newTestProvisioner(t)
			runner.SetInventory(types.InventoryGenesis, genesis)
			executor.On("select(.initial_peers_config.first == true)", tt.first)
			executor.On(`select(contains("quic-v1"))`, tt.fallback)

			got, ip, err := p.GenesisMultiaddr(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, netip.MustParseAddr("203.0.113.1"), ip)
			assert.Equal(t, "root", executor.Calls()[0].User)
		})
	}
}

func TestGenesisMultiaddrWithoutGenesis(t *testing.T) {
	p, _, executor := newTestProvisioner(t)

	got, ip, err := p.GenesisMultiaddr(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, ip.IsValid())
	assert.Empty(t, executor.Calls())
}

func TestNodeMultiaddrUsesFirstNode(t *testing.T) {
	p, runner, executor := newTestProvisioner(t)
	runner.SetInventory(types.InventoryNodes,
		vm(2, "alpha-node-2", "203.0.113.12", ""),
		vm(1, "alpha-node-1", "203.0.113.11", ""),
	)
	executor.On("node_registry.json", ssh.FakeResponse{Output: []string{"/ip4/203.0.113.11/udp/12000/quic-v1/p2p/12D3"}})

	addr, ip, err := p.NodeMultiaddr(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/ip4/203.0.113.11/udp/12000/quic-v1/p2p/12D3", addr)
	assert.Equal(t, netip.MustParseAddr("203.0.113.11"), ip)
}

func TestNodeMultiaddrWithoutFirstNode(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	runner.SetInventory(types.InventoryNodes, vm(2, "alpha-node-2", "203.0.113.12", ""))

	_, _, err := p.NodeMultiaddr(context.Background())
	assert.ErrorIs(t, err, ErrNodeAddressNotFound)
}
