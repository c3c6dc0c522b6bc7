package inventory

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/storage"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func sampleInventory() *DeploymentInventory {
	node := semver.MustParse("0.112.3")
	return &DeploymentInventory{
		Name:         "alpha",
		BinaryOption: types.Versioned{SafenodeVersion: &node},
		EnvironmentDetails: &types.EnvironmentDetails{
			DeploymentType:  types.DeploymentTypeNew,
			EnvironmentType: types.EnvironmentTypeStaging,
		},
		GenesisVM: &types.NodeVirtualMachine{
			VM:                  vm(1, "alpha-genesis", "203.0.113.1", ""),
			NodeCount:           1,
			NodeListenAddresses: [][]string{{"/ip4/203.0.113.1/udp/12001/quic-v1/p2p/gen1"}},
		},
		NodeVMs: []types.NodeVirtualMachine{
			{VM: vm(2, "alpha-node-1", "203.0.113.11", ""), NodeCount: 20},
			{VM: vm(3, "alpha-node-2", "203.0.113.12", ""), NodeCount: 20},
		},
		PrivateNodeVMs: []types.NodeVirtualMachine{
			{VM: vm(4, "alpha-private-node-1", "203.0.113.21", "10.0.0.9"), NodeCount: 5},
		},
		UploaderVMs: []types.UploaderVirtualMachine{
			{VM: vm(6, "alpha-uploader-1", "203.0.113.31", ""), WalletPublicKey: map[string]string{"ant1": "0xaa", "ant2": "0xbb"}},
		},
		FailedNodeRegistryVMs: []string{"alpha-node-2"},
		GenesisMultiaddr:      "/ip4/203.0.113.1/udp/12001/quic-v1/p2p/gen1",
		FaucetAddress:         "203.0.113.1:8000",
		SSHUser:               "root",
	}
}

func TestSaveAndRead(t *testing.T) {
	dir := t.TempDir()
	inv := sampleInventory()
	inv.AddUploadedFiles(UploadedFile{Address: "a1b2", Name: "file.txt"})

	require.NoError(t, inv.Save(dir))
	got, err := Read(Path(dir, "alpha"))
	require.NoError(t, err)

	assert.Equal(t, inv.BinaryOption, got.BinaryOption)
	assert.Equal(t, inv.NodeVMs, got.NodeVMs)
	assert.Equal(t, inv.GenesisVM, got.GenesisVM)
	assert.Equal(t, []UploadedFile{{Address: "a1b2", Name: "file.txt"}}, got.UploadedFiles)
	assert.Equal(t, filepath.Join(dir, "alpha-inventory.json"), Path(dir, "alpha"))

	require.NoError(t, Remove(dir, "alpha"))
	require.NoError(t, Remove(dir, "alpha"), "removing a missing inventory is not an error")
}

func TestCounts(t *testing.T) {
	inv := sampleInventory()

	assert.Equal(t, 46, inv.NodeCount())
	assert.Equal(t, 20, inv.GenericNodeCount())
	assert.Equal(t, 5, inv.PrivateNodeCount())
	assert.Equal(t, 0, inv.PeerCacheNodeCount())
	assert.Equal(t, 2, inv.UploadersCount())
	assert.Len(t, inv.VMList(), 5)
	assert.False(t, inv.IsEmpty())
	assert.True(t, Empty("alpha", nil).IsEmpty())

	peer, err := inv.RandomPeer()
	require.NoError(t, err)
	assert.Equal(t, inv.GenesisMultiaddr, peer)

	_, err = Empty("alpha", nil).RandomPeer()
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	sampleInventory().PrintReport(&buf)
	out := buf.String()

	assert.Contains(t, out, "Inventory Report")
	assert.Contains(t, out, "Version Details")
	assert.Contains(t, out, "antnode version: 0.112.3")
	assert.Contains(t, out, "alpha-node-1: 203.0.113.11 (20 nodes)")
	assert.Contains(t, out, "Genesis multiaddr: /ip4/203.0.113.1/udp/12001/quic-v1/p2p/gen1")
	assert.Contains(t, out, "Faucet address: 203.0.113.1:8000")
	assert.Contains(t, out, "Failed to retrieve node registries from:")
}

type flakyStore struct {
	storage.ObjectStore
	failures int
	data     []byte
	calls    int
}

func (s *flakyStore) Get(_ context.Context, _, _ string) ([]byte, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("connection reset")
	}
	return s.data, nil
}

func TestGetEnvironmentDetails(t *testing.T) {
	retryDelay = 0
	ctx := context.Background()

	tests := []struct {
		name      string
		store     *flakyStore
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "first attempt",
			store:     &flakyStore{data: []byte(`{"deployment_type":"bootstrap","environment_type":"production"}`)},
			wantCalls: 1,
		},
		{
			name:      "recovers after transient failures",
			store:     &flakyStore{failures: 2, data: []byte(`{"deployment_type":"bootstrap"}`)},
			wantCalls: 3,
		},
		{
			name:      "gives up after retries",
			store:     &flakyStore{failures: 10},
			wantErr:   true,
			wantCalls: 4,
		},
		{
			name:      "unparseable record",
			store:     &flakyStore{data: []byte("not json")},
			wantErr:   true,
			wantCalls: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details, err := GetEnvironmentDetails(ctx, tt.store, "alpha")
			assert.Equal(t, tt.wantCalls, tt.store.calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEnvironmentDetailsNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.DeploymentTypeBootstrap, details.DeploymentType)
		})
	}
}

func TestEnvironmentDetailsRecord(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = GetEnvironmentDetails(ctx, store, "alpha")
	assert.ErrorIs(t, err, ErrEnvironmentDetailsNotFound)

	details := types.EnvironmentDetails{
		DeploymentType:  types.DeploymentTypeNew,
		EnvironmentType: types.EnvironmentTypeDevelopment,
		RewardsAddress:  "0x03B770D9cD32077cC0bF330c13C114a87643B124",
	}
	require.NoError(t, WriteEnvironmentDetails(ctx, store, "alpha", details))

	got, err := GetEnvironmentDetails(ctx, store, "alpha")
	require.NoError(t, err)
	assert.Equal(t, details, *got)

	require.NoError(t, DeleteEnvironmentDetails(ctx, store, "alpha"))
	_, err = GetEnvironmentDetails(ctx, store, "alpha")
	assert.ErrorIs(t, err, ErrEnvironmentDetailsNotFound)
}

func TestVersionParsers(t *testing.T) {
	tests := []struct {
		name    string
		parse   func([]string) (semver.Version, error)
		output  []string
		want    string
		wantErr bool
	}{
		{name: "antctl", parse: ParseAntctlVersion, output: []string{"Autonomi Node Manager v0.11.3"}, want: "0.11.3"},
		{name: "antctl with leading blank line", parse: ParseAntctlVersion, output: []string{"", "Autonomi Node Manager v0.11.3", "Git info: main / abc"}, want: "0.11.3"},
		{name: "antctl prerelease", parse: ParseAntctlVersion, output: []string{"Autonomi Node Manager v0.12.0-rc.1"}, want: "0.12.0-rc.1"},
		{name: "antctl old banner", parse: ParseAntctlVersion, output: []string{"safenode-manager 0.10.0"}, wantErr: true},
		{name: "ant", parse: ParseAntVersion, output: []string{"Autonomi Client v0.3.1"}, want: "0.3.1"},
		{name: "ant empty output", parse: ParseAntVersion, output: nil, wantErr: true},
		{name: "ant bad version", parse: ParseAntVersion, output: []string{"Autonomi Client vnext"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.parse(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestJoinReplacesLoopbackEndpoints(t *testing.T) {
	daemon := netip.MustParseAddrPort("0.0.0.0:12500")
	registry := &types.NodeRegistry{
		Daemon: &types.DaemonServiceData{Endpoint: &daemon},
		Nodes: []types.NodeServiceData{
			{Number: 1, PeerID: "p1", RPCSocketAddr: netip.MustParseAddrPort("127.0.0.1:13001")},
			{Number: 2, RPCSocketAddr: netip.MustParseAddrPort("127.0.0.1:13002")},
		},
	}
	regs := &types.DeploymentNodeRegistries{Retrieved: []types.NamedNodeRegistry{{Host: "alpha-node-1", Registry: registry}}}

	joined := JoinNodeRegistries([]types.VirtualMachine{vm(2, "alpha-node-1", "203.0.113.11", "")}, regs, false)
	require.Len(t, joined, 1)
	assert.Equal(t, 2, joined[0].NodeCount)
	assert.Equal(t, map[string]netip.AddrPort{"p1": netip.MustParseAddrPort("203.0.113.11:13001")}, joined[0].RPCEndpoint)
	assert.Equal(t, netip.MustParseAddrPort("203.0.113.11:12500"), *joined[0].DaemonEndpoint)
}
