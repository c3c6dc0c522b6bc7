package types

import (
	"net/netip"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vm(id uint64, name, public string) VirtualMachine {
	return VirtualMachine{ID: id, Name: name, PublicIP: netip.MustParseAddr(public)}
}

func TestNewVirtualMachines(t *testing.T) {
	existing := []VirtualMachine{
		vm(1, "alpha-node-1", "10.0.0.1"),
		vm(2, "alpha-node-2", "10.0.0.2"),
	}
	live := []VirtualMachine{
		vm(1, "alpha-node-1", "10.0.0.1"),
		vm(2, "alpha-node-2", "10.0.0.2"),
		vm(3, "alpha-node-3", "10.0.0.3"),
		// Same name but a new droplet ID is a new machine
		vm(4, "alpha-node-2", "10.0.0.4"),
	}

	fresh := NewVirtualMachines(live, existing)
	require.Len(t, fresh, 2)
	assert.Equal(t, uint64(3), fresh[0].ID)
	assert.Equal(t, uint64(4), fresh[1].ID)

	assert.Empty(t, NewVirtualMachines(existing, existing))
}

func TestBinaryOptionArgsResolve(t *testing.T) {
	tests := []struct {
		name    string
		args    BinaryOptionArgs
		want    BinaryOption
		wantErr error
	}{
		{
			name: "branch and owner",
			args: BinaryOptionArgs{RepoOwner: "acme", Branch: "feat"},
			want: BuildFromSource{RepoOwner: "acme", Branch: "feat"},
		},
		{
			name:    "branch without owner",
			args:    BinaryOptionArgs{Branch: "feat"},
			wantErr: ErrBranchWithoutRepoOwner,
		},
		{
			name:    "branch mixed with version",
			args:    BinaryOptionArgs{RepoOwner: "acme", Branch: "feat", SafenodeVersion: "0.110.0"},
			wantErr: ErrMixedBinaryOptions,
		},
		{
			name: "no arguments selects versioned",
			args: BinaryOptionArgs{},
			want: Versioned{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.args.Resolve()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBinaryOptionArgsResolveVersions(t *testing.T) {
	opt, err := BinaryOptionArgs{SafenodeVersion: "v0.110.1", SafeVersion: "0.94.0"}.Resolve()
	require.NoError(t, err)

	v, ok := opt.(Versioned)
	require.True(t, ok)
	assert.Equal(t, "0.110.1", v.SafenodeVersion.String())
	assert.Equal(t, "0.94.0", v.SafeVersion.String())
	assert.Nil(t, v.FaucetVersion)

	_, err = BinaryOptionArgs{SafenodeVersion: "not-a-version"}.Resolve()
	assert.Error(t, err)
}

func TestBinaryOptionEnvelope(t *testing.T) {
	version := semver.MustParse("0.110.0")
	for _, opt := range []BinaryOption{
		BuildFromSource{RepoOwner: "acme", Branch: "feat", SafenodeFeatures: "otlp"},
		Versioned{SafenodeVersion: &version},
	} {
		data, err := MarshalBinaryOption(opt)
		require.NoError(t, err)
		got, err := UnmarshalBinaryOption(data)
		require.NoError(t, err)
		assert.Equal(t, opt, got)
	}

	_, err := UnmarshalBinaryOption([]byte(`{"BuildFromSource":{},"Versioned":{}}`))
	assert.ErrorIs(t, err, ErrMixedBinaryOptions)
}

func TestInventoryTypeFilename(t *testing.T) {
	tests := []struct {
		inventoryType InventoryType
		provider      CloudProvider
		want          string
	}{
		{InventoryGenesis, CloudProviderDigitalOcean, ".alpha_genesis_inventory_digital_ocean.yml"},
		{InventoryPeerCacheNodes, CloudProviderDigitalOcean, ".alpha_bootstrap_node_inventory_digital_ocean.yml"},
		{InventoryNodes, CloudProviderAWS, ".alpha_node_inventory_aws.yml"},
		{InventoryPrivateNodes, CloudProviderDigitalOcean, ".alpha_private_node_inventory_digital_ocean.yml"},
		{InventoryPrivateNodesStatic, CloudProviderDigitalOcean, ".alpha_private_node_static_inventory_digital_ocean.yml"},
		{InventoryCustom, CloudProviderDigitalOcean, ".alpha_custom_inventory_digital_ocean.ini"},
		{InventoryNatGateway, CloudProviderDigitalOcean, ".alpha_nat_gateway_inventory_digital_ocean.yml"},
	}

	for _, tt := range tests {
		t.Run(tt.inventoryType.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.inventoryType.Filename("alpha", tt.provider))
		})
	}
}

func TestNodeTypeMappings(t *testing.T) {
	assert.Equal(t, "BOOTSTRAP_NODE", NodeTypeBootstrap.TelegrafRole())
	assert.Equal(t, "GENERIC_NODE", NodeTypeGeneric.TelegrafRole())
	assert.Equal(t, "NAT_RANDOMIZED_NODE", NodeTypePrivate.TelegrafRole())

	assert.Equal(t, InventoryPrivateNodes, NodeTypePrivate.InventoryType())
	assert.Equal(t, InventoryPrivateNodesStatic, NodeTypePrivate.PlaybookInventoryType())
	assert.Equal(t, InventoryNodes, NodeTypeGeneric.PlaybookInventoryType())

	nt, err := ParseNodeType("normal")
	require.NoError(t, err)
	assert.Equal(t, NodeTypeGeneric, nt)
}

func TestTfvarsFilename(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "dev.tfvars", EnvironmentTypeDevelopment.TfvarsFilename("alpha", dir))
	assert.Equal(t, "staging.tfvars", EnvironmentTypeStaging.TfvarsFilename("alpha", dir))
	assert.Equal(t, "production.tfvars", EnvironmentTypeProduction.TfvarsFilename("alpha", dir))
}

func TestCloudProvider(t *testing.T) {
	p, err := ParseCloudProvider("digital-ocean")
	require.NoError(t, err)
	assert.Equal(t, "root", p.SSHUser())
	assert.Equal(t, "digital_ocean", p.InventoryName())
	assert.Equal(t, "ubuntu", CloudProviderAWS.SSHUser())

	_, err = ParseCloudProvider("gcp")
	assert.Error(t, err)
}
