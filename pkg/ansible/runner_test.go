package ansible

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func newTestRunner(t *testing.T, fake *command.FakeRunner) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inventory"), 0o755))
	r, err := NewRunner(RunnerConfig{
		EnvironmentName:   "alpha",
		Provider:          types.CloudProviderDigitalOcean,
		WorkingDir:        dir,
		SSHPrivateKeyPath: "/keys/id_rsa",
		VaultPasswordPath: "/keys/vault",
		Env:               []string{"DO_API_TOKEN=secret"},
	}, fake)
	require.NoError(t, err)
	r.WithSleep(func(context.Context, time.Duration) error { return nil })
	return r, dir
}

func touchInventory(t *testing.T, r *Runner, it types.InventoryType) string {
	t.Helper()
	path := r.InventoryPath(it)
	require.NoError(t, os.WriteFile(path, []byte("plugin: test\n"), 0o644))
	return path
}

func TestNewRunnerRequiresEnvironment(t *testing.T) {
	_, err := NewRunner(RunnerConfig{}, command.NewFakeRunner())
	assert.ErrorIs(t, err, ErrEnvironmentNameRequired)
}

func TestRunPlaybookArguments(t *testing.T) {
	fake := command.NewFakeRunner()
	r, dir := newTestRunner(t, fake)
	inventory := touchInventory(t, r, types.InventoryNodes)

	err := r.RunPlaybook(context.Background(), PlaybookNodes, types.InventoryNodes, `{"testnet_name":"alpha"}`)
	require.NoError(t, err)

	require.Len(t, fake.Calls, 1)
	call := fake.Calls[0]
	assert.Equal(t, PlaybookBinary, call.Binary)
	assert.Equal(t, dir, call.Dir)
	assert.Equal(t, []string{"DO_API_TOKEN=secret"}, call.Env)
	assert.Equal(t, []string{
		"--inventory", inventory,
		"--private-key", "/keys/id_rsa",
		"--user", "root",
		"--vault-password-file", "/keys/vault",
		"--extra-vars", `{"testnet_name":"alpha"}`,
		"--forks", "50",
		"nodes.yml",
	}, call.Args)
}

func TestRunPlaybookMissingEnvironment(t *testing.T) {
	fake := command.NewFakeRunner()
	r, _ := newTestRunner(t, fake)

	err := r.RunPlaybook(context.Background(), PlaybookGenesisNode, types.InventoryGenesis, "")
	var notFound *EnvironmentDoesNotExistError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "alpha", notFound.Name)
	assert.Empty(t, fake.Calls)
}

func TestRunPlaybookPrefersPrivateStaticInventory(t *testing.T) {
	fake := command.NewFakeRunner()
	r, _ := newTestRunner(t, fake)
	touchInventory(t, r, types.InventoryPrivateNodes)
	static := touchInventory(t, r, types.InventoryPrivateNodesStatic)

	require.NoError(t, r.RunPlaybook(context.Background(), PlaybookPrivateNodes, types.InventoryPrivateNodes, ""))
	assert.Equal(t, static, fake.Calls[0].Args[1])
	assert.NotContains(t, fake.Calls[0].Args, "--extra-vars")
}

func TestRunPlaybookPropagatesFailure(t *testing.T) {
	fake := command.NewFakeRunner().On(PlaybookBinary, command.Response{
		Output: []string{"fatal: [10.0.0.1]: UNREACHABLE!"},
		Err:    &command.ExternalCommandRunFailedError{Binary: PlaybookBinary, ExitStatus: 4},
	})
	r, _ := newTestRunner(t, fake)
	touchInventory(t, r, types.InventoryGenesis)

	err := r.RunPlaybook(context.Background(), PlaybookGenesisNode, types.InventoryGenesis, "")
	var runErr *command.ExternalCommandRunFailedError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 4, runErr.ExitStatus)
}

func TestParseInventoryOutput(t *testing.T) {
	lines := []string{
		"[WARNING]: Invalid characters were found in group names",
		"Using /etc/ansible/ansible.cfg as config file",
		`{"_meta":{"hostvars":{"vm1":{"ansible_host":"10.0.0.5"}}}}`,
		"PLAY RECAP done",
	}

	vms, err := ParseInventoryOutput(lines)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "vm1", vms[0].Name)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), vms[0].PublicIP)
}

func TestParseInventoryOutputTruncatesAfterLastBrace(t *testing.T) {
	lines := []string{
		"preamble",
		`{"_meta":{"hostvars":{"vm1":{"ansible_host":"10.0.0.5"}}}} exit 0`,
	}
	vms, err := ParseInventoryOutput(lines)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "vm1", vms[0].Name)
}

func TestParseInventoryOutputDigitalOceanHostVars(t *testing.T) {
	lines := []string{`{
  "_meta": {
    "hostvars": {
      "203.0.113.7": {
        "do_id": 4211,
        "do_name": "alpha-node-2",
        "do_networks": {"v4": [
          {"ip_address": "203.0.113.7", "type": "public"},
          {"ip_address": "10.0.0.7", "type": "private"}
        ]}
      },
      "203.0.113.6": {
        "do_id": 4210,
        "do_name": "alpha-node-1",
        "do_networks": {"v4": [
          {"ip_address": "203.0.113.6", "type": "public"},
          {"ip_address": "10.0.0.6", "type": "private"}
        ]}
      }
    }
  }
}`}

	vms, err := ParseInventoryOutput(lines)
	require.NoError(t, err)
	assert.Equal(t, []types.VirtualMachine{
		{ID: 4210, Name: "alpha-node-1", PublicIP: netip.MustParseAddr("203.0.113.6"), PrivateIP: netip.MustParseAddr("10.0.0.6")},
		{ID: 4211, Name: "alpha-node-2", PublicIP: netip.MustParseAddr("203.0.113.7"), PrivateIP: netip.MustParseAddr("10.0.0.7")},
	}, vms)
}

func TestParseInventoryOutputWithoutDocument(t *testing.T) {
	vms, err := ParseInventoryOutput([]string{"no hosts matched"})
	require.NoError(t, err)
	assert.Empty(t, vms)
}

func TestGetInventoryRetriesWhileEmpty(t *testing.T) {
	empty := command.Response{Output: []string{`{"_meta":{"hostvars":{}}}`}}
	full := command.Response{Output: []string{`{"_meta":{"hostvars":{"vm1":{"ansible_host":"10.0.0.5"}}}}`}}
	fake := command.NewFakeRunner().
		On(InventoryBinary, empty).
		On(InventoryBinary, empty).
		On(InventoryBinary, full)
	r, _ := newTestRunner(t, fake)
	path := touchInventory(t, r, types.InventoryGenesis)

	vms, err := r.GetInventory(context.Background(), types.InventoryGenesis, true)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Len(t, fake.Calls, 3)
	assert.Equal(t, []string{"--inventory", path, "--list"}, fake.Calls[0].Args)
	assert.True(t, fake.Calls[0].Quiet)
}

func TestGetInventoryGivesUpWithEmptyResult(t *testing.T) {
	fake := command.NewFakeRunner().On(InventoryBinary, command.Response{Output: []string{`{"_meta":{"hostvars":{}}}`}})
	r, _ := newTestRunner(t, fake)
	touchInventory(t, r, types.InventoryUploaders)

	vms, err := r.GetInventory(context.Background(), types.InventoryUploaders, true)
	require.NoError(t, err)
	assert.Empty(t, vms)
	assert.Len(t, fake.Calls, 4)
}

func TestGetInventoryWithoutRetry(t *testing.T) {
	fake := command.NewFakeRunner().On(InventoryBinary, command.Response{Output: []string{`{"_meta":{"hostvars":{}}}`}})
	r, _ := newTestRunner(t, fake)
	touchInventory(t, r, types.InventoryBuild)

	vms, err := r.GetInventory(context.Background(), types.InventoryBuild, false)
	require.NoError(t, err)
	assert.Empty(t, vms)
	assert.Len(t, fake.Calls, 1)
}
