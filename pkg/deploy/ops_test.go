package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func TestClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, inventory.WriteEnvironmentDetails(ctx, f.store, "alpha", types.EnvironmentDetails{
		DeploymentType:  types.DeploymentTypeNew,
		EnvironmentType: types.EnvironmentTypeStaging,
	}))
	uploader := vm(7, "alpha-uploader-1", "203.0.113.70", "")
	f.runner.SetInventory(types.InventoryUploaders, uploader)
	funder := &fakeFunder{}
	f.deployer.WithFunder(funder)

	require.NoError(t, f.deployer.Clean(ctx))

	tfvars := types.EnvironmentTypeStaging.TfvarsFilename("alpha", f.deployer.terraformDir)
	assert.Equal(t, []string{"list", "select:alpha", "destroy:" + tfvars, "select:default", "delete:alpha"}, f.infra.ops)
	assert.Equal(t, []types.VirtualMachine{uploader}, funder.drained)
	assert.Contains(t, f.out.String(), "Deleted Ansible inventory for alpha")

	_, err := inventory.GetEnvironmentDetails(ctx, f.store, "alpha")
	assert.ErrorIs(t, err, inventory.ErrEnvironmentDetailsNotFound)
}

func TestCleanContinuesWithoutEnvironmentDetails(t *testing.T) {
	f := newFixture(t)
	funder := &fakeFunder{}
	f.deployer.WithFunder(funder)

	require.NoError(t, f.deployer.Clean(context.Background()))

	tfvars := types.EnvironmentTypeDevelopment.TfvarsFilename("alpha", f.deployer.terraformDir)
	assert.Contains(t, f.infra.ops, "destroy:"+tfvars)
	assert.Nil(t, funder.drained)
	out := f.out.String()
	assert.Contains(t, out, "Failed to get environment details")
	assert.Contains(t, out, "Continuing cleanup...")
}

func TestCleanUnknownEnvironment(t *testing.T) {
	f := newFixture(t)
	f.infra.workspaces = []string{"default", "beta"}

	err := f.deployer.Clean(context.Background())
	var missing *ansible.EnvironmentDoesNotExistError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "alpha", missing.Name)
	assert.Equal(t, []string{"list"}, f.infra.ops)
}

func registryDoc(t *testing.T, statuses ...types.ServiceStatus) string {
	t.Helper()
	var nodes []map[string]any
	for i, s := range statuses {
		nodes = append(nodes, map[string]any{
			"number":          i + 1,
			"service_name":    fmt.Sprintf("antnode%d", i+1),
			"peer_id":         fmt.Sprintf("12D3KooW%d", i+1),
			"rpc_socket_addr": fmt.Sprintf("127.0.0.1:%d", 13001+i),
			"status":          s,
			"version":         "0.112.3",
		})
	}
	doc, err := json.Marshal(map[string]any{"nodes": nodes})
	require.NoError(t, err)
	return string(doc)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	registries := map[types.InventoryType]map[string]string{
		types.InventoryNodes: {
			"alpha-node-1": registryDoc(t, types.ServiceStatusRunning, types.ServiceStatusRunning, types.ServiceStatusStopped),
			"alpha-node-2": registryDoc(t, types.ServiceStatusRunning, types.ServiceStatusAdded, types.ServiceStatusRemoved),
		},
		types.InventoryGenesis: {
			"alpha-genesis": registryDoc(t, types.ServiceStatusRunning),
		},
	}
	f.runner.OnRun(ansible.PlaybookNodeManagerInventory, func(call ansible.PlaybookCall) error {
		var vars map[string]string
		if err := json.Unmarshal([]byte(call.ExtraVars), &vars); err != nil {
			return err
		}
		for host, doc := range registries[call.Inventory] {
			path := filepath.Join(vars["dest"], host, "var", "antctl", "node_registry.json")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				return err
			}
		}
		return nil
	})

	summary, err := f.deployer.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ansible.PlaybookNodeStatus, f.runner.Playbooks()[0])
	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 4, summary.Running)
	assert.Equal(t, 1, summary.Stopped)
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, GroupSummary{Label: "generic", Hosts: 2, Nodes: 6}, summary.Groups[1])
	assert.Empty(t, summary.BootstrapCaches)

	out := f.out.String()
	assert.Contains(t, out, "Total generic nodes (2x3): 6")
	assert.Contains(t, out, "Total genesis nodes (1x1): 1")
	assert.Contains(t, out, "Running nodes: 4")
}

func TestNotificationMessage(t *testing.T) {
	node := semver.MustParse("0.112.3")
	inv := &inventory.DeploymentInventory{
		Name:          "alpha",
		BinaryOption:  types.Versioned{SafenodeVersion: &node},
		NodeVMs:       nodeVMs(2, vm(3, "alpha-node-1", "203.0.113.11", "")),
		FaucetAddress: "203.0.113.1:8000",
		UploadedFiles: []inventory.UploadedFile{{Address: "a1b2", Name: "movie.mp4"}},
	}

	msg := NotificationMessage(inv)
	assert.Contains(t, msg, "*Testnet Details*")
	assert.Contains(t, msg, "Name: alpha")
	assert.Contains(t, msg, "Faucet address: 203.0.113.1:8000")
	assert.Contains(t, msg, "*Version Details*")
	assert.Contains(t, msg, "antnode version: 0.112.3")
	assert.Contains(t, msg, "a1b2: movie.mp4")

	inv.BinaryOption = types.BuildFromSource{RepoOwner: "acme", Branch: "feat"}
	msg = NotificationMessage(inv)
	assert.Contains(t, msg, "*Branch Details*")
	assert.Contains(t, msg, "Branch: feat")
}

func TestNotifySlack(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inv := &inventory.DeploymentInventory{Name: "alpha", BinaryOption: types.BuildFromSource{RepoOwner: "acme", Branch: "feat"}}
	require.NoError(t, NotifySlack(context.Background(), server.Client(), server.URL, inv))
	assert.Contains(t, got["text"], "Name: alpha")
}

func TestNotifySlackErrors(t *testing.T) {
	inv := &inventory.DeploymentInventory{Name: "alpha"}
	assert.ErrorIs(t, NotifySlack(context.Background(), nil, "", inv), ErrSlackWebhookURLNotSupplied)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()
	err := NotifySlack(context.Background(), server.Client(), server.URL, inv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
