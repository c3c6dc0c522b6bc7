package provision

import (
	"context"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/events"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/metrics"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// NodeRegistryPath is where the node manager keeps its registry on each VM
const NodeRegistryPath = "/var/antctl/node_registry.json"

const (
	firstNodeMultiaddrQuery = `jq -r '.nodes[] | select(.initial_peers_config.first == true) | .listen_addr[] | select(contains("127.0.0.1") | not) | select(contains("quic-v1"))' ` + NodeRegistryPath + ` | head -n 1`
	anyNodeMultiaddrQuery   = `jq -r '.nodes[] | .listen_addr[] | select(contains("127.0.0.1") | not) | select(contains("quic-v1"))' ` + NodeRegistryPath + ` | head -n 1`
	nodeMultiaddrQuery      = `jq -r '.nodes[] | .listen_addr[] | select(contains("127.0.0.1") | not)' ` + NodeRegistryPath + ` | head -n 1`
)

// GetNodeRegistries fetches the node registry from every VM in the group.
// A registry that cannot be parsed puts its VM in FailedVMs rather than
// failing the call.
func (p *Provisioner) GetNodeRegistries(ctx context.Context, t types.InventoryType) (*types.DeploymentNodeRegistries, error) {
	logger := log.WithComponent("provision.registries")
	logger.Debug().Str("inventory", t.String()).Msg("Fetching node manager inventory")

	dest := filepath.Join(os.TempDir(), "testnet-deploy-registries-"+uuid.NewString())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	defer os.RemoveAll(dest)

	vars, err := ansible.NewExtraVars().AddVariable("dest", dest).Build()
	if err != nil {
		return nil, err
	}
	if err := p.ansible.RunPlaybook(ctx, ansible.PlaybookNodeManagerInventory, t, vars); err != nil {
		return nil, err
	}

	registries, err := CollectNodeRegistries(dest, t)
	if err != nil {
		return nil, err
	}
	for _, vm := range registries.FailedVMs {
		metrics.RegistryFailuresTotal.WithLabelValues(t.String()).Inc()
		p.events.Publish(&events.Event{
			Type:        events.EventRegistryUnavailable,
			Environment: p.environment(),
			Message:     fmt.Sprintf("node registry for %s could not be read", vm),
			Metadata:    map[string]string{"vm": vm, "inventory_type": t.String()},
		})
	}
	return registries, nil
}

// CollectNodeRegistries loads the registries fetched into dir. The fetch
// module lays files out as <dir>/<host>/var/antctl/node_registry.json, so the
// host is the directory three levels above each file.
func CollectNodeRegistries(dir string, t types.InventoryType) (*types.DeploymentNodeRegistries, error) {
	result := &types.DeploymentNodeRegistries{InventoryType: t}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		host := filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(path))))
		registry, err := types.LoadNodeRegistry(path)
		if err != nil {
			logger := log.WithComponent("provision.registries")
			logger.Debug().Err(err).Str("host", host).Msg("Failed to load node registry")
			result.FailedVMs = append(result.FailedVMs, host)
			return nil
		}
		result.Retrieved = append(result.Retrieved, types.NamedNodeRegistry{Host: host, Registry: registry})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk registry directory: %w", err)
	}
	return result, nil
}

// GenesisMultiaddr reads the genesis node's listen address from its registry.
// The node started as first peer is preferred; any quic-v1 address is used
// when the genesis host has been reprovisioned since. A missing genesis VM
// gives an empty address and no error.
func (p *Provisioner) GenesisMultiaddr(ctx context.Context) (string, netip.Addr, error) {
	vms, err := p.ansible.GetInventory(ctx, types.InventoryGenesis, true)
	if err != nil {
		return "", netip.Addr{}, err
	}
	if len(vms) == 0 {
		return "", netip.Addr{}, nil
	}
	ip := vms[0].PublicIP
	executor := p.SSH()

	var multiaddr string
	out, err := executor.RunCommand(ctx, ip, p.sshUser(), firstNodeMultiaddrQuery, false)
	if err != nil {
		logger := log.WithComponent("provision")
		logger.Error().Err(err).Msg("Failed to find first node with quic-v1 protocol")
	} else {
		multiaddr = firstLine(out)
	}
	if multiaddr == "" {
		out, err := executor.RunCommand(ctx, ip, p.sshUser(), anyNodeMultiaddrQuery, false)
		if err != nil {
			return "", netip.Addr{}, fmt.Errorf("failed to read genesis listen address: %w", err)
		}
		if multiaddr = firstLine(out); multiaddr == "" {
			return "", netip.Addr{}, ErrGenesisListenAddressNotFound
		}
	}
	return multiaddr, ip, nil
}

// NodeMultiaddr reads a listen address from the "-node-1" VM. Upscaling a
// bootstrap deployment has no genesis node, so an existing node is used as
// the contact peer.
func (p *Provisioner) NodeMultiaddr(ctx context.Context) (string, netip.Addr, error) {
	vms, err := p.ansible.GetInventory(ctx, types.InventoryNodes, true)
	if err != nil {
		return "", netip.Addr{}, err
	}
	var ip netip.Addr
	for _, vm := range vms {
		if strings.HasSuffix(vm.Name, "-node-1") {
			ip = vm.PublicIP
			break
		}
	}
	if !ip.IsValid() {
		return "", netip.Addr{}, ErrNodeAddressNotFound
	}
	logger := log.WithComponent("provision")
	logger.Debug().Str("ip", ip.String()).Msg("Getting multiaddr from node")

	out, err := p.SSH().RunCommand(ctx, ip, p.sshUser(), nodeMultiaddrQuery, false)
	if err != nil {
		return "", netip.Addr{}, fmt.Errorf("failed to read node listen address: %w", err)
	}
	multiaddr := firstLine(out)
	if multiaddr == "" {
		return "", netip.Addr{}, ErrNodeAddressNotFound
	}
	return multiaddr, ip, nil
}

func firstLine(lines []string) string {
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" && line != "null" {
			return line
		}
	}
	return ""
}
