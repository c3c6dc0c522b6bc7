package types

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
)

// ServiceStatus is a node service state as recorded by the node manager
type ServiceStatus string

const (
	ServiceStatusAdded   ServiceStatus = "Added"
	ServiceStatusRunning ServiceStatus = "Running"
	ServiceStatusStopped ServiceStatus = "Stopped"
	ServiceStatusRemoved ServiceStatus = "Removed"
)

// NodeRegistry is the node manager's own state file on each VM.
// Only the fields this tool reads are decoded.
type NodeRegistry struct {
	Daemon *DaemonServiceData `json:"daemon,omitempty"`
	Nodes  []NodeServiceData  `json:"nodes"`
}

// DaemonServiceData describes the node manager daemon on a VM
type DaemonServiceData struct {
	Endpoint *netip.AddrPort `json:"endpoint,omitempty"`
	Status   ServiceStatus   `json:"status,omitempty"`
	Version  string          `json:"version,omitempty"`
}

// NodeServiceData describes one node service
type NodeServiceData struct {
	Number        int            `json:"number"`
	ServiceName   string         `json:"service_name,omitempty"`
	PeerID        string         `json:"peer_id,omitempty"`
	RPCSocketAddr netip.AddrPort `json:"rpc_socket_addr"`
	ListenAddr    []string       `json:"listen_addr,omitempty"`
	Status        ServiceStatus  `json:"status"`
	Version       string         `json:"version"`
	Genesis       bool           `json:"genesis,omitempty"`
}

// LoadNodeRegistry reads a node registry file
func LoadNodeRegistry(path string) (*NodeRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node registry %s: %w", path, err)
	}
	var registry NodeRegistry
	if err := json.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("failed to parse node registry %s: %w", path, err)
	}
	return &registry, nil
}

// NamedNodeRegistry pairs a registry with the inventory host it was fetched from
type NamedNodeRegistry struct {
	Host     string        `json:"host"`
	Registry *NodeRegistry `json:"registry"`
}

// DeploymentNodeRegistries is the best-effort result of fetching registries for one group
type DeploymentNodeRegistries struct {
	InventoryType InventoryType       `json:"inventory_type"`
	Retrieved     []NamedNodeRegistry `json:"retrieved"`
	FailedVMs     []string            `json:"failed_vms"`
}

// Find returns the registry fetched from host
func (d *DeploymentNodeRegistries) Find(host string) (*NodeRegistry, bool) {
	for _, r := range d.Retrieved {
		if r.Host == host {
			return r.Registry, true
		}
	}
	return nil, false
}

// Print writes a summary of the registries to stdout
func (d *DeploymentNodeRegistries) Print() {
	fmt.Printf("%s node registries: %d retrieved, %d failed\n", d.InventoryType, len(d.Retrieved), len(d.FailedVMs))
	for _, r := range d.Retrieved {
		fmt.Printf("  %s:\n", r.Host)
		for _, node := range r.Registry.Nodes {
			fmt.Printf("    safenode%d: %s %s\n", node.Number, node.PeerID, node.Status)
		}
	}
	for _, vm := range d.FailedVMs {
		fmt.Printf("  %s: failed to retrieve\n", vm)
	}
}
