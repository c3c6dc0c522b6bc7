package types

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// VirtualMachine is a VM created by the infrastructure tool
type VirtualMachine struct {
	ID        uint64     `json:"id"`
	Name      string     `json:"name"`
	PublicIP  netip.Addr `json:"public_ip_addr"`
	PrivateIP netip.Addr `json:"private_ip_addr"`
}

// VMKey is the identity of a VirtualMachine
type VMKey struct {
	ID   uint64
	Name string
}

// Key returns the (id, name) identity used for set difference
func (vm VirtualMachine) Key() VMKey {
	return VMKey{ID: vm.ID, Name: vm.Name}
}

func (vm VirtualMachine) String() string {
	return fmt.Sprintf("%s (%s)", vm.Name, vm.PublicIP)
}

// NewVirtualMachines returns the VMs in vms whose identity is not in existing
func NewVirtualMachines(vms []VirtualMachine, existing []VirtualMachine) []VirtualMachine {
	seen := make(map[VMKey]struct{}, len(existing))
	for _, vm := range existing {
		seen[vm.Key()] = struct{}{}
	}

	var fresh []VirtualMachine
	for _, vm := range vms {
		if _, ok := seen[vm.Key()]; !ok {
			fresh = append(fresh, vm)
		}
	}
	return fresh
}

// SortVirtualMachines orders VMs by name
func SortVirtualMachines(vms []VirtualMachine) {
	sort.Slice(vms, func(i, j int) bool { return vms[i].Name < vms[j].Name })
}

// NodeVirtualMachine is a VM hosting node services, joined with its node registry
type NodeVirtualMachine struct {
	VM                  VirtualMachine            `json:"vm"`
	NodeCount           int                       `json:"node_count"`
	NodeListenAddresses [][]string                `json:"node_listen_addresses"`
	RPCEndpoint         map[string]netip.AddrPort `json:"rpc_endpoint"`
	DaemonEndpoint      *netip.AddrPort           `json:"daemon_endpoint,omitempty"`
}

// UploaderVirtualMachine is a VM running uploader services
type UploaderVirtualMachine struct {
	VM VirtualMachine `json:"vm"`
	// WalletPublicKey maps the service's OS user to its wallet address
	WalletPublicKey map[string]string `json:"wallet_public_key"`
}

// DeploymentType records how an environment was created
type DeploymentType string

const (
	DeploymentTypeNew       DeploymentType = "new"
	DeploymentTypeBootstrap DeploymentType = "bootstrap"
	DeploymentTypeClient    DeploymentType = "clients"
)

// ParseDeploymentType parses the CLI/persisted form of a DeploymentType
func ParseDeploymentType(s string) (DeploymentType, error) {
	switch strings.ToLower(s) {
	case "new":
		return DeploymentTypeNew, nil
	case "bootstrap":
		return DeploymentTypeBootstrap, nil
	case "clients", "client":
		return DeploymentTypeClient, nil
	default:
		return "", fmt.Errorf("invalid deployment type: %s", s)
	}
}

// CloudProvider is the provider the infrastructure runs on
type CloudProvider string

const (
	CloudProviderAWS          CloudProvider = "aws"
	CloudProviderDigitalOcean CloudProvider = "digital-ocean"
)

// ParseCloudProvider parses a provider name
func ParseCloudProvider(s string) (CloudProvider, error) {
	switch strings.ToLower(s) {
	case "aws":
		return CloudProviderAWS, nil
	case "digital-ocean", "digital_ocean", "digitalocean":
		return CloudProviderDigitalOcean, nil
	default:
		return "", fmt.Errorf("invalid cloud provider: %s", s)
	}
}

// SSHUser returns the login user of the provider's base images
func (p CloudProvider) SSHUser() string {
	switch p {
	case CloudProviderAWS:
		return "ubuntu"
	case CloudProviderDigitalOcean:
		return "root"
	default:
		return "root"
	}
}

// InventoryName is the provider token used in inventory file names
func (p CloudProvider) InventoryName() string {
	switch p {
	case CloudProviderAWS:
		return "aws"
	case CloudProviderDigitalOcean:
		return "digital_ocean"
	default:
		return string(p)
	}
}

// LogFormat is the node log output format
type LogFormat string

const (
	LogFormatDefault LogFormat = "default"
	LogFormatJSON    LogFormat = "json"
)

// ParseLogFormat validates a node log format
func ParseLogFormat(s string) (LogFormat, error) {
	switch s {
	case "default":
		return LogFormatDefault, nil
	case "json":
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("the only valid values for the log format are \"default\" or \"json\"")
	}
}
