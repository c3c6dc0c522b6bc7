package types

import (
	"fmt"
	"strings"
)

// InventoryType is a role-specific group of VMs known to ansible
type InventoryType int

const (
	InventoryAuditor InventoryType = iota
	InventoryBuild
	InventoryCustom
	InventoryEvmNodes
	InventoryGenesis
	InventoryLogstash
	InventoryNatGateway
	InventoryNodes
	InventoryPeerCacheNodes
	// InventoryPrivateNodes lists private VMs but cannot run playbooks, because
	// it does not route SSH through the NAT gateway.
	InventoryPrivateNodes
	// InventoryPrivateNodesStatic is the generated, proxied inventory used to run playbooks on private VMs.
	InventoryPrivateNodesStatic
	InventoryUploaders
)

// GeneratedInventoryTypes are materialised from the base template for each environment
var GeneratedInventoryTypes = []InventoryType{
	InventoryAuditor,
	InventoryBuild,
	InventoryEvmNodes,
	InventoryGenesis,
	InventoryNatGateway,
	InventoryNodes,
	InventoryPeerCacheNodes,
	InventoryPrivateNodes,
	InventoryUploaders,
}

// NodeInventoryTypes are the groups that host node services
var NodeInventoryTypes = []InventoryType{
	InventoryGenesis,
	InventoryPeerCacheNodes,
	InventoryNodes,
	InventoryPrivateNodes,
}

func (t InventoryType) String() string {
	switch t {
	case InventoryAuditor:
		return "Auditor"
	case InventoryBuild:
		return "Build"
	case InventoryCustom:
		return "Custom"
	case InventoryEvmNodes:
		return "EvmNodes"
	case InventoryGenesis:
		return "Genesis"
	case InventoryLogstash:
		return "Logstash"
	case InventoryNatGateway:
		return "NatGateway"
	case InventoryNodes:
		return "Nodes"
	case InventoryPeerCacheNodes:
		return "PeerCacheNodes"
	case InventoryPrivateNodes:
		return "PrivateNodes"
	case InventoryPrivateNodesStatic:
		return "PrivateNodesStatic"
	case InventoryUploaders:
		return "Uploaders"
	default:
		return fmt.Sprintf("InventoryType(%d)", int(t))
	}
}

// Tag is the cloud tag the dynamic inventory filters on
func (t InventoryType) Tag() string {
	switch t {
	case InventoryAuditor:
		return "auditor"
	case InventoryBuild:
		return "build"
	case InventoryCustom:
		return "custom"
	case InventoryEvmNodes:
		return "evm_node"
	case InventoryGenesis:
		return "genesis"
	case InventoryLogstash:
		return "logstash"
	case InventoryNatGateway:
		return "nat_gateway"
	case InventoryNodes:
		return "node"
	case InventoryPeerCacheNodes:
		return "bootstrap_node"
	case InventoryPrivateNodes, InventoryPrivateNodesStatic:
		return "private_node"
	case InventoryUploaders:
		return "uploader"
	default:
		return ""
	}
}

// Filename is the inventory file name for an environment and provider,
// e.g. .alpha_node_inventory_digital_ocean.yml
func (t InventoryType) Filename(env string, provider CloudProvider) string {
	p := provider.InventoryName()
	switch t {
	case InventoryCustom:
		return fmt.Sprintf(".%s_custom_inventory_%s.ini", env, p)
	case InventoryPrivateNodesStatic:
		return fmt.Sprintf(".%s_private_node_static_inventory_%s.yml", env, p)
	case InventoryAuditor, InventoryBuild, InventoryEvmNodes, InventoryGenesis, InventoryLogstash,
		InventoryNatGateway, InventoryNodes, InventoryPeerCacheNodes, InventoryPrivateNodes, InventoryUploaders:
		return fmt.Sprintf(".%s_%s_inventory_%s.yml", env, t.Tag(), p)
	default:
		return fmt.Sprintf(".%s_unknown_inventory_%s.yml", env, p)
	}
}

// NodeType is the role a node service plays in the network
type NodeType int

const (
	NodeTypeGenesis NodeType = iota
	NodeTypePeerCache
	NodeTypeBootstrap
	NodeTypeGeneric
	NodeTypePrivate
)

// ParseNodeType parses the CLI form of a NodeType
func ParseNodeType(s string) (NodeType, error) {
	switch strings.ToLower(s) {
	case "genesis":
		return NodeTypeGenesis, nil
	case "peer-cache":
		return NodeTypePeerCache, nil
	case "bootstrap":
		return NodeTypeBootstrap, nil
	case "generic", "normal":
		return NodeTypeGeneric, nil
	case "private":
		return NodeTypePrivate, nil
	default:
		return 0, fmt.Errorf("invalid node type: %s", s)
	}
}

func (n NodeType) String() string {
	switch n {
	case NodeTypeGenesis:
		return "genesis"
	case NodeTypePeerCache:
		return "peer-cache"
	case NodeTypeBootstrap:
		return "bootstrap"
	case NodeTypeGeneric:
		return "generic"
	case NodeTypePrivate:
		return "private"
	default:
		return fmt.Sprintf("NodeType(%d)", int(n))
	}
}

// TelegrafRole labels the node's metrics downstream
func (n NodeType) TelegrafRole() string {
	switch n {
	case NodeTypeGenesis:
		return "GENESIS_NODE"
	case NodeTypePeerCache:
		return "PEER_CACHE_NODE"
	case NodeTypeBootstrap:
		return "BOOTSTRAP_NODE"
	case NodeTypeGeneric:
		return "GENERIC_NODE"
	case NodeTypePrivate:
		return "NAT_RANDOMIZED_NODE"
	default:
		return ""
	}
}

// InventoryType is the group the node type's VMs are listed in
func (n NodeType) InventoryType() InventoryType {
	switch n {
	case NodeTypeGenesis:
		return InventoryGenesis
	case NodeTypePeerCache, NodeTypeBootstrap:
		return InventoryPeerCacheNodes
	case NodeTypeGeneric:
		return InventoryNodes
	case NodeTypePrivate:
		return InventoryPrivateNodes
	default:
		return InventoryNodes
	}
}

// PlaybookInventoryType is the group playbooks for this node type run against
func (n NodeType) PlaybookInventoryType() InventoryType {
	if n == NodeTypePrivate {
		return InventoryPrivateNodesStatic
	}
	return n.InventoryType()
}
