/*
Package types defines the domain model shared by every testnet-deploy package.

# Virtual machines

A VirtualMachine is created by the infrastructure tool and is never mutated
here. Its identity is the (ID, Name) pair, which is what upscale uses to find
VMs that did not exist in a previous inventory:

	fresh := types.NewVirtualMachines(live, current.NodeVMs())

NodeVirtualMachine and UploaderVirtualMachine wrap a VM with facts gathered
from it after provisioning (node registries and uploader wallets).

# Roles

InventoryType and NodeType are closed enumerations. Every switch over them
lists each value explicitly so a new role is a compile-time checklist:

	InventoryType   tag              file
	Genesis         genesis          .<env>_genesis_inventory_<provider>.yml
	PeerCacheNodes  bootstrap_node   .<env>_bootstrap_node_inventory_<provider>.yml
	Nodes           node             .<env>_node_inventory_<provider>.yml
	PrivateNodes    private_node     .<env>_private_node_inventory_<provider>.yml
	NatGateway      nat_gateway      .<env>_nat_gateway_inventory_<provider>.yml
	...

# Binary options

BinaryOption is a sealed interface with two variants, BuildFromSource and
Versioned. BinaryOptionArgs.Resolve validates raw CLI arguments and rejects
branch arguments mixed with version arguments.
*/
package types
