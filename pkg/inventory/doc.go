/*
Package inventory models a deployed testnet and keeps that model in step with
the VMs that actually exist.

A DeploymentInventory is never patched in place. Service.GenerateOrRetrieve
rebuilds it from the role inventories reported by ansible and the node
registry fetched from each VM, then callers Save it as the local cache that
later commands read back. The record of how the environment was created is
kept in an object store under EnvironmentDetailsBucket so that it survives
the loss of the local cache.

Registry fetches are best effort: VMs whose registry could not be read are
listed in FailedNodeRegistryVMs and the inventory is still returned.
*/
package inventory
