/*
Package deploy drives whole-environment operations: creating a network,
bootstrapping nodes onto an existing one, upscaling, reporting status and
tearing an environment down.

# Deploy

A new deployment records its environment details, applies the
infrastructure and then runs the provisioning phases strictly in order:

	build binaries (branch deployments only)
	  → genesis node (its multiaddr is read back for every later phase)
	  → bootstrap nodes → normal nodes
	  → NAT gateway → private nodes (when private VMs were requested)
	  → faucet, RPC client, auditor, uploaders (first deployment only)

Genesis, NAT gateway and auxiliary phases are hard: a failure aborts the
run. Node phases are soft: a failure is logged, the run continues and a
WARNING! block is printed at the end, since a small failure tail on a large
deployment rarely makes it unusable.

Each phase prints its position, publishes phase events on the broker and
observes testnet_deploy_phase_duration_seconds.

# Upscale

Upscale compares the desired counts against the current inventory and
rejects any that shrink a dimension. Equal counts are accepted. The
terraform variables start from the applied resources, so attributes that
are not being grown are reapplied unchanged. Provisioning only polls SSH on
VMs that were not in the inventory before.

# Clean

Clean drains uploader wallets, destroys the infrastructure, deletes the
workspace and removes the inventory files and the environment details
record. A missing details record is reported and the cleanup continues.
*/
package deploy
