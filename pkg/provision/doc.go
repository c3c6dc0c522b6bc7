/*
Package provision runs the playbooks that turn freshly created VMs into a
network.

A Provisioner wraps an ansible runner and an SSH executor. Each phase
builds its extra-vars document first, so option errors such as a private
node type without a NAT gateway are reported before any remote call:

	p := provision.NewProvisioner(runner, sshClient, cfg.SSHKeyPath, broker)
	if err := p.ProvisionGenesisNode(ctx, opts); err != nil {
		return err
	}
	multiaddr, _, err := p.GenesisMultiaddr(ctx)

Private nodes are reached through the NAT gateway. RoutePrivateNodes writes
the static inventory and adds the private hosts to the provisioner's SSH
routing table, which every later SSH call honours.

Node registries are fetched with the node_manager_inventory playbook and
collected per host; unreadable registries are reported in FailedVMs.
*/
package provision
