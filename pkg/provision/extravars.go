package provision

import (
	"strconv"

	"github.com/cuemby/testnet-deploy/pkg/ansible"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

func millis(o ProvisionOptions) string {
	return strconv.FormatInt(o.interval().Milliseconds(), 10)
}

func addEvmVariables(e *ansible.ExtraVars, evm EvmSettings) {
	e.AddVariable("evm_network_type", evm.Network.NetworkType())
	if evm.DataPaymentsAddress != "" {
		e.AddVariable("evm_data_payments_address", evm.DataPaymentsAddress)
	}
	if evm.PaymentTokenAddress != "" {
		e.AddVariable("evm_payment_token_address", evm.PaymentTokenAddress)
	}
	if evm.RPCURL != "" {
		e.AddVariable("evm_rpc_url", evm.RPCURL)
	}
}

// BuildNodeExtraVars renders the document for the genesis, nodes and
// private_nodes playbooks. Private nodes require opts.NatGateway.
func BuildNodeExtraVars(opts ProvisionOptions, nodeType types.NodeType, genesisMultiaddr string) (string, error) {
	e := ansible.NewExtraVars()
	e.AddVariable("provider", string(opts.Provider))
	e.AddVariable("testnet_name", opts.Name)
	e.AddVariable("node_type", nodeType.TelegrafRole())
	if genesisMultiaddr != "" {
		e.AddVariable("genesis_multiaddr", genesisMultiaddr)
	}
	e.AddVariable("node_instance_count", strconv.Itoa(opts.nodeCount(nodeType)))
	e.AddVariable("interval", millis(opts))
	if opts.LogFormat != "" {
		e.AddVariable("log_format", string(opts.LogFormat))
	}
	if opts.MaxArchivedLogFiles > 0 {
		e.AddVariable("max_archived_log_files", strconv.Itoa(opts.MaxArchivedLogFiles))
	}
	if opts.MaxLogFiles > 0 {
		e.AddVariable("max_log_files", strconv.Itoa(opts.MaxLogFiles))
	}
	if opts.PublicRPC {
		e.AddVariable("public_rpc", "true")
	}

	if opts.NatGateway != nil {
		e.AddVariable("nat_gateway_private_ip_eth1", opts.NatGateway.PrivateIP.String())
		e.AddVariable("make_vm_private", "true")
	} else if nodeType == types.NodeTypePrivate {
		return "", ErrNatGatewayNotSupplied
	}

	if err := e.AddNodeURLOrVersion(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	if err := e.AddNodeManagerURL(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	if err := e.AddNodeManagerDaemonURL(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}

	if len(opts.EnvVariables) > 0 {
		e.AddEnvVariableList("env_variables", opts.EnvVariables)
	}
	if opts.Logstash != nil {
		e.AddVariable("logstash_stack_name", opts.Logstash.StackName)
		hosts := make([]string, 0, len(opts.Logstash.Hosts))
		for _, h := range opts.Logstash.Hosts {
			hosts = append(hosts, h.String())
		}
		e.AddListVariable("logstash_hosts", hosts)
	}
	if opts.RewardsAddress != "" {
		e.AddVariable("rewards_address", opts.RewardsAddress)
	}
	addEvmVariables(e, opts.Evm)
	return e.Build()
}

// BuildNatGatewayExtraVars lists the private IPs the gateway routes for
func BuildNatGatewayExtraVars(name string, privateVMs []types.VirtualMachine) (string, error) {
	ips := make([]string, 0, len(privateVMs))
	for _, vm := range privateVMs {
		ips = append(ips, vm.PrivateIP.String())
	}
	return ansible.NewExtraVars().
		AddVariable("testnet_name", name).
		AddListVariable("node_private_ips_eth1", ips).
		Build()
}

// BuildBinariesExtraVars renders the build playbook document
func BuildBinariesExtraVars(opts ProvisionOptions) (string, error) {
	e := ansible.NewExtraVars()
	if err := e.AddBuildVariables(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	if opts.ChunkSize > 0 {
		e.AddVariable("chunk_size", strconv.FormatUint(opts.ChunkSize, 10))
	}
	return e.Build()
}

// BuildRPCClientExtraVars renders the safenode_rpc_client playbook document
func BuildRPCClientExtraVars(opts ProvisionOptions, genesisMultiaddr string) (string, error) {
	e := ansible.NewExtraVars().
		AddVariable("provider", string(opts.Provider)).
		AddVariable("testnet_name", opts.Name).
		AddVariable("genesis_multiaddr", genesisMultiaddr)
	if err := e.AddRPCClientURLOrVersion(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	return e.Build()
}

// BuildFaucetExtraVars renders the faucet, start_faucet and stop_faucet documents
func BuildFaucetExtraVars(opts ProvisionOptions, genesisMultiaddr string) (string, error) {
	e := ansible.NewExtraVars().
		AddVariable("provider", string(opts.Provider)).
		AddVariable("testnet_name", opts.Name).
		AddVariable("genesis_multiaddr", genesisMultiaddr)
	if err := e.AddFaucetURLOrVersion(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	return e.Build()
}

// BuildAuditorExtraVars renders the auditor playbook document
func BuildAuditorExtraVars(opts ProvisionOptions, genesisMultiaddr string) (string, error) {
	e := ansible.NewExtraVars().
		AddVariable("provider", string(opts.Provider)).
		AddVariable("testnet_name", opts.Name).
		AddVariable("genesis_multiaddr", genesisMultiaddr)
	if err := e.AddAuditorURLOrVersion(opts.Name, opts.BinaryOption); err != nil {
		return "", err
	}
	return e.Build()
}

// BuildUploadersExtraVars renders the uploaders playbook document
func BuildUploadersExtraVars(opts ProvisionOptions, genesisMultiaddr, faucetAddress string) (string, error) {
	e := ansible.NewExtraVars().
		AddVariable("provider", string(opts.Provider)).
		AddVariable("testnet_name", opts.Name).
		AddVariable("genesis_multiaddr", genesisMultiaddr)
	if faucetAddress != "" {
		e.AddVariable("faucet_address", faucetAddress)
	}
	e.AddVariable("safe_downloader_instances", strconv.Itoa(opts.DownloadersCount))
	if err := e.AddAutonomiURLOrVersion(opts.Name, opts.BinaryOption, opts.SafeVersion); err != nil {
		return "", err
	}
	uploaders := opts.UploadersCount
	if uploaders <= 0 {
		uploaders = 1
	}
	e.AddVariable("autonomi_uploader_instances", strconv.Itoa(uploaders))
	addEvmVariables(e, opts.Evm)
	if len(opts.UploaderSecretKeys) > 0 {
		e.AddMapVariable("autonomi_secret_key_map", opts.UploaderSecretKeys)
	}
	return e.Build()
}

// BuildUploaderLifecycleExtraVars renders the start/stop uploaders documents
func BuildUploaderLifecycleExtraVars(name string, provider types.CloudProvider, opts UploaderOptions) (string, error) {
	count := opts.UploadersCount
	if count <= 0 {
		count = 1
	}
	return ansible.NewExtraVars().
		AddVariable("provider", string(provider)).
		AddVariable("testnet_name", name).
		AddVariable("autonomi_uploader_instances", strconv.Itoa(count)).
		AddVariable("skip_err", strconv.FormatBool(opts.SkipErr)).
		Build()
}

// BuildEvmNodesExtraVars renders the evm_nodes playbook document
func BuildEvmNodesExtraVars(name string, provider types.CloudProvider) (string, error) {
	return ansible.NewExtraVars().
		AddVariable("testnet_name", name).
		AddVariable("provider", string(provider)).
		Build()
}

// BuildTelegrafUpgradeExtraVars renders the telegraf config upgrade document
func BuildTelegrafUpgradeExtraVars(name string, nodeType types.NodeType) (string, error) {
	return ansible.NewExtraVars().
		AddVariable("testnet_name", name).
		AddVariable("node_type", nodeType.TelegrafRole()).
		Build()
}

// BuildUpgradeNodesExtraVars renders the upgrade_nodes document
func BuildUpgradeNodesExtraVars(opts UpgradeOptions) (string, error) {
	e := ansible.NewExtraVars()
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.AddVariable("interval", strconv.FormatInt(interval.Milliseconds(), 10))
	if opts.Force {
		e.AddVariable("force_safenode", "true")
	}
	if opts.Version != nil {
		e.AddVariable("safenode_version", opts.Version.String())
	}
	if opts.PreUpgradeDelay > 0 {
		e.AddVariable("pre_upgrade_delay", strconv.FormatInt(int64(opts.PreUpgradeDelay.Seconds()), 10))
	}
	if len(opts.EnvVariables) > 0 {
		e.AddEnvVariableList("env_variables", opts.EnvVariables)
	}
	return e.Build()
}

// BuildLifecycleExtraVars renders the start_nodes and stop_nodes documents
func BuildLifecycleExtraVars(opts LifecycleOptions, stop bool) (string, error) {
	e := ansible.NewExtraVars()
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	e.AddVariable("interval", strconv.FormatInt(interval.Milliseconds(), 10))
	if stop {
		if opts.Delay > 0 {
			e.AddVariable("delay", strconv.FormatInt(int64(opts.Delay.Seconds()), 10))
		}
		if len(opts.ServiceNames) > 0 {
			e.AddListVariable("service_names", opts.ServiceNames)
		}
	}
	return e.Build()
}
