package ansible

// Playbook names a playbook under the ansible directory
type Playbook string

const (
	PlaybookAuditor                     Playbook = "auditor"
	PlaybookBuild                       Playbook = "build"
	PlaybookCleanupLogs                 Playbook = "cleanup_logs"
	PlaybookEvmNodes                    Playbook = "evm_nodes"
	PlaybookFaucet                      Playbook = "faucet"
	PlaybookFundUploaders               Playbook = "fund_uploaders"
	PlaybookGenesisNode                 Playbook = "genesis_node"
	PlaybookLogs                        Playbook = "logs"
	PlaybookNatGateway                  Playbook = "nat_gateway"
	PlaybookNodeManagerInventory        Playbook = "node_manager_inventory"
	PlaybookNodes                       Playbook = "nodes"
	PlaybookNodeStatus                  Playbook = "node_status"
	PlaybookPrivateNodes                Playbook = "private_nodes"
	PlaybookRPCClient                   Playbook = "safenode_rpc_client"
	PlaybookStartFaucet                 Playbook = "start_faucet"
	PlaybookStartNodes                  Playbook = "start_nodes"
	PlaybookStartTelegraf               Playbook = "start_telegraf"
	PlaybookStartUploaders              Playbook = "start_uploaders"
	PlaybookStopFaucet                  Playbook = "stop_faucet"
	PlaybookStopNodes                   Playbook = "stop_nodes"
	PlaybookStopTelegraf                Playbook = "stop_telegraf"
	PlaybookStopUploaders               Playbook = "stop_uploaders"
	PlaybookUpgradeFaucet               Playbook = "upgrade_faucet"
	PlaybookUpgradeNodeManager          Playbook = "upgrade_node_manager"
	PlaybookUpgradeNodes                Playbook = "upgrade_nodes"
	PlaybookUpgradeNodeTelegrafConfig   Playbook = "upgrade_node_telegraf_config"
	PlaybookUpgradeUploaderTelegrafConf Playbook = "upgrade_uploader_telegraf_config"
	PlaybookUploaders                   Playbook = "uploaders"
)

// Filename is the playbook file passed to ansible-playbook
func (p Playbook) Filename() string {
	return string(p) + ".yml"
}

func (p Playbook) String() string {
	return string(p)
}
