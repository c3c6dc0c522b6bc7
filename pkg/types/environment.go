package types

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvironmentType selects tfvars and default sizing for an environment
type EnvironmentType string

const (
	EnvironmentTypeDevelopment EnvironmentType = "development"
	EnvironmentTypeStaging     EnvironmentType = "staging"
	EnvironmentTypeProduction  EnvironmentType = "production"
)

// ParseEnvironmentType parses an environment type name
func ParseEnvironmentType(s string) (EnvironmentType, error) {
	switch strings.ToLower(s) {
	case "development":
		return EnvironmentTypeDevelopment, nil
	case "staging":
		return EnvironmentTypeStaging, nil
	case "production":
		return EnvironmentTypeProduction, nil
	default:
		return "", fmt.Errorf("could not parse environment type from %q", s)
	}
}

// TfvarsFilename returns the tfvars file applied for an environment named name.
// Production environments use <name>.tfvars when it exists in terraformDir.
func (e EnvironmentType) TfvarsFilename(name, terraformDir string) string {
	switch e {
	case EnvironmentTypeDevelopment:
		return "dev.tfvars"
	case EnvironmentTypeStaging:
		return "staging.tfvars"
	case EnvironmentTypeProduction:
		named := name + ".tfvars"
		if terraformDir == "" {
			return named
		}
		if _, err := os.Stat(filepath.Join(terraformDir, named)); err == nil {
			return named
		}
		return "production.tfvars"
	default:
		return "dev.tfvars"
	}
}

// DefaultBootstrapNodeCount is the number of nodes per bootstrap VM
func (e EnvironmentType) DefaultBootstrapNodeCount() int {
	return 1
}

// DefaultNodeCount is the number of nodes per generic VM
func (e EnvironmentType) DefaultNodeCount() int {
	if e == EnvironmentTypeDevelopment {
		return 20
	}
	return 25
}

// DefaultPrivateNodeCount is the number of nodes per private VM
func (e EnvironmentType) DefaultPrivateNodeCount() int {
	return e.DefaultNodeCount()
}

// EvmNetwork is the payment network nodes are configured against
type EvmNetwork string

const (
	EvmNetworkAnvil           EvmNetwork = "anvil"
	EvmNetworkArbitrumOne     EvmNetwork = "arbitrum-one"
	EvmNetworkArbitrumSepolia EvmNetwork = "arbitrum-sepolia"
	EvmNetworkCustom          EvmNetwork = "custom"
)

// ParseEvmNetwork parses an EVM network name
func ParseEvmNetwork(s string) (EvmNetwork, error) {
	switch strings.ToLower(s) {
	case "anvil":
		return EvmNetworkAnvil, nil
	case "arbitrum-one":
		return EvmNetworkArbitrumOne, nil
	case "arbitrum-sepolia", "arbitrum-sepolia-test":
		return EvmNetworkArbitrumSepolia, nil
	case "custom":
		return EvmNetworkCustom, nil
	default:
		return "", fmt.Errorf("invalid EVM network type: %s", s)
	}
}

// NetworkType is the value nodes receive as evm_network_type
func (n EvmNetwork) NetworkType() string {
	switch n {
	case EvmNetworkAnvil, EvmNetworkCustom:
		return "evm-custom"
	case EvmNetworkArbitrumOne:
		return "evm-arbitrum-one"
	case EvmNetworkArbitrumSepolia:
		return "evm-arbitrum-sepolia-test"
	default:
		return "evm-custom"
	}
}

// EvmNodeCount is the number of local EVM node VMs the network needs
func (n EvmNetwork) EvmNodeCount() int {
	switch n {
	case EvmNetworkAnvil:
		return 1
	case EvmNetworkCustom, EvmNetworkArbitrumOne, EvmNetworkArbitrumSepolia:
		return 0
	default:
		return 0
	}
}

// EvmDetails holds the payment contract details nodes are configured with
type EvmDetails struct {
	Network               EvmNetwork `json:"network"`
	DataPaymentsAddress   string     `json:"data_payments_address,omitempty"`
	PaymentTokenAddress   string     `json:"payment_token_address,omitempty"`
	RPCURL                string     `json:"rpc_url,omitempty"`
	DeployerWalletAddress string     `json:"deployer_wallet_address,omitempty"`
}

// EnvironmentDetails is the durable record of how an environment was created
type EnvironmentDetails struct {
	DeploymentType       DeploymentType  `json:"deployment_type"`
	EnvironmentType      EnvironmentType `json:"environment_type"`
	EvmDetails           EvmDetails      `json:"evm_details"`
	FundingWalletAddress string          `json:"funding_wallet_address,omitempty"`
	NetworkID            *uint8          `json:"network_id,omitempty"`
	Region               string          `json:"region,omitempty"`
	RewardsAddress       string          `json:"rewards_address,omitempty"`
}
