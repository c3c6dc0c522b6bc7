package funding

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuemby/testnet-deploy/pkg/types"
)

var (
	// ErrCustomNetworkIncomplete is returned when a custom network lacks an RPC URL or token address
	ErrCustomNetworkIncomplete = errors.New("custom EVM details not found in the environment details")
	// ErrDrainNotSupported is returned when draining is requested on a local Anvil network
	ErrDrainNotSupported = errors.New("draining funds is not supported for an Anvil network")
)

// AnvilDeployerKey is the well-known first account of an Anvil node. Anvil
// networks are funded from it when no funding key is given.
const AnvilDeployerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	// DefaultTokenAmount is 1 token per uploader
	DefaultTokenAmount = big.NewInt(1_000_000_000_000_000_000)
	// DefaultGasAmount is 0.1 ETH per uploader
	DefaultGasAmount = big.NewInt(100_000_000_000_000_000)
)

// Network identifies the chain and payment token an environment pays with
type Network struct {
	Kind                types.EvmNetwork
	RPCURL              string
	PaymentTokenAddress common.Address
}

func (n Network) String() string {
	return fmt.Sprintf("%s (%s, token %s)", n.Kind, n.RPCURL, n.PaymentTokenAddress.Hex())
}

// NetworkFor resolves the network recorded in an environment's EVM details.
// Arbitrum networks use their public endpoints and token contracts; Anvil
// and custom networks use the recorded values.
func NetworkFor(details types.EvmDetails) (Network, error) {
	switch details.Network {
	case types.EvmNetworkArbitrumOne:
		return Network{
			Kind:                details.Network,
			RPCURL:              "https://arb1.arbitrum.io/rpc",
			PaymentTokenAddress: common.HexToAddress("0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684"),
		}, nil
	case types.EvmNetworkArbitrumSepolia:
		return Network{
			Kind:                details.Network,
			RPCURL:              "https://sepolia-rollup.arbitrum.io/rpc",
			PaymentTokenAddress: common.HexToAddress("0xBE1802c27C324a28aeBcd7eeC7D734246C807194"),
		}, nil
	case types.EvmNetworkAnvil, types.EvmNetworkCustom:
		if details.RPCURL == "" || !common.IsHexAddress(details.PaymentTokenAddress) {
			return Network{}, ErrCustomNetworkIncomplete
		}
		return Network{
			Kind:                details.Network,
			RPCURL:              details.RPCURL,
			PaymentTokenAddress: common.HexToAddress(details.PaymentTokenAddress),
		}, nil
	default:
		return Network{}, fmt.Errorf("unsupported EVM network %q", details.Network)
	}
}
