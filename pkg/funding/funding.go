package funding

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/cuemby/testnet-deploy/pkg/command"
	"github.com/cuemby/testnet-deploy/pkg/health"
	"github.com/cuemby/testnet-deploy/pkg/log"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

var (
	// ErrFundingKeyNotProvided is returned when a network needs a funding wallet key and none was given
	ErrFundingKeyNotProvided = errors.New("funding wallet secret key not provided")
	// ErrNoUploaders is returned when there are no uploader VMs to fund or drain
	ErrNoUploaders = errors.New("no uploader VMs found")
	// ErrSecretKeyNotFound is returned when an uploader service has no SECRET_KEY in its environment
	ErrSecretKeyNotFound = errors.New("uploader secret key not found")
	// ErrInvalidUploaderCount is returned when the desired uploader count is below the running count
	ErrInvalidUploaderCount = errors.New("desired uploader count is less than the existing count")
)

const (
	uploaderCountCommand = "systemctl list-units --type=service | grep autonomi_uploader_ | wc -l"
	uploaderKeyCommand   = "systemctl show autonomi_uploader_%d.service --property=Environment | grep SECRET_KEY | cut -d= -f3 | awk '{print $1}'"
)

// Options configures a Funder
type Options struct {
	// FundingKey is the hex secret key of the wallet uploaders are funded from.
	// Anvil networks default to AnvilDeployerKey.
	FundingKey string
	// DrainAddress receives drained funds; defaults to the funding wallet
	DrainAddress string
	// TokenAmount is transferred to each uploader; defaults to DefaultTokenAmount
	TokenAmount *big.Int
	// GasAmount is transferred to each uploader; defaults to DefaultGasAmount
	GasAmount *big.Int
}

// Funder funds and drains the EVM wallets of uploader services. The
// wallets' secret keys live in the systemd environment of each service and
// are read over SSH.
type Funder struct {
	ledger      *ledger
	ssh         ssh.Executor
	fundingKey  *ecdsa.PrivateKey
	drainTo     *common.Address
	tokenAmount *big.Int
	gasAmount   *big.Int
	out         io.Writer
}

// New creates a Funder that moves funds on network through chain
func New(chain Chain, network Network, executor ssh.Executor, opts Options) (*Funder, error) {
	f := &Funder{
		ledger:      &ledger{chain: chain, network: network, sleep: health.SleepContext},
		ssh:         executor,
		tokenAmount: opts.TokenAmount,
		gasAmount:   opts.GasAmount,
		out:         os.Stdout,
	}
	if f.tokenAmount == nil {
		f.tokenAmount = DefaultTokenAmount
	}
	if f.gasAmount == nil {
		f.gasAmount = DefaultGasAmount
	}

	keyHex := opts.FundingKey
	if keyHex == "" && network.Kind == types.EvmNetworkAnvil {
		keyHex = AnvilDeployerKey
	}
	if keyHex != "" {
		key, err := ParseKey(keyHex)
		if err != nil {
			return nil, err
		}
		f.fundingKey = key
	}

	if opts.DrainAddress != "" {
		if !common.IsHexAddress(opts.DrainAddress) {
			return nil, fmt.Errorf("invalid drain address %q", opts.DrainAddress)
		}
		to := common.HexToAddress(opts.DrainAddress)
		f.drainTo = &to
	}
	return f, nil
}

// Dial connects to the network's RPC endpoint and creates a Funder on it
func Dial(ctx context.Context, details types.EvmDetails, executor ssh.Executor, opts Options) (*Funder, error) {
	network, err := NetworkFor(details)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", network.RPCURL, err)
	}
	return New(client, network, executor, opts)
}

// WithOutput sets where progress is printed
func (f *Funder) WithOutput(w io.Writer) *Funder {
	f.out = w
	return f
}

// WithSleep replaces the wait between receipt polls
func (f *Funder) WithSleep(sleep func(context.Context, time.Duration) error) *Funder {
	f.ledger.sleep = sleep
	return f
}

// FundingAddress returns the address of the funding wallet, if one was configured
func (f *Funder) FundingAddress() (common.Address, bool) {
	if f.fundingKey == nil {
		return common.Address{}, false
	}
	return Address(f.fundingKey), true
}

// UploaderKeys reads the secret key of every uploader service on vm, in
// service order
func (f *Funder) UploaderKeys(ctx context.Context, vm types.VirtualMachine) ([]*ecdsa.PrivateKey, error) {
	return ReadUploaderKeys(ctx, f.ssh, vm)
}

// ReadUploaderKeys reads the secret key of every uploader service on vm from
// the systemd unit environments, in service order
func ReadUploaderKeys(ctx context.Context, executor ssh.Executor, vm types.VirtualMachine) ([]*ecdsa.PrivateKey, error) {
	logger := log.WithVM(vm.Name)
	count, err := uploaderCount(ctx, executor, vm)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		logger.Warn().Msg("No uploader instances found")
		return nil, nil
	}

	keys := make([]*ecdsa.PrivateKey, 0, count)
	for n := 1; n <= count; n++ {
		output, err := executor.RunCommand(ctx, vm.PublicIP, "root", fmt.Sprintf(uploaderKeyCommand, n), true)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret key of uploader %d on %s: %w", n, vm.Name, err)
		}
		if len(output) == 0 || strings.TrimSpace(output[0]) == "" {
			return nil, fmt.Errorf("%w: uploader %d on %s", ErrSecretKeyNotFound, n, vm.Name)
		}
		key, err := ParseKey(output[0])
		if err != nil {
			return nil, fmt.Errorf("uploader %d on %s: %w", n, vm.Name, err)
		}
		keys = append(keys, key)
	}
	logger.Debug().Int("count", len(keys)).Msg("Read uploader secret keys")
	return keys, nil
}

// UploaderWallets maps the OS user of each uploader service on vm (ant1,
// ant2, ...) to the address of its wallet
func UploaderWallets(ctx context.Context, executor ssh.Executor, vm types.VirtualMachine) (map[string]string, error) {
	keys, err := ReadUploaderKeys(ctx, executor, vm)
	if err != nil {
		return nil, err
	}
	wallets := make(map[string]string, len(keys))
	for i, key := range keys {
		wallets[fmt.Sprintf("ant%d", i+1)] = Address(key).Hex()
	}
	return wallets, nil
}

func uploaderCount(ctx context.Context, executor ssh.Executor, vm types.VirtualMachine) (int, error) {
	output, err := executor.RunCommand(ctx, vm.PublicIP, "root", uploaderCountCommand, true)
	if err != nil {
		var failed *command.ExternalCommandRunFailedError
		if errors.As(err, &failed) && failed.ExitStatus == 1 {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count uploaders on %s: %w", vm.Name, err)
	}
	if len(output) == 0 {
		return 0, fmt.Errorf("%w: no uploader count returned by %s", ErrSecretKeyNotFound, vm.Name)
	}
	count, err := strconv.Atoi(strings.TrimSpace(output[0]))
	if err != nil {
		return 0, fmt.Errorf("failed to parse uploader count %q on %s: %w", output[0], vm.Name, err)
	}
	return count, nil
}

// FundUploaders tops every uploader VM up to perVM wallets, generating keys
// for the services that do not exist yet, and transfers the configured
// token and gas amounts to each wallet. It returns the hex secret keys per
// VM name in service order.
func (f *Funder) FundUploaders(ctx context.Context, vms []types.VirtualMachine, perVM int) (map[string][]string, error) {
	if len(vms) == 0 {
		return nil, ErrNoUploaders
	}
	if f.fundingKey == nil {
		return nil, ErrFundingKeyNotProvided
	}

	all := make(map[string][]*ecdsa.PrivateKey, len(vms))
	for _, vm := range vms {
		keys, err := f.UploaderKeys(ctx, vm)
		if err != nil {
			return nil, err
		}
		if perVM < len(keys) {
			return nil, fmt.Errorf("%w: %d requested but %s runs %d", ErrInvalidUploaderCount, perVM, vm.Name, len(keys))
		}
		for len(keys) < perVM {
			key, err := crypto.GenerateKey()
			if err != nil {
				return nil, fmt.Errorf("failed to generate uploader key: %w", err)
			}
			logger := log.WithVM(vm.Name)
			logger.Debug().Str("address", Address(key).Hex()).Msg("Generated uploader key")
			keys = append(keys, key)
		}
		all[vm.Name] = keys
	}

	if err := f.transferToUploaders(ctx, vms, all); err != nil {
		return nil, err
	}

	encoded := make(map[string][]string, len(all))
	for name, keys := range all {
		for _, key := range keys {
			encoded[name] = append(encoded[name], KeyHex(key))
		}
	}
	return encoded, nil
}

func (f *Funder) transferToUploaders(ctx context.Context, vms []types.VirtualMachine, all map[string][]*ecdsa.PrivateKey) error {
	from := Address(f.fundingKey)
	tokens, err := f.ledger.TokenBalance(ctx, from)
	if err != nil {
		return err
	}
	gas, err := f.ledger.GasBalance(ctx, from)
	if err != nil {
		return err
	}
	fmt.Fprintf(f.out, "Funding wallet token balance: %s\n", tokens)
	fmt.Fprintf(f.out, "Funding wallet gas balance: %s\n", gas)
	fmt.Fprintf(f.out, "Transferring %s tokens and %s gas tokens to each uploader\n", f.tokenAmount, f.gasAmount)

	logger := log.WithComponent("funding")
	for _, vm := range vms {
		for _, key := range all[vm.Name] {
			to := Address(key)
			logger.Debug().Str("vm", vm.Name).Str("address", to.Hex()).Msg("Funding uploader wallet")
			if err := f.ledger.TransferTokens(ctx, f.fundingKey, to, f.tokenAmount); err != nil {
				return err
			}
			if err := f.ledger.TransferGas(ctx, f.fundingKey, to, f.gasAmount); err != nil {
				return err
			}
		}
	}
	fmt.Fprintln(f.out, "All Funds transferred successfully")
	return nil
}

// DrainFunds sweeps every uploader wallet on vms back to the drain address,
// or to the funding wallet when no drain address was set
func (f *Funder) DrainFunds(ctx context.Context, vms []types.VirtualMachine) error {
	if f.ledger.network.Kind == types.EvmNetworkAnvil {
		return ErrDrainNotSupported
	}
	var to common.Address
	switch {
	case f.drainTo != nil:
		to = *f.drainTo
	case f.fundingKey != nil:
		to = Address(f.fundingKey)
	default:
		return ErrFundingKeyNotProvided
	}
	if len(vms) == 0 {
		return ErrNoUploaders
	}

	for _, vm := range vms {
		keys, err := f.UploaderKeys(ctx, vm)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := f.drainWallet(ctx, key, to); err != nil {
				return fmt.Errorf("failed to drain uploader wallet on %s: %w", vm.Name, err)
			}
		}
	}
	fmt.Fprintf(f.out, "All funds drained to %s\n", to.Hex())
	return nil
}

// drainWallet moves the whole token balance, then the gas balance less a
// reserve of twice the transfer fee
func (f *Funder) drainWallet(ctx context.Context, key *ecdsa.PrivateKey, to common.Address) error {
	from := Address(key)
	logger := log.WithComponent("funding").With().Str("address", from.Hex()).Logger()

	tokens, err := f.ledger.TokenBalance(ctx, from)
	if err != nil {
		return err
	}
	if tokens.Sign() > 0 {
		if err := f.ledger.TransferTokens(ctx, key, to, tokens); err != nil {
			return err
		}
		fmt.Fprintf(f.out, "Drained %s tokens from %s\n", tokens, from.Hex())
	}

	gas, err := f.ledger.GasBalance(ctx, from)
	if err != nil {
		return err
	}
	fee, err := f.ledger.TransferFee(ctx, from, to)
	if err != nil {
		return err
	}
	amount := new(big.Int).Sub(gas, new(big.Int).Mul(fee, big.NewInt(2)))
	if amount.Sign() <= 0 {
		logger.Debug().Str("balance", gas.String()).Msg("Gas balance below the reserve, skipping")
		return nil
	}
	if err := f.ledger.TransferGas(ctx, key, to, amount); err != nil {
		return err
	}
	fmt.Fprintf(f.out, "Drained %s gas tokens from %s\n", amount, from.Hex())
	return nil
}
