package main

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cuemby/testnet-deploy/pkg/funding"
	"github.com/cuemby/testnet-deploy/pkg/inventory"
	"github.com/cuemby/testnet-deploy/pkg/ssh"
	"github.com/cuemby/testnet-deploy/pkg/types"
)

// lazyFunder connects to the EVM network the first time funds move, so
// deployments without uploaders never dial the RPC endpoint
type lazyFunder struct {
	details  types.EvmDetails
	executor ssh.Executor
	opts     funding.Options

	once   sync.Once
	funder *funding.Funder
	err    error
}

func (l *lazyFunder) get(ctx context.Context) (*funding.Funder, error) {
	l.once.Do(func() {
		l.funder, l.err = funding.Dial(ctx, l.details, l.executor, l.opts)
	})
	return l.funder, l.err
}

func (l *lazyFunder) FundUploaders(ctx context.Context, vms []types.VirtualMachine, perVM int) (map[string][]string, error) {
	f, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return f.FundUploaders(ctx, vms, perVM)
}

func (l *lazyFunder) DrainFunds(ctx context.Context, vms []types.VirtualMachine) error {
	f, err := l.get(ctx)
	if err != nil {
		return err
	}
	return f.DrainFunds(ctx, vms)
}

// funderFor returns nil when the network cannot be funded from here: a
// funding key is needed except on anvil, and anvil needs its RPC URL
func funderFor(e *environment, details types.EvmDetails, opts funding.Options) *lazyFunder {
	if details.Network == types.EvmNetworkAnvil {
		if details.RPCURL == "" {
			return nil
		}
	} else if opts.FundingKey == "" {
		return nil
	}
	return &lazyFunder{details: details, executor: e.ssh, opts: opts}
}

var fundsCmd = &cobra.Command{
	Use:   "funds",
	Short: "Manage the EVM wallets of uploaders",
}

var fundsDepositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Fund the wallets of every uploader service",
	Long: `Fund the wallet of every uploader service in the environment from the
funding wallet. Uploader services without a wallet get a new one.`,
	RunE: runFundsDeposit,
}

var fundsDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Sweep the uploader wallets back to the funding wallet",
	RunE:  runFundsDrain,
}

func init() {
	for _, cmd := range []*cobra.Command{fundsDepositCmd, fundsDrainCmd} {
		addNameFlag(cmd)
		cmd.Flags().String("funding-wallet-secret-key", "", "Secret key of the funding wallet (not needed on anvil)")
	}
	fundsDepositCmd.Flags().Int("uploaders-count", 1, "Uploader services per VM")
	fundsDepositCmd.Flags().String("tokens", "", "Tokens sent to each uploader, in wei (default 1e18)")
	fundsDepositCmd.Flags().String("gas", "", "Gas sent to each uploader, in wei (default 1e17)")
	fundsDrainCmd.Flags().String("to-address", "", "Address to drain to (default the funding wallet)")

	fundsCmd.AddCommand(fundsDepositCmd)
	fundsCmd.AddCommand(fundsDrainCmd)
	rootCmd.AddCommand(fundsCmd)
}

func parseWei(cmd *cobra.Command, name string) (*big.Int, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("--%s must be a positive integer amount of wei", name)
	}
	return v, nil
}

// openFunder connects to the environment's recorded EVM network
func openFunder(cmd *cobra.Command, e *environment, opts funding.Options) (*funding.Funder, error) {
	details, err := inventory.GetEnvironmentDetails(cmd.Context(), e.store, e.name)
	if err != nil {
		return nil, err
	}
	opts.FundingKey, _ = cmd.Flags().GetString("funding-wallet-secret-key")
	return funding.Dial(cmd.Context(), details.EvmDetails, e.ssh, opts)
}

func uploaderVMs(cmd *cobra.Command, e *environment) ([]types.VirtualMachine, error) {
	return e.ansible.GetInventory(cmd.Context(), types.InventoryUploaders, true)
}

func runFundsDeposit(cmd *cobra.Command, args []string) error {
	e, err := openEnvironment(cmd.Context(), environmentName(cmd))
	if err != nil {
		return err
	}
	defer e.Close()

	var opts funding.Options
	if opts.TokenAmount, err = parseWei(cmd, "tokens"); err != nil {
		return err
	}
	if opts.GasAmount, err = parseWei(cmd, "gas"); err != nil {
		return err
	}
	funder, err := openFunder(cmd, e, opts)
	if err != nil {
		return err
	}
	vms, err := uploaderVMs(cmd, e)
	if err != nil {
		return err
	}
	perVM, _ := cmd.Flags().GetInt("uploaders-count")
	keys, err := funder.FundUploaders(cmd.Context(), vms, perVM)
	if err != nil {
		return err
	}

	wallets := 0
	for _, k := range keys {
		wallets += len(k)
	}
	success("Funded %d uploader wallets on %d VMs", wallets, len(keys))
	return nil
}

func runFundsDrain(cmd *cobra.Command, args []string) error {
	e, err := openEnvironment(cmd.Context(), environmentName(cmd))
	if err != nil {
		return err
	}
	defer e.Close()

	var opts funding.Options
	opts.DrainAddress, _ = cmd.Flags().GetString("to-address")
	funder, err := openFunder(cmd, e, opts)
	if err != nil {
		return err
	}
	vms, err := uploaderVMs(cmd, e)
	if err != nil {
		return err
	}
	if err := funder.DrainFunds(cmd.Context(), vms); err != nil {
		return err
	}
	success("Drained %d uploader VMs", len(vms))
	return nil
}
