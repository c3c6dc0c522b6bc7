package funding

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cuemby/testnet-deploy/pkg/health"
)

// Chain is the subset of an Ethereum JSON-RPC client used to move funds.
// *ethclient.Client satisfies it.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ErrTransactionReverted is returned when a mined transaction did not succeed
var ErrTransactionReverted = errors.New("transaction reverted")

const (
	receiptAttempts = 60
	receiptInterval = time.Second
)

// ParseKey parses a hex secret key, with or without the 0x prefix
func ParseKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse secret key: %w", err)
	}
	return key, nil
}

// KeyHex encodes a secret key as 0x-prefixed hex
func KeyHex(key *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSA(key))
}

// Address returns the account address of key
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ledger reads balances and sends signed transfers on one network
type ledger struct {
	chain   Chain
	network Network
	sleep   func(context.Context, time.Duration) error
	chainID *big.Int
}

func (l *ledger) id(ctx context.Context) (*big.Int, error) {
	if l.chainID != nil {
		return l.chainID, nil
	}
	id, err := l.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	l.chainID = id
	return id, nil
}

// GasBalance returns the native balance of account
func (l *ledger) GasBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := l.chain.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// TokenBalance returns the payment token balance of account
func (l *ledger) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	token := l.network.PaymentTokenAddress
	out, err := l.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance of %s: %w", account.Hex(), err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token balance of %s: %w", account.Hex(), err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}

// TransferTokens moves amount of the payment token from key to to
func (l *ledger) TransferTokens(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) error {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return err
	}
	if err := l.send(ctx, key, l.network.PaymentTokenAddress, nil, data); err != nil {
		return fmt.Errorf("failed to transfer %s tokens to %s: %w", amount, to.Hex(), err)
	}
	return nil
}

// TransferGas moves amount of the native currency from key to to
func (l *ledger) TransferGas(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) error {
	if err := l.send(ctx, key, to, amount, nil); err != nil {
		return fmt.Errorf("failed to transfer %s gas tokens to %s: %w", amount, to.Hex(), err)
	}
	return nil
}

// TransferFee returns what a plain native transfer costs at the current gas price
func (l *ledger) TransferFee(ctx context.Context, from, to common.Address) (*big.Int, error) {
	gasPrice, err := l.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := l.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: big.NewInt(1)})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas)), nil
}

func (l *ledger) send(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte) error {
	from := Address(key)
	chainID, err := l.id(ctx)
	if err != nil {
		return err
	}
	nonce, err := l.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := l.chain.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}
	gas, err := l.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	}), ethtypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := l.chain.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}
	return l.waitMined(ctx, tx.Hash())
}

func (l *ledger) waitMined(ctx context.Context, hash common.Hash) error {
	probe := &receiptChecker{chain: l.chain, hash: hash}
	if _, err := health.Poll(ctx, probe, health.PollConfig{
		Attempts: receiptAttempts,
		Interval: receiptInterval,
		Sleep:    l.sleep,
	}); err != nil {
		return fmt.Errorf("transaction %s was not mined: %w", hash.Hex(), err)
	}
	if probe.receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex())
	}
	return nil
}

// receiptChecker is healthy once the transaction has a receipt
type receiptChecker struct {
	chain   Chain
	hash    common.Hash
	receipt *ethtypes.Receipt
}

func (r *receiptChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	receipt, err := r.chain.TransactionReceipt(ctx, r.hash)
	result := health.Result{CheckedAt: start, Duration: time.Since(start)}
	switch {
	case err == nil:
		r.receipt = receipt
		result.Healthy = true
	case errors.Is(err, ethereum.NotFound):
		result.Message = "transaction pending"
	default:
		result.Message = err.Error()
	}
	return result
}

func (r *receiptChecker) Type() health.CheckType {
	return health.CheckTypeRPC
}
