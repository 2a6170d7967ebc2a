package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	defaultPollInterval   = time.Second
	defaultReceiptTimeout = 30 * time.Second
	transferGas           = 21000
	calldataGasPerByte    = 16
)

// Backend is the subset of ethclient.Client used by EthereumClient.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumConfig holds the network parameters of the authoritative ledger.
type EthereumConfig struct {
	ChainID        *big.Int
	GasPrice       *big.Int // nil asks the node
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// EthereumClient talks to an EVM JSON-RPC node.
type EthereumClient struct {
	backend   Backend
	cfg       EthereumConfig
	converter Converter
	logger    *slog.Logger
}

// NewEthereumClient wraps a backend (usually *ethclient.Client).
func NewEthereumClient(backend Backend, cfg EthereumConfig, converter Converter, logger *slog.Logger) *EthereumClient {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1337)
	}
	return &EthereumClient{backend: backend, cfg: cfg, converter: converter, logger: logger}
}

// QueryBalance returns the on-chain balance of address in minor units.
func (c *EthereumClient) QueryBalance(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("%w: invalid address %q", ErrUnavailable, address)
	}
	wei, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: balance at: %v", ErrUnavailable, err)
	}
	return c.converter.FromWei(wei), nil
}

// Submit signs and broadcasts a value transfer, returning the transaction hash.
func (c *EthereumClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.AmountMinor <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrSubmissionRejected)
	}
	if !common.IsHexAddress(sub.To) {
		return "", fmt.Errorf("%w: invalid recipient %q", ErrSubmissionRejected, sub.To)
	}
	key, err := parsePrivateKey(sub.FromKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if sub.From != "" && !strings.EqualFold(from.Hex(), sub.From) {
		return "", fmt.Errorf("%w: key does not control %s", ErrSubmissionRejected, sub.From)
	}

	to := common.HexToAddress(sub.To)
	value := c.converter.ToWei(sub.AmountMinor)
	data := []byte(sub.Memo)

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	gasPrice := c.cfg.GasPrice
	if gasPrice == nil {
		gasPrice, err = c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("get gas price: %w", err)
		}
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, GasPrice: gasPrice, Data: data})
	if err != nil {
		gas = transferGas + uint64(calldataGasPerByte*len(data))
		c.logger.Debug("gas estimate failed, using intrinsic gas", slog.Uint64("gas", gas), slog.Any("error", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.cfg.ChainID), key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Info("transaction submitted",
		slog.String("tx_hash", hash),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.Int64("amount_minor", sub.AmountMinor))
	return hash, nil
}

// AwaitReceipt polls for the receipt of hash until it appears or the
// configured timeout elapses.
func (c *EthereumClient) AwaitReceipt(ctx context.Context, hash string) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	txHash := common.HexToHash(hash)
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			out := Receipt{Hash: hash, Status: ReceiptFailure}
			if receipt.Status == types.ReceiptStatusSuccessful {
				out.Status = ReceiptSuccess
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.Warn("receipt poll failed", slog.String("tx_hash", hash), slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
		case <-ticker.C:
		}
	}
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("missing signing key")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
