package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/interbank/interbank_gateway/internal/logging"
)

const (
	alice = "0x422b10ce2c930d45814992742e36383684946b14"
	bob   = "0xf9a6995806e630b216f65ba5577088c9032a8051"
)

func TestConverterRoundTrip(t *testing.T) {
	conv, err := NewConverter("1000")
	require.NoError(t, err)

	require.Equal(t, "1000000000000000", conv.ToWei(1).String())
	require.EqualValues(t, 250_000, conv.FromWei(conv.ToWei(250_000)))

	// 1.5e15 wei is one and a half minor units, floored to one.
	require.EqualValues(t, 1, conv.FromWei(big.NewInt(1_500_000_000_000_000)))
	require.EqualValues(t, 0, conv.FromWei(big.NewInt(-5)))
	require.EqualValues(t, 0, conv.FromWei(nil))
}

func TestConverterSaturatesHugeBalances(t *testing.T) {
	conv, err := NewConverter("1000")
	require.NoError(t, err)

	// 1e40 wei is 1e25 minor units at this rate, far beyond int64.
	huge := new(big.Int).Exp(big.NewInt(10), big.NewInt(40), nil)
	require.EqualValues(t, int64(math.MaxInt64), conv.FromWei(huge))

	edge := conv.ToWei(math.MaxInt64)
	require.EqualValues(t, int64(math.MaxInt64), conv.FromWei(edge))
}

func TestConverterRejectsBadRate(t *testing.T) {
	_, err := NewConverter("zero")
	require.Error(t, err)
	_, err = NewConverter("0")
	require.Error(t, err)
}

func TestSimulatedTransferMovesBalances(t *testing.T) {
	sim := NewSimulated()
	sim.SetBalance(alice, 1_000)
	ctx := context.Background()

	hash, err := sim.Submit(ctx, Submission{From: alice, To: bob, AmountMinor: 400, Memo: "TX1"})
	require.NoError(t, err)

	receipt, err := sim.AwaitReceipt(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, ReceiptSuccess, receipt.Status)
	require.NotZero(t, receipt.BlockNumber)

	got, err := sim.QueryBalance(ctx, alice)
	require.NoError(t, err)
	require.EqualValues(t, 600, got)
	got, err = sim.QueryBalance(ctx, bob)
	require.NoError(t, err)
	require.EqualValues(t, 400, got)
}

func TestSimulatedInsufficientBalanceReverts(t *testing.T) {
	sim := NewSimulated()
	sim.SetBalance(alice, 10)
	ctx := context.Background()

	hash, err := sim.Submit(ctx, Submission{From: alice, To: bob, AmountMinor: 11})
	require.NoError(t, err)
	receipt, err := sim.AwaitReceipt(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, ReceiptFailure, receipt.Status)

	got, _ := sim.QueryBalance(ctx, alice)
	require.EqualValues(t, 10, got)
}

func TestSimulatedFailureModes(t *testing.T) {
	sim := NewSimulated()
	sim.SetBalance(alice, 100)
	ctx := context.Background()

	sim.SetOffline(true)
	_, err := sim.QueryBalance(ctx, alice)
	require.ErrorIs(t, err, ErrUnavailable)
	sim.SetOffline(false)

	_, err = sim.QueryBalance(ctx, bob)
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = sim.Submit(ctx, Submission{From: alice, To: "not-an-address", AmountMinor: 1})
	require.ErrorIs(t, err, ErrSubmissionRejected)
	_, err = sim.Submit(ctx, Submission{From: alice, To: bob, AmountMinor: 0})
	require.ErrorIs(t, err, ErrSubmissionRejected)

	sim.WithholdReceipts(true)
	hash, err := sim.Submit(ctx, Submission{From: alice, To: bob, AmountMinor: 1})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sim.AwaitReceipt(waitCtx, hash)
	require.ErrorIs(t, err, ErrReceiptTimeout)
}

type fakeBackend struct {
	mu           sync.Mutex
	balance      *big.Int
	balanceErr   error
	sent         []*types.Transaction
	misses       int
	receiptState uint64
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimate unsupported")
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptState, BlockNumber: big.NewInt(42)}, nil
}

func newTestClient(t *testing.T, backend Backend, timeout time.Duration) *EthereumClient {
	t.Helper()
	conv, err := NewConverter("1000")
	require.NoError(t, err)
	return NewEthereumClient(backend, EthereumConfig{
		ChainID:        big.NewInt(1337),
		PollInterval:   time.Millisecond,
		ReceiptTimeout: timeout,
	}, conv, logging.Discard())
}

func TestEthereumClientQueryBalance(t *testing.T) {
	backend := &fakeBackend{balance: new(big.Int).Mul(big.NewInt(5_000), big.NewInt(1_000_000_000_000_000))}
	client := newTestClient(t, backend, time.Second)

	got, err := client.QueryBalance(context.Background(), alice)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, got)

	backend.balanceErr = errors.New("connection refused")
	_, err = client.QueryBalance(context.Background(), alice)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestEthereumClientSubmitSignsTransfer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)

	backend := &fakeBackend{}
	client := newTestClient(t, backend, time.Second)

	hash, err := client.Submit(context.Background(), Submission{
		FromKey:     fmt.Sprintf("0x%x", crypto.FromECDSA(key)),
		From:        from.Hex(),
		To:          bob,
		AmountMinor: 3,
		Memo:        "TXABC",
	})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	require.Equal(t, hash, tx.Hash().Hex())
	require.EqualValues(t, 7, tx.Nonce())
	require.Equal(t, "3000000000000000", tx.Value().String())
	require.EqualValues(t, transferGas+calldataGasPerByte*len("TXABC"), tx.Gas())
	require.Equal(t, []byte("TXABC"), tx.Data())

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1337)), tx)
	require.NoError(t, err)
	require.Equal(t, from, sender)
}

func TestEthereumClientSubmitRejectsBadInput(t *testing.T) {
	client := newTestClient(t, &fakeBackend{}, time.Second)
	ctx := context.Background()

	_, err := client.Submit(ctx, Submission{FromKey: "nope", To: bob, AmountMinor: 1})
	require.ErrorIs(t, err, ErrSubmissionRejected)

	key, _ := crypto.GenerateKey()
	hexKey := fmt.Sprintf("%x", crypto.FromECDSA(key))
	_, err = client.Submit(ctx, Submission{FromKey: hexKey, To: "0x1", AmountMinor: 1})
	require.ErrorIs(t, err, ErrSubmissionRejected)
	_, err = client.Submit(ctx, Submission{FromKey: hexKey, From: alice, To: bob, AmountMinor: 1})
	require.ErrorIs(t, err, ErrSubmissionRejected)
}

func TestEthereumClientAwaitReceipt(t *testing.T) {
	backend := &fakeBackend{misses: 3, receiptState: types.ReceiptStatusSuccessful}
	client := newTestClient(t, backend, time.Second)

	receipt, err := client.AwaitReceipt(context.Background(), "0x01")
	require.NoError(t, err)
	require.Equal(t, ReceiptSuccess, receipt.Status)
	require.EqualValues(t, 42, receipt.BlockNumber)

	backend.receiptState = types.ReceiptStatusFailed
	receipt, err = client.AwaitReceipt(context.Background(), "0x02")
	require.NoError(t, err)
	require.Equal(t, ReceiptFailure, receipt.Status)
}

func TestEthereumClientAwaitReceiptTimesOut(t *testing.T) {
	backend := &fakeBackend{misses: 1 << 30}
	client := newTestClient(t, backend, 20*time.Millisecond)

	_, err := client.AwaitReceipt(context.Background(), "0x03")
	require.ErrorIs(t, err, ErrReceiptTimeout)
}
