package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-wallet-bot/internal/amount"
)

type fakeRPC struct {
	raw     map[string][]byte
	rawErr  error
	balance int64
	balErr  error
}

func (f *fakeRPC) BalanceOf(_ context.Context, _ string) (int64, error) {
	return f.balance, f.balErr
}

func (f *fakeRPC) RawTransaction(_ context.Context, txHash string) ([]byte, error) {
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	raw, ok := f.raw[txHash]
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	return raw, nil
}

func (f *fakeRPC) Broadcast(_ context.Context, _ []byte) (string, error) {
	return "", errors.New("not implemented")
}

func newTestBridge(rpc RPC) *Bridge {
	return NewBridge(rpc, nil, nil, testRecipient, amount.FromMicro(amount.MicroPerUnit), time.Second)
}

func TestVerifyDeposit(t *testing.T) {
	rpc := &fakeRPC{raw: map[string][]byte{
		"abc": buildRaw(0x01, 100,
			[]byte(testSender),
			[]byte(testRecipient),
			amountField(4_500_000),
			[]byte("42"),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyDeposit(context.Background(), "abc", testRecipient, 42)
	require.NoError(t, err)

	assert.True(t, v.Valid)
	assert.Equal(t, "4.500000", v.Amount.String())
	assert.Equal(t, testSender, v.Sender)
	assert.Equal(t, int64(100), v.Height)
}

func TestVerifyDepositMemoMismatch(t *testing.T) {
	rpc := &fakeRPC{raw: map[string][]byte{
		"abc": buildRaw(0x01, 100,
			[]byte(testSender),
			[]byte(testRecipient),
			amountField(4_500_000),
			[]byte("99"),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyDeposit(context.Background(), "abc", testRecipient, 42)
	require.NoError(t, err)

	assert.False(t, v.Valid)
	assert.Equal(t, "4.500000", v.Amount.String())
	assert.NotEmpty(t, v.Reason)
}

func TestVerifyDepositWrongRecipient(t *testing.T) {
	rpc := &fakeRPC{raw: map[string][]byte{
		"abc": buildRaw(0x01, 100,
			[]byte(testSender),
			[]byte("NSomeOtherWalletAddr0003"),
			amountField(4_500_000),
			[]byte("42"),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyDeposit(context.Background(), "abc", testRecipient, 42)
	require.NoError(t, err)

	assert.False(t, v.Valid)
	assert.True(t, v.Amount.IsZero())
}

func TestVerifyDepositSumsTransfers(t *testing.T) {
	rpc := &fakeRPC{raw: map[string][]byte{
		"abc": buildRaw(0x01, 100,
			[]byte(testSender),
			[]byte(testRecipient),
			amountField(1_000_000),
			[]byte(testSender),
			[]byte(testRecipient),
			amountField(2_000_000),
			[]byte("42"),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyDeposit(context.Background(), "abc", testRecipient, 42)
	require.NoError(t, err)

	assert.True(t, v.Valid)
	assert.Equal(t, "3.000000", v.Amount.String())
}

func TestVerifyDepositChainUnreachable(t *testing.T) {
	b := newTestBridge(&fakeRPC{rawErr: errors.New("connection refused")})

	_, err := b.VerifyDeposit(context.Background(), "abc", testRecipient, 42)
	assert.ErrorIs(t, err, ErrChainUnreachable)
}

func TestVerifyWithdrawal(t *testing.T) {
	toAddr := "NWithdrawalTargetAddr005"
	rpc := &fakeRPC{raw: map[string][]byte{
		"out": buildRaw(0x01, 200,
			[]byte(testRecipient),
			[]byte(toAddr),
			amountField(2_000_000),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyWithdrawal(context.Background(), "out", testRecipient, toAddr, amount.FromMicro(2_000_000))
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.False(t, v.Failed)

	// Exact-amount mismatch is not a success.
	v, err = b.VerifyWithdrawal(context.Background(), "out", testRecipient, toAddr, amount.FromMicro(2_000_001))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, "2.000000", v.ActualAmount.String())
}

func TestVerifyWithdrawalFailedOnChain(t *testing.T) {
	toAddr := "NWithdrawalTargetAddr005"
	rpc := &fakeRPC{raw: map[string][]byte{
		"out": buildRaw(0x00, 200,
			[]byte(testRecipient),
			[]byte(toAddr),
			amountField(2_000_000),
		),
	}}
	b := newTestBridge(rpc)

	v, err := b.VerifyWithdrawal(context.Background(), "out", testRecipient, toAddr, amount.FromMicro(2_000_000))
	require.NoError(t, err)

	assert.False(t, v.Valid)
	assert.True(t, v.Failed)
}

func TestClaimDepositNothingPaid(t *testing.T) {
	// No transfer reached the custodial wallet, so nothing may be credited.
	rpc := &fakeRPC{raw: map[string][]byte{
		"abc": buildRaw(0x01, 100,
			[]byte(testSender),
			[]byte("NSomeOtherWalletAddr0003"),
			amountField(4_500_000),
			[]byte("42"),
		),
	}}
	b := newTestBridge(rpc)

	_, _, err := b.ClaimDeposit(context.Background(), "abc", 42)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
