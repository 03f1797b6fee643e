package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/config"
)

const (
	testKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testRegistry = "0x00000000000000000000000000000000000000aa"
	proposalID   = "123e4567-e89b-12d3-a456-426614174000"
	fp           = "0xd1c031cc55df0962ad2f71c449aacd38e5cc28acfc14135f09d8f22aad308efd"
)

// fakeChain simulates the registry contract: reverts surface at estimation
// like a JSON-RPC node reports them.
type fakeChain struct {
	mu        sync.Mutex
	abi       abi.ABI
	proposals map[string][32]byte
	results   map[string][32]byte
	receipts  map[common.Hash]*ethtypes.Receipt
	nonce     uint64

	failEstimates int
	hangEstimates bool
	dropReceipts  bool
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	parsed, err := RegistryABI()
	require.NoError(t, err)
	return &fakeChain{
		abi:       parsed,
		proposals: map[string][32]byte{},
		results:   map[string][32]byte{},
		receipts:  map[common.Hash]*ethtypes.Receipt{},
	}
}

func (f *fakeChain) decode(data []byte) (string, []interface{}) {
	m, err := f.abi.MethodById(data[:4])
	if err != nil {
		panic(err)
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		panic(err)
	}
	return m.Name, args
}

// apply runs the call; commit makes state changes stick.
func (f *fakeChain) apply(data []byte, commit bool) error {
	name, args := f.decode(data)
	switch name {
	case "registerProposal":
		id := args[1].(*big.Int).String()
		if _, ok := f.proposals[id]; ok {
			return errors.New("execution reverted: proposal already registered")
		}
		if commit {
			f.proposals[id] = args[0].([32]byte)
		}
	case "finalizeVote":
		id := args[0].(*big.Int).String()
		if _, ok := f.proposals[id]; !ok {
			return errors.New("execution reverted: proposal not registered")
		}
		if _, ok := f.results[id]; ok {
			return errors.New("execution reverted: vote already finalized")
		}
		if commit {
			f.results[id] = args[1].([32]byte)
		}
	case "adminUpdate":
		id := args[0].(*big.Int).String()
		if _, ok := f.proposals[id]; !ok {
			return errors.New("execution reverted: proposal not registered")
		}
	}
	return nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.hangEstimates {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEstimates > 0 {
		f.failEstimates--
		return 0, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	if err := f.apply(msg.Data, false); err != nil {
		return 0, err
	}
	return 60000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.apply(tx.Data(), true); err != nil {
		return err
	}
	f.nonce++
	if !f.dropReceipts {
		f.receipts[tx.Hash()] = &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: tx.Hash()}
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, args := f.decode(msg.Data)
	id := args[0].(*big.Int).String()
	want := args[1].([32]byte)
	var got [32]byte
	var ok bool
	if name == "verifyResultHash" {
		got, ok = f.results[id]
	} else {
		got, ok = f.proposals[id]
	}
	return f.abi.Methods[name].Outputs.Pack(ok && got == want)
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(5e17), nil
}

func newTestClient(t *testing.T, chain *fakeChain, attempts int) *Client {
	t.Helper()
	c, err := NewWithBackend(chain, config.Relay{
		PrivateKey:      testKey,
		RegistryAddress: testRegistry,
		ChainID:         11155111,
		Timeout:         200 * time.Millisecond,
		MaxAttempts:     attempts,
	}, zerolog.Nop(), nil, WithPollInterval(time.Millisecond), WithMinBackoff(time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestSubmitAndVerify(t *testing.T) {
	chain := newFakeChain(t)
	c := newTestClient(t, chain, 1)
	ctx := context.Background()

	tx, err := c.Submit(ctx, OpRegisterProposal, proposalID, fp)
	require.NoError(t, err)
	assert.Len(t, tx, 66)

	ok, err := c.Verify(ctx, ProposalHash, proposalID, fp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Verify(ctx, ResultHash, proposalID, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Submit(ctx, OpFinalizeVote, proposalID, fp)
	require.NoError(t, err)
	ok, err = c.Verify(ctx, ResultHash, proposalID, fp)
	require.NoError(t, err)
	assert.True(t, ok)

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e17), bal)
}

func TestSubmitMapsReplayReverts(t *testing.T) {
	chain := newFakeChain(t)
	c := newTestClient(t, chain, 3)
	ctx := context.Background()

	_, err := c.Submit(ctx, OpFinalizeVote, proposalID, fp)
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = c.Submit(ctx, OpRegisterProposal, proposalID, fp)
	require.NoError(t, err)
	_, err = c.Submit(ctx, OpRegisterProposal, proposalID, fp)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.True(t, IsReplay(err))

	_, err = c.Submit(ctx, OpFinalizeVote, proposalID, fp)
	require.NoError(t, err)
	_, err = c.Submit(ctx, OpFinalizeVote, proposalID, fp)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	chain := newFakeChain(t)
	chain.failEstimates = 2
	c := newTestClient(t, chain, 3)

	_, err := c.Submit(context.Background(), OpRegisterProposal, proposalID, fp)
	require.NoError(t, err)
}

func TestSubmitGivesUpAfterMaxAttempts(t *testing.T) {
	chain := newFakeChain(t)
	chain.failEstimates = 5
	c := newTestClient(t, chain, 2)

	_, err := c.Submit(context.Background(), OpRegisterProposal, proposalID, fp)
	require.Error(t, err)
	assert.Equal(t, 3, chain.failEstimates)
}

func TestSubmitStopsAtBudget(t *testing.T) {
	chain := newFakeChain(t)
	chain.hangEstimates = true
	c, err := NewWithBackend(chain, config.Relay{
		PrivateKey:      testKey,
		RegistryAddress: testRegistry,
		ChainID:         11155111,
		Timeout:         200 * time.Millisecond,
		MaxAttempts:     10,
		Budget:          300 * time.Millisecond,
	}, zerolog.Nop(), nil, WithPollInterval(time.Millisecond), WithMinBackoff(time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Submit(context.Background(), OpRegisterProposal, proposalID, fp)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, uint64(0), chain.nonce)
}

func TestSubmitDoesNotResendAfterBroadcast(t *testing.T) {
	chain := newFakeChain(t)
	chain.dropReceipts = true
	c := newTestClient(t, chain, 3)

	_, err := c.Submit(context.Background(), OpRegisterProposal, proposalID, fp)
	require.Error(t, err)
	assert.Equal(t, uint64(1), chain.nonce)
}

func TestDisabledAnchorer(t *testing.T) {
	d := Disabled(zerolog.Nop(), nil)
	tx, err := d.Submit(context.Background(), OpRegisterProposal, proposalID, fp)
	assert.NoError(t, err)
	assert.Empty(t, tx)
	assert.False(t, d.Configured())

	ok, err := d.Verify(context.Background(), ProposalHash, proposalID, fp)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNewWithoutConfigIsDisabled(t *testing.T) {
	a, err := New(context.Background(), config.Relay{}, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.False(t, a.Configured())
}

func TestMapRevert(t *testing.T) {
	assert.Nil(t, mapRevert(errors.New("connection refused")))
	assert.Equal(t, ErrReverted, mapRevert(errors.New("execution reverted")))
	assert.Equal(t, ErrNotRegistered, mapRevert(errors.New("execution reverted: Proposal not registered")))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "replay", Outcome(fmt.Errorf("%w: execution reverted", ErrAlreadyFinalized)))
	assert.Equal(t, "replay", Outcome(ErrAlreadyRegistered))
	assert.Equal(t, "unregistered", Outcome(fmt.Errorf("%w: execution reverted", ErrNotRegistered)))
	assert.Equal(t, "error", Outcome(ErrReverted))
	assert.Equal(t, "error", Outcome(context.DeadlineExceeded))
}
