package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/fingerprint"
	"github.com/stake-plus/nexvote/src/logging"
	"github.com/stake-plus/nexvote/src/metrics"
)

// Backend is the subset of ethclient.Client the relay uses.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// errSent marks failures after the transaction left the relayer; resending
// would spend a second nonce, so they are never retried.
var errSent = errors.New("transaction already broadcast")

type Client struct {
	backend     Backend
	registry    common.Address
	abi         abi.ABI
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	timeout     time.Duration
	budget      time.Duration
	maxAttempts int
	poll        time.Duration
	minBackoff  time.Duration

	// serialises nonce allocation
	sendMu sync.Mutex

	log     zerolog.Logger
	metrics *metrics.Collector
}

type Option func(*Client)

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option { return func(c *Client) { c.poll = d } }

// WithMinBackoff sets the first retry delay.
func WithMinBackoff(d time.Duration) Option { return func(c *Client) { c.minBackoff = d } }

// New dials the RPC endpoint, or returns the disabled anchorer when the relay
// is not configured.
func New(ctx context.Context, cfg config.Relay, log zerolog.Logger, m *metrics.Collector) (Anchorer, error) {
	if !cfg.Configured() {
		return Disabled(log, m), nil
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	c, err := NewWithBackend(ec, cfg, log, m)
	if err != nil {
		ec.Close()
		return nil, err
	}
	return c, nil
}

func NewWithBackend(b Backend, cfg config.Relay, log zerolog.Logger, m *metrics.Collector, opts ...Option) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("relay key: %w", err)
	}
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("relay: invalid registry address %q", cfg.RegistryAddress)
	}
	parsed, err := RegistryABI()
	if err != nil {
		return nil, fmt.Errorf("relay abi: %w", err)
	}
	c := &Client{
		backend:     b,
		registry:    common.HexToAddress(cfg.RegistryAddress),
		abi:         parsed,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		timeout:     cfg.Timeout,
		budget:      cfg.Budget,
		maxAttempts: cfg.MaxAttempts,
		poll:        2 * time.Second,
		minBackoff:  500 * time.Millisecond,
		log:         log,
		metrics:     m,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.budget <= 0 {
		c.budget = c.timeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	for _, o := range opts {
		o(c)
	}
	c.log.Info().Str("address", c.from.Hex()).Str("registry", c.registry.Hex()).Msg("relayer initialized")
	return c, nil
}

func (c *Client) Configured() bool { return true }

func (c *Client) Address() common.Address { return c.from }

func registryID(proposalID string) (*big.Int, error) {
	key, err := fingerprint.RegistryKey(proposalID)
	if err != nil {
		return nil, err
	}
	id, err := fingerprint.RegistryID(key)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(id), nil
}

func (c *Client) pack(op Op, id *big.Int, hash [32]byte) ([]byte, error) {
	switch op {
	case OpRegisterProposal:
		return c.abi.Pack("registerProposal", hash, id, new(big.Int))
	case OpFinalizeVote:
		return c.abi.Pack("finalizeVote", id, hash)
	case OpAdminUpdate:
		return c.abi.Pack("adminUpdate", id, hash)
	}
	return nil, fmt.Errorf("relay: unknown op %q", op)
}

func (c *Client) Submit(ctx context.Context, op Op, proposalID, fp string) (string, error) {
	log := c.log.With().Str("op", string(op)).Str("proposal_id", proposalID).Logger()

	id, err := registryID(proposalID)
	if err != nil {
		return "", err
	}
	hash, err := fingerprint.Bytes32(fp)
	if err != nil {
		return "", err
	}
	data, err := c.pack(op, id, hash)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	b := &backoff.Backoff{Min: c.minBackoff, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		txHash, err := c.submitOnce(ctx, data)
		if err == nil {
			c.metrics.Anchor(string(op), "ok")
			log.Info().Str("tx_hash", txHash).Int("attempt", attempt).Msg("anchored")
			return txHash, nil
		}
		if sentinel := mapRevert(err); sentinel != nil {
			outcome := Outcome(sentinel)
			c.metrics.Anchor(string(op), outcome)
			ev := log.Error()
			if outcome != "error" {
				ev = log.Warn()
			}
			ev.Err(err).Str("outcome", outcome).Msg("registry rejected anchor")
			return "", fmt.Errorf("%w: %v", sentinel, err)
		}
		if attempt >= c.maxAttempts || !transient(err) || ctx.Err() != nil {
			c.metrics.Anchor(string(op), "error")
			log.Error().Err(err).Int("attempt", attempt).Msg("anchor failed")
			return "", fmt.Errorf("relay %s: %w", op, err)
		}
		wait := b.Duration()
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("anchor attempt failed, retrying")
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.metrics.Anchor(string(op), "error")
			return "", fmt.Errorf("relay %s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
}

func (c *Client) submitOnce(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.send(ctx, data)
	if err != nil {
		return "", err
	}
	receipt, err := c.waitMined(ctx, tx.Hash())
	if err != nil {
		return "", fmt.Errorf("%w: wait %s: %v", errSent, tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: tx %s", ErrReverted, tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

func (c *Client) send(ctx context.Context, data []byte) (*ethtypes.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// estimation runs the call, so registry reverts surface here with their reason
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.registry, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas + gas/5,
		To:       &c.registry,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("receipt poll failed")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) Verify(ctx context.Context, kind HashKind, proposalID, fp string) (bool, error) {
	id, err := registryID(proposalID)
	if err != nil {
		return false, err
	}
	hash, err := fingerprint.Bytes32(fp)
	if err != nil {
		return false, err
	}
	method := "verifyProposalHash"
	if kind == ResultHash {
		method = "verifyResultHash"
	}
	data, err := c.abi.Pack(method, id, hash)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.registry, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("relay verify: %w", err)
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return false, fmt.Errorf("relay verify: decode %d values: %v", len(vals), err)
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}

func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.backend.BalanceAt(ctx, c.from, nil)
}

// transient reports failures worth another attempt: timeouts, dropped
// connections, and rate limiting or 5xx from the RPC provider.
func transient(err error) bool {
	if err == nil || errors.Is(err, errSent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if logging.IsTimeout(err) || logging.IsRateLimit(err) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "nonce too low")
}

var _ Anchorer = (*Client)(nil)
