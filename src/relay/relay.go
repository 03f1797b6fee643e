// Package relay anchors fingerprints in the on-chain registry. The relayer
// wallet pays gas so that voters never need one.
package relay

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/metrics"
)

type Op string

const (
	OpRegisterProposal Op = "register-proposal"
	OpFinalizeVote     Op = "finalize-vote"
	OpAdminUpdate      Op = "admin-update"
)

// HashKind selects the read-side verification call.
type HashKind string

const (
	ProposalHash HashKind = "proposal"
	ResultHash   HashKind = "result"
)

var (
	ErrAlreadyRegistered = errors.New("relay: proposal already registered")
	ErrAlreadyFinalized  = errors.New("relay: vote already finalized")
	ErrNotRegistered     = errors.New("relay: proposal not registered")
	// ErrReverted is a revert without a recognised reason.
	ErrReverted = errors.New("relay: transaction reverted")
)

// IsReplay reports whether err is the registry refusing a repeated anchor.
func IsReplay(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) || errors.Is(err, ErrAlreadyFinalized)
}

// Outcome labels a Submit error for logs and metrics: "replay" when the
// anchor already exists, "unregistered" when the proposal was never
// registered, "error" otherwise. Only "error" means the relay is unhealthy.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsReplay(err):
		return "replay"
	case errors.Is(err, ErrNotRegistered):
		return "unregistered"
	}
	return "error"
}

// Anchorer submits and verifies registry fingerprints.
type Anchorer interface {
	// Submit anchors fingerprint for the proposal. An unconfigured anchorer
	// returns ("", nil) without contacting anything.
	Submit(ctx context.Context, op Op, proposalID, fingerprint string) (txHash string, err error)
	Verify(ctx context.Context, kind HashKind, proposalID, fingerprint string) (bool, error)
	// Balance is the relayer wallet balance in wei.
	Balance(ctx context.Context) (*big.Int, error)
	Configured() bool
}

// mapRevert turns a registry revert reason into a sentinel.
func mapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "revert") {
		return nil
	}
	switch {
	case strings.Contains(msg, "already registered"):
		return ErrAlreadyRegistered
	case strings.Contains(msg, "already finalized"):
		return ErrAlreadyFinalized
	case strings.Contains(msg, "not registered"):
		return ErrNotRegistered
	}
	return ErrReverted
}

type disabled struct {
	once    sync.Once
	log     zerolog.Logger
	metrics *metrics.Collector
}

// Disabled is the anchorer used when no relayer is configured.
func Disabled(log zerolog.Logger, m *metrics.Collector) Anchorer {
	return &disabled{log: log, metrics: m}
}

func (d *disabled) Submit(_ context.Context, op Op, _, _ string) (string, error) {
	d.once.Do(func() {
		d.log.Warn().Msg("relayer not configured: missing RPC URL, private key, or registry address; anchoring skipped")
	})
	d.metrics.Anchor(string(op), "skipped")
	return "", nil
}

func (d *disabled) Verify(context.Context, HashKind, string, string) (bool, error) {
	return false, nil
}

func (d *disabled) Balance(context.Context) (*big.Int, error) { return new(big.Int), nil }

func (d *disabled) Configured() bool { return false }
