// Package ledger owns the ballot counters. Every cast, change, and undo goes
// through store.Votes.ApplyVote so the counter delta and the ballot row are
// written together while the proposal is held exclusively.
package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

// Backend is the part of the store the ledger reads and writes.
type Backend interface {
	store.Proposals
	store.Votes
	store.Communities
}

type Ledger struct {
	store            Backend
	verifySignedMeta bool
	now              func() time.Time
	log              zerolog.Logger
	metrics          *metrics.Collector
}

type Option func(*Ledger)

// WithSignedMetaVerification checks sr25519 signatures on vote metadata that
// carries both a signature and a public key.
func WithSignedMetaVerification(on bool) Option {
	return func(l *Ledger) { l.verifySignedMeta = on }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(b Backend, log zerolog.Logger, m *metrics.Collector, opts ...Option) *Ledger {
	l := &Ledger{store: b, now: time.Now, log: log, metrics: m}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CastResult is what the caller sees after a cast.
type CastResult struct {
	Counts  types.Counts
	Choice  types.Choice
	Updated bool
	// Unchanged is set when the ballot already held this choice.
	Unchanged bool
}

func (r CastResult) Message() string {
	if r.Updated || r.Unchanged {
		return "Vote updated."
	}
	return "Vote recorded."
}

// Cast records or changes the caller's ballot.
func (l *Ledger) Cast(ctx context.Context, caller types.Identity, proposalID string, choice types.Choice, meta *types.SignedMeta) (CastResult, error) {
	if _, ok := types.ParseChoice(string(choice)); !ok {
		return CastResult{}, types.ErrInvalidChoice
	}
	if err := l.authorize(ctx, caller, proposalID); err != nil {
		return CastResult{}, err
	}
	if l.verifySignedMeta && meta != nil && meta.Signature != "" && meta.PublicKey != "" {
		if err := VerifySignedMeta(proposalID, choice, *meta); err != nil {
			l.log.Warn().Err(err).Str("proposal_id", proposalID).Str("user_id", caller.UserID).Msg("signed vote metadata rejected")
			return CastResult{}, types.ErrInvalidSignature
		}
	}

	res := CastResult{Choice: choice}
	counts, err := l.store.ApplyVote(ctx, proposalID, caller.UserID, func(p types.Proposal, current *types.Vote) (store.VoteChange, error) {
		if err := l.open(p); err != nil {
			return store.VoteChange{}, err
		}
		change, updated, unchanged := decideCast(current, choice, meta)
		res.Updated, res.Unchanged = updated, unchanged
		return change, nil
	})
	if err != nil {
		return CastResult{}, err
	}
	res.Counts = counts

	op := "cast"
	switch {
	case res.Unchanged:
		op = "noop"
	case res.Updated:
		op = "change"
	}
	l.metrics.Vote(op)
	l.log.Info().Str("proposal_id", proposalID).Str("user_id", caller.UserID).Str("op", op).Msg("vote applied")
	return res, nil
}

// decideCast picks the mutation for a cast given the current ballot.
func decideCast(current *types.Vote, choice types.Choice, meta *types.SignedMeta) (change store.VoteChange, updated, unchanged bool) {
	switch {
	case current == nil:
		return store.VoteChange{
			Op:         store.VoteInsert,
			Choice:     choice,
			SignedMeta: meta,
			Delta:      types.Counts{}.Add(choice, 1),
		}, false, false
	case current.Choice == choice:
		// metadata still refreshes, counters stay put
		return store.VoteChange{Op: store.VoteUpdate, Choice: choice, SignedMeta: meta}, false, true
	default:
		return store.VoteChange{
			Op:         store.VoteUpdate,
			Choice:     choice,
			SignedMeta: meta,
			Delta:      types.Counts{}.Add(current.Choice, -1).Add(choice, 1),
		}, true, false
	}
}

// Undo removes the caller's ballot.
func (l *Ledger) Undo(ctx context.Context, caller types.Identity, proposalID string) (types.Counts, error) {
	if err := l.authorize(ctx, caller, proposalID); err != nil {
		return types.Counts{}, err
	}
	counts, err := l.store.ApplyVote(ctx, proposalID, caller.UserID, func(p types.Proposal, current *types.Vote) (store.VoteChange, error) {
		if err := l.open(p); err != nil {
			return store.VoteChange{}, err
		}
		if current == nil {
			return store.VoteChange{}, types.ErrVoteNotFound
		}
		return store.VoteChange{Op: store.VoteDelete, Delta: types.Counts{}.Add(current.Choice, -1)}, nil
	})
	if err != nil {
		return types.Counts{}, err
	}
	l.metrics.Vote("undo")
	l.log.Info().Str("proposal_id", proposalID).Str("user_id", caller.UserID).Msg("vote undone")
	return counts, nil
}

// authorize checks membership and region against the proposal. Status and
// deadline are checked again under the lock by open.
func (l *Ledger) authorize(ctx context.Context, caller types.Identity, proposalID string) error {
	p, err := l.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := l.open(p); err != nil {
		return err
	}
	if !types.RegionMatch(caller.RegionCode, p.RegionCode) {
		return types.ErrRegionMismatch
	}
	member, err := l.store.IsMember(ctx, p.CommunityID, caller.UserID)
	if err != nil {
		return err
	}
	if !member {
		return types.ErrNotMember
	}
	return nil
}

func (l *Ledger) open(p types.Proposal) error {
	if p.Status != types.StatusVoting {
		return types.ErrNotVoting
	}
	if !l.now().Before(p.Deadline) {
		return types.ErrDeadlinePassed
	}
	return nil
}
