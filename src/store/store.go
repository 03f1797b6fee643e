// Package store declares the persistence ports the lifecycle engine depends on.
// gormstore backs them with MySQL or PostgreSQL, memstore keeps everything in
// process for development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stake-plus/nexvote/src/types"
)

// ErrVectorUnsupported is returned by NearestProposals when the backing
// storage cannot rank embeddings by similarity.
var ErrVectorUnsupported = errors.New("embedding index cannot rank by similarity")

type VoteOp int

const (
	VoteNoop VoteOp = iota
	VoteInsert
	VoteUpdate
	VoteDelete
)

// VoteChange is the mutation decided for one (proposal, voter) pair. Delta is
// applied to the proposal counters in the same statement set as the ballot
// write.
type VoteChange struct {
	Op         VoteOp
	Choice     types.Choice
	SignedMeta *types.SignedMeta
	Delta      types.Counts
}

// VoteDecider runs while the proposal is held exclusively. current is nil when
// the voter has no live ballot.
type VoteDecider func(p types.Proposal, current *types.Vote) (VoteChange, error)

// Transition is a status change plus the admin action recorded with it.
type Transition struct {
	Status      types.Status
	ResultHash  *string
	FinalizedAt *time.Time
	FinalizedBy *string
	Action      types.AdminAction
}

// TransitionDecider runs while the proposal is held exclusively.
type TransitionDecider func(p types.Proposal) (Transition, error)

// AnchorKind selects which transaction hash column an anchor fills.
type AnchorKind int

const (
	AnchorRegistration AnchorKind = iota
	AnchorResult
)

type NearestQuery struct {
	Embedding  []float64
	RegionCode string
	Category   string
	ExcludeID  string
	Limit      int
}

// Sort orders for ListProposals. Top ranks by net votes (yes minus no); hot,
// the default, adds two points per day of age subtracted from net votes.
const (
	SortNew = "new"
	SortTop = "top"
	SortHot = "hot"
)

// HotScore is the ranking used by SortHot.
func HotScore(p types.Proposal, now time.Time) float64 {
	age := now.Sub(p.CreatedAt).Hours() / 24
	return float64(p.YesCount-p.NoCount) - age*2
}

type ProposalFilter struct {
	CommunityID string
	RegionCode  string
	Status      types.Status
	Category    string
	Sort        string
	Offset      int
	Limit       int
}

type Proposals interface {
	// CreateProposal inserts p; a registry key collision yields types.ErrConflict.
	CreateProposal(ctx context.Context, p *types.Proposal) error
	GetProposal(ctx context.Context, id string) (types.Proposal, error)
	// ListProposals returns one page plus the total number of matches.
	ListProposals(ctx context.Context, f ProposalFilter) ([]types.Proposal, int64, error)
	SetAnchorTx(ctx context.Context, id string, kind AnchorKind, txHash string) error
}

type Votes interface {
	// ApplyVote serialises all ballot changes of a proposal and returns the
	// counters after the change.
	ApplyVote(ctx context.Context, proposalID, userID string, decide VoteDecider) (types.Counts, error)
	GetVote(ctx context.Context, proposalID, userID string) (*types.Vote, error)
}

type Lifecycle interface {
	// TransitionProposal moves a proposal out of one of the from states (any
	// state when from is empty). A proposal outside from yields types.ErrNotVoting.
	TransitionProposal(ctx context.Context, id string, from []types.Status, decide TransitionDecider) (types.Proposal, error)
}

type Audit interface {
	AppendAudit(ctx context.Context, e *types.AuditLogEntry) error
	ListAudit(ctx context.Context, offset, limit int) ([]types.AuditLogEntry, error)
}

type Communities interface {
	GetCommunity(ctx context.Context, id string) (types.Community, error)
	IsMember(ctx context.Context, communityID, userID string) (bool, error)
}

type Embeddings interface {
	StoreEmbedding(ctx context.Context, meta types.ProposalMetadata, embedding []float64) error
	NearestProposals(ctx context.Context, q NearestQuery) ([]types.DuplicateCandidate, error)
}

type Settings interface {
	Settings(ctx context.Context) (map[string]string, error)
}

// Store is everything the engine needs.
type Store interface {
	Proposals
	Votes
	Lifecycle
	Audit
	Communities
	Embeddings
	Settings
	Close() error
}

// HasStatus reports whether s is one of from; an empty from matches anything.
func HasStatus(s types.Status, from []types.Status) bool {
	if len(from) == 0 {
		return true
	}
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}
