// Package memstore is an in-process implementation of store.Store. A single
// mutex serialises every write, which trivially satisfies the per-proposal
// ordering the engine requires.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

type voteKey struct{ proposalID, userID string }

type embedding struct {
	meta   types.ProposalMetadata
	vector []float64
}

type Store struct {
	mu sync.Mutex

	proposals    map[string]types.Proposal
	registryKeys map[string]string
	votes        map[voteKey]types.Vote
	actions      []types.AdminAction
	audit        []types.AuditLogEntry
	communities  map[string]types.Community
	members      map[voteKey]struct{}
	embeddings   map[string]embedding
	settings     map[string]string

	vectors bool
	now     func() time.Time
}

type Option func(*Store)

// WithoutVectorSearch makes NearestProposals report store.ErrVectorUnsupported,
// mirroring a database without pgvector.
func WithoutVectorSearch() Option {
	return func(s *Store) { s.vectors = false }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		proposals:    make(map[string]types.Proposal),
		registryKeys: make(map[string]string),
		votes:        make(map[voteKey]types.Vote),
		communities:  make(map[string]types.Community),
		members:      make(map[voteKey]struct{}),
		embeddings:   make(map[string]embedding),
		settings:     make(map[string]string),
		vectors:      true,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddCommunity seeds a community.
func (s *Store) AddCommunity(c types.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities[c.ID] = c
}

// AddMember seeds a membership row.
func (s *Store) AddMember(communityID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[voteKey{communityID, userID}] = struct{}{}
}

// PutProposal stores p as-is, bypassing creation checks.
func (s *Store) PutProposal(p types.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	s.registryKeys[p.RegistryKey] = p.ID
}

func (s *Store) SetSetting(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = value
}

// AdminActions returns a copy of the recorded admin actions.
func (s *Store) AdminActions() []types.AdminAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AdminAction(nil), s.actions...)
}

// LiveVotes counts ballots currently held for a proposal.
func (s *Store) LiveVotes(proposalID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.votes {
		if k.proposalID == proposalID {
			n++
		}
	}
	return n
}

func (s *Store) CreateProposal(_ context.Context, p *types.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return types.ErrConflict
	}
	if _, ok := s.registryKeys[p.RegistryKey]; ok {
		return types.ErrConflict
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.proposals[p.ID] = *p
	s.registryKeys[p.RegistryKey] = p.ID
	return nil
}

func (s *Store) GetProposal(_ context.Context, id string) (types.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return types.Proposal{}, types.ErrProposalNotFound
	}
	return p, nil
}

func (s *Store) ListProposals(_ context.Context, f store.ProposalFilter) ([]types.Proposal, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []types.Proposal
	for _, p := range s.proposals {
		if f.CommunityID != "" && p.CommunityID != f.CommunityID ||
			f.RegionCode != "" && p.RegionCode != f.RegionCode ||
			f.Status != "" && p.Status != f.Status ||
			f.Category != "" && p.Category != f.Category {
			continue
		}
		all = append(all, p)
	}
	now := s.now()
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch f.Sort {
		case store.SortNew:
		case store.SortTop:
			if na, nb := a.YesCount-a.NoCount, b.YesCount-b.NoCount; na != nb {
				return na > nb
			}
		default:
			if ha, hb := store.HotScore(a, now), store.HotScore(b, now); ha != hb {
				return ha > hb
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	total := int64(len(all))
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Offset >= len(all) {
		return []types.Proposal{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[f.Offset:end], total, nil
}

func (s *Store) SetAnchorTx(_ context.Context, id string, kind store.AnchorKind, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return types.ErrProposalNotFound
	}
	tx := txHash
	switch kind {
	case store.AnchorRegistration:
		p.TxHash = &tx
	case store.AnchorResult:
		p.ResultTxHash = &tx
	}
	p.UpdatedAt = s.now()
	s.proposals[id] = p
	return nil
}

func (s *Store) ApplyVote(_ context.Context, proposalID, userID string, decide store.VoteDecider) (types.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return types.Counts{}, types.ErrProposalNotFound
	}
	key := voteKey{proposalID, userID}
	var current *types.Vote
	if v, ok := s.votes[key]; ok {
		current = &v
	}

	change, err := decide(p, current)
	if err != nil {
		return types.Counts{}, err
	}

	now := s.now()
	switch change.Op {
	case store.VoteInsert:
		if current != nil {
			return types.Counts{}, types.ErrConflict
		}
		s.votes[key] = types.Vote{
			ID:         uuid.NewString(),
			ProposalID: proposalID,
			UserID:     userID,
			Choice:     change.Choice,
			SignedMeta: change.SignedMeta,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	case store.VoteUpdate:
		if current == nil {
			return types.Counts{}, types.ErrVoteNotFound
		}
		v := *current
		v.Choice = change.Choice
		v.SignedMeta = change.SignedMeta
		v.UpdatedAt = now
		s.votes[key] = v
	case store.VoteDelete:
		if current == nil {
			return types.Counts{}, types.ErrVoteNotFound
		}
		delete(s.votes, key)
	}

	p.YesCount += change.Delta.Yes
	p.NoCount += change.Delta.No
	p.AbstainCount += change.Delta.Abstain
	if change.Op != store.VoteNoop {
		p.UpdatedAt = now
	}
	s.proposals[proposalID] = p
	return p.Counts(), nil
}

func (s *Store) GetVote(_ context.Context, proposalID, userID string) (*types.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteKey{proposalID, userID}]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) TransitionProposal(_ context.Context, id string, from []types.Status, decide store.TransitionDecider) (types.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return types.Proposal{}, types.ErrProposalNotFound
	}
	if !store.HasStatus(p.Status, from) {
		return types.Proposal{}, types.ErrNotVoting
	}
	t, err := decide(p)
	if err != nil {
		return types.Proposal{}, err
	}

	now := s.now()
	p.Status = t.Status
	if t.ResultHash != nil {
		p.ResultHash = t.ResultHash
	}
	if t.FinalizedAt != nil {
		p.FinalizedAt = t.FinalizedAt
	}
	if t.FinalizedBy != nil {
		p.FinalizedBy = t.FinalizedBy
	}
	p.UpdatedAt = now
	s.proposals[id] = p

	action := t.Action
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.CreatedAt = now
	s.actions = append(s.actions, action)
	return p, nil
}

func (s *Store) AppendAudit(_ context.Context, e *types.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = s.now()
	s.audit = append(s.audit, *e)
	return nil
}

// ListAudit returns newest first.
func (s *Store) ListAudit(_ context.Context, offset, limit int) ([]types.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]types.AuditLogEntry, 0, limit)
	for i := len(s.audit) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *Store) GetCommunity(_ context.Context, id string) (types.Community, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[id]
	if !ok {
		return types.Community{}, types.ErrCommunityNotFound
	}
	return c, nil
}

func (s *Store) IsMember(_ context.Context, communityID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[voteKey{communityID, userID}]
	return ok, nil
}

func (s *Store) StoreEmbedding(_ context.Context, meta types.ProposalMetadata, vector []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.CreatedAt = s.now()
	s.embeddings[meta.ProposalID] = embedding{meta: meta, vector: append([]float64(nil), vector...)}
	return nil
}

func (s *Store) NearestProposals(_ context.Context, q store.NearestQuery) ([]types.DuplicateCandidate, error) {
	if !s.vectors {
		return nil, store.ErrVectorUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.DuplicateCandidate
	for id, e := range s.embeddings {
		p, ok := s.proposals[id]
		if !ok || id == q.ExcludeID || p.RegionCode != q.RegionCode || p.Category != q.Category {
			continue
		}
		out = append(out, types.DuplicateCandidate{
			ID:         id,
			Title:      p.Title,
			Similarity: store.CosineSimilarity(q.Embedding, e.vector),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Settings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
