package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

func seedProposal(t *testing.T, s *Store, id, key string) types.Proposal {
	t.Helper()
	p := types.Proposal{
		ID:          id,
		CommunityID: "c1",
		RegionCode:  "tn",
		Category:    "roads",
		Status:      types.StatusVoting,
		Title:       "Fix the bridge on main street",
		RegistryKey: key,
		Deadline:    time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateProposal(context.Background(), &p))
	return p
}

func TestCreateProposalRejectsRegistryKeyCollision(t *testing.T) {
	s := New()
	seedProposal(t, s, "p1", "aaaaaaaaaaaaaaaa")

	p := types.Proposal{ID: "p2", RegistryKey: "aaaaaaaaaaaaaaaa"}
	err := s.CreateProposal(context.Background(), &p)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestApplyVoteInsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProposal(t, s, "p1", "0000000000000001")

	counts, err := s.ApplyVote(ctx, "p1", "u1", func(_ types.Proposal, cur *types.Vote) (store.VoteChange, error) {
		assert.Nil(t, cur)
		return store.VoteChange{Op: store.VoteInsert, Choice: types.ChoiceYes, Delta: types.Counts{Yes: 1}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.Counts{Yes: 1}, counts)

	counts, err = s.ApplyVote(ctx, "p1", "u1", func(_ types.Proposal, cur *types.Vote) (store.VoteChange, error) {
		require.NotNil(t, cur)
		assert.Equal(t, types.ChoiceYes, cur.Choice)
		return store.VoteChange{Op: store.VoteUpdate, Choice: types.ChoiceNo, Delta: types.Counts{Yes: -1, No: 1}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.Counts{No: 1}, counts)

	v, err := s.GetVote(ctx, "p1", "u1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, types.ChoiceNo, v.Choice)

	counts, err = s.ApplyVote(ctx, "p1", "u1", func(_ types.Proposal, cur *types.Vote) (store.VoteChange, error) {
		return store.VoteChange{Op: store.VoteDelete, Delta: types.Counts{No: -1}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.Counts{}, counts)
	assert.Zero(t, s.LiveVotes("p1"))
}

func TestApplyVoteDeciderErrorLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProposal(t, s, "p1", "0000000000000001")

	_, err := s.ApplyVote(ctx, "p1", "u1", func(types.Proposal, *types.Vote) (store.VoteChange, error) {
		return store.VoteChange{}, types.ErrDeadlinePassed
	})
	assert.ErrorIs(t, err, types.ErrDeadlinePassed)

	p, err := s.GetProposal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.Counts{}, p.Counts())
}

func TestTransitionProposalIsStatusGated(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProposal(t, s, "p1", "0000000000000001")

	from := []types.Status{types.StatusVoting, types.StatusActive}
	decide := func(types.Proposal) (store.Transition, error) {
		h := "0xabc"
		return store.Transition{
			Status:     types.StatusPassed,
			ResultHash: &h,
			Action:     types.AdminAction{AdminID: "a1", ProposalID: "p1", ActionType: types.ActionFinalizeVote},
		}, nil
	}

	p, err := s.TransitionProposal(ctx, "p1", from, decide)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPassed, p.Status)

	_, err = s.TransitionProposal(ctx, "p1", from, decide)
	assert.ErrorIs(t, err, types.ErrNotVoting)
	assert.Len(t, s.AdminActions(), 1)
}

func TestNearestProposals(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProposal(t, s, "p1", "0000000000000001")
	seedProposal(t, s, "p2", "0000000000000002")
	other := types.Proposal{ID: "p3", RegionCode: "kl", Category: "roads", RegistryKey: "0000000000000003"}
	require.NoError(t, s.CreateProposal(ctx, &other))

	require.NoError(t, s.StoreEmbedding(ctx, types.ProposalMetadata{ProposalID: "p1"}, []float64{1, 0}))
	require.NoError(t, s.StoreEmbedding(ctx, types.ProposalMetadata{ProposalID: "p2"}, []float64{1, 1}))
	require.NoError(t, s.StoreEmbedding(ctx, types.ProposalMetadata{ProposalID: "p3"}, []float64{1, 0}))

	out, err := s.NearestProposals(ctx, store.NearestQuery{
		Embedding: []float64{1, 0}, RegionCode: "tn", Category: "roads", Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0].ID)
	assert.InDelta(t, 1.0, out[0].Similarity, 1e-9)
	assert.Equal(t, "p2", out[1].ID)

	_, err = New(WithoutVectorSearch()).NearestProposals(ctx, store.NearestQuery{})
	assert.ErrorIs(t, err, store.ErrVectorUnsupported)
}

func TestListAuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, ev := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendAudit(ctx, &types.AuditLogEntry{EventType: ev}))
	}
	out, err := s.ListAudit(ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].EventType)
	assert.Equal(t, "a", out[1].EventType)
}

func TestListProposalsFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return base.Add(2 * time.Hour) }))
	s.PutProposal(types.Proposal{ID: "old", RegionCode: "tn", Category: "roads", Status: types.StatusVoting, YesCount: 5, NoCount: 4, RegistryKey: "a", CreatedAt: base})
	s.PutProposal(types.Proposal{ID: "mid", RegionCode: "tn", Category: "roads", Status: types.StatusVoting, YesCount: 3, RegistryKey: "b", CreatedAt: base.Add(time.Hour)})
	s.PutProposal(types.Proposal{ID: "new", RegionCode: "tn", Category: "water", Status: types.StatusPassed, YesCount: 1, RegistryKey: "c", CreatedAt: base.Add(2 * time.Hour)})
	s.PutProposal(types.Proposal{ID: "away", RegionCode: "kl", Category: "roads", Status: types.StatusVoting, RegistryKey: "d", CreatedAt: base})

	ids := func(ps []types.Proposal) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}

	out, total, err := s.ListProposals(ctx, store.ProposalFilter{RegionCode: "tn", Sort: store.SortNew})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(out))

	out, _, err = s.ListProposals(ctx, store.ProposalFilter{RegionCode: "tn", Sort: store.SortTop})
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "new", "old"}, ids(out))

	// old and new tie on net votes; age breaks it
	out, _, err = s.ListProposals(ctx, store.ProposalFilter{RegionCode: "tn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "new", "old"}, ids(out))

	out, total, err = s.ListProposals(ctx, store.ProposalFilter{Status: types.StatusVoting, Category: "roads", Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, out, 1)
}

func TestListNegativeOffsetStartsAtFirstPage(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendAudit(ctx, &types.AuditLogEntry{EventType: "a"}))
	s.PutProposal(types.Proposal{ID: "p1", RegionCode: "tn", RegistryKey: "a"})

	logs, err := s.ListAudit(ctx, -50, 50)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	logs, err = s.ListAudit(ctx, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, logs)

	out, total, err := s.ListProposals(ctx, store.ProposalFilter{Offset: -20, Limit: 4})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, out, 1)
}
