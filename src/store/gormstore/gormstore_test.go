package gormstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/fingerprint"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

func TestDialect(t *testing.T) {
	assert.Equal(t, DialectPostgres, Dialect("postgres://u:p@localhost/nexvote"))
	assert.Equal(t, DialectPostgres, Dialect("host=localhost user=nexvote dbname=nexvote"))
	assert.Equal(t, DialectMySQL, Dialect("user:pass@tcp(localhost:3306)/nexvote"))
}

func TestEnsureParam(t *testing.T) {
	assert.Equal(t, "u@tcp(h)/db?parseTime=true", ensureParam("u@tcp(h)/db", "parseTime", "true"))
	assert.Equal(t, "u@tcp(h)/db?a=1&parseTime=true", ensureParam("u@tcp(h)/db?a=1", "parseTime", "true"))
	assert.Equal(t, "u@tcp(h)/db?parseTime=false", ensureParam("u@tcp(h)/db?parseTime=false", "parseTime", "true"))
}

// openTestStore connects to NEXVOTE_TEST_DSN; database tests are skipped
// without it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("NEXVOTE_TEST_DSN")
	if dsn == "" {
		t.Skip("NEXVOTE_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx, 3))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newProposal(t *testing.T, s *Store) types.Proposal {
	t.Helper()
	id := uuid.NewString()
	key, err := fingerprint.RegistryKey(id)
	require.NoError(t, err)
	p := types.Proposal{
		ID:           id,
		CommunityID:  uuid.NewString(),
		RegionCode:   "tn",
		Category:     "roads",
		Status:       types.StatusVoting,
		Title:        "Resurface the market road",
		Text:         "The market road has potholes that flood every monsoon season.",
		Deadline:     time.Now().Add(time.Hour).UTC(),
		ProposalHash: "0x00",
		RegistryKey:  key,
		CreatedBy:    uuid.NewString(),
	}
	require.NoError(t, s.CreateProposal(context.Background(), &p))
	return p
}

func TestConcurrentVotesConserveCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := newProposal(t, s)

	insertYes := func(_ types.Proposal, cur *types.Vote) (store.VoteChange, error) {
		if cur != nil {
			return store.VoteChange{Op: store.VoteNoop}, nil
		}
		return store.VoteChange{Op: store.VoteInsert, Choice: types.ChoiceYes, Delta: types.Counts{Yes: 1}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyVote(ctx, p.ID, uuid.NewString(), insertYes)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.YesCount)

	var live int64
	require.NoError(t, s.DB().Model(&types.Vote{}).Where("proposal_id = ?", p.ID).Count(&live).Error)
	assert.Equal(t, got.Counts().Total(), live)
}

func TestRegistryKeyCollision(t *testing.T) {
	s := openTestStore(t)
	p := newProposal(t, s)

	dup := p
	dup.ID = uuid.NewString()
	err := s.CreateProposal(context.Background(), &dup)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestTransitionIsStatusGated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := newProposal(t, s)

	from := []types.Status{types.StatusVoting, types.StatusActive}
	decide := func(types.Proposal) (store.Transition, error) {
		h := "0xfeed"
		return store.Transition{
			Status:     types.StatusFailed,
			ResultHash: &h,
			Action:     types.AdminAction{AdminID: "admin", ProposalID: p.ID, ActionType: types.ActionFinalizeVote},
		}, nil
	}

	got, err := s.TransitionProposal(ctx, p.ID, from, decide)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)

	_, err = s.TransitionProposal(ctx, p.ID, from, decide)
	assert.ErrorIs(t, err, types.ErrNotVoting)
}
