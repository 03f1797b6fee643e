package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/store/memstore"
	"github.com/stake-plus/nexvote/src/types"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const pid = "9b2f6a1e-4c1d-4f3a-9e2b-7d5c3a1b0f11"

func setup(t *testing.T, opts ...Option) (*Ledger, *memstore.Store) {
	t.Helper()
	s := memstore.New(memstore.WithClock(func() time.Time { return now }))
	s.AddCommunity(types.Community{ID: "c1", RegionCode: "TN-01"})
	s.PutProposal(types.Proposal{
		ID:          pid,
		CommunityID: "c1",
		RegionCode:  "tn01",
		Status:      types.StatusVoting,
		Deadline:    now.Add(24 * time.Hour),
		RegistryKey: "9b2f6a1e4c1d4f3a",
	})
	for i := 0; i < 20; i++ {
		s.AddMember("c1", user(i).UserID)
	}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(s, zerolog.Nop(), nil, opts...), s
}

func user(i int) types.Identity {
	return types.Identity{UserID: fmt.Sprintf("u%02d", i), RegionCode: "tn-01"}
}

func TestCastInsertAndChange(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	res, err := l.Cast(ctx, user(0), pid, types.ChoiceYes, nil)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Equal(t, "Vote recorded.", res.Message())
	assert.Equal(t, types.Counts{Yes: 1}, res.Counts)

	res, err = l.Cast(ctx, user(0), pid, types.ChoiceNo, nil)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, "Vote updated.", res.Message())
	assert.Equal(t, types.Counts{No: 1}, res.Counts)

	res, err = l.Cast(ctx, user(0), pid, types.ChoiceNo, nil)
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Equal(t, types.Counts{No: 1}, res.Counts)
}

func TestUndoRestoresCounts(t *testing.T) {
	ctx := context.Background()
	l, s := setup(t)

	_, err := l.Cast(ctx, user(1), pid, types.ChoiceAbstain, nil)
	require.NoError(t, err)
	before, err := l.Cast(ctx, user(2), pid, types.ChoiceYes, nil)
	require.NoError(t, err)

	counts, err := l.Undo(ctx, user(2), pid)
	require.NoError(t, err)
	assert.Equal(t, types.Counts{Abstain: 1}, counts)
	assert.Equal(t, before.Counts.Add(types.ChoiceYes, -1), counts)
	assert.EqualValues(t, 1, s.LiveVotes(pid))

	_, err = l.Undo(ctx, user(2), pid)
	assert.ErrorIs(t, err, types.ErrVoteNotFound)
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()
	l, s := setup(t)

	_, err := l.Cast(ctx, user(0), pid, "maybe", nil)
	assert.ErrorIs(t, err, types.ErrInvalidChoice)

	_, err = l.Cast(ctx, user(0), "missing", types.ChoiceYes, nil)
	assert.ErrorIs(t, err, types.ErrProposalNotFound)

	outsider := types.Identity{UserID: "stranger", RegionCode: "TN01"}
	_, err = l.Cast(ctx, outsider, pid, types.ChoiceYes, nil)
	assert.ErrorIs(t, err, types.ErrNotMember)

	wrongRegion := types.Identity{UserID: user(0).UserID, RegionCode: "kl"}
	_, err = l.Cast(ctx, wrongRegion, pid, types.ChoiceYes, nil)
	assert.ErrorIs(t, err, types.ErrRegionMismatch)

	p, err := s.GetProposal(ctx, pid)
	require.NoError(t, err)
	p.Deadline = now
	s.PutProposal(p)
	_, err = l.Cast(ctx, user(0), pid, types.ChoiceYes, nil)
	assert.ErrorIs(t, err, types.ErrDeadlinePassed)
	_, err = l.Undo(ctx, user(0), pid)
	assert.ErrorIs(t, err, types.ErrDeadlinePassed)

	p.Deadline = now.Add(time.Hour)
	p.Status = types.StatusPassed
	s.PutProposal(p)
	_, err = l.Cast(ctx, user(0), pid, types.ChoiceYes, nil)
	assert.ErrorIs(t, err, types.ErrNotVoting)
}

// Random cast/change/undo sequences must keep the counters equal to the
// number of live ballots per choice.
func TestCounterConservation(t *testing.T) {
	ctx := context.Background()
	l, s := setup(t)
	rng := rand.New(rand.NewSource(7))
	choices := []types.Choice{types.ChoiceYes, types.ChoiceNo, types.ChoiceAbstain}
	held := map[string]types.Choice{}

	for i := 0; i < 300; i++ {
		u := user(rng.Intn(20))
		if rng.Intn(4) == 0 {
			_, err := l.Undo(ctx, u, pid)
			if _, ok := held[u.UserID]; ok {
				require.NoError(t, err)
				delete(held, u.UserID)
			} else {
				require.ErrorIs(t, err, types.ErrVoteNotFound)
			}
			continue
		}
		c := choices[rng.Intn(3)]
		_, err := l.Cast(ctx, u, pid, c, nil)
		require.NoError(t, err)
		held[u.UserID] = c
	}

	var want types.Counts
	for _, c := range held {
		want = want.Add(c, 1)
	}
	p, err := s.GetProposal(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, want, p.Counts())
	assert.Equal(t, want.Total(), s.LiveVotes(pid))
}

func TestConcurrentCasts(t *testing.T) {
	ctx := context.Background()
	l, s := setup(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Cast(ctx, user(i), pid, types.ChoiceYes, nil)
			_, _ = l.Cast(ctx, user(i), pid, types.ChoiceNo, nil)
		}(i)
	}
	wg.Wait()

	p, err := s.GetProposal(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, types.Counts{No: 20}, p.Counts())
}

func signMeta(t *testing.T, proposalID string, choice types.Choice, ts int64) types.SignedMeta {
	t.Helper()
	sk, pk, err := schnorrkel.GenerateKeypair()
	require.NoError(t, err)
	msg := SignedMessage(proposalID, choice, ts)
	sig, err := sk.Sign(schnorrkel.NewSigningContext(signingContext, []byte(msg)))
	require.NoError(t, err)
	pkRaw := pk.Encode()
	sigRaw := sig.Encode()
	return types.SignedMeta{
		Signature: "0x" + hex.EncodeToString(sigRaw[:]),
		PublicKey: "0x" + hex.EncodeToString(pkRaw[:]),
		Timestamp: ts,
	}
}

func TestSignedMetaVerification(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t, WithSignedMetaVerification(true))

	meta := signMeta(t, pid, types.ChoiceYes, now.Unix())
	_, err := l.Cast(ctx, user(0), pid, types.ChoiceYes, &meta)
	require.NoError(t, err)

	// signature over yes does not cover no
	_, err = l.Cast(ctx, user(0), pid, types.ChoiceNo, &meta)
	assert.ErrorIs(t, err, types.ErrInvalidSignature)

	// metadata without a signature is stored opaquely
	_, err = l.Cast(ctx, user(1), pid, types.ChoiceNo, &types.SignedMeta{Timestamp: 1})
	require.NoError(t, err)
}

func TestDecodePublicKey(t *testing.T) {
	alice := "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

	for name, addr := range map[string]string{
		"generic substrate": "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
		"polkadot":          "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5",
		"two byte prefix":   "VdvKmYJfD4VXA9fzz1SbmCo2eYHSzUFbaDCZSuaNKJAe8YNg6",
		"hex":               "0x" + alice,
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := decodePublicKey(addr)
			require.NoError(t, err)
			assert.Equal(t, alice, hex.EncodeToString(raw))
		})
	}

	_, err := decodePublicKey("not-base58-0OIl")
	assert.Error(t, err)

	// last character changed, so the checksum no longer matches
	_, err = decodePublicKey("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ")
	assert.ErrorContains(t, err, "checksum")

	body, err := hex.DecodeString("2a" + alice)
	require.NoError(t, err)
	_, err = decodePublicKey(base58.Encode(append(body, 0, 0)))
	assert.ErrorContains(t, err, "checksum")
	_, err = decodePublicKey(base58.Encode(body))
	assert.ErrorContains(t, err, "length")
}
