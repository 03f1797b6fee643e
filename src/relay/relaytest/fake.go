// Package relaytest provides an in-memory Anchorer with registry replay rules.
package relaytest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/stake-plus/nexvote/src/relay"
)

type Submission struct {
	Op          relay.Op
	ProposalID  string
	Fingerprint string
}

type Fake struct {
	mu          sync.Mutex
	Err         error
	registered  map[string]string
	results     map[string]string
	submissions []Submission
	seq         int
}

func New() *Fake {
	return &Fake{registered: map[string]string{}, results: map[string]string{}}
}

func (f *Fake) Submit(_ context.Context, op relay.Op, proposalID, fp string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, Submission{Op: op, ProposalID: proposalID, Fingerprint: fp})
	if f.Err != nil {
		return "", f.Err
	}
	switch op {
	case relay.OpRegisterProposal:
		if _, ok := f.registered[proposalID]; ok {
			return "", relay.ErrAlreadyRegistered
		}
		f.registered[proposalID] = fp
	case relay.OpFinalizeVote:
		if _, ok := f.registered[proposalID]; !ok {
			return "", relay.ErrNotRegistered
		}
		if _, ok := f.results[proposalID]; ok {
			return "", relay.ErrAlreadyFinalized
		}
		f.results[proposalID] = fp
	case relay.OpAdminUpdate:
		if _, ok := f.registered[proposalID]; !ok {
			return "", relay.ErrNotRegistered
		}
	}
	f.seq++
	return fmt.Sprintf("0x%064x", f.seq), nil
}

func (f *Fake) Verify(_ context.Context, kind relay.HashKind, proposalID, fp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == relay.ResultHash {
		return f.results[proposalID] == fp, nil
	}
	return f.registered[proposalID] == fp, nil
}

func (f *Fake) Balance(context.Context) (*big.Int, error) { return big.NewInt(1e18), nil }

func (f *Fake) Configured() bool { return true }

// Register marks a proposal as already anchored.
func (f *Fake) Register(proposalID, fp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[proposalID] = fp
}

func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

var _ relay.Anchorer = (*Fake)(nil)
