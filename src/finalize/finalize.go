// Package finalize decides proposal outcomes and records administrative
// status changes. The database transition is authoritative; anchoring on the
// registry happens afterwards and never rolls it back.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stake-plus/nexvote/src/fingerprint"
	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/notify"
	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

type Backend interface {
	store.Proposals
	store.Lifecycle
	store.Audit
}

type Machine struct {
	store         Backend
	anchor        relay.Anchorer
	events        notify.Publisher
	passThreshold float64
	now           func() time.Time
	log           zerolog.Logger
	metrics       *metrics.Collector
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(b Backend, a relay.Anchorer, events notify.Publisher, passThreshold float64, log zerolog.Logger, m *metrics.Collector, opts ...Option) *Machine {
	if events == nil {
		events = notify.Noop()
	}
	fm := &Machine{
		store:         b,
		anchor:        a,
		events:        events,
		passThreshold: passThreshold,
		now:           time.Now,
		log:           log,
		metrics:       m,
	}
	for _, o := range opts {
		o(fm)
	}
	return fm
}

// Passed applies the strict majority rule: yes must exceed threshold of all
// ballots cast, abstentions included.
func Passed(c types.Counts, threshold float64) bool {
	total := c.Total()
	return total > 0 && float64(c.Yes)/float64(total) > threshold
}

type Outcome struct {
	ProposalID string
	Status     types.Status
	ResultHash string
	TxHash     *string
	Counts     types.Counts
}

func (o Outcome) Message() string { return fmt.Sprintf("Proposal %s.", o.Status) }

var finalizable = []types.Status{types.StatusVoting, types.StatusActive}

// Finalize closes voting on a proposal. A second call fails with
// types.ErrAlreadyFinalized before anything is anchored.
func (m *Machine) Finalize(ctx context.Context, admin types.Identity, proposalID string) (Outcome, error) {
	if !admin.IsAdmin() {
		return Outcome{}, types.ErrNotAdmin
	}
	p, err := m.store.GetProposal(ctx, proposalID)
	if err != nil {
		return Outcome{}, err
	}
	if !types.RegionMatch(admin.RegionCode, p.RegionCode) {
		return Outcome{}, types.ErrRegionMismatch
	}
	if err := finalizeState(p.Status); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	updated, err := m.store.TransitionProposal(ctx, proposalID, finalizable, func(p types.Proposal) (store.Transition, error) {
		counts := p.Counts()
		status := types.StatusFailed
		if Passed(counts, m.passThreshold) {
			status = types.StatusPassed
		}
		at := m.now().UTC()
		hash, err := fingerprint.Of(fingerprint.Result{
			ProposalID:   p.ID,
			YesCount:     counts.Yes,
			NoCount:      counts.No,
			AbstainCount: counts.Abstain,
			Status:       string(status),
			FinalizedBy:  admin.UserID,
			FinalizedAt:  fingerprint.ISO(at),
		})
		if err != nil {
			return store.Transition{}, err
		}
		out = Outcome{ProposalID: p.ID, Status: status, ResultHash: hash, Counts: counts}
		by := admin.UserID
		return store.Transition{
			Status:      status,
			ResultHash:  &hash,
			FinalizedAt: &at,
			FinalizedBy: &by,
			Action: types.AdminAction{
				AdminID:     admin.UserID,
				ProposalID:  p.ID,
				ActionType:  types.ActionFinalizeVote,
				Description: fmt.Sprintf("Proposal %s. Yes: %d, No: %d, Abstain: %d.", status, counts.Yes, counts.No, counts.Abstain),
				StatusHash:  hash,
			},
		}, nil
	})
	if errors.Is(err, types.ErrNotVoting) {
		// lost a race with another finalize
		if cur, gerr := m.store.GetProposal(ctx, proposalID); gerr == nil {
			return Outcome{}, finalizeState(cur.Status)
		}
	}
	if err != nil {
		return Outcome{}, err
	}

	log := m.log.With().Str("proposal_id", proposalID).Str("status", string(out.Status)).Logger()
	log.Info().Str("result_hash", out.ResultHash).Msg("proposal finalized")

	out.TxHash = m.anchorResult(ctx, log, proposalID, out.ResultHash)

	details := types.JSONMap{
		"result":       string(out.Status),
		"yesCount":     out.Counts.Yes,
		"noCount":      out.Counts.No,
		"abstainCount": out.Counts.Abstain,
	}
	m.audit(ctx, log, &types.AuditLogEntry{
		EventType:      types.EventVoteFinalized,
		ReferenceID:    proposalID,
		ReferenceTable: "proposals",
		ActorID:        admin.UserID,
		HashOnchain:    out.ResultHash,
		TxHash:         out.TxHash,
		Details:        details,
	})
	m.publish(ctx, log, notify.Event{
		Type:        notify.ProposalFinalized,
		ProposalID:  proposalID,
		CommunityID: updated.CommunityID,
		RegionCode:  updated.RegionCode,
		Status:      string(out.Status),
		ActorID:     admin.UserID,
		TxHash:      deref(out.TxHash),
		Data:        details,
	})
	m.metrics.Finalization(string(out.Status))
	return out, nil
}

func finalizeState(s types.Status) error {
	switch {
	case s == types.StatusPassed || s == types.StatusFailed:
		return types.ErrAlreadyFinalized
	case !s.Finalizable():
		return types.ErrNotVoting
	}
	return nil
}

func (m *Machine) anchorResult(ctx context.Context, log zerolog.Logger, proposalID, hash string) *string {
	tx, err := m.anchor.Submit(ctx, relay.OpFinalizeVote, proposalID, hash)
	if err != nil {
		m.anchorFailed(log, err, "relayer failed to finalize on-chain")
		return nil
	}
	if tx == "" {
		return nil
	}
	if err := m.store.SetAnchorTx(ctx, proposalID, store.AnchorResult, tx); err != nil {
		log.Error().Err(err).Str("tx_hash", tx).Msg("failed to store result tx hash")
	}
	return &tx
}

// anchorFailed logs a Submit error. Registry refusals (replayed or
// unregistered) are logged as warnings and not counted as relay failures.
func (m *Machine) anchorFailed(log zerolog.Logger, err error, msg string) {
	if outcome := relay.Outcome(err); outcome != "error" {
		log.Warn().Err(err).Str("outcome", outcome).Msg(msg)
		return
	}
	m.metrics.SoftFailure("relay")
	log.Error().Err(err).Msg(msg)
}

type StatusOutcome struct {
	ProposalID string
	Status     types.Status
	StatusHash string
	TxHash     *string
}

func (o StatusOutcome) Message() string {
	return fmt.Sprintf("Proposal status updated to %s.", o.Status)
}

// UpdateStatus records an implemented or archived decision.
func (m *Machine) UpdateStatus(ctx context.Context, admin types.Identity, proposalID string, status types.Status, description string) (StatusOutcome, error) {
	if status != types.StatusImplemented && status != types.StatusArchived {
		return StatusOutcome{}, types.ErrInvalidStatus
	}
	if !admin.IsAdmin() {
		return StatusOutcome{}, types.ErrNotAdmin
	}
	p, err := m.store.GetProposal(ctx, proposalID)
	if err != nil {
		return StatusOutcome{}, err
	}
	if !types.RegionMatch(admin.RegionCode, p.RegionCode) {
		return StatusOutcome{}, types.ErrRegionMismatch
	}

	at := m.now().UTC()
	hash, err := fingerprint.Of(fingerprint.StatusUpdate{
		ProposalID:  proposalID,
		Status:      string(status),
		Description: description,
		UpdatedBy:   admin.UserID,
		UpdatedAt:   fingerprint.ISO(at),
	})
	if err != nil {
		return StatusOutcome{}, err
	}
	actionDesc := description
	if actionDesc == "" {
		actionDesc = fmt.Sprintf("Status updated to %s.", status)
	}
	_, err = m.store.TransitionProposal(ctx, proposalID, nil, func(types.Proposal) (store.Transition, error) {
		return store.Transition{
			Status: status,
			Action: types.AdminAction{
				AdminID:     admin.UserID,
				ProposalID:  proposalID,
				ActionType:  types.ActionStatusUpdate,
				Description: actionDesc,
				StatusHash:  hash,
			},
		}, nil
	})
	if err != nil {
		return StatusOutcome{}, err
	}

	log := m.log.With().Str("proposal_id", proposalID).Str("status", string(status)).Logger()
	log.Info().Str("status_hash", hash).Msg("proposal status updated")

	out := StatusOutcome{ProposalID: proposalID, Status: status, StatusHash: hash}
	if tx, err := m.anchor.Submit(ctx, relay.OpAdminUpdate, proposalID, hash); err != nil {
		m.anchorFailed(log, err, "relayer failed to submit admin update")
	} else if tx != "" {
		out.TxHash = &tx
	}

	details := types.JSONMap{"newStatus": string(status)}
	if description != "" {
		details["description"] = description
	}
	m.audit(ctx, log, &types.AuditLogEntry{
		EventType:      types.EventAdminStatusUpdate,
		ReferenceID:    proposalID,
		ReferenceTable: "proposals",
		ActorID:        admin.UserID,
		HashOnchain:    hash,
		TxHash:         out.TxHash,
		Details:        details,
	})
	m.publish(ctx, log, notify.Event{
		Type:        notify.ProposalStatusUpdated,
		ProposalID:  proposalID,
		CommunityID: p.CommunityID,
		RegionCode:  p.RegionCode,
		Status:      string(status),
		ActorID:     admin.UserID,
		TxHash:      deref(out.TxHash),
		Data:        details,
	})
	return out, nil
}

// audit failures are logged, not returned: the transition already committed.
func (m *Machine) audit(ctx context.Context, log zerolog.Logger, e *types.AuditLogEntry) {
	if err := m.store.AppendAudit(ctx, e); err != nil {
		log.Error().Err(err).Str("event_type", e.EventType).Msg("failed to append audit entry")
	}
}

func (m *Machine) publish(ctx context.Context, log zerolog.Logger, ev notify.Event) {
	ev.At = m.now().UTC()
	if err := m.events.Publish(ctx, ev); err != nil {
		m.metrics.SoftFailure("events")
		log.Warn().Err(err).Str("event", ev.Type).Msg("failed to publish event")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
