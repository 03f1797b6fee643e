// Package workflow runs proposal creation: translation, summary, duplicate
// gate, persistence, anchoring, audit. Only membership, validation, the
// duplicate gate and persistence can fail a request; every other step is
// best effort and reported as degraded in the audit entry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stake-plus/nexvote/src/ai"
	"github.com/stake-plus/nexvote/src/data"
	"github.com/stake-plus/nexvote/src/dedup"
	"github.com/stake-plus/nexvote/src/fingerprint"
	"github.com/stake-plus/nexvote/src/metrics"
	"github.com/stake-plus/nexvote/src/notify"
	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/translate"
	"github.com/stake-plus/nexvote/src/types"
)

// registryAttempts bounds id regeneration on registry key collisions.
const registryAttempts = 3

type Backend interface {
	store.Proposals
	store.Communities
	store.Embeddings
	store.Audit
}

// Deps are the collaborators of an Orchestrator. Events and Idempotency may
// be nil.
type Deps struct {
	Store       Backend
	AI          ai.Client
	Translator  *translate.Translator
	Dedup       *dedup.Detector
	Anchor      relay.Anchorer
	Events      notify.Publisher
	Idempotency data.Idempotency
	Log         zerolog.Logger
	Metrics     *metrics.Collector

	DefaultDeadlineDays int
}

type Orchestrator struct {
	store      Backend
	ai         ai.Client
	translator *translate.Translator
	dedup      *dedup.Detector
	anchor     relay.Anchorer
	events     notify.Publisher
	idem       data.Idempotency
	sanitizer  sanitizer
	log        zerolog.Logger
	metrics    *metrics.Collector

	defaultDeadlineDays int
	now                 func() time.Time
	newID               func() string
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDs replaces UUID generation.
func WithIDs(next func() string) Option {
	return func(o *Orchestrator) { o.newID = next }
}

func New(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:               d.Store,
		ai:                  d.AI,
		translator:          d.Translator,
		dedup:               d.Dedup,
		anchor:              d.Anchor,
		events:              d.Events,
		idem:                d.Idempotency,
		sanitizer:           newSanitizer(),
		log:                 d.Log,
		metrics:             d.Metrics,
		defaultDeadlineDays: d.DefaultDeadlineDays,
		now:                 time.Now,
		newID:               uuid.NewString,
	}
	if o.events == nil {
		o.events = notify.Noop()
	}
	if o.defaultDeadlineDays <= 0 {
		o.defaultDeadlineDays = 7
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type CreateResult struct {
	Proposal types.Proposal
	// Replayed is set when an idempotency key matched an earlier creation.
	Replayed bool
	// Degraded names the soft dependencies that failed.
	Degraded []string
}

// Create runs the whole creation workflow for caller. A non-empty
// idempotencyKey makes retries return the first result.
func (o *Orchestrator) Create(ctx context.Context, caller types.Identity, in CreateInput, idempotencyKey string) (res CreateResult, err error) {
	in, err = o.normalize(in)
	if err != nil {
		return res, err
	}

	if idempotencyKey != "" && o.idem != nil {
		key := caller.UserID + ":" + idempotencyKey
		existing, cerr := o.idem.Claim(ctx, key)
		switch {
		case errors.Is(cerr, data.ErrInFlight):
			return res, types.Errorf(types.KindConflict, "%s", cerr.Error())
		case cerr != nil:
			o.log.Warn().Err(cerr).Msg("idempotency store unavailable, continuing without it")
		case existing != "":
			p, gerr := o.store.GetProposal(ctx, existing)
			if gerr != nil {
				return res, gerr
			}
			return CreateResult{Proposal: p, Replayed: true}, nil
		default:
			defer func() {
				if err != nil {
					_ = o.idem.Release(context.WithoutCancel(ctx), key)
					return
				}
				if rerr := o.idem.Resolve(context.WithoutCancel(ctx), key, res.Proposal.ID); rerr != nil {
					o.log.Warn().Err(rerr).Msg("failed to record idempotency key")
				}
			}()
		}
	}

	return o.create(ctx, caller, in)
}

func (o *Orchestrator) create(ctx context.Context, caller types.Identity, in CreateInput) (CreateResult, error) {
	community, err := o.store.GetCommunity(ctx, in.CommunityID)
	if err != nil {
		return CreateResult{}, err
	}
	member, err := o.store.IsMember(ctx, in.CommunityID, caller.UserID)
	if err != nil {
		return CreateResult{}, err
	}
	if !member {
		return CreateResult{}, types.ErrNotMember
	}
	if !types.RegionMatch(caller.RegionCode, community.RegionCode) {
		return CreateResult{}, types.ErrRegionMismatch
	}

	var degraded *multierror.Error

	titleEn, titleLang := o.translator.ToEnglish(ctx, in.Title)
	textEn, textLang := o.translator.ToEnglish(ctx, in.Text)
	if titleLang == translate.Unknown || textLang == translate.Unknown {
		degraded = multierror.Append(degraded, errors.New("ai_translate: original text kept"))
	}

	// one request body for both calls, so the stored embedding matches the
	// one the duplicate search used
	full := titleEn + "\n\n" + textEn
	var (
		summary       string
		summaryFailed bool
		embedding     []float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := o.ai.Summarize(gctx, full)
		if err != nil {
			o.metrics.SoftFailure("ai_summarize")
			o.log.Warn().Err(err).Msg("summarizer unavailable, using excerpt")
			s, summaryFailed = fallbackSummary(textEn), true
		}
		summary = s
		return nil
	})
	g.Go(func() error {
		embedding = o.dedup.GetEmbedding(gctx, full)
		return nil
	})
	_ = g.Wait()
	if summaryFailed {
		degraded = multierror.Append(degraded, errors.New("ai_summarize: excerpt used"))
	}
	if embedding == nil {
		degraded = multierror.Append(degraded, errors.New("ai_embed: duplicate detection skipped"))
	}

	if dups := o.dedup.FindDuplicates(ctx, embedding, community.RegionCode, in.Category, ""); len(dups) > 0 {
		o.metrics.DuplicateRejected()
		o.log.Info().Str("community_id", in.CommunityID).Int("candidates", len(dups)).Msg("proposal rejected as duplicate")
		return CreateResult{}, types.WithDetails(types.ErrDuplicate, dups)
	}

	deadline := o.now().UTC().AddDate(0, 0, in.DeadlineDays).Truncate(time.Millisecond)
	hash, err := fingerprint.Of(fingerprint.Proposal{
		Title:       titleEn,
		Text:        textEn,
		CommunityID: in.CommunityID,
		Category:    in.Category,
		CreatedBy:   caller.UserID,
		RegionCode:  community.RegionCode,
		Deadline:    fingerprint.ISO(deadline),
	})
	if err != nil {
		return CreateResult{}, err
	}

	p := types.Proposal{
		CommunityID:  in.CommunityID,
		RegionCode:   community.RegionCode,
		Category:     in.Category,
		Status:       types.StatusVoting,
		Title:        in.Title,
		Text:         in.Text,
		TitleEn:      titleEn,
		TitleLang:    titleLang,
		TextEn:       textEn,
		TextLang:     textLang,
		Summary:      summary,
		SummaryEn:    summary,
		Deadline:     deadline,
		ProposalHash: hash,
		CreatedBy:    caller.UserID,
	}
	if err := o.persist(ctx, &p); err != nil {
		return CreateResult{}, err
	}

	log := o.log.With().Str("proposal_id", p.ID).Logger()
	log.Info().Str("proposal_hash", hash).Str("registry_key", p.RegistryKey).Msg("proposal created")

	if embedding != nil {
		meta := types.ProposalMetadata{
			ProposalID:   p.ID,
			AISummary:    summary,
			Tags:         types.JSONList{in.Category},
			AICategories: types.JSONList{in.Category},
		}
		if err := o.store.StoreEmbedding(ctx, meta, embedding); err != nil {
			o.metrics.SoftFailure("embedding_store")
			log.Warn().Err(err).Msg("failed to store embedding, continuing")
			degraded = multierror.Append(degraded, fmt.Errorf("embedding_store: %w", err))
		}
	}

	tx, err := o.anchor.Submit(ctx, relay.OpRegisterProposal, p.ID, hash)
	switch {
	case err != nil && relay.Outcome(err) != "error":
		log.Warn().Err(err).Str("outcome", relay.Outcome(err)).Msg("registry refused proposal registration (continuing)")
		degraded = multierror.Append(degraded, fmt.Errorf("relay: %w", err))
	case err != nil:
		o.metrics.SoftFailure("relay")
		log.Error().Err(err).Msg("failed to register proposal on-chain (continuing)")
		degraded = multierror.Append(degraded, fmt.Errorf("relay: %w", err))
	case tx != "":
		if err := o.store.SetAnchorTx(ctx, p.ID, store.AnchorRegistration, tx); err != nil {
			log.Error().Err(err).Str("tx_hash", tx).Msg("failed to store registration tx hash")
		}
		p.TxHash = &tx
		log.Info().Str("tx_hash", tx).Msg("proposal registered on-chain")
	}

	details := types.JSONMap{"title": in.Title, "communityId": in.CommunityID}
	var notes []string
	if degraded != nil {
		for _, e := range degraded.Errors {
			notes = append(notes, e.Error())
		}
		details["degraded"] = notes
	}
	if err := o.store.AppendAudit(ctx, &types.AuditLogEntry{
		EventType:      types.EventProposalCreated,
		ReferenceID:    p.ID,
		ReferenceTable: "proposals",
		ActorID:        caller.UserID,
		HashOnchain:    hash,
		TxHash:         p.TxHash,
		Details:        details,
	}); err != nil {
		log.Error().Err(err).Msg("failed to append audit entry")
	}

	ev := notify.Event{
		Type:        notify.ProposalCreated,
		ProposalID:  p.ID,
		CommunityID: p.CommunityID,
		RegionCode:  p.RegionCode,
		Status:      string(p.Status),
		ActorID:     caller.UserID,
		At:          o.now().UTC(),
	}
	if p.TxHash != nil {
		ev.TxHash = *p.TxHash
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.metrics.SoftFailure("events")
		log.Warn().Err(err).Msg("failed to publish proposal.created")
	}

	o.metrics.ProposalCreated()
	return CreateResult{Proposal: p, Degraded: notes}, nil
}

// persist assigns an id whose registry key is unused, regenerating on
// collision.
func (o *Orchestrator) persist(ctx context.Context, p *types.Proposal) error {
	var lastErr error
	for attempt := 0; attempt < registryAttempts; attempt++ {
		p.ID = o.newID()
		key, err := fingerprint.RegistryKey(p.ID)
		if err != nil {
			return err
		}
		p.RegistryKey = key
		err = o.store.CreateProposal(ctx, p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrConflict) {
			return err
		}
		o.log.Warn().Str("registry_key", key).Msg("registry key collision, regenerating id")
		lastErr = err
	}
	return fmt.Errorf("allocate registry key after %d attempts: %w", registryAttempts, lastErr)
}
