// Package gormstore implements store.Store on MySQL or PostgreSQL through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/types"
)

type Store struct {
	db      *gorm.DB
	dialect string
	vectors bool
	log     zerolog.Logger
}

// Open connects and probes for pgvector. It does not migrate.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, dialect, err := Connect(dsn, log)
	if err != nil {
		return nil, err
	}
	s := New(db, dialect, log)
	s.vectors = s.detectVectors(ctx)
	return s, nil
}

func New(db *gorm.DB, dialect string, log zerolog.Logger) *Store {
	return &Store{db: db, dialect: dialect, log: log}
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) VectorSearch() bool { return s.vectors }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateProposal(ctx context.Context, p *types.Proposal) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return types.ErrConflict
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (types.Proposal, error) {
	var p types.Proposal
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p, types.ErrProposalNotFound
		}
		return p, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

func (s *Store) ListProposals(ctx context.Context, f store.ProposalFilter) ([]types.Proposal, int64, error) {
	q := s.db.WithContext(ctx).Model(&types.Proposal{})
	if f.CommunityID != "" {
		q = q.Where("community_id = ?", f.CommunityID)
	}
	if f.RegionCode != "" {
		q = q.Where("region_code = ?", f.RegionCode)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count proposals: %w", err)
	}

	switch f.Sort {
	case store.SortNew:
		q = q.Order("created_at DESC")
	case store.SortTop:
		q = q.Order("(yes_count - no_count) DESC").Order("created_at DESC")
	default:
		q = q.Order(s.hotOrder()).Order("created_at DESC")
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}

	var out []types.Proposal
	if err := q.Offset(f.Offset).Limit(f.Limit).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("list proposals: %w", err)
	}
	return out, total, nil
}

func (s *Store) hotOrder() string {
	if s.dialect == DialectPostgres {
		return "(yes_count - no_count) + EXTRACT(EPOCH FROM (created_at - NOW())) / 86400.0 * 2 DESC"
	}
	return "(yes_count - no_count) + TIMESTAMPDIFF(SECOND, NOW(), created_at) / 86400.0 * 2 DESC"
}

func (s *Store) SetAnchorTx(ctx context.Context, id string, kind store.AnchorKind, txHash string) error {
	col := "tx_hash"
	if kind == store.AnchorResult {
		col = "result_tx_hash"
	}
	res := s.db.WithContext(ctx).Model(&types.Proposal{}).Where("id = ?", id).
		Updates(map[string]any{col: txHash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("set %s: %w", col, res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrProposalNotFound
	}
	return nil
}

// ApplyVote locks the proposal row, lets decide pick the mutation, then writes
// the ballot and applies the counter delta in one UPDATE.
func (s *Store) ApplyVote(ctx context.Context, proposalID, userID string, decide store.VoteDecider) (types.Counts, error) {
	var out types.Counts
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p types.Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", proposalID).
			First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrProposalNotFound
			}
			return err
		}

		var current *types.Vote
		var v types.Vote
		err := tx.Where("proposal_id = ? AND user_id = ?", proposalID, userID).First(&v).Error
		switch {
		case err == nil:
			current = &v
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		change, err := decide(p, current)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch change.Op {
		case store.VoteInsert:
			row := types.Vote{
				ID:         uuid.NewString(),
				ProposalID: proposalID,
				UserID:     userID,
				Choice:     change.Choice,
				SignedMeta: change.SignedMeta,
			}
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return types.ErrConflict
				}
				return err
			}
		case store.VoteUpdate:
			if current == nil {
				return types.ErrVoteNotFound
			}
			if err := tx.Model(&types.Vote{}).Where("id = ?", current.ID).
				Updates(map[string]any{"choice": change.Choice, "signed_meta": change.SignedMeta, "updated_at": now}).Error; err != nil {
				return err
			}
		case store.VoteDelete:
			if current == nil {
				return types.ErrVoteNotFound
			}
			if err := tx.Delete(&types.Vote{}, "id = ?", current.ID).Error; err != nil {
				return err
			}
		}

		out = p.Counts()
		if change.Op == store.VoteNoop {
			return nil
		}
		d := change.Delta
		out = types.Counts{Yes: out.Yes + d.Yes, No: out.No + d.No, Abstain: out.Abstain + d.Abstain}
		return tx.Model(&types.Proposal{}).Where("id = ?", proposalID).Updates(map[string]any{
			"yes_count":     gorm.Expr("yes_count + ?", d.Yes),
			"no_count":      gorm.Expr("no_count + ?", d.No),
			"abstain_count": gorm.Expr("abstain_count + ?", d.Abstain),
			"updated_at":    now,
		}).Error
	})
	if err != nil {
		return types.Counts{}, wrapTx("apply vote", err)
	}
	return out, nil
}

func (s *Store) GetVote(ctx context.Context, proposalID, userID string) (*types.Vote, error) {
	var v types.Vote
	err := s.db.WithContext(ctx).Where("proposal_id = ? AND user_id = ?", proposalID, userID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return &v, nil
}

// TransitionProposal is gated twice: the locked read rejects proposals outside
// from, and the UPDATE repeats the status predicate so a racing writer that
// slipped past cannot be overwritten.
func (s *Store) TransitionProposal(ctx context.Context, id string, from []types.Status, decide store.TransitionDecider) (types.Proposal, error) {
	var out types.Proposal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p types.Proposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrProposalNotFound
			}
			return err
		}
		if !store.HasStatus(p.Status, from) {
			return types.ErrNotVoting
		}

		t, err := decide(p)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		fields := map[string]any{"status": t.Status, "updated_at": now}
		if t.ResultHash != nil {
			fields["result_hash"] = *t.ResultHash
			p.ResultHash = t.ResultHash
		}
		if t.FinalizedAt != nil {
			fields["finalized_at"] = *t.FinalizedAt
			p.FinalizedAt = t.FinalizedAt
		}
		if t.FinalizedBy != nil {
			fields["finalized_by"] = *t.FinalizedBy
			p.FinalizedBy = t.FinalizedBy
		}

		q := tx.Model(&types.Proposal{}).Where("id = ?", id)
		if len(from) > 0 {
			q = q.Where("status IN ?", from)
		}
		res := q.Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.ErrNotVoting
		}

		action := t.Action
		if action.ID == "" {
			action.ID = uuid.NewString()
		}
		if err := tx.Create(&action).Error; err != nil {
			return err
		}

		p.Status = t.Status
		p.UpdatedAt = now
		out = p
		return nil
	})
	if err != nil {
		return types.Proposal{}, wrapTx("transition proposal", err)
	}
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, e *types.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, offset, limit int) ([]types.AuditLogEntry, error) {
	var rows []types.AuditLogEntry
	if err := s.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return rows, nil
}

func (s *Store) GetCommunity(ctx context.Context, id string) (types.Community, error) {
	var c types.Community
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c, types.ErrCommunityNotFound
		}
		return c, fmt.Errorf("get community: %w", err)
	}
	return c, nil
}

func (s *Store) IsMember(ctx context.Context, communityID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&types.CommunityMember{}).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("membership: %w", err)
	}
	return n > 0, nil
}

func (s *Store) StoreEmbedding(ctx context.Context, meta types.ProposalMetadata, embedding []float64) error {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ai_summary", "tags", "ai_categories"}),
		}).Create(&meta).Error; err != nil {
			return fmt.Errorf("store metadata: %w", err)
		}
		if len(embedding) == 0 {
			return nil
		}
		set := "embedding = ?"
		if s.vectors {
			set = "embedding = CAST(? AS vector)"
		}
		if err := tx.Exec("UPDATE proposal_metadata SET "+set+" WHERE proposal_id = ?",
			store.VectorLiteral(embedding), meta.ProposalID).Error; err != nil {
			return fmt.Errorf("store embedding: %w", err)
		}
		return nil
	})
}

const nearestSQL = `
SELECT p.id AS id, p.title AS title, 1 - (pm.embedding <=> CAST(? AS vector)) AS similarity
FROM proposal_metadata pm
JOIN proposals p ON p.id = pm.proposal_id
WHERE p.region_code = ? AND p.category = ? AND p.id <> ? AND pm.embedding IS NOT NULL
ORDER BY pm.embedding <=> CAST(? AS vector)
LIMIT ?`

func (s *Store) NearestProposals(ctx context.Context, q store.NearestQuery) ([]types.DuplicateCandidate, error) {
	if !s.vectors {
		return nil, store.ErrVectorUnsupported
	}
	lit := store.VectorLiteral(q.Embedding)
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	var out []types.DuplicateCandidate
	err := s.db.WithContext(ctx).Raw(nearestSQL, lit, q.RegionCode, q.Category, q.ExcludeID, lit, limit).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("nearest proposals: %w", err)
	}
	return out, nil
}

func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	var rows []types.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

// wrapTx keeps domain errors untouched so callers can match their kind.
func wrapTx(op string, err error) error {
	var domain *types.Error
	if errors.As(err, &domain) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ store.Store = (*Store)(nil)
