package gormstore

import (
	"context"
	"fmt"

	"github.com/stake-plus/nexvote/src/types"
)

var allModels = []interface{}{
	&types.Community{}, &types.CommunityMember{},
	&types.Proposal{}, &types.Vote{},
	&types.ProposalMetadata{},
	&types.AdminAction{}, &types.AuditLogEntry{},
	&types.Setting{},
}

// Migrate brings the schema up to date. The embedding column is added by hand
// because its type depends on pgvector being installable.
func (s *Store) Migrate(ctx context.Context, dimension int) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if s.dialect == DialectPostgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			s.log.Warn().Err(err).Msg("pgvector unavailable, duplicate detection disabled")
		}
		s.vectors = s.detectVectors(ctx)
	}

	if db.Migrator().HasColumn(&types.ProposalMetadata{}, "embedding") {
		return nil
	}
	var ddl string
	switch {
	case s.vectors:
		ddl = fmt.Sprintf("ALTER TABLE proposal_metadata ADD COLUMN embedding vector(%d)", dimension)
	case s.dialect == DialectPostgres:
		ddl = "ALTER TABLE proposal_metadata ADD COLUMN embedding text"
	default:
		ddl = "ALTER TABLE proposal_metadata ADD COLUMN embedding JSON"
	}
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("add embedding column: %w", err)
	}
	s.log.Info().Bool("vector", s.vectors).Int("dimension", dimension).Msg("embedding column created")
	return nil
}

func (s *Store) detectVectors(ctx context.Context) bool {
	if s.dialect != DialectPostgres {
		return false
	}
	var n int64
	err := s.db.WithContext(ctx).Raw("SELECT COUNT(*) FROM pg_extension WHERE extname = 'vector'").Scan(&n).Error
	if err != nil {
		if !isUndefinedObject(err) {
			s.log.Warn().Err(err).Msg("pgvector probe failed")
		}
		return false
	}
	return n > 0
}
