package types

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusActive      Status = "active"
	StatusVoting      Status = "voting"
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusImplemented Status = "implemented"
	StatusArchived    Status = "archived"
)

// Finalizable reports whether an outcome can still be decided.
func (s Status) Finalizable() bool {
	return s == StatusVoting || s == StatusActive
}

// Choice is a ballot option.
type Choice string

const (
	ChoiceYes     Choice = "yes"
	ChoiceNo      Choice = "no"
	ChoiceAbstain Choice = "abstain"
)

func ParseChoice(s string) (Choice, bool) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(s))); c {
	case ChoiceYes, ChoiceNo, ChoiceAbstain:
		return c, true
	}
	return "", false
}

// Counts is the tally triple of a proposal.
type Counts struct {
	Yes     int64 `json:"yes"`
	No      int64 `json:"no"`
	Abstain int64 `json:"abstain"`
}

func (c Counts) Total() int64 { return c.Yes + c.No + c.Abstain }

// Add returns a copy with n added to the counter for choice.
func (c Counts) Add(choice Choice, n int64) Counts {
	switch choice {
	case ChoiceYes:
		c.Yes += n
	case ChoiceNo:
		c.No += n
	case ChoiceAbstain:
		c.Abstain += n
	}
	return c
}

// Proposals
type Proposal struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	CommunityID  string     `gorm:"size:36;index;not null" json:"communityId"`
	RegionCode   string     `gorm:"size:64;index;not null" json:"regionCode"`
	Category     string     `gorm:"size:50;index;not null" json:"category"`
	Status       Status     `gorm:"size:16;index;not null;default:draft" json:"status"`
	Title        string     `gorm:"size:300;not null" json:"title"`
	Text         string     `gorm:"type:text;not null" json:"text"`
	TitleEn      string     `gorm:"size:1200" json:"titleEn"`
	TitleLang    string     `gorm:"size:8" json:"titleLang"`
	TextEn       string     `gorm:"type:text" json:"textEn"`
	TextLang     string     `gorm:"size:8" json:"textLang"`
	Summary      string     `gorm:"type:text" json:"summary"`
	SummaryEn    string     `gorm:"type:text" json:"summaryEn"`
	Deadline     time.Time  `gorm:"not null" json:"deadline"`
	YesCount     int64      `gorm:"not null;default:0" json:"yesCount"`
	NoCount      int64      `gorm:"not null;default:0" json:"noCount"`
	AbstainCount int64      `gorm:"not null;default:0" json:"abstainCount"`
	ProposalHash string     `gorm:"size:66;not null" json:"proposalHash"`
	ResultHash   *string    `gorm:"size:66" json:"resultHash"`
	TxHash       *string    `gorm:"size:66" json:"txHash"`
	ResultTxHash *string    `gorm:"size:66" json:"resultTxHash"`
	RegistryKey  string     `gorm:"size:16;uniqueIndex;not null" json:"registryKey"`
	CreatedBy    string     `gorm:"size:36;index;not null" json:"createdBy"`
	FinalizedBy  *string    `gorm:"size:36" json:"finalizedBy"`
	FinalizedAt  *time.Time `json:"finalizedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (p Proposal) Counts() Counts {
	return Counts{Yes: p.YesCount, No: p.NoCount, Abstain: p.AbstainCount}
}

// Single ballot per (proposal, user)
type Vote struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	ProposalID string      `gorm:"size:36;not null;uniqueIndex:idx_votes_proposal_user" json:"proposalId"`
	UserID     string      `gorm:"size:36;not null;uniqueIndex:idx_votes_proposal_user" json:"userId"`
	Choice     Choice      `gorm:"size:8;not null" json:"choice"`
	SignedMeta *SignedMeta `gorm:"type:text" json:"signedMeta,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// AI side data; the embedding column is managed outside the model because
// its type depends on whether pgvector is installed.
type ProposalMetadata struct {
	ID           string   `gorm:"primaryKey;size:36"`
	ProposalID   string   `gorm:"size:36;uniqueIndex;not null"`
	AISummary    string   `gorm:"type:text"`
	Tags         JSONList `gorm:"type:text"`
	AICategories JSONList `gorm:"type:text"`
	CreatedAt    time.Time
}

func (ProposalMetadata) TableName() string { return "proposal_metadata" }

// Admin actions (append-only)
type AdminAction struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	AdminID     string    `gorm:"size:36;index;not null" json:"adminId"`
	ProposalID  string    `gorm:"size:36;index" json:"proposalId"`
	ActionType  string    `gorm:"size:32;not null" json:"actionType"`
	Description string    `gorm:"type:text" json:"description"`
	StatusHash  string    `gorm:"size:66" json:"statusHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

const (
	ActionFinalizeVote = "finalize_vote"
	ActionStatusUpdate = "status_update"
)

// Audit log (append-only)
type AuditLogEntry struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	EventType      string    `gorm:"size:32;index;not null" json:"eventType"`
	ReferenceID    string    `gorm:"size:36;index" json:"referenceId"`
	ReferenceTable string    `gorm:"size:32" json:"referenceTable"`
	ActorID        string    `gorm:"size:36" json:"actorId"`
	HashOnchain    string    `gorm:"size:66" json:"hashOnchain"`
	TxHash         *string   `gorm:"size:66" json:"txHash"`
	Details        JSONMap   `gorm:"type:text" json:"details"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (AuditLogEntry) TableName() string { return "audit_log" }

const (
	EventProposalCreated   = "proposal_created"
	EventVoteFinalized     = "vote_finalized"
	EventAdminStatusUpdate = "admin_status_update"
)

// Communities are managed elsewhere; only the fields the engine reads.
type Community struct {
	ID         string `gorm:"primaryKey;size:36"`
	Slug       string `gorm:"size:128;uniqueIndex;not null"`
	Name       string `gorm:"size:255;not null"`
	RegionCode string `gorm:"size:64;index;not null"`
	Category   string `gorm:"size:50"`
	CreatedAt  time.Time
}

type CommunityMember struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CommunityID string    `gorm:"size:36;not null;uniqueIndex:idx_members_community_user"`
	UserID      string    `gorm:"size:36;not null;uniqueIndex:idx_members_community_user"`
	Role        string    `gorm:"size:16;default:member"`
	JoinedAt    time.Time `gorm:"autoCreateTime"`
}

// Runtime-tunable settings
type Setting struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value string `gorm:"type:text"`
}

// Identity is the verified caller produced by the auth layer.
type Identity struct {
	UserID     string
	Email      string
	Role       string
	RegionCode string
}

func (i Identity) IsAdmin() bool {
	return i.Role == "admin" || i.Role == "superadmin"
}

// NormalizeRegion lowercases and strips everything outside [a-z0-9].
func NormalizeRegion(code string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(code) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func RegionMatch(a, b string) bool {
	return NormalizeRegion(a) == NormalizeRegion(b)
}

// DuplicateCandidate is a near-duplicate found at creation time.
type DuplicateCandidate struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}
