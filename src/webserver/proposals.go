package webserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store"
	"github.com/stake-plus/nexvote/src/translate"
	"github.com/stake-plus/nexvote/src/types"
	"github.com/stake-plus/nexvote/src/workflow"
)

// proposalView renders title, text and summary in the caller's locale.
type proposalView struct {
	types.Proposal
	Title    string `json:"title"`
	Text     string `json:"text"`
	Summary  string `json:"summary"`
	Locale   string `json:"locale"`
	Replayed bool   `json:"replayed,omitempty"`
}

func (s *Server) view(ctx context.Context, p types.Proposal, target string) proposalView {
	return proposalView{
		Proposal: p,
		Title:    s.Translator.Localize(ctx, translate.Field{English: p.TitleEn, Original: p.Title, OriginalLocale: p.TitleLang}, target),
		Text:     s.Translator.Localize(ctx, translate.Field{English: p.TextEn, Original: p.Text, OriginalLocale: p.TextLang}, target),
		Summary:  s.Translator.Localize(ctx, translate.Field{English: p.SummaryEn, Original: p.Summary, OriginalLocale: translate.English}, target),
		Locale:   target,
	}
}

func (s *Server) createProposal(c *gin.Context) {
	var req workflow.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Workflow.Create(c.Request.Context(), identity(c), req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	v := s.view(c.Request.Context(), res.Proposal, locale(c))
	if res.Replayed {
		v.Replayed = true
		c.JSON(http.StatusOK, v)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (s *Server) getProposal(c *gin.Context) {
	p, err := s.Store.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(c.Request.Context(), p, locale(c)))
}

func (s *Server) listProposals(c *gin.Context) {
	page, limit := pageParams(c, 20, 100)
	f := store.ProposalFilter{
		CommunityID: c.Query("communityId"),
		RegionCode:  c.Query("region"),
		Status:      types.Status(c.Query("status")),
		Category:    c.Query("category"),
		Sort:        c.DefaultQuery("sort", store.SortHot),
		Offset:      (page - 1) * limit,
		Limit:       limit,
	}
	ps, total, err := s.Store.ListProposals(c.Request.Context(), f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	target := locale(c)
	out := make([]proposalView, 0, len(ps))
	for _, p := range ps {
		out = append(out, s.view(c.Request.Context(), p, target))
	}
	c.JSON(http.StatusOK, gin.H{"proposals": out, "total": total, "page": page, "limit": limit})
}

func (s *Server) castVote(c *gin.Context) {
	var req struct {
		Choice     string            `json:"choice" binding:"required,oneof=yes no abstain"`
		SignedMeta *types.SignedMeta `json:"signedMeta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Ledger.Cast(c.Request.Context(), identity(c), c.Param("id"), types.Choice(req.Choice), req.SignedMeta)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": res.Message(),
		"choice":  res.Choice,
		"counts":  res.Counts,
	})
}

func (s *Server) undoVote(c *gin.Context) {
	counts, err := s.Ledger.Undo(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Vote undone.", "counts": counts})
}

func (s *Server) verifyProposal(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := s.Store.GetProposal(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := gin.H{"configured": s.Anchor.Configured(), "proposalHash": false, "resultHash": false}
	ok, err := s.Anchor.Verify(ctx, relay.ProposalHash, p.ID, p.ProposalHash)
	if err != nil {
		s.log.Warn().Err(err).Str("proposal_id", p.ID).Msg("registry verification failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Registry unavailable.", "kind": types.KindUnavailable})
		return
	}
	out["proposalHash"] = ok
	if p.ResultHash != nil {
		ok, err := s.Anchor.Verify(ctx, relay.ResultHash, p.ID, *p.ResultHash)
		if err != nil {
			s.log.Warn().Err(err).Str("proposal_id", p.ID).Msg("registry verification failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Registry unavailable.", "kind": types.KindUnavailable})
			return
		}
		out["resultHash"] = ok
	}
	c.JSON(http.StatusOK, out)
}

// maxPage keeps (page-1)*limit far from overflow.
const maxPage = 1_000_000

func pageParams(c *gin.Context, defLimit, maxLimit int) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defLimit)))
	if err != nil || limit < 1 {
		limit = defLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
