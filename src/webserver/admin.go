package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/nexvote/src/types"
)

func (s *Server) finalize(c *gin.Context) {
	var req struct {
		ProposalID string `json:"proposalId" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.Finalizer.Finalize(c.Request.Context(), identity(c), req.ProposalID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    out.Message(),
		"proposalId": out.ProposalID,
		"status":     out.Status,
		"resultHash": out.ResultHash,
		"txHash":     out.TxHash,
		"counts":     out.Counts,
	})
}

func (s *Server) updateStatus(c *gin.Context) {
	var req struct {
		ProposalID  string `json:"proposalId" binding:"required,uuid"`
		Status      string `json:"status" binding:"required,oneof=implemented archived"`
		Description string `json:"description" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := s.Finalizer.UpdateStatus(c.Request.Context(), identity(c), req.ProposalID, types.Status(req.Status), req.Description)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    out.Message(),
		"proposalId": out.ProposalID,
		"statusHash": out.StatusHash,
		"txHash":     out.TxHash,
	})
}

func (s *Server) auditLog(c *gin.Context) {
	page, limit := pageParams(c, 50, 200)
	logs, err := s.Store.ListAudit(c.Request.Context(), (page-1)*limit, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "page": page, "limit": limit})
}
