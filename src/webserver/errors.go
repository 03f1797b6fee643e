package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stake-plus/nexvote/src/types"
)

func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict, types.KindInconsistentState:
		return http.StatusConflict
	case types.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err with its kind. Internal errors are logged and
// hidden from the caller.
func (s *Server) respondError(c *gin.Context, err error) {
	var e *types.Error
	if !errors.As(err, &e) {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error.", "kind": types.KindInternal})
		return
	}
	body := gin.H{"error": e.Msg, "kind": e.Kind}
	if e.Details != nil {
		if e.Kind == types.KindConflict && errors.Is(err, types.ErrDuplicate) {
			body["duplicates"] = e.Details
		} else {
			body["details"] = e.Details
		}
	}
	c.JSON(statusFor(e.Kind), body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed.", "kind": types.KindValidation, "details": err.Error()})
}
