package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"repost/internal/models"
)

// Error kinds returned to clients.
const (
	kindValidation   = "validation"
	kindDuplicate    = "duplicate"
	kindNotFound     = "not_found"
	kindAlreadyActed = "already_acted"
	kindRateLimited  = "rate_limited"
	kindUpstream     = "upstream"
	kindInternal     = "internal"
)

func errorBody(kind, message string) gin.H {
	return gin.H{"error": gin.H{"kind": kind, "message": message}}
}

// classify maps an error to a status, kind and client safe message.
func classify(err error) (int, string, string) {
	var ve *models.ValidationError
	var ue *models.UpstreamError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, kindValidation, ve.Msg
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, kindValidation, "invalid request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, kindNotFound, "image not found"
	case errors.Is(err, models.ErrAlreadyLiked):
		return http.StatusBadRequest, kindAlreadyActed, "image already liked"
	case errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict, kindDuplicate, "image already exists"
	case errors.As(err, &ue):
		return http.StatusInternalServerError, kindUpstream, "storage backend unavailable"
	default:
		return http.StatusInternalServerError, kindInternal, "internal error"
	}
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	status, kind, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed", "op", op, "error", err)
	} else {
		s.log.DebugContext(c.Request.Context(), "request rejected", "op", op, "error", err)
	}
	c.AbortWithStatusJSON(status, errorBody(kind, msg))
}
