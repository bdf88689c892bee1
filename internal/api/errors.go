package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hrittik20/TSUSwap/internal/market"
	"github.com/Hrittik20/TSUSwap/internal/notify"
)

// fail writes err as a JSON error response. State conflicts tell the
// client to refresh and retry; internal errors are logged and hidden.
func (s *Server) fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var me *market.Error
	if errors.As(err, &me) {
		body["code"] = me.Code
	}

	switch market.KindOf(err) {
	case market.KindValidation:
		var ve *market.ValidationError
		if errors.As(err, &ve) {
			body["field"] = ve.Field
		}
		body["code"] = "validation"
		c.JSON(http.StatusBadRequest, body)
	case market.KindAuthorization:
		if errors.Is(err, market.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, body)
			return
		}
		c.JSON(http.StatusForbidden, body)
	case market.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	case market.KindStateConflict:
		body["retry"] = true
		body["hint"] = "this changed, refresh and retry"
		c.JSON(http.StatusConflict, body)
	case market.KindQuotaExceeded:
		var qe *market.QuotaExceededError
		if errors.As(err, &qe) {
			body["limit"] = qe.Limit
			body["reset_at"] = qe.ResetAt
		}
		body["code"] = "quota_exceeded"
		c.JSON(http.StatusTooManyRequests, body)
	default:
		if errors.Is(err, notify.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
			return
		}
		s.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error(), "code": "validation"})
}
