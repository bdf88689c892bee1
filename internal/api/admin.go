package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hrittik20/TSUSwap/internal/store"
)

func (s *Server) adminCheck(c *gin.Context) {
	ok, err := s.deps.Moderation.IsAdmin(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_admin": ok})
}

func (s *Server) listReports(c *gin.Context) {
	rs, err := s.deps.Moderation.ListReports(c.Request.Context(), userID(c), store.ReportStatus(c.Query("status")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": orEmpty(rs)})
}

type reportStatusRequest struct {
	Status store.ReportStatus `json:"status" binding:"required"`
}

func (s *Server) setReportStatus(c *gin.Context) {
	var req reportStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	n, err := s.deps.Moderation.SetReportStatus(c.Request.Context(), userID(c), c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

type removeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) removeItem(c *gin.Context) {
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.deps.Moderation.RemoveItem(c.Request.Context(), userID(c), c.Param("id"), req.Reason); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) itemHistory(c *gin.Context) {
	evts, err := s.deps.Moderation.ItemHistory(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": orEmpty(evts)})
}

func (s *Server) pendingSettlements(c *gin.Context) {
	n, err := s.deps.Auctions.PendingSettlements(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": n})
}

func (s *Server) runSweep(c *gin.Context) {
	res, err := s.deps.Auctions.SweepEnded(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
