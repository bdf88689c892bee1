// Package api exposes the marketplace engines as a JSON HTTP API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hrittik20/TSUSwap/internal/auction"
	"github.com/Hrittik20/TSUSwap/internal/escrow"
	"github.com/Hrittik20/TSUSwap/internal/listing"
	"github.com/Hrittik20/TSUSwap/internal/moderation"
	"github.com/Hrittik20/TSUSwap/internal/notify"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

// Deps are the engines the handlers call into.
type Deps struct {
	Listings   *listing.Manager
	Auctions   *auction.Manager
	Escrow     *escrow.Manager
	Moderation *moderation.Manager
	Inbox      *notify.Recorder
	Messages   store.MessageRepository
}

// Server holds the HTTP handlers.
type Server struct {
	deps   Deps
	auth   *Authenticator
	logger *slog.Logger
}

// New returns a Server.
func New(deps Deps, auth *Authenticator, logger *slog.Logger) *Server {
	return &Server{deps: deps, auth: auth, logger: logger}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// Register mounts the API under /api.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.GET("/items/:id", s.getItem)

	authed := api.Group("", s.auth.Required())
	{
		authed.POST("/items", s.createItem)
		authed.GET("/me/items", s.myItems)
		authed.POST("/items/:id/relist", s.relistItem)
		authed.POST("/items/:id/withdraw", s.withdrawItem)
		authed.POST("/items/:id/reports", s.reportItem)

		authed.GET("/auctions/:id/bids", s.listBids)
		authed.POST("/auctions/:id/bids", s.placeBid)

		authed.POST("/transactions", s.purchase)
		authed.GET("/transactions", s.listTransactions)
		authed.GET("/transactions/:id", s.getTransaction)
		authed.POST("/transactions/:id/confirm", s.confirmTransaction)
		authed.POST("/transactions/:id/cancel", s.cancelTransaction)

		authed.GET("/notifications", s.listNotifications)
		authed.POST("/notifications/:id/read", s.markNotificationRead)
		authed.GET("/messages", s.listMessages)

		authed.GET("/admin/check", s.adminCheck)
	}

	admin := authed.Group("/admin", s.adminOnly())
	{
		admin.GET("/reports", s.listReports)
		admin.PUT("/items/:id/reports", s.setReportStatus)
		admin.DELETE("/items/:id", s.removeItem)
		admin.GET("/items/:id/history", s.itemHistory)
		admin.GET("/auctions/sweep", s.pendingSettlements)
		admin.POST("/auctions/sweep", s.runSweep)
	}
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := s.deps.Moderation.IsAdmin(c.Request.Context(), userID(c))
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required", "code": "not_admin"})
			return
		}
		c.Next()
	}
}
