package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Hrittik20/TSUSwap/internal/listing"
	"github.com/Hrittik20/TSUSwap/internal/store"
)

type createItemRequest struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Images       []string          `json:"images"`
	Category     string            `json:"category"`
	Condition    string            `json:"condition"`
	ListingType  store.ListingType `json:"listing_type"`
	Price        decimal.Decimal   `json:"price"`
	StartPrice   decimal.Decimal   `json:"start_price"`
	ReservePrice *decimal.Decimal  `json:"reserve_price"`
	EndTime      *time.Time        `json:"end_time"`
}

type itemResponse struct {
	Item    *store.Item    `json:"item"`
	Auction *store.Auction `json:"auction,omitempty"`
}

func (s *Server) createItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	item, auction, err := s.deps.Listings.Create(c.Request.Context(), userID(c), listing.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Images:       req.Images,
		Category:     req.Category,
		Condition:    req.Condition,
		ListingType:  req.ListingType,
		Price:        req.Price,
		StartPrice:   req.StartPrice,
		ReservePrice: req.ReservePrice,
		EndTime:      req.EndTime,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, itemResponse{Item: item, Auction: auction})
}

func (s *Server) getItem(c *gin.Context) {
	item, auction, err := s.deps.Listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, itemResponse{Item: item, Auction: auction})
}

func (s *Server) myItems(c *gin.Context) {
	items, err := s.deps.Listings.ListBySeller(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orEmpty(items)})
}

func (s *Server) relistItem(c *gin.Context) {
	if err := s.deps.Listings.Relist(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	s.getItem(c)
}

func (s *Server) withdrawItem(c *gin.Context) {
	if err := s.deps.Listings.Withdraw(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	s.getItem(c)
}

type reportRequest struct {
	Reason      store.ReportReason `json:"reason" binding:"required"`
	Description string             `json:"description"`
}

func (s *Server) reportItem(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	r, err := s.deps.Moderation.Report(c.Request.Context(), userID(c), c.Param("id"), req.Reason, req.Description)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) placeBid(c *gin.Context) {
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	bid, err := s.deps.Auctions.PlaceBid(c.Request.Context(), userID(c), c.Param("id"), req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

func (s *Server) listBids(c *gin.Context) {
	bids, err := s.deps.Auctions.Bids(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": orEmpty(bids)})
}

type purchaseRequest struct {
	ItemID           string              `json:"item_id" binding:"required"`
	PaymentMethod    store.PaymentMethod `json:"payment_method" binding:"required"`
	MeetingScheduled *time.Time          `json:"meeting_scheduled"`
}

func (s *Server) purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	tx, err := s.deps.Escrow.Purchase(c.Request.Context(), userID(c), req.ItemID, req.PaymentMethod, req.MeetingScheduled)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *Server) listTransactions(c *gin.Context) {
	txs, err := s.deps.Escrow.ListForUser(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": orEmpty(txs)})
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.deps.Escrow.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) confirmTransaction(c *gin.Context) {
	tx, err := s.deps.Escrow.Confirm(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) cancelTransaction(c *gin.Context) {
	tx, err := s.deps.Escrow.Cancel(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *Server) listNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.Query("unread"))
	ns, err := s.deps.Inbox.List(c.Request.Context(), userID(c), unread)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": orEmpty(ns)})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	if err := s.deps.Inbox.MarkRead(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.deps.Messages.ListForUser(c.Request.Context(), userID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": orEmpty(msgs)})
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
