// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aakash-jangid0/dinesync/domain"
	"github.com/aakash-jangid0/dinesync/internal/auth"
	"github.com/aakash-jangid0/dinesync/store"
)

// writeStoreError maps store errors onto the API error taxonomy.
func (s *Server) writeStoreError(c *gin.Context, err error) {
	var invalid *domain.ErrInvalidTransition
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "record not found"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": invalid.Error()})
	case errors.Is(err, store.ErrChatResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "chat_resolved", "message": "support chat is resolved"})
	case errors.Is(err, store.ErrCouponNotValid):
		c.JSON(http.StatusConflict, gin.H{"error": "coupon_not_valid", "message": err.Error()})
	case errors.Is(err, store.ErrCouponExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": "coupon_exhausted", "message": err.Error()})
	default:
		s.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "operation failed"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

// issueToken exchanges an identity assertion for a JWT. Deployments
// front this with a real identity provider; the handler only mints
// role-scoped tokens.
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Role   string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id and role are required")
		return
	}

	token, err := s.jwtAuth.GenerateToken(req.UserID, req.Role, s.tokenTTL)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(s.tokenTTL.Seconds()),
	})
}

// getRecord is the rehydration point lookup: full record with one-hop
// relations by (table, id).
func (s *Server) getRecord(c *gin.Context) {
	table := c.Param("table")
	if !domain.KnownTable(table) {
		badRequest(c, "unknown table "+table)
		return
	}
	rec, err := s.store.FetchRecord(c.Request.Context(), table, c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listChanges pages the change log for feed catch-up and polling.
func (s *Server) listChanges(c *gin.Context) {
	after := int64(0)
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			badRequest(c, "after must be a non-negative integer")
			return
		}
		after = v
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			badRequest(c, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	page, err := s.store.ListChanges(c.Request.Context(), after, limit, c.Query("table"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// --- Orders ---

func (s *Server) createOrder(c *gin.Context) {
	var req struct {
		Items []struct {
			Name       string `json:"name" binding:"required"`
			Quantity   int    `json:"quantity" binding:"required,min=1"`
			PriceCents int64  `json:"price_cents" binding:"min=0"`
			Notes      string `json:"notes"`
		} `json:"items" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "order must contain at least one item")
		return
	}
	customerID, _ := auth.GetUserID(c.Request.Context())

	items := make([]store.NewOrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, store.NewOrderItem{
			Name:       it.Name,
			Quantity:   it.Quantity,
			PriceCents: it.PriceCents,
			Notes:      it.Notes,
		})
	}

	order, err := s.store.CreateOrder(c.Request.Context(), customerID, items)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.store.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) listOrders(c *gin.Context) {
	filter := store.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filter.Limit = v
		}
	}
	// Customers only see their own orders.
	role, _ := auth.GetRole(c.Request.Context())
	if role != auth.RoleAdmin {
		filter.CustomerID, _ = auth.GetUserID(c.Request.Context())
	} else if cid := c.Query("customer_id"); cid != "" {
		filter.CustomerID = cid
	}

	orders, err := s.store.ListOrders(c.Request.Context(), filter)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status domain.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	// Customers may only cancel; all other transitions are admin actions.
	role, _ := auth.GetRole(c.Request.Context())
	if role != auth.RoleAdmin && req.Status != domain.OrderCancelled {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "only cancellation is allowed"})
		return
	}

	order, err := s.store.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) updatePaymentStatus(c *gin.Context) {
	var req struct {
		PaymentStatus domain.PaymentStatus `json:"payment_status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "payment_status is required")
		return
	}
	order, err := s.store.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req.PaymentStatus)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// --- Support chats ---

func (s *Server) openChat(c *gin.Context) {
	orderID := c.Param("id")
	order, err := s.store.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	chat, err := s.store.OpenChat(c.Request.Context(), orderID, order.CustomerID)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (s *Server) getChat(c *gin.Context) {
	chat, err := s.store.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) listChats(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	chats, err := s.store.ListChats(c.Request.Context(), domain.ChatStatus(c.Query("status")), limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "total": len(chats)})
}

// senderFromRole maps the authenticated role to a chat sender type.
func senderFromRole(role string) domain.SenderType {
	if role == auth.RoleAdmin {
		return domain.SenderAdmin
	}
	return domain.SenderCustomer
}

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}
	role, _ := auth.GetRole(c.Request.Context())

	msg, err := s.store.AppendMessage(c.Request.Context(), c.Param("id"), senderFromRole(role), req.Content)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) markRead(c *gin.Context) {
	role, _ := auth.GetRole(c.Request.Context())
	if err := s.store.MarkMessagesRead(c.Request.Context(), c.Param("id"), senderFromRole(role)); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) resolveChat(c *gin.Context) {
	chat, err := s.store.ResolveChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// --- Coupons ---

type couponRequest struct {
	Code            string    `json:"code" binding:"required"`
	DiscountPercent int       `json:"discount_percent"`
	ValidFrom       time.Time `json:"valid_from" binding:"required"`
	ValidUntil      time.Time `json:"valid_until" binding:"required"`
	UsageLimit      int       `json:"usage_limit"`
	Active          bool      `json:"active"`
}

func (r *couponRequest) toNewCoupon() store.NewCoupon {
	return store.NewCoupon{
		Code:            r.Code,
		DiscountPercent: r.DiscountPercent,
		ValidFrom:       r.ValidFrom,
		ValidUntil:      r.ValidUntil,
		UsageLimit:      r.UsageLimit,
	}
}

func (s *Server) createCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code, valid_from and valid_until are required")
		return
	}
	coupon, err := s.store.CreateCoupon(c.Request.Context(), req.toNewCoupon())
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

func (s *Server) getCoupon(c *gin.Context) {
	coupon, err := s.store.GetCoupon(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}

func (s *Server) listCoupons(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	coupons, err := s.store.ListCoupons(c.Request.Context(), limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons, "total": len(coupons)})
}

func (s *Server) updateCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code, valid_from and valid_until are required")
		return
	}
	coupon, err := s.store.UpdateCoupon(c.Request.Context(), c.Param("id"), req.toNewCoupon(), req.Active)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}

func (s *Server) deleteCoupon(c *gin.Context) {
	if err := s.store.DeleteCoupon(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) redeemCoupon(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code is required")
		return
	}
	coupon, err := s.store.RedeemCoupon(c.Request.Context(), req.Code)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}

// --- Invoices ---

func (s *Server) getInvoiceForOrder(c *gin.Context) {
	invoice, err := s.store.GetInvoiceForOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) updateInvoiceContact(c *gin.Context) {
	var req struct {
		CustomerName  string `json:"customer_name"`
		CustomerEmail string `json:"customer_email"`
		CustomerPhone string `json:"customer_phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid contact payload")
		return
	}
	invoice, err := s.store.UpdateInvoiceContact(c.Request.Context(), c.Param("id"),
		req.CustomerName, req.CustomerEmail, req.CustomerPhone)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// --- Feedback ---

func (s *Server) submitFeedback(c *gin.Context) {
	var req struct {
		OrderID string `json:"order_id"`
		Rating  int    `json:"rating" binding:"required,min=1,max=5"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "rating must be between 1 and 5")
		return
	}
	customerID, _ := auth.GetUserID(c.Request.Context())

	fb, err := s.store.SubmitFeedback(c.Request.Context(), customerID, req.OrderID, req.Rating, req.Comment)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fb)
}

func (s *Server) listFeedback(c *gin.Context) {
	role, _ := auth.GetRole(c.Request.Context())
	approvedOnly := role != auth.RoleAdmin
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := s.store.ListFeedback(c.Request.Context(), approvedOnly, limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": entries, "total": len(entries)})
}

func (s *Server) moderateFeedback(c *gin.Context) {
	var req struct {
		Approved *bool `json:"approved" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "approved is required")
		return
	}
	fb, err := s.store.ModerateFeedback(c.Request.Context(), c.Param("id"), *req.Approved)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, fb)
}

// --- Payroll ---

type payrollRequest struct {
	StaffName   string    `json:"staff_name" binding:"required"`
	Role        string    `json:"role"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
	AmountCents int64     `json:"amount_cents"`
	Paid        bool      `json:"paid"`
}

func (r *payrollRequest) toNewEntry() store.NewPayrollEntry {
	return store.NewPayrollEntry{
		StaffName:   r.StaffName,
		Role:        r.Role,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		AmountCents: r.AmountCents,
	}
}

func (s *Server) createPayrollEntry(c *gin.Context) {
	var req payrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "staff_name, period_start and period_end are required")
		return
	}
	entry, err := s.store.CreatePayrollEntry(c.Request.Context(), req.toNewEntry())
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) getPayrollEntry(c *gin.Context) {
	entry, err := s.store.GetPayrollEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) listPayrollEntries(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := s.store.ListPayrollEntries(c.Request.Context(), limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

func (s *Server) updatePayrollEntry(c *gin.Context) {
	var req payrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "staff_name, period_start and period_end are required")
		return
	}
	entry, err := s.store.UpdatePayrollEntry(c.Request.Context(), c.Param("id"), req.toNewEntry(), req.Paid)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) deletePayrollEntry(c *gin.Context) {
	if err := s.store.DeletePayrollEntry(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
