// Copyright 2025 Aakash Jangid
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the dinesync HTTP surface: REST CRUD for the
// restaurant entities, the WebSocket change feed, and the change-log
// catch-up endpoint the realtime client polls against.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aakash-jangid0/dinesync/store"
)

// Config holds server construction options.
type Config struct {
	JWTSecret   string
	TokenTTL    time.Duration
	FeedTimeout time.Duration
	FeedBuffer  int
}

// Server wires the store, feed hub and auth into a gin router.
type Server struct {
	store    *store.Store
	hub      *FeedHub
	jwtAuth  *JWTAuth
	metrics  *Metrics
	logger   *slog.Logger
	router   *gin.Engine
	tokenTTL time.Duration
}

// New creates a server over an initialized store. The feed hub is
// registered as a store change listener here, so every construction
// path gets a live feed.
func New(st *store.Store, cfg Config, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	if metrics != nil {
		router.Use(metrics.GinMiddleware())
	}

	hub := NewFeedHub(st, metrics, cfg.FeedTimeout, cfg.FeedBuffer, logger)
	st.AddListener(hub)

	s := &Server{
		store:    st,
		hub:      hub,
		jwtAuth:  NewJWTAuth(cfg.JWTSecret),
		metrics:  metrics,
		logger:   logger,
		router:   router,
		tokenTTL: tokenTTL,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// JWTAuth exposes the authenticator for token generation in tests.
func (s *Server) JWTAuth() *JWTAuth { return s.jwtAuth }

// Run starts the HTTP listener.
func (s *Server) Run(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.logger.Info("dinesync server starting", "address", addr)
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "dinesync"})
	})
	if s.metrics != nil {
		s.router.GET("/metrics", s.metrics.Handler())
	}
	s.router.POST("/auth/token", s.issueToken)

	api := s.router.Group("/api/v1")
	api.Use(s.jwtAuth.Middleware())
	{
		api.GET("/realtime/feed", s.hub.ServeWS)
		api.GET("/records/:table/:id", s.getRecord)
		api.GET("/changes", s.listChanges)

		orders := api.Group("/orders")
		{
			orders.POST("", s.createOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.PATCH("/:id/status", s.updateOrderStatus)
			orders.PATCH("/:id/payment", s.updatePaymentStatus)
			orders.POST("/:id/chat", s.openChat)
			orders.GET("/:id/invoice", s.getInvoiceForOrder)
		}

		chats := api.Group("/chats")
		{
			chats.GET("", RequireAdmin(), s.listChats)
			chats.GET("/:id", s.getChat)
			chats.POST("/:id/messages", s.sendMessage)
			chats.POST("/:id/read", s.markRead)
			chats.POST("/:id/resolve", RequireAdmin(), s.resolveChat)
		}

		coupons := api.Group("/coupons")
		{
			coupons.POST("/redeem", s.redeemCoupon)
			coupons.POST("", RequireAdmin(), s.createCoupon)
			coupons.GET("", RequireAdmin(), s.listCoupons)
			coupons.GET("/:id", RequireAdmin(), s.getCoupon)
			coupons.PUT("/:id", RequireAdmin(), s.updateCoupon)
			coupons.DELETE("/:id", RequireAdmin(), s.deleteCoupon)
		}

		api.PATCH("/invoices/:id/contact", RequireAdmin(), s.updateInvoiceContact)

		feedback := api.Group("/feedback")
		{
			feedback.POST("", s.submitFeedback)
			feedback.GET("", s.listFeedback)
			feedback.PATCH("/:id/moderate", RequireAdmin(), s.moderateFeedback)
		}

		payroll := api.Group("/payroll", RequireAdmin())
		{
			payroll.POST("", s.createPayrollEntry)
			payroll.GET("", s.listPayrollEntries)
			payroll.GET("/:id", s.getPayrollEntry)
			payroll.PUT("/:id", s.updatePayrollEntry)
			payroll.DELETE("/:id", s.deletePayrollEntry)
		}
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
