package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booklessons/internal/config"
	"booklessons/internal/handler"
	"booklessons/internal/middleware"
)

// Handlers groups the HTTP handlers the server routes to.
type Handlers struct {
	Booking handler.BookingHandler
	Chat    handler.ChatHandler
	Gdpr    handler.GdprHandler
	Fraud   handler.FraudHandler
	Audit   handler.AuditHandler
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	logger     *zap.Logger
	cancelBase context.CancelFunc
}

func NewServer(cfg *config.Config, handlers Handlers, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))

	// Open streams watch the base context so Shutdown does not wait on them.
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router: router,
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		cancelBase: cancel,
	}

	s.setupRoutes(handlers)

	return s
}

func (s *Server) setupRoutes(h Handlers) {
	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := s.router.Group("/api")
	if s.cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware([]byte(s.cfg.Auth.JWTSecret), s.logger))
	}

	bookings := api.Group("/bookings")
	{
		bookings.POST("", h.Booking.CreateBooking)
		bookings.GET("/:id", h.Booking.GetBooking)
		bookings.POST("/:id/status", h.Booking.UpdateBookingStatus)
		bookings.GET("/:id/history", h.Booking.GetBookingHistory)
	}

	chat := api.Group("/chat")
	{
		chat.POST("/threads", h.Chat.CreateThread)
		chat.GET("/threads/:id", h.Chat.GetThread)
		chat.POST("/threads/:id/messages", h.Chat.SendMessage)
		chat.GET("/threads/:id/messages", h.Chat.GetMessages)
		chat.GET("/threads/:id/stream", h.Chat.StreamMessages)
		chat.POST("/messages/:id/read", h.Chat.MarkRead)
	}

	gdpr := api.Group("/gdpr")
	{
		gdpr.POST("/export", h.Gdpr.CreateExportRequest)
		gdpr.POST("/erasure", h.Gdpr.CreateErasureRequest)
		gdpr.POST("/:id/complete", h.Gdpr.CompleteRequest)
		gdpr.GET("/open", h.Gdpr.GetOpenRequests)
	}

	fraud := api.Group("/fraud")
	{
		fraud.POST("/signals", h.Fraud.RecordSignal)
		fraud.GET("/alerts", h.Fraud.GetAlerts)
		fraud.POST("/alerts/:id/resolve", h.Fraud.ResolveAlert)
	}

	api.GET("/audit", h.Audit.GetAuditEvents)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Server starting", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown ends open streams and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
