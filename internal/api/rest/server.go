package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenMinerCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMinerCore/internal/auth"
	"github.com/KevinKickass/OpenMinerCore/internal/config"
	"github.com/KevinKickass/OpenMinerCore/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	// WriteTimeout muss Probe-Versuche und Scans überdauern
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/token", s.issueToken)

		// ==================== MINERS ====================
		miners := v1.Group("/miners")
		miners.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Operator+
			miners.GET("", auth.RequirePermission(auth.PermOperator), s.listMiners)
			miners.GET("/:host", auth.RequirePermission(auth.PermOperator), s.getMiner)
			miners.GET("/:host/details", auth.RequirePermission(auth.PermOperator), s.getMinerDetails)

			// Commands: Technician+
			miners.POST("", auth.RequirePermission(auth.PermTechnician), s.addMiner)
			miners.POST("/:host/command", auth.RequirePermission(auth.PermTechnician), s.sendCommand)
			miners.POST("/:host/multicommand", auth.RequirePermission(auth.PermTechnician), s.sendMulticommand)
			miners.POST("/:host/fault-light", auth.RequirePermission(auth.PermTechnician), s.setFaultLight)

			// Destructive: Admin only
			miners.DELETE("/:host", auth.RequirePermission(auth.PermAdmin), s.deleteMiner)
			miners.POST("/:host/reboot", auth.RequirePermission(auth.PermAdmin), s.rebootMiner)
			miners.POST("/:host/stop", auth.RequirePermission(auth.PermAdmin), s.stopMining)
			miners.POST("/:host/resume", auth.RequirePermission(auth.PermAdmin), s.resumeMining)
			miners.GET("/:host/config", auth.RequirePermission(auth.PermAdmin), s.getMinerConfig)
		}

		// ==================== DISCOVERY ====================
		v1.POST("/scan", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermTechnician), s.scanNetwork)
		v1.DELETE("/cache", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermAdmin), s.clearCache)

		// ==================== PROFILES (OPERATOR+) ====================
		profiles := v1.Group("/profiles")
		profiles.Use(s.authService.AuthMiddleware())
		profiles.Use(auth.RequirePermission(auth.PermOperator))
		{
			profiles.GET("", s.listProfiles)
			profiles.GET("/:family", s.getProfile)
			profiles.PUT("/:family", auth.RequirePermission(auth.PermAdmin), s.putProfile)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermOperator))
		{
			system.GET("/status", s.getSystemStatus)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
