package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"signage-fleet/cache"
	"signage-fleet/confs"
	"signage-fleet/db"
	"signage-fleet/events"
	"signage-fleet/handlers"
	httpHandler "signage-fleet/handlers/http"
	"signage-fleet/liveness"
	"signage-fleet/logging"
	"signage-fleet/ratelimit"
	"signage-fleet/repositories"
	"signage-fleet/services"
	"signage-fleet/usecases"
	"signage-fleet/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const deviceCacheTTL = 30 * time.Second

type Server struct {
	app     *gin.Engine
	db      db.Database
	cfg     confs.Config
	lg      zerolog.Logger
	srv     *http.Server
	monitor *services.FleetMonitor
	limiter *ratelimit.KeyedLimiter
	now     func() time.Time
}

// NewServer wires repositories, use cases and handlers. pub receives fleet
// events in addition to the websocket nudges; it may be nil.
func NewServer(cfg confs.Config, database db.Database, pub events.Publisher, lg zerolog.Logger) (*Server, error) {
	tracker, err := liveness.New(cfg.StaleAfter, cfg.DeadAfter)
	if err != nil {
		return nil, err
	}

	s := &Server{
		app:     gin.New(),
		db:      database,
		cfg:     cfg,
		lg:      lg,
		limiter: ratelimit.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitIdleTTL),
		now:     time.Now,
	}
	s.app.Use(gin.Recovery(), logging.Gin(lg))

	// Setup CORS middleware
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	s.app.Use(cors.New(config))

	s.app.GET("/health", func(c *gin.Context) {
		if sqlDB, err := s.db.GetDB().DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DEGRADED"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	s.app.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Initialize repositories
	deviceRepo := repositories.NewDevicePgRepository(database)
	contentRepo := repositories.NewContentPgRepository(database)
	commandRepo := repositories.NewCommandPgRepository(database)

	// WebSocket manager doubles as the nudge publisher
	manager := ws.NewManager()
	fanout := events.Multi{manager}
	if pub != nil {
		fanout = append(fanout, pub)
	}

	// Initialize use cases
	deviceCache := cache.NewDeviceCache(deviceCacheTTL)
	registry := usecases.NewRegistryUseCase(deviceRepo, deviceCache, tracker, fanout, lg)
	syncUseCase := usecases.NewSyncUseCase(registry, contentRepo, cfg.StrictRegistration, lg)
	commandsUseCase := usecases.NewCommandsUseCase(registry, commandRepo, contentRepo, fanout, lg)
	contentUseCase := usecases.NewContentUseCase(registry, contentRepo)

	s.monitor = services.NewFleetMonitor(registry, fanout, cfg.MonitorInterval, lg)

	// Initialize handlers
	clock := func() time.Time { return s.now() }
	syncHandler := httpHandler.NewSyncHandler(syncUseCase, clock)
	deviceHandler := httpHandler.NewDeviceHandler(registry, clock)
	cmdHandler := httpHandler.NewCommandHandler(commandsUseCase, clock)
	contentHandler := httpHandler.NewContentHandler(contentUseCase)
	wsHandler := handlers.NewWSHandler(manager, syncUseCase, clock, lg)
	cacheHandler := handlers.NewCacheHandler(deviceCache)

	perDevice := func(route string) gin.HandlerFunc {
		return httpHandler.RateLimit(s.limiter, route, "deviceId")
	}

	api := s.app.Group("/api/v1")
	{
		// Device agent routes
		api.POST("/sync/:deviceId", perDevice("sync"), syncHandler.Sync)
		api.POST("/heartbeat/:deviceId", perDevice("heartbeat"), syncHandler.Heartbeat)
		api.POST("/playback/:contentId", httpHandler.RateLimit(s.limiter, "playback", ""), syncHandler.ReportPlayback)

		// Administrative routes
		api.POST("/command/:deviceId", cmdHandler.Dispatch)
		api.GET("/device/:deviceId", deviceHandler.GetDevice)

		devices := api.Group("/devices")
		{
			devices.POST("", deviceHandler.RegisterDevice)
			devices.GET("", deviceHandler.GetAllDevices)
			devices.GET("/connected", wsHandler.GetConnectedDevices)
			devices.GET("/:id", deviceHandler.GetDevice)
			devices.PUT("/:id", deviceHandler.UpdateDevice)
			devices.POST("/:id/retire", deviceHandler.RetireDevice)
			devices.GET("/:id/commands", cmdHandler.GetDeviceCommands)
			devices.GET("/:id/content", contentHandler.GetDeviceContent)
		}

		api.POST("/content", contentHandler.CreateContent)

		cacheGroup := api.Group("/cache")
		{
			cacheGroup.GET("/stats", cacheHandler.GetCacheStats)
			cacheGroup.POST("/clear", cacheHandler.ClearCache)
		}
	}

	s.app.GET("/ws", httpHandler.RateLimit(s.limiter, "ws", ""), wsHandler.HandleDeviceWS)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.app }

// Start runs the background workers and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.monitor.Start(ctx)
	go s.sweepLimiter(ctx)

	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.lg.Info().Str("listen", s.cfg.ListenAddr).Msg("HTTP up")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) sweepLimiter(ctx context.Context) {
	interval := s.cfg.RateLimitIdleTTL
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.lg.Debug().Int("evicted", n).Msg("rate limiter sweep")
			}
		}
	}
}
