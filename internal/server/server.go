package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/microdeck/host/internal/api/http"
	"github.com/microdeck/host/internal/api/middleware"
	"github.com/microdeck/host/internal/engine"
	"github.com/microdeck/host/internal/events"
	"github.com/microdeck/host/internal/infrastructure/config"
	"github.com/microdeck/host/internal/infrastructure/monitoring"
	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/sandbox"
	"github.com/microdeck/host/internal/script"
	"github.com/microdeck/host/internal/shared/paths"
	"github.com/microdeck/host/internal/ws"
)

// Server ties the script engine to its HTTP control surface.
type Server struct {
	router   *gin.Engine
	engine   *engine.Engine
	machine  *sandbox.Machine
	host     *engine.HeadlessHost
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	cfg      *config.Config
	stopTick func()
	done     chan struct{}
}

// New builds the full host: sandbox machine, engine, scheduler strategy and
// control API, all from configuration.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	resolver := paths.NewResolver()
	if cfg.Sandbox.VirtualRoot != "" {
		resolver.SetVirtualRoot(cfg.Sandbox.VirtualRoot)
	}
	for _, p := range cfg.Sandbox.SearchPaths {
		resolver.AddSearchPath(p, false)
	}

	machine, err := sandbox.NewMachine(resolver, logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	bus := events.NewBus()
	host := engine.NewHeadlessHost(bus)

	eng := engine.New(machine, engine.Config{
		UpdateRate:      cfg.Engine.UpdateRate,
		RenderRate:      cfg.Engine.RenderRate,
		TimerResolution: cfg.Engine.TimerResolution,
		DebugHooks:      cfg.Engine.DebugHooks,
	}).
		WithLogger(logger).
		WithBus(bus).
		WithMetrics(metrics).
		WithHost(host)

	s := &Server{
		engine:  eng,
		machine: machine,
		host:    host,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	s.startStrategy()
	s.buildRouter()
	return s, nil
}

// startStrategy begins driving the scheduler per configuration.
func (s *Server) startStrategy() {
	switch s.cfg.Engine.Strategy {
	case "busy":
		go s.busyLoop()
	case "idle":
		s.engine.AttachIdle(s.host)
	default:
		if s.cfg.Engine.Strategy != "timer" {
			s.logger.Warn("unknown engine strategy, using timer",
				zap.String("strategy", s.cfg.Engine.Strategy))
		}
		s.stopTick = s.engine.AttachTimer(s.host)
	}
}

// busyLoop drives ticks on a dedicated goroutine for the whole server
// lifetime, sleeping only when both rate gates deferred work.
func (s *Server) busyLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if !s.engine.Tick() {
			time.Sleep(500 * time.Microsecond)
		}
	}
}

func (s *Server) buildRouter() {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(s.cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(s.engine, s.metrics, s.cfg.Sandbox.CartDirectory)
	wsHandler := ws.NewHandler(s.engine, s.logger, s.metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Cart discovery
	router.GET("/carts", handlers.ListCarts)

	// Script lifecycle
	router.GET("/script", handlers.ScriptStatus)
	router.POST("/script/load", handlers.LoadScript)
	router.POST("/script/start", handlers.StartScript)
	router.POST("/script/stop", handlers.StopScript)
	router.POST("/script/pause", handlers.PauseScript)
	router.POST("/script/resume", handlers.ResumeScript)
	router.POST("/script/toggle", handlers.ToggleScript)
	router.POST("/script/restart", handlers.RestartScript)
	router.POST("/script/reload", handlers.ReloadScript)
	router.POST("/script/step", handlers.StepScript)
	router.PUT("/script/rates", handlers.SetRates)

	// WebSocket event stream
	router.GET("/stream", wsHandler.HandleConnection)

	s.router = router
}

// Engine exposes the script engine, mainly for startup cart loading.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Run starts the HTTP server. Blocks until the listener fails.
func (s *Server) Run() error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.logger.Info("control server listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close stops the scheduler, the running cart and the sandbox.
func (s *Server) Close() error {
	close(s.done)
	if s.stopTick != nil {
		s.stopTick()
	}
	if s.engine.State() != script.StateNone {
		s.engine.Stop()
	}
	s.host.Close()
	s.machine.Close()
	return nil
}
