package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"laserstream-relay/src/cache"
	"laserstream-relay/src/ingest"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Starter is the part of the ingester the control surface drives.
type Starter interface {
	EnsureStarted(ctx context.Context) bool
	State() ingest.State
}

// -----------------------------------------------------------------------------
// RelayServer
// -----------------------------------------------------------------------------

type RelayServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Hub    *Broadcaster

	engine   *gin.Engine
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	latest   *cache.LatestState
	ingester Starter

	// baseCtx outlives individual requests; the ingester started from /start runs under it.
	baseCtx context.Context
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewRelayServer(
	ctx context.Context,
	cfg *models.MConfig,
	latest *cache.LatestState,
	hub *Broadcaster,
	ingester Starter,
	log *logger.Logger,
) *RelayServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &RelayServer{
		Config:   cfg,
		Logger:   log,
		Hub:      hub,
		engine:   gin.New(),
		latest:   latest,
		ingester: ingester,
		baseCtx:  ctx,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.corsMiddleware())

	s.setupRoutes()
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *RelayServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed accepts everything when no origins are configured. Entries
// ending in '*' match by prefix.
func (s *RelayServer) originAllowed(origin string) bool {
	allowed := s.Config.Broadcast.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		if prefix, ok := strings.CutSuffix(a, "*"); ok {
			return strings.HasPrefix(origin, prefix)
		}
		return a == origin
	})
}

func (s *RelayServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.originAllowed(origin)
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *RelayServer) setupRoutes() {
	s.engine.GET("/health", s.getHealth)
	s.engine.POST("/start", s.postStart)
	s.engine.GET("/latest", s.getLatest)
	s.engine.GET("/status", s.getStatus)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router, mostly for httptest.
func (s *RelayServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start blocks serving HTTP until Stop is called.
func (s *RelayServer) Start() error {
	s.Logger.Info("Starting relay server on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RelayServer) Stop(ctx context.Context) error {
	s.Hub.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *RelayServer) getHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// -----------------------------------------------------------------------------

func (s *RelayServer) postStart(c *gin.Context) {
	if s.ingester.EnsureStarted(s.baseCtx) {
		s.Logger.Info("Ingestion started by %s", c.ClientIP())
	}
	c.String(http.StatusOK, "started")
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getLatest(c *gin.Context) {
	msg, ok := s.latest.Get()
	if !ok {
		c.String(http.StatusNotFound, "no data yet")
		return
	}

	data, err := models.Encode(msg)
	if err != nil {
		s.Logger.Error("Failed to encode cached %s: %v", msg.Type(), err)
		c.String(http.StatusInternalServerError, "encode failed")
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getStatus(c *gin.Context) {
	status := models.MRelayStatus{
		Status:        "ok",
		Started:       s.latest.Started(),
		IngesterState: s.ingester.State().String(),
		Connections:   s.Hub.Count(),
	}
	if msg, ok := s.latest.Get(); ok {
		status.LatestType = string(msg.Type())
		status.LatestSlot, _ = models.SlotOf(msg)
	}
	c.JSON(http.StatusOK, status)
}

// -----------------------------------------------------------------------------
// WebSocket
// -----------------------------------------------------------------------------

func (s *RelayServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	handle := s.Hub.Register()
	client := newClient(s.Hub, handle, conn, s.Config.Broadcast)
	s.Logger.Info("Client %d connected (session %s, %d total)", handle.ID, handle.Session, s.Hub.Count())

	go client.writePump()
	go client.readPump()
}
