package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pefsched/internal/cache"
	"pefsched/internal/config"
	appLog "pefsched/internal/log"
	"pefsched/internal/schedule"
)

// Options wires a Server.
type Options struct {
	Config *config.Config
	// ConfigPath is where settings changes are persisted. Empty keeps
	// changes in memory only.
	ConfigPath string
	Service    *schedule.Service
	Cache      cache.Cache
	Debug      bool
	// OnConfigChange is called after a settings update was validated and
	// saved.
	OnConfigChange func(*config.Config)
}

// Server exposes the calendar API over HTTP.
type Server struct {
	svc        *schedule.Service
	cache      cache.Cache
	configPath string
	onConfig   func(*config.Config)
	engine     *gin.Engine

	mu      sync.RWMutex
	cfg     *config.Config
	limiter *rate.Limiter
}

// NewServer constructs a Server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	c := opts.Cache
	if c == nil {
		c = cache.Nop{}
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		svc:        opts.Service,
		cache:      c,
		configPath: opts.ConfigPath,
		onConfig:   opts.OnConfigChange,
	}
	s.SetConfig(cfg)

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetConfig swaps the config used for auth, throttling and settings.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := 0
	if s.cfg != nil {
		prev = s.cfg.WriteRatePerSec
	}
	s.cfg = cfg.Clone()
	if s.limiter == nil || prev != cfg.WriteRatePerSec {
		if cfg.WriteRatePerSec > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRatePerSec), cfg.WriteRatePerSec)
		} else {
			s.limiter = nil
		}
	}
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Serve runs the server on listen until ctx is cancelled, then shuts
// down gracefully. ready, if non-nil, is called once the port is bound.
func (s *Server) Serve(ctx context.Context, listen string, ready func()) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready()
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	for _, prefix := range []string{"/fullcalendar-api", "/schedules"} {
		g := s.engine.Group(prefix)
		g.GET("/get-event-data-date-range/:location/:start/:end", s.handleDateRange)
		g.GET("/get-event-data-date-range/:location/:start/:end/:categories", s.handleDateRange)
	}

	api := s.engine.Group("/fullcalendar-api")
	api.GET("/get-branches-options", s.handleBranches)
	api.GET("/get-classes-options", s.handleClasses)
	api.GET("/get-schedules-categories", s.handleCategories)
	api.GET("/settings", s.handleGetSettings)
	api.GET("/export.ics", s.handleExportICS)
	api.GET("/export.xlsx", s.handleExportXLSX)
	api.GET("/feed/:location", s.handleFeed)

	write := api.Group("", s.requireAuth, s.throttle)
	write.POST("/update-event", s.handleUpdateEvent)
	write.POST("/create-event", s.handleCreateEvent)
	write.POST("/import-ics", s.handleImportICS)
	write.PUT("/settings", s.handlePutSettings)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// requireAuth enforces HTTP Basic Auth on write endpoints when configured.
func (s *Server) requireAuth(c *gin.Context) {
	cfg := s.config()
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		c.Next()
		return
	}
	u, p, ok := c.Request.BasicAuth()
	if !ok || !secureCompare(u, cfg.BasicAuth.Username) || !secureCompare(p, cfg.BasicAuth.Password) {
		c.Header("WWW-Authenticate", `Basic realm="pefsched", charset="UTF-8"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

// throttle rejects write requests above the configured rate.
func (s *Server) throttle(c *gin.Context) {
	s.mu.RLock()
	lim := s.limiter
	s.mu.RUnlock()
	if lim != nil && !lim.Allow() {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}
	c.Next()
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(started).String(),
		)
	}
}
