package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mealplan/internal/config"
	"mealplan/internal/db"
	"mealplan/internal/notify"
	"mealplan/internal/pipeline"
)

const (
	maxBodySize    = 1 << 20 // 1MB
	postsPerSecond = 10
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Server serves the meal-plan REST API on top of the run store.
type Server struct {
	cfg       *config.Config
	store     *db.Store
	runCh     chan<- string
	engine    *gin.Engine
	startedAt time.Time
	newSender func(webhookURL string) pipeline.ResultsSender

	// Simple rate limiter for mutating routes: per-IP request count per second.
	mu         sync.Mutex
	rates      map[string]int
	rateWindow int64
}

func NewServer(cfg *config.Config, store *db.Store, runCh chan<- string) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		runCh:     runCh,
		startedAt: time.Now(),
		rates:     make(map[string]int),
		newSender: func(webhookURL string) pipeline.ResultsSender {
			return notify.NewDiscordSender(webhookURL, nil)
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), limitBody(maxBodySize))
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/config", s.handleConfig)
	api.GET("/status", s.handleStatus)
	api.GET("/recommendations", s.handleRecommendations)
	api.GET("/flyer-image", s.handleFlyerImage)
	api.POST("/generate", s.rateLimit, s.handleGenerate)
	api.POST("/send-discord", s.rateLimit, s.handleSendDiscord)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, detail("Not Found"))
	})
	s.engine = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func detail(msg string) gin.H {
	return gin.H{"detail": msg}
}

func (s *Server) handleHealth(c *gin.Context) {
	depth, err := s.queuedRunDepth(c.Request.Context())
	if err != nil {
		slog.Error("health: queued runs count", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "running",
		"uptime_seconds":  max(int(time.Since(s.startedAt).Seconds()), 0),
		"run_queue_depth": depth,
	})
}

func (s *Server) queuedRunDepth(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM runs WHERE state = 'queued'`
	var count int
	if err := s.store.Reader.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queued runs: %w", err)
	}
	return count, nil
}

func (s *Server) rateLimit(c *gin.Context) {
	ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	s.mu.Lock()
	now := time.Now().Unix()
	if s.rateWindow != now {
		clear(s.rates)
		s.rateWindow = now
	}
	s.rates[ip]++
	count := s.rates[ip]
	s.mu.Unlock()
	if count > postsPerSecond {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, detail("rate limited"))
		return
	}
	c.Next()
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
