package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stockdata/internal/service"
)

const requestIDHeader = "X-Request-ID"

// Config describes the HTTP listener.
type Config struct {
	Addr            string
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Server exposes the source manager to UI collaborators.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger zerolog.Logger
}

// NewServer builds the router. guard must not be nil.
func NewServer(cfg Config, guard *service.Guard, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	switch cfg.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	logger = logger.With().Str("component", "httpapi").Logger()
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(logger), requestTimeout(cfg.RequestTimeout))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h := &handlers{guard: guard, manager: guard.Manager()}
	h.register(router.Group("/api"))

	return &Server{cfg: cfg, router: router, logger: logger}
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr 返回监听地址。
func (s *Server) Addr() string { return s.cfg.Addr }

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			s.logger.Warn().Err(err).Msg("http api shutdown incomplete")
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// requestID propagates or mints an X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("dur", time.Since(start)).
			Msg("http request")
	}
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
