// Package httpapi exposes the chatbot over HTTP: POST /api/chat and
// GET /api/health, with CORS for configured frontend origins and graceful
// shutdown on SIGINT/SIGTERM.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	bluebonnet "github.com/lonestar-labs/bluebonnet"
)

const shutdownTimeout = 30 * time.Second

// nopLogger discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// ProviderResolver turns a per-request model override into a Provider.
// The serving layer injects one that carries the configured API keys.
type ProviderResolver func(role, provider, model string) (bluebonnet.Provider, error)

// Server serves the chatbot API.
type Server struct {
	bot      *bluebonnet.Chatbot
	resolver ProviderResolver
	engine   *gin.Engine
	port     int
	logger   *slog.Logger

	requestTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithProviderResolver enables per-request model overrides.
func WithProviderResolver(r ProviderResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithRequestTimeout bounds each chat request (default 60s).
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// New builds a Server. origins are the exact allowed CORS origins;
// domainSuffix additionally allows any https origin whose host ends with it
// (preview deployments), empty to disable.
func New(bot *bluebonnet.Chatbot, port int, origins []string, domainSuffix string, opts ...Option) *Server {
	s := &Server{
		bot:            bot,
		port:           port,
		logger:         nopLogger,
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(origins, domainSuffix))

	engine.POST("/api/chat", s.handleChat)
	engine.GET("/api/health", s.handleHealth)

	s.engine = engine
	return s
}

// Handler returns the underlying HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests for up to 30 seconds.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(s.port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case sig := <-quit:
		s.logger.Info("http: shutdown signal", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http: server stopped")
	return nil
}

// corsMiddleware allows the exact configured origins plus any https origin
// whose host ends in domainSuffix.
func corsMiddleware(origins []string, domainSuffix string) gin.HandlerFunc {
	if len(origins) == 0 && domainSuffix == "" {
		origins = []string{"http://localhost:3000"}
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	var re *regexp.Regexp
	if domainSuffix != "" {
		re = regexp.MustCompile(`^https://([a-z0-9-]+\.)*` + regexp.QuoteMeta(domainSuffix) + `$`)
	}

	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
		AllowOriginFunc: func(origin string) bool {
			if allowed[origin] {
				return true
			}
			return re != nil && re.MatchString(origin)
		},
	}
	return cors.New(cfg)
}
