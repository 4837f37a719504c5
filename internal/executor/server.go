package executor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Server is the Action Executor host. It owns the game process and the input
// device, and records every applied action in its ActionLog.
type Server struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	device  Device
	game    Game
	actions *ActionLog
	limiter *rate.Limiter
	// serializes input so a multi-button press is never interleaved
	inputMu  chan struct{}
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// NewServer wires the host. The ActionLog is injected so the owner (the serve
// command, or a test) can inspect it.
func NewServer(cfg config.ServerConfig, device Device, game Game, actions *ActionLog, logger *zap.Logger) *Server {
	limit := rate.Inf
	if cfg.ActionsPerSecond > 0 {
		limit = rate.Limit(cfg.ActionsPerSecond)
	}
	if actions == nil {
		actions = NewActionLog(0)
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("executor_server"),
		device:  device,
		game:    game,
		actions: actions,
		limiter: rate.NewLimiter(limit, 1),
		inputMu: make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Long-lived websocket feed stays outside the request timeout.
	r.Get("/ws/v1/actions", s.handleActionFeed)

	r.Group(func(r chi.Router) {
		timeout := s.cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.Use(middleware.Timeout(timeout))
		r.Use(s.requestLogger)

		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())

		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/auto_start", s.handleAutoStart)
		r.Get("/mod_status", s.handleModStatus)

		r.Post("/actions/press", s.handlePress)
		r.Get("/actions", s.handleListActions)
		r.Get("/actions/{stepID}", s.handleGetAction)

		r.Route("/pointer", func(r chi.Router) {
			r.Post("/click", s.handleClick)
			r.Post("/move", s.handleMove)
			r.Post("/drag", s.handleDrag)
			r.Get("/position", s.handlePosition)
		})

		r.Get("/screen", s.handleScreen)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully and stops
// the game process.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Action executor listening", zap.String("address", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("HTTP server ListenAndServe error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if s.game != nil && s.game.Running() {
		if _, err := s.game.Stop(shutdownCtx); err != nil {
			s.logger.Error("Failed to stop game during shutdown", zap.Error(err))
		}
	}
	return <-errCh
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// acquireInput waits for the rate limiter and the input lock.
func (s *Server) acquireInput(ctx context.Context) (func(), error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case s.inputMu <- struct{}{}:
		return func() { <-s.inputMu }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
