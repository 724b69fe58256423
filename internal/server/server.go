// Package server wires the repository, services and handlers together and
// owns the HTTP lifecycle.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go: config.Load → mailer, rate-limit counter → server.New
//	server.New: sqlite.DB → services → handlers → routes
//
// This is the composition root; no other package constructs a service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/trainsync/internal/auth"
	"github.com/sakif/trainsync/internal/config"
	"github.com/sakif/trainsync/internal/handler"
	"github.com/sakif/trainsync/internal/mail"
	"github.com/sakif/trainsync/internal/middleware"
	sqliteRepo "github.com/sakif/trainsync/internal/repository/sqlite"
	"github.com/sakif/trainsync/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Options carries the collaborators main picks from configuration.
type Options struct {
	// Mailer delivers one-time codes. Required.
	Mailer mail.Mailer
	// RateCounter backs the auth rate limiter. Nil means in-memory.
	RateCounter httprate.LimitCounter
	// Clock defaults to service.SystemClock.
	Clock service.Clock
	// Passwords defaults to bcrypt cost 12.
	Passwords *auth.PasswordService
}

type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	mailer mail.Mailer
}

// New opens the database and builds the router.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	if opts.Mailer == nil {
		return nil, errors.New("server: a mailer is required")
	}
	if opts.Clock == nil {
		opts.Clock = service.SystemClock
	}
	if opts.Passwords == nil {
		opts.Passwords = auth.NewPasswordService()
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithTTL(cfg.AccessTTL),
		auth.WithClock(opts.Clock),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		mailer: opts.Mailer,
	}
	s.setupRoutes(tokens, opts)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes registers middleware and every route.
//
// MIDDLEWARE ORDER:
//  1. RequestID, RealIP: later middleware logs and keys on them
//  2. Logger, Metrics: see the final status, including recovered panics
//  3. Recoverer
//  4. CORS
func (s *Server) setupRoutes(tokens *auth.TokenService, opts Options) {
	now := opts.Clock
	db := s.db

	authService := service.NewAuthService(db, opts.Passwords, tokens, opts.Mailer, s.logger, now)
	profileService := service.NewProfileService(db, s.logger, now)
	runService := service.NewRunService(db, s.logger, now)
	raceService := service.NewRaceService(db, s.logger, now)
	planService := service.NewPlanService(db, s.logger, now)
	shareService := service.NewSharedRunService(db, db, db, s.logger, now)
	friendService := service.NewFriendService(db, db, db, s.logger, now)
	feedService := service.NewFeedService(db, db, s.logger, now)
	challengeService := service.NewChallengeService(db, db, s.logger, now)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	profileHandler := handler.NewProfileHandler(profileService, s.logger)
	runHandler := handler.NewRunHandler(runService, s.logger)
	raceHandler := handler.NewRaceHandler(raceService, s.logger)
	planHandler := handler.NewPlanHandler(planService, s.logger)
	shareHandler := handler.NewSharedRunHandler(shareService, s.logger)
	friendHandler := handler.NewFriendHandler(friendService, s.logger)
	feedHandler := handler.NewFeedHandler(feedService, s.logger)
	challengeHandler := handler.NewChallengeHandler(challengeService, s.logger)

	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Unauthenticated auth endpoints share one per-IP budget.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.config.AuthRateLimit, s.config.AuthRateWindow, opts.RateCounter, s.logger))
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/refresh", authHandler.HandleRefresh)
		r.Post("/auth/forgot-password", authHandler.HandleForgotPassword)
		r.Post("/auth/reset-password", authHandler.HandleResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/auth/change-password", authHandler.HandleChangePassword)
		r.Post("/auth/verify-email", authHandler.HandleVerifyEmail)
		r.Post("/auth/resend-verification", authHandler.HandleResendVerification)
		r.Get("/auth/me", authHandler.HandleMe)
		r.Put("/auth/device-token", authHandler.HandleDeviceToken)
		r.Delete("/auth/account", authHandler.HandleDeleteAccount)

		r.Get("/profile", profileHandler.HandleGet)
		r.Put("/profile", profileHandler.HandleUpdate)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.HandleList)
			r.Post("/", runHandler.HandleUpload)
			r.Get("/{id}", runHandler.HandleGet)
			r.Put("/{id}", runHandler.HandlePut)
			r.Delete("/{id}", runHandler.HandleDelete)
		})

		r.Route("/races", func(r chi.Router) {
			r.Get("/", raceHandler.HandleList)
			r.Post("/", raceHandler.HandleUpload)
			r.Get("/{raceKey}", raceHandler.HandleGet)
			r.Put("/{raceKey}", raceHandler.HandlePut)
			r.Delete("/{raceKey}", raceHandler.HandleDelete)
		})

		r.Route("/training-plan", func(r chi.Router) {
			r.Get("/", planHandler.HandleGet)
			r.Post("/", planHandler.HandleSave)
			r.Put("/", planHandler.HandleSave)
			r.Delete("/", planHandler.HandleDelete)
		})

		r.Route("/shared-runs", func(r chi.Router) {
			r.Get("/", shareHandler.HandleListReceived)
			r.Post("/", shareHandler.HandleUpload)
			r.Get("/sent", shareHandler.HandleListSent)
			r.Delete("/{id}", shareHandler.HandleDelete)
		})

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", friendHandler.HandleList)
			r.Post("/", friendHandler.HandleSend)
			r.Get("/requests", friendHandler.HandleListRequests)
			r.Put("/{id}/accept", friendHandler.HandleAccept)
			r.Put("/{id}/decline", friendHandler.HandleDecline)
			r.Delete("/{id}", friendHandler.HandleRemove)
		})

		r.Route("/feed", func(r chi.Router) {
			r.Get("/", feedHandler.HandleGet)
			r.Post("/", feedHandler.HandlePublish)
			r.Post("/{id}/like", feedHandler.HandleToggleLike)
		})

		r.Route("/challenges", func(r chi.Router) {
			r.Get("/", challengeHandler.HandleList)
			r.Post("/", challengeHandler.HandleCreate)
			r.Get("/{id}", challengeHandler.HandleGet)
			r.Post("/{id}/join", challengeHandler.HandleJoin)
			r.Post("/{id}/leave", challengeHandler.HandleLeave)
			r.Put("/{id}/progress", challengeHandler.HandleProgress)
			r.Delete("/{id}", challengeHandler.HandleDelete)
		})
	})
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Close releases the database and waits for queued mail.
func (s *Server) Close() error {
	if w, ok := s.mailer.(interface{ Wait() }); ok {
		w.Wait()
	}
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds before closing the database.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("mailDriver", s.config.MailDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
