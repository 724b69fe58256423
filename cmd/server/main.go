// Package main is the entry point for the training sync server.
//
// main stays small: read configuration, build the collaborators that depend
// on it (logger, mailer, rate-limit counter), and hand them to
// internal/server. Everything else lives under internal/.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/trainsync/internal/config"
	"github.com/sakif/trainsync/internal/mail"
	"github.com/sakif/trainsync/internal/middleware"
	"github.com/sakif/trainsync/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 1. LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// === 2. DATABASE DIRECTORY ===
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 3. MAIL ===
	mailer := mail.NewAsync(newMailer(cfg, logger), logger, mail.DefaultSendTimeout)

	// === 4. RATE LIMIT COUNTER ===
	// Redis is optional: without it each replica counts on its own.
	var counter httprate.LimitCounter
	if rdb := newRedisClient(cfg, logger); rdb != nil {
		defer rdb.Close()
		counter = middleware.NewRedisCounter(rdb, "trainsync:ratelimit")
	}

	// === 5. SERVE ===
	srv, err := server.New(cfg, logger, server.Options{
		Mailer:      mailer,
		RateCounter: counter,
	})
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newMailer(cfg config.Config, logger *slog.Logger) mail.Mailer {
	switch cfg.MailDriver {
	case config.MailDriverSMTP:
		logger.Info("mail driver: smtp", slog.String("host", cfg.SMTPHost), slog.Int("port", cfg.SMTPPort))
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case config.MailDriverAMQP:
		logger.Info("mail driver: amqp", slog.String("queue", cfg.MailQueue))
		return mail.NewQueueMailer(cfg.AMQPURL, cfg.MailQueue)
	default:
		logger.Warn("mail driver: log; codes are written to the log, not emailed")
		return mail.NewLogMailer(logger)
	}
}

// newRedisClient connects to REDIS_ADDR if set. A server that can't be
// reached is logged and skipped rather than failing startup.
func newRedisClient(cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable; rate limiting falls back to in-memory counters",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	return client
}
