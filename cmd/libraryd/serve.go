package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookstore/library/internal/auth"
	"github.com/bookstore/library/internal/config"
	"github.com/bookstore/library/internal/events"
	grpcserver "github.com/bookstore/library/internal/grpc"
	"github.com/bookstore/library/internal/httpapi"
	"github.com/bookstore/library/internal/library"
	"github.com/bookstore/library/internal/mail"
	"github.com/bookstore/library/internal/repo"
)

// publisher is what the services and health checks need from a broker client
type publisher interface {
	library.EventPublisher
	grpcserver.BrokerStatus
	Close() error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, log, database, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()
	defer database.Close()

	log.Info("Library service starting")

	pub, err := newPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	store := repo.NewStore(database, log)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.VerifyTokenTTL, cfg.SessionTTL)

	authn, err := auth.NewAuthenticator(cfg.AuthStrategy, store.Users, hasher, tokens)
	if err != nil {
		return err
	}

	accounts := library.NewAccounts(library.AccountsDeps{
		Store:         store,
		Hasher:        hasher,
		Tokens:        tokens,
		Authenticator: authn,
		Mailer:        newMailer(cfg, log),
		Publisher:     pub,
		PublicBaseURL: cfg.PublicBaseURL,
		Log:           log,
	})
	inventory := library.NewInventory(store, pub, log)
	inventory.RefreshCatalogStats(context.Background())

	health := grpcserver.NewHealthServer(database, pub, log)

	// Start gRPC server
	grpcServer := grpcserver.NewServer(health, log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: httpapi.NewRouter(httpapi.Options{
			Inventory:     inventory,
			Accounts:      accounts,
			Health:        health,
			Limiter:       httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log),
			AuthStrategy:  cfg.AuthStrategy,
			SecureCookies: strings.HasPrefix(cfg.PublicBaseURL, "https://"),
			Log:           log,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		log.Error("Server failed", zap.Error(serveErr))
	}

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	grpcServer.GracefulStop()

	log.Info("Server stopped")
	return serveErr
}

// newPublisher connects to RabbitMQ when events are enabled
func newPublisher(cfg *config.Config, log *zap.Logger) (publisher, error) {
	if !cfg.EventsEnabled {
		log.Info("Event publishing disabled")
		return events.NewNopPublisher(log), nil
	}

	log.Info("Connecting to RabbitMQ")
	pub, err := events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		return nil, fmt.Errorf("connect RabbitMQ: %w", err)
	}
	return pub, nil
}

// newMailer uses SMTP when a relay is configured and logs messages otherwise
func newMailer(cfg *config.Config, log *zap.Logger) mail.Gateway {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, verification mail will only be logged")
		return mail.NewLogGateway(log)
	}
	return mail.NewSMTPGateway(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}, log)
}
