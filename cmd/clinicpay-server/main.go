package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicpay/clinicpay/internal/config"
	"github.com/clinicpay/clinicpay/internal/domain/invoice"
	"github.com/clinicpay/clinicpay/internal/domain/webhook"
	"github.com/clinicpay/clinicpay/internal/platform/audit"
	"github.com/clinicpay/clinicpay/internal/platform/auth"
	"github.com/clinicpay/clinicpay/internal/platform/db"
	"github.com/clinicpay/clinicpay/internal/platform/middleware"
	"github.com/clinicpay/clinicpay/internal/platform/phi"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicpay-server",
		Short: "Payment webhook reconciliation server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// PHI encryption for invoice patient references
	var encryptor phi.Encryptor = phi.Passthrough{}
	if cfg.PHIEncryptionKey != "" {
		enc, err := phi.NewAESEncryptorHex(cfg.PHIEncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("PHI_ENCRYPTION_KEY must be a hex-encoded 32-byte key")
		}
		encryptor = enc
		logger.Info().Msg("PHI field encryption enabled")
	} else {
		logger.Warn().Msg("PHI_ENCRYPTION_KEY not set; patient references stored in plaintext")
	}

	// Audit trail with its own writer goroutine; Close drains it on
	// shutdown so in-flight entries are not lost.
	auditLog := audit.NewLogger(audit.NewPGStore(pool), logger, cfg.AuditBufferSize)
	defer auditLog.Close()

	// Repositories and services
	invoiceRepo := invoice.NewRepoPG(pool, encryptor)
	paymentRepo := invoice.NewPaymentRepoPG(pool)
	receiptRepo := webhook.NewReceiptRepoPG(pool)

	reconciler := webhook.NewReconciler(
		db.NewPoolRunner(pool),
		receiptRepo,
		invoiceRepo,
		paymentRepo,
		auditLog,
		logger,
	)

	verifier := webhook.NewVerifier(cfg.WebhookSecret)
	webhookHandler := webhook.NewHandler(verifier, reconciler, auditLog, logger, webhook.HandlerConfig{
		SignatureHeader:   cfg.WebhookSignatureHeader,
		AckOnWriteFailure: cfg.AckOnWriteFailure,
	})

	invoiceHandler := invoice.NewHandler(invoice.NewService(invoiceRepo, paymentRepo))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// The webhook endpoint authenticates by signature, not by token,
	// so it sits outside the JWT-protected group.
	webhookHandler.Register(e.Group(""))

	// Staff read API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(cfg.RateLimitPerMinute))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(cfg.JWTSecret))
	}
	apiV1.Use(auth.RequireRole("billing"))
	invoiceHandler.Register(apiV1)

	// Audit trail review is admin-only.
	adminV1 := apiV1.Group("")
	adminV1.Use(auth.RequireRole("admin"))
	audit.NewHandler(audit.NewPGStore(pool)).Register(adminV1)

	// Start and wait for shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}
