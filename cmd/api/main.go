package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/xiaomao8090/kazay-website/internal/auth"
	"github.com/xiaomao8090/kazay-website/internal/background"
	"github.com/xiaomao8090/kazay-website/internal/blocklist"
	"github.com/xiaomao8090/kazay-website/internal/config"
	"github.com/xiaomao8090/kazay-website/internal/handlers"
	"github.com/xiaomao8090/kazay-website/internal/logfeed"
	middlewareCustom "github.com/xiaomao8090/kazay-website/internal/middleware"
	"github.com/xiaomao8090/kazay-website/internal/models"
	"github.com/xiaomao8090/kazay-website/internal/routes"
	"github.com/xiaomao8090/kazay-website/internal/services"
	"github.com/xiaomao8090/kazay-website/internal/session"
	"github.com/xiaomao8090/kazay-website/internal/tracker"
	pkgauth "github.com/xiaomao8090/kazay-website/pkg/auth"
	pkghttp "github.com/xiaomao8090/kazay-website/pkg/http"
	pkglogger "github.com/xiaomao8090/kazay-website/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("mail_provider", cfg.Mail.Provider))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var awsCfg aws.Config
	if cfg.Logs.S3Bucket != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Logs.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Log feed
	feedOpts := []logfeed.Option{
		logfeed.WithLogger(logger),
		logfeed.WithSettingsFile(cfg.Logs.SettingsFile),
	}
	if cfg.Logs.S3Bucket != "" {
		feedOpts = append(feedOpts, logfeed.WithArchiver(
			logfeed.NewS3ArchiverFromConfig(awsCfg, cfg.Logs.S3Bucket, cfg.Logs.S3Prefix, cfg.Logs.S3Endpoint)))
	}
	feed, err := logfeed.New(cfg.Logs.Root, feedOpts...)
	if err != nil {
		logger.Error("failed to open log feed", slog.Any("error", err))
		os.Exit(1)
	}
	security := pkglogger.NewSecurityLogger(logger, feed)

	// Blocklist
	var (
		storage     blocklist.Storage
		redisClient *redis.Client
	)
	if cfg.Blocklist.RedisURL != "" {
		redisClient, err = blocklist.ConnectRedis(ctx, cfg.Blocklist.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		storage = blocklist.NewRedisStorage(redisClient, cfg.Blocklist.RedisKey)
	} else {
		storage = blocklist.NewFileStorage(cfg.Blocklist.Path)
	}
	blocks := blocklist.New(storage, blocklist.WithLogger(logger))
	if err := blocks.Reload(ctx); err != nil {
		logger.Warn("blocklist unavailable, starting empty", slog.Any("error", err))
	}
	registry, err := loadRegistry(cfg.Auth, cfg.Server.Env, logger)
	if err != nil {
		logger.Error("failed to load admin registry", slog.Any("error", err))
		os.Exit(1)
	}

	mailer, err := newMailer(ctx, cfg.Mail, logger)
	if err != nil {
		logger.Error("failed to initialize mailer", slog.Any("error", err))
		os.Exit(1)
	}
	notifier := services.NewMailNotifier(mailer, cfg.Mail.AlertRecipients, cfg.Mail.AlertInterval, cfg.Mail.AlertBurst, logger)
	defer alertOnPanic(notifier, logger)

	if cfg.Blocklist.RedisURL == "" && cfg.Blocklist.Watch {
		watcher, err := blocklist.NewWatcher(blocks, cfg.Blocklist.Path, logger)
		if err != nil {
			logger.Warn("blocklist file watch disabled", slog.Any("error", err))
		} else {
			defer watcher.Close()
			go background.Guard(ctx, logger, notifier, "blocklist-watcher", watcher.Start)
		}
	}

	// Login flow
	sessions := session.NewStore(
		session.WithTTL(cfg.Login.SessionTTL),
		session.WithMaxSessions(cfg.Login.MaxSessions),
		session.WithLogger(logger),
	)
	failures := tracker.New(cfg.Login.FailureWindow)
	mails := tracker.New(cfg.Login.MailWindow, tracker.WithRetention(cfg.Login.MailWindow))
	timing := auth.NewTimingDelay(auth.TimingConfig{
		Base:           cfg.Auth.TimingBase,
		Jitter:         cfg.Auth.TimingJitter,
		DelayOnSuccess: cfg.Auth.TimingOnSuccess,
	})
	loginService := services.NewLoginService(registry, sessions, failures, mails, mailer, notifier, security, timing,
		services.LoginConfig{
			MaxFailures:    cfg.Login.MaxFailures,
			FailureWindow:  cfg.Login.FailureWindow,
			AlertThreshold: cfg.Login.AlertThreshold,
			MailPolicy: tracker.Policy{
				Window:   cfg.Login.MailWindow,
				Max:      cfg.Login.MailMax,
				Cooldown: cfg.Login.MailCooldown,
			},
			SessionTTL: cfg.Login.SessionTTL,
		}, logger)

	autoBlock := services.NewAutoBlockService(feed, blocks, notifier, security, services.AutoBlockConfig{
		Lookback:  cfg.AutoBlock.Lookback,
		Threshold: cfg.AutoBlock.Threshold,
		BlockTTL:  cfg.AutoBlock.BlockTTL,
	}, logger)

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AdminTokenExpiry)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	}

	authHandler := handlers.NewAuthHandler(loginService, tokenManager, cookieConfig, cfg.Login.SessionTTL, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(loginService, blocks, feed, autoBlock, mailer, security, ipConfig, logger)

	// Setup router. The IP gate runs before everything that can route.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.IPGate(blocks, ipConfig, security))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env:             cfg.Server.Env,
		NoStorePrefixes: []string{"/admin"},
	}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, feed, ipConfig))
	router.Use(middlewareCustom.Recoverer(notifier, ipConfig))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	routes.RegisterRoutes(router, authHandler, adminHandler, tokenManager, ipConfig, security,
		middlewareCustom.RateLimitConfig{
			Requests: cfg.Login.RateLimitRequests,
			Window:   cfg.Login.RateLimitWindow,
		})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "blocklist": "down"})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	scheduler := background.NewScheduler(logger,
		background.Job{Name: "session-sweep", Interval: time.Minute, Run: func(context.Context) error {
			sessions.Sweep()
			return nil
		}},
		background.Job{Name: "failure-prune", Interval: time.Hour, Run: func(context.Context) error {
			failures.Prune()
			mails.Prune()
			return nil
		}},
		background.Job{Name: "blocklist-prune", Interval: time.Hour, Run: func(ctx context.Context) error {
			blocks.PruneExpired(ctx)
			return nil
		}},
		background.Job{Name: "auto-block", Interval: cfg.AutoBlock.Interval, Run: func(ctx context.Context) error {
			_, err := autoBlock.Sweep(ctx)
			return err
		}},
		background.Job{Name: "log-rotation", Interval: 24 * time.Hour, Timeout: 10 * time.Minute, RunAtStart: true, Run: func(ctx context.Context) error {
			_, err := feed.Rotate(ctx)
			return err
		}},
	).WithNotifier(notifier)
	scheduler.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		feed.System(logfeed.LevelInfo, "server started", map[string]any{"addr": server.Addr, "env": cfg.Server.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	feed.System(logfeed.LevelInfo, "server stopped", nil)
	logger.Info("server stopped gracefully")
}

// alertOnPanic reports a panic on the main goroutine to the operators and
// lets it continue to crash the process.
func alertOnPanic(notifier services.AlertNotifier, logger *slog.Logger) {
	rvr := recover()
	if rvr == nil {
		return
	}
	logger.Error("fatal panic", slog.Any("panic", rvr))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	notifier.Alert(ctx, "server crashed", map[string]string{"panic": fmt.Sprint(rvr)})
	panic(rvr)
}

// loadRegistry reads the admin registry file or, without one, builds a single
// admin from the environment with the password hashed in memory. A weak
// plaintext password is fatal in production.
func loadRegistry(cfg config.AuthConfig, env string, logger *slog.Logger) (*auth.Registry, error) {
	if cfg.RegistryPath != "" {
		return auth.LoadRegistry(cfg.RegistryPath)
	}

	password := cfg.AdminPassword
	if !pkgauth.IsHash(password) {
		if err := pkgauth.ValidatePassword(password); err != nil {
			if env == "production" {
				return nil, fmt.Errorf("ADMIN_PASSWORD: %w", err)
			}
			logger.Warn("admin password is weak", slog.Any("error", err))
		}
		hashed, err := pkgauth.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		password = hashed
	}
	return auth.NewRegistry(models.Admin{
		Username: cfg.AdminUsername,
		Password: password,
		Email:    cfg.AdminEmail,
	}), nil
}

func newMailer(ctx context.Context, cfg config.MailConfig, logger *slog.Logger) (services.Mailer, error) {
	switch cfg.Provider {
	case config.MailProviderSES:
		return services.NewSESMailer(ctx, cfg.AWSRegion, cfg.FromAddress, logger)
	case config.MailProviderPostmark:
		return services.NewPostmarkMailer(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.FromAddress)
	case config.MailProviderSMTP:
		mailer, err := services.NewSMTPMailer(services.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.FromAddress,
			TLSMode:     cfg.SMTPTLSMode,
			Timeout:     cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		if cfg.VerifyOnStart {
			if err := mailer.Verify(ctx); err != nil {
				logger.Warn("smtp relay check failed", slog.Any("error", err))
			}
		}
		return mailer, nil
	default:
		logger.Warn("using log mailer, verification codes are written to the process log")
		return services.NewLogMailer(logger), nil
	}
}
