package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/config"
	"github.com/learnonline/admin-iam/internal/infra/database"
	kafkainfra "github.com/learnonline/admin-iam/internal/infra/kafka"
	"github.com/learnonline/admin-iam/internal/infra/logger"
	"github.com/learnonline/admin-iam/internal/infra/mailer"
	redisinfra "github.com/learnonline/admin-iam/internal/infra/redis"
	"github.com/learnonline/admin-iam/internal/infra/security"
	postgresrepo "github.com/learnonline/admin-iam/internal/repository/postgres"
	redisrepo "github.com/learnonline/admin-iam/internal/repository/redis"
	"github.com/learnonline/admin-iam/internal/transport/http/middleware"
	"github.com/learnonline/admin-iam/internal/transport/http/routes"
	"github.com/learnonline/admin-iam/internal/usecase"
)

type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	kafka  *kafkainfra.Producer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager, err := security.NewJWTManager(keyProvider, keyProvider.SigningKID(), cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var kafkaProducer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			kafkaProducer = producer
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	passwordValidator := security.DefaultPasswordValidator(cfg.Password.MinLength, cfg.Password.MinStrengthScore)
	totpVerifier := security.NewTOTPVerifier(cfg.TwoFactor.Issuer, cfg.TwoFactor.Skew)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), "admin-iam:rate-limit", rateLimitWindow*2)

	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	auditor := usecase.NewSecurityAuditor(repos.SecurityEvents, log)
	resetMailer := mailer.NewLoggingMailer(log, cfg.App.Env != "production")

	authService := usecase.NewAuthService(cfg, repos.Accounts, eventPublisher, auditor, jwtManager, totpVerifier, log)
	registrationService := usecase.NewRegistrationService(repos.Accounts, eventPublisher, auditor, passwordValidator, log)
	accountService := usecase.NewAccountService(repos.Accounts, eventPublisher, auditor, log)
	twoFactorService := usecase.NewTwoFactorService(cfg, repos.Accounts, totpVerifier, auditor, log)
	passwordResetService := usecase.NewPasswordResetService(cfg, repos.Accounts, rateLimitStore, eventPublisher, resetMailer, auditor, passwordValidator, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:          authService,
			Registration:  registrationService,
			Accounts:      accountService,
			TwoFactor:     twoFactorService,
			PasswordReset: passwordResetService,
		},
	})

	return &Application{
		cfg:    cfg,
		engine: engine,
		logger: log,
		pool:   pool,
		redis:  redisClient,
		kafka:  kafkaProducer,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.kafka != nil {
			_ = a.kafka.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting admin IAM API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
