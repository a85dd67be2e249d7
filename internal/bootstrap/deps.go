package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"mailsweep/adapter/out/persistence"
	"mailsweep/adapter/out/provider"
	"mailsweep/config"
	"mailsweep/core/port/in"
	"mailsweep/core/port/out"
	"mailsweep/core/service/detection"
	"mailsweep/core/service/unsubscribe"
	"mailsweep/core/service/whitelist"
	"mailsweep/infra/database"
	"mailsweep/pkg/cache"
	"mailsweep/pkg/crypto"
	"mailsweep/pkg/httputil"
	"mailsweep/pkg/logger"
	"mailsweep/pkg/metrics"
	"mailsweep/pkg/retry"
)

// Dependencies wires the storage, provider, and service layers once so both
// the API server and the worker share a single construction path.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Cache  *cache.RedisCache

	// Repositories
	AggregateRepo    *persistence.SenderAggregateAdapter
	SubscriptionRepo *persistence.SubscriptionAdapter
	WhitelistRepo    *persistence.WhitelistAdapter
	TokenRepo        *persistence.OAuthTokenAdapter
	UserProfiles     *persistence.UserProfileAdapter

	// Provider
	Gmail *provider.GmailAdapter

	// Services
	WhitelistService    *whitelist.Service
	DetectionService    in.DetectionService
	SubscriptionService in.SubscriptionService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Database (pgxpool, health checks)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx, repository layer). Simple protocol avoids prepared
	// statement conflicts behind PgBouncer.
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	metrics.RegisterPool("postgres", sqlDB.DB)

	// Redis is optional; without it the whitelist cache degrades to direct
	// repository reads and the token blacklist is disabled.
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed, running without cache: %v", err)
	} else {
		deps.Redis = redisClient
		deps.Cache = cache.NewRedisCache(redisClient)
		cleanups = append(cleanups, func() { redisClient.Close() })
	}

	// OAuth tokens are encrypted at rest.
	encryptor, err := crypto.NewEncryptor([]byte(cfg.TokenEncryptionKey))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Repositories
	deps.AggregateRepo = persistence.NewSenderAggregateAdapter(sqlDB)
	deps.SubscriptionRepo = persistence.NewSubscriptionAdapter(sqlDB)
	deps.WhitelistRepo = persistence.NewWhitelistAdapter(sqlDB)
	deps.TokenRepo = persistence.NewOAuthTokenAdapter(sqlDB, encryptor)
	deps.UserProfiles = persistence.NewUserProfileAdapter(sqlDB)

	// Gmail provider
	deps.Gmail = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, deps.TokenRepo, logger.WithField("component", "gmail"))

	// Whitelist service backs both the API surface and the detection guard.
	// The cache interface stays nil when Redis is absent.
	var whitelistCache out.Cache
	if deps.Cache != nil {
		whitelistCache = deps.Cache
	}
	deps.WhitelistService = whitelist.NewService(
		deps.WhitelistRepo,
		deps.SubscriptionRepo,
		whitelistCache,
		cfg.WhitelistCacheTTL,
		logger.WithField("component", "whitelist"),
	)

	// Detection pipeline
	retryPolicy := retry.DefaultPolicy()
	if cfg.StorageRetryBase > 0 {
		retryPolicy.Base = cfg.StorageRetryBase
	}
	guard := detection.NewGuard(deps.WhitelistService)
	detector := detection.NewDetector(
		deps.AggregateRepo,
		deps.SubscriptionRepo,
		guard,
		cfg.RecordThreshold,
		retryPolicy,
		cfg.StorageMaxRetries,
		deps.UserProfiles.FirstName,
		deps.Gmail.ThreadHasUserReply,
		logger.WithField("component", "detector"),
	)
	deps.DetectionService = detection.NewService(
		detector,
		deps.Gmail,
		deps.SubscriptionRepo,
		deps.AggregateRepo,
		cfg.ScanBatchSize,
		cfg.ScanConcurrency,
		logger.WithField("component", "scanner"),
	)

	// Unsubscribe pipeline
	executor := unsubscribe.NewExecutor(
		httputil.UnsubscribeClient(),
		deps.Gmail,
		cfg.UnsubscribeTimeout,
		logger.WithField("component", "unsubscribe_executor"),
	)
	deps.SubscriptionService = unsubscribe.NewService(
		deps.SubscriptionRepo,
		deps.AggregateRepo,
		executor,
		cfg.BulkConcurrency,
		float64(cfg.OutboundRatePerSec),
		logger.WithField("component", "unsubscribe"),
	)

	logger.Info("Dependencies initialized")
	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	return nil
}
