package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/deliberation-platform/identity/internal/auth"
	"github.com/deliberation-platform/identity/internal/config"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/dynamo"
	"github.com/deliberation-platform/identity/internal/identity/adapter"
	"github.com/deliberation-platform/identity/internal/identity/app"
	"github.com/deliberation-platform/identity/internal/identity/port"
	"github.com/deliberation-platform/identity/internal/postgres"
	"github.com/deliberation-platform/identity/internal/redis"
	"github.com/deliberation-platform/identity/internal/server"
	"github.com/deliberation-platform/identity/internal/username"
)

// Table names match the LocalStack init script; TablePrefix is prepended.
const (
	devicesTable          = "devices"
	usersTable            = "users"
	usernamesTable        = "usernames"
	phoneCredentialsTable = "phone_credentials"
	zkpCredentialsTable   = "zkp_credentials"
	attemptsTable         = "auth_attempts_phone"
)

// stores groups the persistence ports of one storage driver.
type stores struct {
	devices     app.DeviceStore
	credentials app.CredentialStore
	attempts    app.AttemptStore
	transactor  app.AuthTransactor
	usernames   username.Checker
	ping        func(ctx context.Context) error
	close       func()
}

// setup is the identity service composition root. It creates infrastructure
// clients, adapters and the auth service, and returns the HTTP handler.
func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Service, error) {
	clock := domain.RealClock{}

	// 1. AWS config, shared by SNS, SSM and Secrets Manager.
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("identity setup: %w", err)
	}

	// 2. Peppers.
	peppers, err := loadPeppers(ctx, cfg, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("identity setup: load peppers: %w", err)
	}
	logger.InfoContext(ctx, "peppers loaded",
		slog.String("source", cfg.Peppers.Source),
		slog.Int("latest_version", peppers.Latest()),
	)

	// 3. Storage.
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("identity setup: %w", err)
	}

	// 4. Redis-backed request guards (optional).
	handlerCfg := port.HandlerConfig{
		Verifier: auth.NewDeviceVerifier(auth.DeviceVerifierConfig{
			Audience: cfg.Auth.TokenAudience,
			MaxAge:   cfg.Auth.DeviceTokenMaxAge,
			Clock:    clock,
		}),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Clock:          clock,
		Logger:         logger,
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(redis.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password.Expose(),
			DB:         cfg.Redis.DB,
			Timeout:    cfg.Redis.Timeout,
			ClientName: "identity",
		})
		if err != nil {
			st.close()
			return nil, fmt.Errorf("identity setup: %w", err)
		}
		handlerCfg.Replay = adapter.NewReplayGuard(redisClient.RDB)
		handlerCfg.Limiter = adapter.NewRateLimiter(redisClient.RDB, cfg.Auth.RateLimitPerIP, cfg.Auth.RateLimitWindow)
	} else {
		logger.WarnContext(ctx, "redis not configured, per-IP limiter and token replay guard disabled")
	}

	// 5. Auth service.
	policy := app.OTPPolicy{
		CodeLifetime:     cfg.Auth.CodeLifetime,
		ThrottleInterval: cfg.Auth.ThrottleInterval,
		MaxGuessAttempts: cfg.Auth.MaxGuessAttempts,
		DoSend:           cfg.Auth.DoSend,
		Peppers:          peppers,
	}
	if cfg.Auth.UseTestCode {
		policy.TestCode = cfg.Auth.TestCode
	}
	if err := policy.Validate(); err != nil {
		st.close()
		closeRedis(logger, redisClient)
		return nil, fmt.Errorf("identity setup: %w", err)
	}

	authSvc := app.NewAuthService(app.AuthServiceConfig{
		Devices:     st.devices,
		Credentials: st.credentials,
		Attempts:    st.attempts,
		Transactor:  st.transactor,
		Usernames:   username.NewAllocator(st.usernames),
		SMSProvider: createSMSProvider(cfg, awsCfg, logger),
		Policy:      policy,
		Clock:       clock,
		Logger:      logger,
	})

	// 6. HTTP.
	handler := port.NewAuthHandler(authSvc, handlerCfg)

	logger.InfoContext(ctx, "identity service initialized",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("do_send", cfg.Auth.DoSend),
	)

	return &server.Service{
		Handler: handler.Routes(),
		Ready: func(ctx context.Context) error {
			var errs []error
			if st.ping != nil {
				errs = append(errs, st.ping(ctx))
			}
			if redisClient != nil {
				errs = append(errs, redisClient.Ping(ctx))
			}
			return errors.Join(errs...)
		},
		Close: func() {
			st.close()
			closeRedis(logger, redisClient)
		},
	}, nil
}

// openStores connects the configured storage driver.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.StorageDynamoDB:
		endpoint := cfg.DynamoDB.Endpoint
		if endpoint == "" {
			endpoint = cfg.AWS.Endpoint
		}
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Endpoint: endpoint,
			Region:   cfg.AWS.Region,
			Timeout:  cfg.DynamoDB.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create dynamo client: %w", err)
		}

		p := cfg.DynamoDB.TablePrefix
		tables := adapter.DynamoTables{
			Devices:          p + devicesTable,
			Users:            p + usersTable,
			Usernames:        p + usernamesTable,
			PhoneCredentials: p + phoneCredentialsTable,
			ZKPCredentials:   p + zkpCredentialsTable,
			Attempts:         p + attemptsTable,
		}
		return &stores{
			devices:     adapter.NewDeviceStore(client.DB, tables.Devices),
			credentials: adapter.NewCredentialStore(client.DB, tables.PhoneCredentials, tables.ZKPCredentials),
			attempts:    adapter.NewAttemptStore(client.DB, tables.Attempts),
			transactor:  adapter.NewTransactor(client.DB, tables),
			usernames:   adapter.NewUserStore(client.DB, tables.Usernames),
			ping: func(ctx context.Context) error {
				_, err := client.DB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tables.Devices)})
				return err
			},
			close: func() {},
		}, nil

	case config.StoragePostgres:
		url := cfg.Postgres.URL.Expose()
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(url, logger); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := postgres.NewPool(ctx, postgres.Config{
			URL:            url,
			MaxConns:       cfg.Postgres.MaxConns,
			ConnectTimeout: cfg.Postgres.Timeout,
		})
		if err != nil {
			return nil, err
		}
		store := adapter.NewPostgresStore(pool)
		return &stores{
			devices:     store,
			credentials: store,
			attempts:    store,
			transactor:  store,
			usernames:   store,
			ping:        pool.Ping,
			close:       pool.Close,
		}, nil

	default:
		logger.WarnContext(ctx, "using in-memory storage, state is lost on restart")
		store := adapter.NewMemoryStore()
		return &stores{
			devices:     store,
			credentials: store,
			attempts:    store,
			transactor:  store,
			usernames:   store,
			close:       func() {},
		}, nil
	}
}

// loadAWSConfig loads the default credential chain. A configured endpoint
// means LocalStack, which accepts static test credentials.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: domain.SMSTimeout}),
	}
	if cfg.AWS.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.AWS.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
	}
	return awsCfg, nil
}

// loadPeppers reads the phone hashing peppers from config or from SSM and
// Secrets Manager.
func loadPeppers(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (domain.Peppers, error) {
	if cfg.Peppers.Source != config.PepperSourceAWS {
		return auth.DecodePeppers(cfg.Peppers.Values)
	}
	return adapter.LoadAWSPeppers(ctx,
		secretsmanager.NewFromConfig(awsCfg),
		ssm.NewFromConfig(awsCfg),
		adapter.PepperSource{
			LatestVersionParam: cfg.Peppers.LatestVersionParam,
			SecretPrefix:       cfg.Peppers.SecretPrefix,
		},
	)
}

// createSMSProvider returns SNS delivery when codes are sent and a region is
// configured, and the log-only provider otherwise.
func createSMSProvider(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) auth.SMSProvider {
	switch {
	case cfg.Auth.DoSend && cfg.AWS.Region != "":
		return adapter.NewSNSSMSProvider(sns.NewFromConfig(awsCfg), cfg.SMS.SenderID)
	case cfg.Auth.DoSend:
		logger.Warn("no AWS region configured, codes are logged instead of sent")
	default:
		logger.Info("code delivery disabled, using log-only SMS provider")
	}
	return adapter.NewLogSMSProvider(logger)
}

func closeRedis(logger *slog.Logger, client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close redis client", slog.String("error", err.Error()))
	}
}
