// EcoZone Auth Core - account, session and access control service.
//
// This is the main entry point for the EcoZone auth service. It serves:
//   - Registration and login for citizen, employee, office and environmental accounts
//   - JWT access and refresh tokens bound to server-side sessions
//   - Account lockout, zone guards and an append-only audit log
//
// Configuration is read from configs/config.yaml (override with
// ECOZONE_CONFIG) and ECOZONE_* environment variables. Signing secrets
// must come from the environment or a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ecozone/authcore/internal/api"
	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/auth"
	"github.com/ecozone/authcore/internal/infrastructure/config"
	"github.com/ecozone/authcore/internal/infrastructure/database"
	"github.com/ecozone/authcore/internal/infrastructure/influxdb"
	"github.com/ecozone/authcore/internal/infrastructure/logging"
	"github.com/ecozone/authcore/internal/infrastructure/mqtt"
	"github.com/ecozone/authcore/internal/infrastructure/redis"
	"github.com/ecozone/authcore/internal/metrics"
	"github.com/ecozone/authcore/internal/ratelimit"
	"github.com/ecozone/authcore/internal/zone"
	"github.com/ecozone/authcore/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath  = "configs/config.yaml"
	defaultEnvFilePath = ".env"

	auditQueueSize  = 1024
	activityTimeout = 2 * time.Second
	sweepTimeout    = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting EcoZone auth core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadEnvFile(getEnvFilePath()); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	zones := zone.NewSQLiteRepository(db.DB)
	zoneNames := make([]string, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		if _, ensureErr := zones.Ensure(ctx, z.Name, z.Description); ensureErr != nil {
			return fmt.Errorf("seeding zone %q: %w", z.Name, ensureErr)
		}
		zoneNames = append(zoneNames, z.Name)
	}
	log.Info("zones ready", "count", len(zoneNames))

	health := map[string]api.HealthCheckFunc{"database": db.HealthCheck}
	m := metrics.New()
	sinks := []audit.Sink{m}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limitCfg := ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Prefix:   "auth",
		}
		if cfg.RateLimit.Backend == "redis" {
			client, connErr := redis.Connect(ctx, cfg.Redis)
			if connErr != nil {
				return fmt.Errorf("connecting to Redis: %w", connErr)
			}
			defer closeRedis(client, log)
			health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
			limiter = ratelimit.NewRedis(client, limitCfg)
			log.Info("rate limiting via Redis", "addr", cfg.Redis.Addr)
		} else {
			limiter = ratelimit.NewMemory(limitCfg, time.Now)
			log.Info("rate limiting in memory")
		}
	} else {
		log.Warn("rate limiting disabled")
	}

	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		health["mqtt"] = mqttClient.HealthCheck
		sinks = append(sinks, audit.NewMQTTSink(mqttClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = influxClient.HealthCheck
		sinks = append(sinks, audit.NewInfluxSink(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	dispatcher := audit.NewDispatcher(auditRepo, log, auditQueueSize, sinks...)

	users := auth.NewUserRepository(db.DB)
	sessions := auth.NewSessionRepository(db.DB)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
	}, time.Now)

	service := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Sessions: sessions,
		Zones:    zones,
		Tokens:   tokens,
		Hasher:   hasher,
		Guard: auth.NewAccountGuard(users, auth.LockoutPolicy{
			MaxAttempts:  cfg.Auth.MaxLoginAttempts,
			LockDuration: cfg.Auth.LockDuration,
		}),
		Audit:  dispatcher,
		Logger: log,
		Config: auth.ServiceConfig{
			MaxActiveSessions: cfg.Auth.MaxActiveSessions,
			DefaultZone:       cfg.Auth.DefaultZone,
		},
	})
	authorizer := auth.NewAuthorizer(tokens, sessions, users, auth.AuthorizerConfig{
		RequireEmailVerified: cfg.Auth.RequireEmailVerified,
	})
	activity := auth.NewActivityTracker(users, sessions, log, auth.DefaultActivityQueueSize, activityTimeout)

	sweeper, err := auth.NewSweeper(sessions, log, auth.SweeperConfig{
		Schedule:  cfg.Auth.SweepSchedule,
		Retention: cfg.Auth.SessionRetention,
		Timeout:   sweepTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating session sweeper: %w", err)
	}
	sweeper.OnSweep = m.ObserveSweep

	if _, seedErr := auth.SeedAdmin(ctx, users, hasher, auth.AdminSeed{
		Email:        cfg.Auth.Admin.Email,
		Password:     cfg.Auth.Admin.Password,
		ManagedZones: zoneNames,
	}, log); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Service:    service,
		Authorizer: authorizer,
		Activity:   activity,
		Audit:      dispatcher,
		AuditRepo:  auditRepo,
		Zones:      zones,
		Limiter:    limiter,
		Sweeper:    sweeper,
		Metrics:    m,
		Health:     health,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("EcoZone auth core started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"environment", cfg.Service.Environment,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the configuration file path.
// Checks ECOZONE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("ECOZONE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getEnvFilePath returns the dotenv file consulted before the config is read.
func getEnvFilePath() string {
	if path := os.Getenv("ECOZONE_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFilePath
}

func closeRedis(client *goredis.Client, log *logging.Logger) {
	log.Info("closing Redis connection")
	if err := client.Close(); err != nil {
		log.Error("error closing Redis", "error", err)
	}
}
