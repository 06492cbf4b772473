package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ecozone/authcore/internal/infrastructure/config"
)

const (
	defaultPingTimeout = 5 * time.Second
	dialTimeout        = 5 * time.Second
	ioTimeout          = 2 * time.Second
)

// ErrConnectionFailed indicates the initial PING failed.
var ErrConnectionFailed = errors.New("redis: connection failed")

// Connect opens a client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}
