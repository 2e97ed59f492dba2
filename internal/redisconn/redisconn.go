// Package redisconn opens go-redis clients from REDIS_URL style settings.
package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/turnsync/logger"
)

// DefaultPingTimeout bounds the connectivity check in Open.
const DefaultPingTimeout = 3 * time.Second

// Open parses url, creates a client and verifies it with PING. The client is
// closed again when the ping fails.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", logger.RedactSensitiveData(opts.Addr), err)
	}
	return client, nil
}
