package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/txrelay/pkg/observability"
)

func ConnectRedis(ctx context.Context, addr, password string, db int, logger *observability.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	logger.Info("connected to redis", "addr", addr, "db", db)
	return client, nil
}
