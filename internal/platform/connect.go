// Package platform holds backing-service constructors shared by the
// entrypoints.
package platform

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ConnectDB opens the script store database from STORYREEL_DATABASE_DSN.
func ConnectDB() (*gorm.DB, error) {
	dsn := os.Getenv("STORYREEL_DATABASE_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("STORYREEL_DATABASE_DSN is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// ConnectRedis opens the status feed client from STORYREEL_REDIS_ADDR.
// Returns (nil, nil) when the address is unset; the status feed is
// optional.
func ConnectRedis() (*redis.Client, error) {
	addr := os.Getenv("STORYREEL_REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("STORYREEL_REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}
