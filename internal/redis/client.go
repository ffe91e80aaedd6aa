package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options sizes the Redis connection pool backing the slot locks. The lock
// path is short SetNX/DEL round trips, so timeouts stay tight: a Redis that
// cannot answer within a couple of seconds should fail the booking rather
// than stall it.
type Options struct {
	Addr         string
	Username     string
	Password     string
	PoolSize     int           // zero means 10
	ReadTimeout  time.Duration // zero means 2s
	WriteTimeout time.Duration // zero means 2s
}

func (o Options) redisOptions() *redis.Options {
	poolSize := o.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	readTimeout := o.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 2 * time.Second
	}
	writeTimeout := o.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}

	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           0,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		PoolSize:     poolSize,
		MinIdleConns: 1,
	}
}

func NewRedisClient(opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts.redisOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
