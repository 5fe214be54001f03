package postgres

import "time"

// Options configures the connection pool behind a FollowRepository.
type Options struct {
	DSN            string
	ConnectTimeout time.Duration
	Pool           PoolOptions
}

// PoolOptions maps onto the database/sql pool setters. Zero values keep the
// defaults.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

type Option func(*Options)

// WithDSN sets the lib/pq connection string.
func WithDSN(dsn string) Option {
	return func(o *Options) {
		if dsn != "" {
			o.DSN = dsn
		}
	}
}

func WithPool(p PoolOptions) Option {
	return func(o *Options) {
		if p.MaxOpen > 0 {
			o.Pool.MaxOpen = p.MaxOpen
		}
		if p.MaxIdle > 0 {
			o.Pool.MaxIdle = p.MaxIdle
		}
		if p.MaxLifetime > 0 {
			o.Pool.MaxLifetime = p.MaxLifetime
		}
		if o.Pool.MaxIdle > o.Pool.MaxOpen {
			o.Pool.MaxIdle = o.Pool.MaxOpen
		}
	}
}

// WithConnectTimeout bounds the ping that Open uses to verify the DSN.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ConnectTimeout = d
		}
	}
}

func defaultOptions() Options {
	return Options{
		ConnectTimeout: 5 * time.Second,
		Pool: PoolOptions{
			MaxOpen:     10,
			MaxIdle:     5,
			MaxLifetime: 30 * time.Minute,
		},
	}
}
