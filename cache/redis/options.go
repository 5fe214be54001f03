package redis

import "time"

const (
	defaultAddr      = "127.0.0.1:6379"
	defaultPoolSize  = 8
	defaultDialWait  = 5 * time.Second
	defaultIOTimeout = 2 * time.Second
)

// Options describes the server a Store talks to. Zero fields take defaults.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "rakhsync:". Pipeline commands are
	// sent as queued and are not prefixed.
	Prefix string

	DialTimeout time.Duration
	// ReadTimeout and WriteTimeout bound each round trip in addition to the
	// caller's context.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PoolSize caps idle connections, not connections in use.
	PoolSize int
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = defaultAddr
	}
	o.DB = max(o.DB, 0)
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	for _, d := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&o.DialTimeout, defaultDialWait},
		{&o.ReadTimeout, defaultIOTimeout},
		{&o.WriteTimeout, defaultIOTimeout},
	} {
		if *d.v <= 0 {
			*d.v = d.def
		}
	}
	return o
}
