package httpx

import (
	"time"

	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RequestTimeout bounds each request context. Zero leaves it unbounded.
	RequestTimeout time.Duration
	Middlewares    []MiddlewareFunc
	Validators     []Validator
	CORS           *middleware.CORSConfig
	Logger         *zap.Logger
}

type ServerOption func(*ServerOptions)

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithRequestTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if d > 0 {
			o.RequestTimeout = d
		}
	}
}

// AppendMiddlewares runs mw after recovery and request IDs.
func AppendMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		o.Middlewares = append(o.Middlewares, mw...)
	}
}

// WithValidators installs checks that run before every route handler.
func WithValidators(v ...Validator) ServerOption {
	return func(o *ServerOptions) {
		o.Validators = append(o.Validators, v...)
	}
}

// WithCORSOrigins allows browser clients from origins. No origins leaves
// CORS off.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(o *ServerOptions) {
		if len(origins) == 0 {
			return
		}
		cfg := middleware.DefaultCORSConfig
		cfg.AllowOrigins = append([]string(nil), origins...)
		o.CORS = &cfg
	}
}

// WithLogger installs the request logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}
