package httpx

import (
	"time"

	"go.uber.org/zap"
)

// LoggerMiddleware logs one structured line per request. A nil logger
// disables logging.
func LoggerMiddleware(logger *zap.Logger) MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(c Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			res := c.Response()
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", res.Header().Get("X-Request-Id")),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
				return nil
			}
			logger.Debug("request served", fields...)
			return nil
		}
	}
}
