package httpx

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type (
	Context        = echo.Context
	HandlerFunc    = echo.HandlerFunc
	MiddlewareFunc = echo.MiddlewareFunc
)

// App is the route table handed to a RouteRegistrar.
type App struct{ e *echo.Echo }

func newApp() *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return &App{e: e}
}

func (a *App) Use(mw ...MiddlewareFunc) { a.e.Use(mw...) }

func (a *App) GET(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.GET(path, h, mw...)
}

func (a *App) POST(path string, h HandlerFunc, mw ...MiddlewareFunc) {
	a.e.POST(path, h, mw...)
}

// Group returns a Router whose paths are relative to prefix.
func (a *App) Group(prefix string, mw ...MiddlewareFunc) *Router {
	return &Router{g: a.e.Group(prefix, mw...)}
}

func RecoverMiddleware() MiddlewareFunc { return middleware.Recover() }

// RequestIDMiddleware stamps every request with an X-Request-Id header.
func RequestIDMiddleware() MiddlewareFunc { return middleware.RequestID() }

// TimeoutMiddleware cancels the request context after d. Handlers that give
// up with context.DeadlineExceeded answer 503.
func TimeoutMiddleware(d time.Duration) MiddlewareFunc { return middleware.ContextTimeout(d) }

func corsMiddleware(cfg middleware.CORSConfig) MiddlewareFunc { return middleware.CORSWithConfig(cfg) }

// HTTPError is rendered by the server as a failed envelope carrying message.
func HTTPError(code int, message any) error { return echo.NewHTTPError(code, message) }
