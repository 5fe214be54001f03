// Package server exposes social.Service over HTTP. Every response body,
// except /health, is an envelope.
package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/envelope"
	"github.com/adeilh/rakh-sync/httpx"
	"github.com/adeilh/rakh-sync/social"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type options struct {
	httpOpts []httpx.ServerOption
	checks   map[string]HealthCheck
}

type Option func(*options)

// WithHTTPOptions forwards options to the underlying httpx.Server.
func WithHTTPOptions(opts ...httpx.ServerOption) Option {
	return func(o *options) {
		o.httpOpts = append(o.httpOpts, opts...)
	}
}

// WithHealthCheck adds a dependency probe reported by GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(o *options) {
		if name != "" && check != nil {
			o.checks[name] = check
		}
	}
}

type Server struct {
	http   *httpx.Server
	svc    *social.Service
	logger *zap.Logger
	checks map[string]HealthCheck
}

// New builds the API server. The repository behind svc is always part of
// the health report.
func New(svc *social.Service, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := options{checks: map[string]HealthCheck{"repository": svc.Ping}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	httpOpts := append([]httpx.ServerOption{
		httpx.WithLogger(logger.Named("http")),
		httpx.WithValidators(requireJSON),
	}, cfg.httpOpts...)
	s := &Server{
		http:   httpx.NewServer(httpOpts...),
		svc:    svc,
		logger: logger.Named("server"),
		checks: cfg.checks,
	}
	s.http.RegisterRoutes(s.routes)
	return s
}

func (s *Server) routes(a *httpx.App) {
	httpx.RegisterRoutes(a,
		httpx.Route{Method: http.MethodGet, Path: "/health", Handler: s.health},
		httpx.Route{Method: http.MethodGet, Path: "/feed/:userId", Handler: s.feed},
		httpx.Route{Method: http.MethodPost, Path: "/follow", Handler: s.follow},
		httpx.Route{Method: http.MethodPost, Path: "/unfollow", Handler: s.unfollow},
		httpx.Route{Method: http.MethodPost, Path: "/users", Handler: s.createUser},
	)
	a.Group("/users").
		GET("/:userId", s.user).
		GET("/:userId/suggested", s.suggested).
		GET("/:userId/followers", s.followers).
		GET("/:userId/following", s.following).
		POST("/:userId/posts", s.createPost)
}

// requireJSON rejects request bodies that are not declared as JSON.
func requireJSON(c httpx.Context) error {
	req := c.Request()
	if req.Method != http.MethodPost || req.ContentLength == 0 {
		return nil
	}
	mt, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return httpx.HTTPError(httpx.StatusUnsupportedMedia, "content type must be application/json")
	}
	return nil
}

func (s *Server) Handler() http.Handler { return s.http.Handler() }

func (s *Server) Address() string { return s.http.Address() }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("listening", zap.String("address", s.http.Address()))
	return s.http.Start(ctx)
}

// health answers 200 while the process is up. Failing dependencies only
// mark the body as degraded.
func (s *Server) health(c httpx.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	body := map[string]any{"status": "ok"}
	checks := make(map[string]string, len(s.checks))
	degraded := false
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			degraded = true
			continue
		}
		checks[name] = "ok"
	}
	body["checks"] = checks
	if degraded {
		body["degraded"] = true
		s.logger.Warn("health degraded", zap.Any("checks", checks))
	}
	return c.JSON(httpx.StatusOK, body)
}

func (s *Server) feed(c httpx.Context) error {
	posts, err := s.svc.Feed(c.Request().Context(), c.Param("userId"))
	return s.respond(c, posts, err)
}

func (s *Server) suggested(c httpx.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.fail(c, social.ErrInvalidInput)
		}
		limit = n
	}
	users, err := s.svc.SuggestedUsers(c.Request().Context(), c.Param("userId"), limit)
	return s.respond(c, users, err)
}

func (s *Server) followers(c httpx.Context) error {
	users, err := s.svc.Followers(c.Request().Context(), c.Param("userId"))
	return s.respond(c, users, err)
}

func (s *Server) following(c httpx.Context) error {
	users, err := s.svc.Following(c.Request().Context(), c.Param("userId"))
	return s.respond(c, users, err)
}

func (s *Server) user(c httpx.Context) error {
	u, err := s.svc.GetUser(c.Request().Context(), c.Param("userId"))
	return s.respond(c, u, err)
}

func (s *Server) follow(c httpx.Context) error {
	var req social.FollowRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, social.ErrInvalidInput)
	}
	edge, err := s.svc.Follow(c.Request().Context(), req.CurrentUserID, req.UserID)
	return s.respond(c, edge, err)
}

func (s *Server) unfollow(c httpx.Context) error {
	var req social.FollowRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, social.ErrInvalidInput)
	}
	err := s.svc.Unfollow(c.Request().Context(), req.CurrentUserID, req.UserID)
	return s.respond(c, social.Follow{FollowerID: req.CurrentUserID, FolloweeID: req.UserID}, err)
}

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func (s *Server) createUser(c httpx.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, social.ErrInvalidInput)
	}
	u, err := s.svc.CreateUser(c.Request().Context(), req.Username, req.DisplayName)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(httpx.StatusCreated, envelope.OK(u))
}

type createPostRequest struct {
	Body     string           `json:"body"`
	Location *social.Location `json:"location,omitempty"`
}

func (s *Server) createPost(c httpx.Context) error {
	var req createPostRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, social.ErrInvalidInput)
	}
	p, err := s.svc.CreatePost(c.Request().Context(), c.Param("userId"), req.Body, req.Location)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(httpx.StatusCreated, envelope.OK(p))
}

func (s *Server) respond(c httpx.Context, data any, err error) error {
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, envelope.OK(data))
}

// fail writes a failed envelope. Domain errors keep their message; anything
// else is logged and hidden behind a generic one.
func (s *Server) fail(c httpx.Context, err error) error {
	status, msg := classify(err)
	if status >= httpx.StatusInternalError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, envelope.Fail[struct{}](msg))
}

var domainStatus = []struct {
	err    error
	status int
}{
	{social.ErrUserNotFound, httpx.StatusNotFound},
	{social.ErrAlreadyFollowing, httpx.StatusConflict},
	{social.ErrNotFollowing, httpx.StatusConflict},
	{social.ErrUsernameTaken, httpx.StatusConflict},
	{social.ErrSelfFollow, httpx.StatusBadRequest},
	{social.ErrInvalidInput, httpx.StatusBadRequest},
}

func classify(err error) (int, string) {
	for _, d := range domainStatus {
		if errors.Is(err, d.err) {
			return d.status, d.err.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return httpx.StatusServiceUnavailable, "request timed out"
	}
	return httpx.StatusInternalError, "internal error"
}
