// Package gateway issues the REST calls of the social API and returns every
// response as an envelope.
package gateway

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/envelope"
	"github.com/adeilh/rakh-sync/httpx"
	"github.com/adeilh/rakh-sync/social"
)

const (
	PathHealth    = "/health"
	PathFeed      = "/feed/{userId}"
	PathSuggested = "/users/{userId}/suggested"
	PathFollowers = "/users/{userId}/followers"
	PathFollowing = "/users/{userId}/following"
	PathFollow    = "/follow"
	PathUnfollow  = "/unfollow"
)

// FollowRequest is sent as {"userId":target,"currentUserId":actor}.
type FollowRequest = social.FollowRequest

// Gateway performs one typed call per backend resource. It never retries;
// retry policy belongs to the query layer.
type Gateway struct {
	client *httpx.Client
	logger *zap.Logger
}

type Option func(*Gateway)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func New(client *httpx.Client, opts ...Option) *Gateway {
	g := &Gateway{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.Named("gateway")
	return g
}

// Feed returns the posts shown to userID.
func (g *Gateway) Feed(ctx context.Context, userID string) (envelope.Envelope[[]social.Post], error) {
	return call[[]social.Post](ctx, g, http.MethodGet, PathFeed, nil, userPath(userID))
}

// SuggestedUsers returns users userID may want to follow.
func (g *Gateway) SuggestedUsers(ctx context.Context, userID string) (envelope.Envelope[[]social.User], error) {
	return call[[]social.User](ctx, g, http.MethodGet, PathSuggested, nil, userPath(userID))
}

func (g *Gateway) Followers(ctx context.Context, userID string) (envelope.Envelope[[]social.User], error) {
	return call[[]social.User](ctx, g, http.MethodGet, PathFollowers, nil, userPath(userID))
}

func (g *Gateway) Following(ctx context.Context, userID string) (envelope.Envelope[[]social.User], error) {
	return call[[]social.User](ctx, g, http.MethodGet, PathFollowing, nil, userPath(userID))
}

// Follow makes req.CurrentUserID follow req.UserID.
func (g *Gateway) Follow(ctx context.Context, req FollowRequest) (envelope.Envelope[social.Follow], error) {
	return call[social.Follow](ctx, g, http.MethodPost, PathFollow, req)
}

// Unfollow removes the edge from req.CurrentUserID to req.UserID.
func (g *Gateway) Unfollow(ctx context.Context, req FollowRequest) (envelope.Envelope[social.Follow], error) {
	return call[social.Follow](ctx, g, http.MethodPost, PathUnfollow, req)
}

// Health is healthy whenever the server answers 200, whatever the body says.
func (g *Gateway) Health(ctx context.Context) error {
	resp, err := g.client.Execute(ctx, http.MethodGet, PathHealth, nil)
	if err != nil {
		return &envelope.TransportError{Op: "GET " + PathHealth, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &envelope.TransportError{Op: "GET " + PathHealth, Status: resp.StatusCode()}
	}
	return nil
}

// Call runs fn and folds any error into a failed envelope, for callers that
// only deal in envelopes.
func Call[T any](ctx context.Context, fn func(context.Context) (envelope.Envelope[T], error)) envelope.Envelope[T] {
	env, err := fn(ctx)
	if err != nil {
		return envelope.FromError[T](err)
	}
	return env
}

func userPath(userID string) httpx.RequestOption {
	return httpx.WithPathParams(map[string]string{"userId": userID})
}

// call decodes the response body as an envelope. A valid envelope is
// returned as is, whatever the status; anything else is a transport or parse
// failure.
func call[T any](ctx context.Context, g *Gateway, method, path string, body any, opts ...httpx.RequestOption) (envelope.Envelope[T], error) {
	op := method + " " + path
	start := time.Now()
	resp, err := g.client.Execute(ctx, method, path, body, opts...)
	if err != nil {
		g.logger.Debug("call failed", zap.String("op", op), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return envelope.Envelope[T]{}, &envelope.TransportError{Op: op, Err: err}
	}

	status := resp.StatusCode()
	env, err := envelope.Decode[T](resp.Body())
	g.logger.Debug("call finished",
		zap.String("op", op),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("envelope", err == nil),
	)
	if err != nil {
		if resp.IsError() {
			return envelope.Envelope[T]{}, &envelope.TransportError{Op: op, Status: status, Err: err}
		}
		return envelope.Envelope[T]{}, err
	}
	return env, nil
}
