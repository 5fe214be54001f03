package gateway

import (
	"context"

	"github.com/adeilh/rakh-sync/envelope"
	"github.com/adeilh/rakh-sync/mutation"
	"github.com/adeilh/rakh-sync/query"
	"github.com/adeilh/rakh-sync/social"
)

// FeedQuery binds the feed of userID to its query key.
func FeedQuery(g *Gateway, userID string, opts ...query.ReadOption) query.Query[[]social.Post] {
	return query.Query[[]social.Post]{
		Key:     query.Feed(userID),
		Fn:      query.FromEnvelope(func(ctx context.Context) (envelope.Envelope[[]social.Post], error) { return g.Feed(ctx, userID) }),
		Options: opts,
	}
}

func SuggestedUsersQuery(g *Gateway, userID string, opts ...query.ReadOption) query.Query[[]social.User] {
	return query.Query[[]social.User]{
		Key:     query.SuggestedUsers(userID),
		Fn:      query.FromEnvelope(func(ctx context.Context) (envelope.Envelope[[]social.User], error) { return g.SuggestedUsers(ctx, userID) }),
		Options: opts,
	}
}

func FollowersQuery(g *Gateway, userID string, opts ...query.ReadOption) query.Query[[]social.User] {
	return query.Query[[]social.User]{
		Key:     query.Followers(userID),
		Fn:      query.FromEnvelope(func(ctx context.Context) (envelope.Envelope[[]social.User], error) { return g.Followers(ctx, userID) }),
		Options: opts,
	}
}

func FollowingQuery(g *Gateway, userID string, opts ...query.ReadOption) query.Query[[]social.User] {
	return query.Query[[]social.User]{
		Key:     query.Following(userID),
		Fn:      query.FromEnvelope(func(ctx context.Context) (envelope.Envelope[[]social.User], error) { return g.Following(ctx, userID) }),
		Options: opts,
	}
}

// FollowTargets lists the keys a follow change by req.CurrentUserID makes
// stale.
func FollowTargets(req FollowRequest, _ social.Follow) []query.Key {
	return []query.Key{
		query.Feed(req.CurrentUserID),
		query.SuggestedUsers(req.CurrentUserID),
		query.Following(req.CurrentUserID),
		query.Followers(req.UserID),
	}
}

// FollowMutation follows a user and, on success, invalidates the actor's
// feed, suggestions and following list and the target's follower list.
func FollowMutation(store *query.Store, g *Gateway, opts ...mutation.Option[FollowRequest, social.Follow]) *mutation.Mutation[FollowRequest, social.Follow] {
	base := []mutation.Option[FollowRequest, social.Follow]{
		mutation.WithName[FollowRequest, social.Follow]("follow"),
		mutation.WithInvalidates(FollowTargets),
	}
	return mutation.New(store, mutation.FromEnvelope(g.Follow), append(base, opts...)...)
}

// UnfollowMutation is FollowMutation for POST /unfollow.
func UnfollowMutation(store *query.Store, g *Gateway, opts ...mutation.Option[FollowRequest, social.Follow]) *mutation.Mutation[FollowRequest, social.Follow] {
	base := []mutation.Option[FollowRequest, social.Follow]{
		mutation.WithName[FollowRequest, social.Follow]("unfollow"),
		mutation.WithInvalidates(FollowTargets),
	}
	return mutation.New(store, mutation.FromEnvelope(g.Unfollow), append(base, opts...)...)
}
