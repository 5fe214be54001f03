package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache/redis"
	"github.com/adeilh/rakh-sync/config"
	"github.com/adeilh/rakh-sync/gateway"
	"github.com/adeilh/rakh-sync/httpx"
	"github.com/adeilh/rakh-sync/mutation"
	"github.com/adeilh/rakh-sync/query"
	"github.com/adeilh/rakh-sync/social"
)

// client is the gateway and query store a client command works through.
type client struct {
	gw     *gateway.Gateway
	store  *query.Store
	logger *zap.Logger
	close  func()
}

// newClient builds the query store from cfg. With a redis cache the
// snapshots survive between invocations and serve as a fallback when the API
// is unreachable.
func (a *app) newClient() *client {
	gw := gateway.New(
		httpx.NewClient(
			httpx.WithBaseURL(a.cfg.API.BaseURL),
			httpx.WithClientTimeout(a.cfg.GetAPITimeout()),
			httpx.WithClientLogger(a.logger),
		),
		gateway.WithLogger(a.logger),
	)

	opts := []query.Option{
		query.WithDefaultStaleTime(a.cfg.GetStaleTime()),
		query.WithGCTime(a.cfg.GetGCTime()),
		query.WithRetry(a.cfg.Query.Retry),
		query.WithLogger(a.logger),
	}
	var rs *redis.Store
	if a.cfg.Cache.Driver == config.CacheRedis {
		rs = redis.NewStore(redisOptions(a.cfg, redisKeyPrefix+"client:"))
		opts = append(opts, query.WithPersister(rs, a.cfg.GetCacheTTL()))
	}
	store := query.NewStore(opts...)

	return &client{
		gw:     gw,
		store:  store,
		logger: a.logger,
		close: func() {
			_ = store.Close()
			if rs != nil {
				_ = rs.Close()
			}
		},
	}
}

func newClientCmds(a *app) []*cobra.Command {
	list := func(use, short string, build func(*gateway.Gateway, string) query.Query[[]social.User]) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <userId>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runQuery(a, cmd, func(c *client) query.Query[[]social.User] { return build(c.gw, args[0]) })
			},
		}
	}

	feed := &cobra.Command{
		Use:   "feed <userId>",
		Short: "Show a user's feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(a, cmd, func(c *client) query.Query[[]social.Post] {
				return gateway.FeedQuery(c.gw, args[0])
			})
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that the API answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c := a.newClient()
			defer c.close()
			if err := c.gw.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	return []*cobra.Command{
		feed,
		list("suggested", "Show users to follow", func(g *gateway.Gateway, id string) query.Query[[]social.User] {
			return gateway.SuggestedUsersQuery(g, id)
		}),
		list("followers", "List a user's followers", func(g *gateway.Gateway, id string) query.Query[[]social.User] {
			return gateway.FollowersQuery(g, id)
		}),
		list("following", "List who a user follows", func(g *gateway.Gateway, id string) query.Query[[]social.User] {
			return gateway.FollowingQuery(g, id)
		}),
		newFollowCmd(a, "follow", "Follow a user", gateway.FollowMutation),
		newFollowCmd(a, "unfollow", "Stop following a user", gateway.UnfollowMutation),
		health,
	}
}

// runQuery fetches through the store. Cached data is printed when the fetch
// fails but a previous value is known.
func runQuery[T any](a *app, cmd *cobra.Command, build func(*client) query.Query[T]) error {
	ctx, cancel := a.commandContext(cmd)
	defer cancel()
	c := a.newClient()
	defer c.close()

	q := build(c)
	res := query.Fetch(ctx, c.store, q)
	if res.Err != nil {
		if !res.HasData {
			return res.Err
		}
		c.logger.Warn("showing cached data", zap.Stringer("key", q.Key), zap.Time("fetched_at", res.FetchedAt), zap.Error(res.Err))
	}
	return printJSON(cmd.OutOrStdout(), res.Data)
}

type followMutationFunc func(*query.Store, *gateway.Gateway, ...mutation.Option[gateway.FollowRequest, social.Follow]) *mutation.Mutation[gateway.FollowRequest, social.Follow]

func newFollowCmd(a *app, use, short string, build followMutationFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <actorId> <targetId>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c := a.newClient()
			defer c.close()

			m := build(c.store, c.gw, mutation.WithLogger[gateway.FollowRequest, social.Follow](a.logger))
			in := m.Mutate(ctx, gateway.FollowRequest{UserID: args[1], CurrentUserID: args[0]})
			if err := in.Err(); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return printJSON(cmd.OutOrStdout(), in.Data())
		},
	}
}
