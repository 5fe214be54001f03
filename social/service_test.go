package social

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakh-sync/cache/memory"
)

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	cache *memory.Store
	clock time.Time
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	f := &fixture{repo: NewMemoryRepository(), clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := ServiceConfig{
		Repository: f.repo,
		Now: func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		},
	}
	seq := 0
	cfg.IDFactory = func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	if withCache {
		f.cache = memory.NewStore()
		cfg.Cache = f.cache
		cfg.CacheTTL = time.Minute
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) user(t *testing.T, name string) User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), name, "")
	require.NoError(t, err)
	return u
}

func TestNewServiceRequiresRepository(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFollowRules(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	edge, err := f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, edge.FollowerID)
	assert.Equal(t, bob.ID, edge.FolloweeID)

	_, err = f.svc.Follow(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, ErrAlreadyFollowing)
	assert.EqualError(t, err, "already following")

	_, err = f.svc.Follow(ctx, alice.ID, alice.ID)
	assert.ErrorIs(t, err, ErrSelfFollow)

	_, err = f.svc.Follow(ctx, alice.ID, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	followers, err := f.svc.Followers(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].Username)

	following, err := f.svc.Following(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, 1, following[0].Followers)

	require.NoError(t, f.svc.Unfollow(ctx, alice.ID, bob.ID))
	assert.ErrorIs(t, f.svc.Unfollow(ctx, alice.ID, bob.ID), ErrNotFollowing)
}

func TestFeedIncludesOwnAndFollowedPostsNewestFirst(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")

	_, err := f.svc.CreatePost(ctx, bob.ID, "bob at the pier", &Location{Lat: 1, Lng: 2})
	require.NoError(t, err)
	_, err = f.svc.CreatePost(ctx, carol.ID, "carol hidden", nil)
	require.NoError(t, err)
	_, err = f.svc.CreatePost(ctx, alice.ID, "alice own", nil)
	require.NoError(t, err)

	feed, err := f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "alice own", feed[0].Body)

	_, err = f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	feed, err = f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "alice own", feed[0].Body)
	assert.Equal(t, "bob at the pier", feed[1].Body)
	assert.Equal(t, &Location{Lat: 1, Lng: 2}, feed[1].Location)

	_, err = f.svc.Feed(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSuggestedUsers(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice, bob, carol, dave := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol"), f.user(t, "dave")

	_, err := f.svc.Follow(ctx, bob.ID, dave.ID)
	require.NoError(t, err)
	_, err = f.svc.Follow(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	got, err := f.svc.SuggestedUsers(ctx, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dave", got[0].Username, "most followed first")
	assert.Equal(t, "bob", got[1].Username)

	got, err = f.svc.SuggestedUsers(ctx, alice.ID, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResponseCacheInvalidatedOnFollow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	_, err := f.svc.CreatePost(ctx, bob.ID, "hello", nil)
	require.NoError(t, err)

	suggested, err := f.svc.SuggestedUsers(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, suggested, 1)
	feed, err := f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, feed)
	assert.Equal(t, 3, f.cache.Len(), "feed, suggestions and the user epoch")

	// Writes that bypass the service stay hidden until the cache is dropped.
	require.NoError(t, f.repo.Follow(ctx, Follow{FollowerID: alice.ID, FolloweeID: bob.ID}))
	feed, err = f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, feed)
	require.NoError(t, f.repo.Unfollow(ctx, alice.ID, bob.ID))

	_, err = f.svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.Len())

	feed, err = f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	suggested, err = f.svc.SuggestedUsers(ctx, alice.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, suggested)

	_, err = f.svc.CreatePost(ctx, bob.ID, "again", nil)
	require.NoError(t, err)
	feed, err = f.svc.Feed(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, feed, 2, "new posts drop follower feeds")
}

func TestCreateUserRetiresCachedSuggestions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	suggested, err := f.svc.SuggestedUsers(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, suggested, 1)
	assert.Equal(t, bob.ID, suggested[0].ID)

	carol := f.user(t, "carol")
	suggested, err = f.svc.SuggestedUsers(ctx, alice.ID, 10)
	require.NoError(t, err)
	ids := make([]string, len(suggested))
	for i, u := range suggested {
		ids[i] = u.ID
	}
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, ids)

	// Follow still drops the list cached under the new epoch.
	_, err = f.svc.Follow(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	suggested, err = f.svc.SuggestedUsers(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.Len(t, suggested, 1)
	assert.Equal(t, bob.ID, suggested[0].ID)
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateUser(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.user(t, "alice")
	_, err = f.svc.CreateUser(ctx, "Alice", "")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.CreatePost(ctx, "ghost", "body", nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
