package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	testpg "github.com/adeilh/rakh-sync/internal/testutil/postgrescontainer"
	"github.com/adeilh/rakh-sync/social"
)

const testTimeout = 5 * time.Second

var setupErr error

func TestMain(m *testing.M) {
	setupErr = testpg.Setup()
	code := m.Run()
	if setupErr == nil {
		_ = testpg.Teardown()
	}
	os.Exit(code)
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background()); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("expected ErrMissingDSN got %v", err)
	}
	if _, _, err := OpenRepository(context.Background()); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("OpenRepository() error = %v, want ErrMissingDSN", err)
	}
}

func TestWithPoolKeepsIdleWithinOpen(t *testing.T) {
	cfg := defaultOptions()
	WithPool(PoolOptions{MaxOpen: 2})(&cfg)
	if cfg.Pool.MaxOpen != 2 || cfg.Pool.MaxIdle != 2 {
		t.Fatalf("pool = %+v, want open 2 idle 2", cfg.Pool)
	}
	if cfg.Pool.MaxLifetime != 30*time.Minute {
		t.Fatalf("lifetime = %s, want default", cfg.Pool.MaxLifetime)
	}
}

func TestMigrateRequiresDB(t *testing.T) {
	if err := Migrate(context.Background(), nil, social.DefaultSchema); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestFollowRepository(t *testing.T) {
	db := openTestDB(t)
	ensureSchema(t, db)
	repo := NewFollowRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, name := range []string{"alice", "bob", "carol"} {
		u := social.User{ID: name, Username: name, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if err := repo.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser(%s) error: %v", name, err)
		}
	}
	if err := repo.CreateUser(ctx, social.User{ID: "alice-2", Username: "alice", CreatedAt: now}); !errors.Is(err, social.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken got %v", err)
	}

	if err := repo.Follow(ctx, social.Follow{FollowerID: "alice", FolloweeID: "bob", CreatedAt: now}); err != nil {
		t.Fatalf("Follow error: %v", err)
	}
	if err := repo.Follow(ctx, social.Follow{FollowerID: "alice", FolloweeID: "bob", CreatedAt: now}); !errors.Is(err, social.ErrAlreadyFollowing) {
		t.Fatalf("expected ErrAlreadyFollowing got %v", err)
	}
	if err := repo.Follow(ctx, social.Follow{FollowerID: "alice", FolloweeID: "ghost", CreatedAt: now}); !errors.Is(err, social.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}

	for i := 0; i < 3; i++ {
		p := social.Post{
			ID:        fmt.Sprintf("post-%d", i),
			AuthorID:  "bob",
			Body:      fmt.Sprintf("post %d", i),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			p.Location = &social.Location{Lat: 51.5, Lng: -0.12}
		}
		if err := repo.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost error: %v", err)
		}
	}

	posts, err := repo.PostsByAuthors(ctx, []string{"alice", "bob"}, 2)
	if err != nil {
		t.Fatalf("PostsByAuthors error: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "post-2" {
		t.Fatalf("expected newest two posts got %+v", posts)
	}
	all, _ := repo.PostsByAuthors(ctx, []string{"bob"}, 10)
	if last := all[len(all)-1]; last.Location == nil || last.Location.Lat != 51.5 {
		t.Fatalf("expected location on oldest post got %+v", last.Location)
	}

	followers, err := repo.Followers(ctx, "bob")
	if err != nil || len(followers) != 1 || followers[0].ID != "alice" {
		t.Fatalf("Followers = %+v, %v", followers, err)
	}
	following, err := repo.Following(ctx, "alice")
	if err != nil || len(following) != 1 || following[0].Followers != 1 {
		t.Fatalf("Following = %+v, %v", following, err)
	}

	suggested, err := repo.Suggest(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Suggest error: %v", err)
	}
	if len(suggested) != 1 || suggested[0].ID != "carol" {
		t.Fatalf("expected carol only got %+v", suggested)
	}
	if _, err := repo.Suggest(ctx, "ghost", 10); !errors.Is(err, social.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}

	if err := repo.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Unfollow error: %v", err)
	}
	if err := repo.Unfollow(ctx, "alice", "bob"); !errors.Is(err, social.ErrNotFollowing) {
		t.Fatalf("expected ErrNotFollowing got %v", err)
	}

	if _, err := repo.GetUser(ctx, "missing"); !errors.Is(err, social.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres container unavailable: %v", setupErr)
	}
	db, err := Open(context.Background(), WithDSN(testpg.DSN()), WithPool(PoolOptions{MaxOpen: 4}))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ensureSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := Migrate(ctx, db,
		"DROP TABLE IF EXISTS social_follows, social_posts, social_users",
		social.DefaultSchema,
	)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}
