// Package social implements the backend side of follows, feeds and user
// suggestions that the gateway talks to.
package social

import (
	"context"
	"errors"
	"time"
)

// Error messages travel to clients verbatim inside failed envelopes, so they
// carry no package prefix.
var (
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
	ErrSelfFollow       = errors.New("cannot follow yourself")
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrInvalidInput     = errors.New("invalid input")
)

const (
	DefaultFeedLimit      = 50
	DefaultSuggestedLimit = 10
	MaxLimit              = 200
)

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Followers   int       `json:"followers"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Location pins a post on the map.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	Location  *Location `json:"location,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Follow is an edge from FollowerID to FolloweeID.
type Follow struct {
	FollowerID string    `json:"followerId"`
	FolloweeID string    `json:"followeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FollowRequest is the body of POST /follow and POST /unfollow: the current
// user follows (or stops following) UserID.
type FollowRequest struct {
	UserID        string `json:"userId"`
	CurrentUserID string `json:"currentUserId"`
}

// Repository abstracts persistence of users, posts and follow edges.
type Repository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	CreatePost(ctx context.Context, post Post) error
	// Follow stores an edge; it returns ErrAlreadyFollowing for duplicates
	// and ErrUserNotFound when either side is missing.
	Follow(ctx context.Context, edge Follow) error
	// Unfollow returns ErrNotFollowing when no edge exists.
	Unfollow(ctx context.Context, followerID, followeeID string) error
	Followers(ctx context.Context, userID string) ([]User, error)
	Following(ctx context.Context, userID string) ([]User, error)
	// PostsByAuthors lists posts newest first.
	PostsByAuthors(ctx context.Context, authorIDs []string, limit int) ([]Post, error)
	// Suggest lists users that userID neither is nor follows, most followed
	// first.
	Suggest(ctx context.Context, userID string, limit int) ([]User, error)
	Ping(ctx context.Context) error
}

// DefaultSchema creates the tables used by the PostgreSQL repository.
const DefaultSchema = `CREATE TABLE IF NOT EXISTS social_users (
    id TEXT PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS social_posts (
    id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL REFERENCES social_users(id) ON DELETE CASCADE,
    body TEXT NOT NULL,
    lat DOUBLE PRECISION,
    lng DOUBLE PRECISION,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS social_posts_author_created_idx ON social_posts (author_id, created_at DESC);
CREATE TABLE IF NOT EXISTS social_follows (
    follower_id TEXT NOT NULL REFERENCES social_users(id) ON DELETE CASCADE,
    followee_id TEXT NOT NULL REFERENCES social_users(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (follower_id, followee_id)
);`

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
