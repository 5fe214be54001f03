package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/adeilh/rakh-sync/social"
)

// FollowRepository persists social users, posts and follow edges inside
// PostgreSQL using the tables of social.DefaultSchema.
type FollowRepository struct {
	db *sql.DB
}

var _ social.Repository = (*FollowRepository)(nil)

// NewFollowRepository wraps an existing *sql.DB connection.
func NewFollowRepository(db *sql.DB) *FollowRepository {
	return &FollowRepository{db: db}
}

const userColumns = `u.id, u.username, u.display_name, u.created_at,
    (SELECT count(*) FROM social_follows c WHERE c.followee_id = u.id)`

func (r *FollowRepository) CreateUser(ctx context.Context, user social.User) error {
	const query = `INSERT INTO social_users (id, username, display_name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, user.ID, user.Username, user.DisplayName, user.CreatedAt)
	return translateError(err)
}

func (r *FollowRepository) GetUser(ctx context.Context, id string) (social.User, error) {
	query := `SELECT ` + userColumns + ` FROM social_users u WHERE u.id = $1`
	var u social.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt, &u.Followers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return social.User{}, social.ErrUserNotFound
		}
		return social.User{}, translateError(err)
	}
	return u, nil
}

func (r *FollowRepository) CreatePost(ctx context.Context, post social.Post) error {
	const query = `INSERT INTO social_posts (id, author_id, body, lat, lng, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	var lat, lng sql.NullFloat64
	if post.Location != nil {
		lat = sql.NullFloat64{Float64: post.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: post.Location.Lng, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query, post.ID, post.AuthorID, post.Body, lat, lng, post.CreatedAt)
	return translateError(err)
}

func (r *FollowRepository) Follow(ctx context.Context, edge social.Follow) error {
	const query = `INSERT INTO social_follows (follower_id, followee_id, created_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, edge.FollowerID, edge.FolloweeID, edge.CreatedAt)
	return translateError(err)
}

func (r *FollowRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	const query = `DELETE FROM social_follows WHERE follower_id = $1 AND followee_id = $2`
	res, err := r.db.ExecContext(ctx, query, followerID, followeeID)
	if err != nil {
		return translateError(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return social.ErrNotFollowing
	}
	return nil
}

func (r *FollowRepository) Followers(ctx context.Context, userID string) ([]social.User, error) {
	query := `SELECT ` + userColumns + ` FROM social_follows f
        JOIN social_users u ON u.id = f.follower_id
        WHERE f.followee_id = $1 ORDER BY u.username`
	return r.listUsers(ctx, userID, query, userID)
}

func (r *FollowRepository) Following(ctx context.Context, userID string) ([]social.User, error) {
	query := `SELECT ` + userColumns + ` FROM social_follows f
        JOIN social_users u ON u.id = f.followee_id
        WHERE f.follower_id = $1 ORDER BY u.username`
	return r.listUsers(ctx, userID, query, userID)
}

func (r *FollowRepository) Suggest(ctx context.Context, userID string, limit int) ([]social.User, error) {
	query := `SELECT ` + userColumns + ` FROM social_users u
        WHERE u.id <> $1 AND NOT EXISTS (
            SELECT 1 FROM social_follows f WHERE f.follower_id = $1 AND f.followee_id = u.id
        )
        ORDER BY 5 DESC, u.username LIMIT $2`
	return r.listUsers(ctx, userID, query, userID, limit)
}

func (r *FollowRepository) PostsByAuthors(ctx context.Context, authorIDs []string, limit int) ([]social.Post, error) {
	const query = `SELECT id, author_id, body, lat, lng, created_at FROM social_posts
        WHERE author_id = ANY($1) ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(authorIDs), limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	posts := []social.Post{}
	for rows.Next() {
		var (
			p        social.Post
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &lat, &lng, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan post: %w", err)
		}
		if lat.Valid && lng.Valid {
			p.Location = &social.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *FollowRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// listUsers runs a user query after checking that userID exists, so an
// unknown user is an error rather than an empty list.
func (r *FollowRepository) listUsers(ctx context.Context, userID, query string, args ...any) ([]social.User, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM social_users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, translateError(err)
	}
	if !exists {
		return nil, social.ErrUserNotFound
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	users := []social.User{}
	for rows.Next() {
		var u social.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt, &u.Followers); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			if pqErr.Table == "social_users" {
				return social.ErrUsernameTaken
			}
			return social.ErrAlreadyFollowing
		case "23503":
			return social.ErrUserNotFound
		case "22P02":
			return social.ErrUserNotFound
		}
	}
	return err
}
