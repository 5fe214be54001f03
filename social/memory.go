package social

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type followKey struct{ follower, followee string }

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	users     map[string]User
	usernames map[string]string
	posts     []Post
	follows   map[followKey]Follow
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[string]User),
		usernames: make(map[string]string),
		follows:   make(map[followKey]Follow),
	}
}

func (r *MemoryRepository) CreateUser(ctx context.Context, user User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(user.Username)
	if _, ok := r.usernames[name]; ok {
		return ErrUsernameTaken
	}
	if _, ok := r.users[user.ID]; ok {
		return ErrUsernameTaken
	}
	user.Followers = 0
	r.users[user.ID] = user
	r.usernames[name] = user.ID
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.withCountLocked(u), nil
}

func (r *MemoryRepository) CreatePost(ctx context.Context, post Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[post.AuthorID]; !ok {
		return ErrUserNotFound
	}
	r.posts = append(r.posts, post)
	return nil
}

func (r *MemoryRepository) Follow(ctx context.Context, edge Follow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[edge.FollowerID]; !ok {
		return ErrUserNotFound
	}
	if _, ok := r.users[edge.FolloweeID]; !ok {
		return ErrUserNotFound
	}
	k := followKey{edge.FollowerID, edge.FolloweeID}
	if _, ok := r.follows[k]; ok {
		return ErrAlreadyFollowing
	}
	r.follows[k] = edge
	return nil
}

func (r *MemoryRepository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := followKey{followerID, followeeID}
	if _, ok := r.follows[k]; !ok {
		return ErrNotFollowing
	}
	delete(r.follows, k)
	return nil
}

func (r *MemoryRepository) Followers(ctx context.Context, userID string) ([]User, error) {
	return r.edges(ctx, userID, func(k followKey) (string, bool) {
		return k.follower, k.followee == userID
	})
}

func (r *MemoryRepository) Following(ctx context.Context, userID string) ([]User, error) {
	return r.edges(ctx, userID, func(k followKey) (string, bool) {
		return k.followee, k.follower == userID
	})
}

func (r *MemoryRepository) edges(ctx context.Context, userID string, pick func(followKey) (string, bool)) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	out := []User{}
	for k := range r.follows {
		if id, ok := pick(k); ok {
			out = append(out, r.withCountLocked(r.users[id]))
		}
	}
	slices.SortFunc(out, func(a, b User) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (r *MemoryRepository) PostsByAuthors(ctx context.Context, authorIDs []string, limit int) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Post{}
	for _, p := range r.posts {
		if slices.Contains(authorIDs, p.AuthorID) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Suggest(ctx context.Context, userID string, limit int) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	out := []User{}
	for id, u := range r.users {
		if id == userID {
			continue
		}
		if _, ok := r.follows[followKey{userID, id}]; ok {
			continue
		}
		out = append(out, r.withCountLocked(u))
	}
	slices.SortFunc(out, func(a, b User) int {
		if a.Followers != b.Followers {
			return b.Followers - a.Followers
		}
		return strings.Compare(a.Username, b.Username)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) withCountLocked(u User) User {
	n := 0
	for k := range r.follows {
		if k.followee == u.ID {
			n++
		}
	}
	u.Followers = n
	return u
}
