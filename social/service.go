package social

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adeilh/rakh-sync/cache"
)

const (
	kindFeed      = "feed"
	kindSuggested = "suggested"
)

// ServiceConfig wires dependencies for Service.
type ServiceConfig struct {
	Repository Repository
	// Cache, when set, holds feed and suggestion responses for CacheTTL.
	Cache       cache.Store
	CachePrefix string
	CacheTTL    time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
	IDFactory   func() string
}

// Service applies the follow rules on top of a Repository.
type Service struct {
	repo   Repository
	cache  *responseCache
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, ErrInvalidInput
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		repo:   cfg.Repository,
		cache:  newResponseCache(cfg.Cache, cfg.CachePrefix, cfg.CacheTTL, logger),
		logger: logger.Named("social"),
		now:    cfg.Now,
		newID:  cfg.IDFactory,
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc, nil
}

// CreateUser registers a user with a unique username. Cached suggestion
// lists are retired so the new user shows up in them.
func (s *Service) CreateUser(ctx context.Context, username, displayName string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, ErrInvalidInput
	}
	user := User{
		ID:          s.newID(),
		Username:    username,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	s.cache.bumpEpoch(ctx, user.ID)
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetUser(ctx, id)
}

// CreatePost publishes a post and drops the cached feeds that include it.
func (s *Service) CreatePost(ctx context.Context, authorID, body string, loc *Location) (Post, error) {
	body = strings.TrimSpace(body)
	if authorID == "" || body == "" {
		return Post{}, ErrInvalidInput
	}
	post := Post{
		ID:        s.newID(),
		AuthorID:  authorID,
		Body:      body,
		Location:  loc,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreatePost(ctx, post); err != nil {
		return Post{}, err
	}

	if s.cache != nil {
		s.cache.drop(ctx, authorID, kindFeed)
		followers, err := s.repo.Followers(ctx, authorID)
		if err != nil {
			s.logger.Warn("feed cache not refreshed", zap.String("author", authorID), zap.Error(err))
		}
		for _, f := range followers {
			s.cache.drop(ctx, f.ID, kindFeed)
		}
	}
	return post, nil
}

// Follow makes actor follow target.
func (s *Service) Follow(ctx context.Context, actor, target string) (Follow, error) {
	if actor == "" || target == "" {
		return Follow{}, ErrInvalidInput
	}
	if actor == target {
		return Follow{}, ErrSelfFollow
	}
	edge := Follow{FollowerID: actor, FolloweeID: target, CreatedAt: s.now()}
	if err := s.repo.Follow(ctx, edge); err != nil {
		return Follow{}, err
	}
	s.cache.drop(ctx, actor, kindFeed, kindSuggested)
	s.logger.Debug("follow created", zap.String("follower", actor), zap.String("followee", target))
	return edge, nil
}

// Unfollow removes the edge from actor to target.
func (s *Service) Unfollow(ctx context.Context, actor, target string) error {
	if actor == "" || target == "" {
		return ErrInvalidInput
	}
	if actor == target {
		return ErrSelfFollow
	}
	if err := s.repo.Unfollow(ctx, actor, target); err != nil {
		return err
	}
	s.cache.drop(ctx, actor, kindFeed, kindSuggested)
	s.logger.Debug("follow removed", zap.String("follower", actor), zap.String("followee", target))
	return nil
}

// Feed lists the newest posts by userID and everyone they follow.
func (s *Service) Feed(ctx context.Context, userID string) ([]Post, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	var posts []Post
	if s.cache.get(ctx, kindFeed, userID, &posts) {
		return posts, nil
	}

	following, err := s.repo.Following(ctx, userID)
	if err != nil {
		return nil, err
	}
	authors := make([]string, 0, len(following)+1)
	authors = append(authors, userID)
	for _, u := range following {
		authors = append(authors, u.ID)
	}
	posts, err = s.repo.PostsByAuthors(ctx, authors, DefaultFeedLimit)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, kindFeed, userID, posts)
	return posts, nil
}

// SuggestedUsers lists up to limit users that userID does not follow yet.
func (s *Service) SuggestedUsers(ctx context.Context, userID string, limit int) ([]User, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	limit = clampLimit(limit, DefaultSuggestedLimit)

	var users []User
	if !s.cache.get(ctx, kindSuggested, userID, &users) {
		var err error
		users, err = s.repo.Suggest(ctx, userID, MaxLimit)
		if err != nil {
			return nil, err
		}
		s.cache.set(ctx, kindSuggested, userID, users)
	}
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *Service) Followers(ctx context.Context, userID string) ([]User, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.Followers(ctx, userID)
}

func (s *Service) Following(ctx context.Context, userID string) ([]User, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.Following(ctx, userID)
}

// Ping reports whether the repository is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
