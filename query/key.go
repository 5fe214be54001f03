package query

import (
	"slices"
	"strconv"
	"strings"
)

// Tag names the resource a query reads, e.g. "feed".
type Tag string

// Resource tags used by the social API.
const (
	TagFeed           Tag = "feed"
	TagSuggestedUsers Tag = "suggestedUsers"
	TagFollowers      Tag = "followers"
	TagFollowing      Tag = "following"
)

// Key identifies a cached query: a resource tag plus ordered scope
// parameters. Two keys are equal iff the tag and every parameter match.
type Key struct {
	tag    Tag
	params []string
}

// NewKey builds a key. params are copied.
func NewKey(tag Tag, params ...string) Key {
	return Key{tag: tag, params: slices.Clone(params)}
}

// Tag returns the resource tag.
func (k Key) Tag() Tag { return k.tag }

// Params returns a copy of the scope parameters.
func (k Key) Params() []string { return slices.Clone(k.params) }

// Equal reports structural equality.
func (k Key) Equal(other Key) bool {
	return k.tag == other.tag && slices.Equal(k.params, other.params)
}

// String renders the canonical form, e.g. feed("user-1"). Parameters are
// quoted so distinct keys never collide.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.tag))
	b.WriteByte('(')
	for i, p := range k.params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(p))
	}
	b.WriteByte(')')
	return b.String()
}

// hasPrefix reports whether k's tag equals tag and its params start with prefix.
func (k Key) hasPrefix(tag Tag, prefix []string) bool {
	if k.tag != tag || len(prefix) > len(k.params) {
		return false
	}
	return slices.Equal(k.params[:len(prefix)], prefix)
}

// Predicate selects keys for invalidation or removal.
type Predicate func(Key) bool

// Exact matches a single key.
func Exact(key Key) Predicate {
	return func(k Key) bool { return k.Equal(key) }
}

// Keys matches any of the given keys.
func Keys(keys ...Key) Predicate {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k.String()] = struct{}{}
	}
	return func(k Key) bool {
		_, ok := set[k.String()]
		return ok
	}
}

// ByTag matches every key of a resource.
func ByTag(tag Tag) Predicate {
	return func(k Key) bool { return k.tag == tag }
}

// TagPrefix matches keys of tag whose parameters start with params.
func TagPrefix(tag Tag, params ...string) Predicate {
	prefix := slices.Clone(params)
	return func(k Key) bool { return k.hasPrefix(tag, prefix) }
}

// All matches every key.
func All() Predicate {
	return func(Key) bool { return true }
}

// Feed is the key of a user's feed.
func Feed(userID string) Key { return NewKey(TagFeed, userID) }

// SuggestedUsers is the key of a user's follow suggestions.
func SuggestedUsers(userID string) Key { return NewKey(TagSuggestedUsers, userID) }

// Followers is the key of a user's follower list.
func Followers(userID string) Key { return NewKey(TagFollowers, userID) }

// Following is the key of the list of users someone follows.
func Following(userID string) Key { return NewKey(TagFollowing, userID) }
