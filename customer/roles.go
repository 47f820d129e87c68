package customer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// RoleResolver looks up a customer's role.
type RoleResolver interface {
	RoleOf(ctx context.Context, id uuid.UUID) (Role, error)
}

// CachedRoles memoizes role lookups. Roles change rarely and the move and
// dock-toggle paths consult them on every call, so a short TTL keeps the
// database out of the hot path.
type CachedRoles struct {
	inner RoleResolver
	store *cache.Cache
}

func NewCachedRoles(inner RoleResolver, ttl time.Duration) *CachedRoles {
	return &CachedRoles{
		inner: inner,
		store: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedRoles) RoleOf(ctx context.Context, id uuid.UUID) (Role, error) {
	key := id.String()
	if v, found := c.store.Get(key); found {
		return v.(Role), nil
	}
	role, err := c.inner.RoleOf(ctx, id)
	if err != nil {
		return "", err
	}
	c.store.SetDefault(key, role)
	return role, nil
}

// IsOperator satisfies the station mover's role-check collaborator.
func (c *CachedRoles) IsOperator(ctx context.Context, id uuid.UUID) (bool, error) {
	role, err := c.RoleOf(ctx, id)
	if err != nil {
		return false, err
	}
	return role == RoleOperator, nil
}
