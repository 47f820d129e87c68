package customer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	roles map[uuid.UUID]Role
	calls int
}

func (r *countingResolver) RoleOf(_ context.Context, id uuid.UUID) (Role, error) {
	r.calls++
	role, ok := r.roles[id]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

func TestRoleOfMemoizes(t *testing.T) {
	id := uuid.New()
	inner := &countingResolver{roles: map[uuid.UUID]Role{id: RoleRider}}
	cached := NewCachedRoles(inner, time.Minute)

	for i := 0; i < 3; i++ {
		role, err := cached.RoleOf(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, RoleRider, role)
	}
	assert.Equal(t, 1, inner.calls, "repeated lookups must hit the cache")
}

func TestRoleOfDoesNotCacheErrors(t *testing.T) {
	id := uuid.New()
	inner := &countingResolver{roles: map[uuid.UUID]Role{}}
	cached := NewCachedRoles(inner, time.Minute)

	_, err := cached.RoleOf(context.Background(), id)
	require.Error(t, err)

	// The customer shows up; the failed lookup must not have been memoized.
	inner.roles[id] = RoleOperator
	role, err := cached.RoleOf(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, role)
	assert.Equal(t, 2, inner.calls)
}

func TestIsOperator(t *testing.T) {
	op, rider := uuid.New(), uuid.New()
	inner := &countingResolver{roles: map[uuid.UUID]Role{
		op:    RoleOperator,
		rider: RoleRider,
	}}
	cached := NewCachedRoles(inner, time.Minute)

	ok, err := cached.IsOperator(context.Background(), op)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cached.IsOperator(context.Background(), rider)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cached.IsOperator(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}
