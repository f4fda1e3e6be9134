package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// REDIS_URL=redis://localhost:6379/15
func TestRedisStore_RoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("auth:redis_store_test - REDIS_URL not set, skipping")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	id := uuid.NewString()
	require.NoError(t, store.Save(ctx, &Session{ID: id, UserID: "user_1", Role: "admin"}, time.Minute))

	s, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user_1", s.UserID)
	assert.True(t, s.IsAdmin())

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url")
	assert.Error(t, err)
}
