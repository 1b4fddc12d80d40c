package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenRepository(t *testing.T) {
	repo := NewMemoryTokenRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "s1")
	assert.True(t, errors.Is(err, ErrTokenNotFound))

	require.NoError(t, repo.Save(ctx, "s1", "token-a"))
	require.NoError(t, repo.Save(ctx, "s2", "token-b"))
	token, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "token-a", token)

	require.NoError(t, repo.Delete(ctx, "s1"))
	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err = repo.Get(ctx, "s1")
	assert.True(t, errors.Is(err, ErrTokenNotFound))

	token, err = repo.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "token-b", token)
}

func TestTokenKeyNamespacing(t *testing.T) {
	assert.Equal(t, "gapi_token:abc", tokenKey("abc"))
}
