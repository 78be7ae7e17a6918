package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, version, err := HashPassword("correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.Equal(t, HashVersionBcrypt, version)
	assert.NotEqual(t, "correct-horse", hash)

	require.NoError(t, VerifyPassword(hash, "correct-horse"))
	require.Error(t, VerifyPassword(hash, "wrong"))
}

func TestHashPasswordTooShort(t *testing.T) {
	_, _, err := HashPassword("short")
	require.Error(t, err)
}

func TestHashPasswordIsSalted(t *testing.T) {
	a, _, err := HashPassword("correct-horse")
	require.NoError(t, err)
	b, _, err := HashPassword("correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
