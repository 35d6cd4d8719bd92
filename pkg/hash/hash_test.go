package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hashed, err := HashPassword("p@ssw0rd")
	require.NoError(t, err)
	assert.NotEqual(t, "p@ssw0rd", hashed)

	assert.True(t, CheckPasswordHash("p@ssw0rd", hashed))
	assert.False(t, CheckPasswordHash("wrong", hashed))
}

func TestHashPasswordSalted(t *testing.T) {
	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	// bcrypt 自带盐，两次哈希不相同但都能验证通过
	assert.NotEqual(t, h1, h2)
	assert.True(t, CheckPasswordHash("same", h1))
	assert.True(t, CheckPasswordHash("same", h2))
}
