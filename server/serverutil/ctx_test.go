package serverutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, AddressFromContext(ctx))
	assert.False(t, IsSecure(ctx))

	ctx = WithAddress(ctx, "https://auth.example.com")
	assert.Equal(t, "https://auth.example.com", AddressFromContext(ctx))
	assert.True(t, IsSecure(ctx))

	assert.False(t, IsSecure(WithAddress(ctx, "http://localhost:8000")))
}
