package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()

	prevConn, prevIdentity := r.Bind("bot1", "c1")
	assert.Empty(t, prevConn)
	assert.Empty(t, prevIdentity)

	prevConn, prevIdentity = r.Bind("bot1", "c2")
	assert.Equal(t, "c1", prevConn)
	assert.Empty(t, prevIdentity)

	conn, ok := r.ConnectionOf("bot1")
	assert.True(t, ok)
	assert.Equal(t, "c2", conn)
	_, ok = r.IdentityOf("c1")
	assert.False(t, ok)

	assert.False(t, r.Release("bot1", "c1"), "stale connection must not release")
	assert.True(t, r.Release("bot1", "c2"))
	assert.Zero(t, r.Len())
}

func TestRegistryRebindSameConnection(t *testing.T) {
	r := NewRegistry()
	r.Bind("bot1", "c1")

	prevConn, prevIdentity := r.Bind("bot1", "c1")
	assert.Empty(t, prevConn)
	assert.Empty(t, prevIdentity)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConnectionSwitchesIdentity(t *testing.T) {
	r := NewRegistry()
	r.Bind("bot1", "c1")

	prevConn, prevIdentity := r.Bind("bot2", "c1")
	assert.Empty(t, prevConn)
	assert.Equal(t, "bot1", prevIdentity)

	_, ok := r.ConnectionOf("bot1")
	assert.False(t, ok)
	identity, ok := r.IdentityOf("c1")
	assert.True(t, ok)
	assert.Equal(t, "bot2", identity)
	assert.Equal(t, 1, r.Len())
}
