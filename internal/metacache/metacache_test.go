package metacache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "meta.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := open(t, time.Hour)

	_, ok := c.Get("https://example.com/a")
	assert.False(t, ok)

	require.NoError(t, c.Put("https://example.com/a", []byte(`{"v":1}`)))
	body, ok := c.Get("https://example.com/a")
	require.True(t, ok)
	assert.Equal(t, `{"v":1}`, string(body))
}

func TestExpiry(t *testing.T) {
	c := open(t, -time.Second) // everything is already stale

	require.NoError(t, c.Put("u", []byte("body")))
	_, ok := c.Get("u")
	assert.False(t, ok)
}

func TestClearAndSize(t *testing.T) {
	c := open(t, time.Hour)

	require.NoError(t, c.Put("a", []byte("12345")))
	require.NoError(t, c.Put("b", []byte("123")))

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	require.NoError(t, c.Clear())
	size, err = c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}
