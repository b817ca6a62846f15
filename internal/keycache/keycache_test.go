package keycache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet_RoundTrip(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	require.NoError(t, c.Put("key-1", []byte("private-key-bytes")))

	got, ok := c.Get("key-1")
	require.True(t, ok)
	assert.Equal(t, []byte("private-key-bytes"), got)
}

func TestGet_MissingReturnsFalse(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestGet_ExpiredEntryIsEvicted(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Put("key-1", []byte("secret")))
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("key-1")
	assert.False(t, ok)
}

func TestInvalidate_RemovesEntry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	require.NoError(t, c.Put("key-1", []byte("secret")))
	c.Invalidate("key-1")

	_, ok := c.Get("key-1")
	assert.False(t, ok)
}

func TestPut_OverwritesExistingEntry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	require.NoError(t, c.Put("key-1", []byte("first")))
	require.NoError(t, c.Put("key-1", []byte("second")))

	got, ok := c.Get("key-1")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
}

func TestClose_ZeroizesAllEntries(t *testing.T) {
	c := New(time.Minute)
	require.NoError(t, c.Put("key-1", []byte("secret")))
	c.Close()

	_, ok := c.Get("key-1")
	assert.False(t, ok)
}
