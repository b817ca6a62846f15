package local

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams trades KDF cost for test speed; production callers should use
// DefaultParams.
func testParams() Params {
	return Params{Time: 1, MemKiB: 64 * 1024, Threads: 1}
}

func TestProtectUnprotect_RoundTrip(t *testing.T) {
	b, err := New([]byte("operator passphrase"), testParams())
	require.NoError(t, err)

	plaintext := []byte("dilithium-private-key-bytes")
	blob, err := b.Protect(context.Background(), "key-1", "signature", plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(blob), "L1:"))

	recovered, err := b.Unprotect(context.Background(), "key-1", "signature", blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestUnprotect_WrongKeyIDFails(t *testing.T) {
	b, err := New([]byte("operator passphrase"), testParams())
	require.NoError(t, err)

	blob, err := b.Protect(context.Background(), "key-1", "signature", []byte("secret"))
	require.NoError(t, err)

	_, err = b.Unprotect(context.Background(), "key-2", "signature", blob)
	require.Error(t, err)
}

func TestUnprotect_WrongPassphraseFails(t *testing.T) {
	b1, err := New([]byte("passphrase-a"), testParams())
	require.NoError(t, err)
	b2, err := New([]byte("passphrase-b"), testParams())
	require.NoError(t, err)

	blob, err := b1.Protect(context.Background(), "key-1", "signature", []byte("secret"))
	require.NoError(t, err)

	_, err = b2.Unprotect(context.Background(), "key-1", "signature", blob)
	require.Error(t, err)
}

func TestNew_RejectsEmptySecret(t *testing.T) {
	_, err := New(nil, testParams())
	require.Error(t, err)
}

func TestNew_RejectsParamsBelowFloor(t *testing.T) {
	_, err := New([]byte("x"), Params{Time: 1, MemKiB: 1024, Threads: 1})
	require.Error(t, err)
}

func TestHealth_AlwaysOK(t *testing.T) {
	b, err := New([]byte("x"), testParams())
	require.NoError(t, err)
	assert.NoError(t, b.Health(context.Background()))
}
