package kms

import (
	"context"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKMS simulates a KMS key by XOR-wrapping the DEK with a fixed pad,
// enough to exercise the envelope round trip without a live GCP project.
type fakeKMS struct {
	pad []byte
}

func xorWith(data, pad []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ pad[i%len(pad)]
	}
	return out
}

func (f *fakeKMS) Encrypt(_ context.Context, req *kmspb.EncryptRequest, _ ...interface{}) (*kmspb.EncryptResponse, error) {
	return &kmspb.EncryptResponse{Ciphertext: xorWith(req.Plaintext, f.pad)}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, req *kmspb.DecryptRequest, _ ...interface{}) (*kmspb.DecryptResponse, error) {
	return &kmspb.DecryptResponse{Plaintext: xorWith(req.Ciphertext, f.pad)}, nil
}

func (f *fakeKMS) Close() error { return nil }

func TestProtectUnprotect_RoundTrip(t *testing.T) {
	b := newWithClient(&fakeKMS{pad: []byte("kms-pad-bytes")}, "projects/p/locations/l/keyRings/r/cryptoKeys/k")

	plaintext := []byte("kyber-private-key-bytes")
	blob, err := b.Protect(context.Background(), "key-1", "encapsulation", plaintext)
	require.NoError(t, err)
	assert.Contains(t, string(blob), `"b":"kms"`)

	recovered, err := b.Unprotect(context.Background(), "key-1", "encapsulation", blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestUnprotect_ContextMismatchFails(t *testing.T) {
	b := newWithClient(&fakeKMS{pad: []byte("kms-pad-bytes")}, "projects/p/locations/l/keyRings/r/cryptoKeys/k")

	blob, err := b.Protect(context.Background(), "key-1", "encapsulation", []byte("secret"))
	require.NoError(t, err)

	_, err = b.Unprotect(context.Background(), "key-2", "encapsulation", blob)
	require.Error(t, err)
}

func TestHealth_CallsEncrypt(t *testing.T) {
	b := newWithClient(&fakeKMS{pad: []byte("pad")}, "projects/p/locations/l/keyRings/r/cryptoKeys/k")
	assert.NoError(t, b.Health(context.Background()))
}

func TestNew_RequiresKeyName(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
