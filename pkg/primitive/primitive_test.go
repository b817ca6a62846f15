package primitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Kyber1024(t *testing.T) {
	kp, err := Generate(Kyber1024)
	require.NoError(t, err)
	require.NotNil(t, kp)
	assert.Equal(t, Kyber1024, kp.Algorithm)
	assert.NotEmpty(t, kp.PublicKey)
	assert.NotEmpty(t, kp.PrivateKey)
}

func TestGenerate_Dilithium5(t *testing.T) {
	kp, err := Generate(Dilithium5)
	require.NoError(t, err)
	require.NotNil(t, kp)
	assert.Equal(t, Dilithium5, kp.Algorithm)
	assert.NotEmpty(t, kp.PublicKey)
	assert.NotEmpty(t, kp.PrivateKey)
}

func TestGenerate_UnsupportedAlgorithm(t *testing.T) {
	_, err := Generate(Name("RSA-2048"))
	require.Error(t, err)
	var unsupported ErrUnsupportedAlgorithm
	require.ErrorAs(t, err, &unsupported)
}

func TestEncapsulateDecapsulate_RoundTrip(t *testing.T) {
	kp, err := Generate(Kyber1024)
	require.NoError(t, err)

	ciphertext, sharedSecret, err := Encapsulate(Kyber1024, kp.PublicKey)
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)
	require.NotEmpty(t, sharedSecret)

	recovered, err := Decapsulate(Kyber1024, kp.PrivateKey, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, sharedSecret, recovered)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	kp, err := Generate(Dilithium5)
	require.NoError(t, err)

	message := []byte("lifecycle transition: active -> pending_rotation")
	sig, err := Sign(Dilithium5, kp.PrivateKey, message)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	ok, err := Verify(Dilithium5, kp.PublicKey, message, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_RejectsTamperedMessage(t *testing.T) {
	kp, err := Generate(Dilithium5)
	require.NoError(t, err)

	sig, err := Sign(Dilithium5, kp.PrivateKey, []byte("original"))
	require.NoError(t, err)

	ok, err := Verify(Dilithium5, kp.PublicKey, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurposeOf(t *testing.T) {
	p, ok := PurposeOf(Kyber1024)
	require.True(t, ok)
	assert.Equal(t, PurposeEncapsulation, p)

	p, ok = PurposeOf(Dilithium5)
	require.True(t, ok)
	assert.Equal(t, PurposeSignature, p)

	_, ok = PurposeOf(Name("unknown"))
	assert.False(t, ok)
}
