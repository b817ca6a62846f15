package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/pqkeys/internal/coreerrors"
	"github.com/systmms/pqkeys/internal/keystore"
	"github.com/systmms/pqkeys/internal/keystore/file"
	"github.com/systmms/pqkeys/internal/protector/local"
	"github.com/systmms/pqkeys/pkg/primitive"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	store, err := file.New(t.TempDir())
	require.NoError(t, err)

	backend, err := local.New([]byte("test-passphrase"), local.Params{Time: 1, MemKiB: 64 * 1024, Threads: 1})
	require.NoError(t, err)

	c := New(Config{Store: store, Protector: backend, CacheTTL: time.Minute})
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func TestGenerate_PersistsActiveKey(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, keystore.Active, rec.State)
	assert.NotEmpty(t, rec.PublicKey)
}

func TestGenerate_UnsupportedAlgorithmFails(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Generate(context.Background(), primitive.Name("RSA"), GenerateOptions{})
	require.Error(t, err)
	code, ok := coreerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, coreerrors.InvalidParameter, code)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	blob, err := c.Encrypt(context.Background(), rec.KeyID, plaintext)
	require.NoError(t, err)

	recovered, err := c.Decrypt(context.Background(), rec.KeyID, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Dilithium5, GenerateOptions{})
	require.NoError(t, err)

	message := []byte("approve rotation")
	sig, err := c.Sign(context.Background(), rec.KeyID, message)
	require.NoError(t, err)

	valid, err := c.Verify(context.Background(), rec.KeyID, message, sig)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestEncryptToPublicKey_DecryptRoundTrip(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	plaintext := []byte("stateless payload, no key_id involved")
	blob, err := EncryptToPublicKey(primitive.Kyber1024, rec.PublicKey, plaintext)
	require.NoError(t, err)

	recovered, err := c.Decrypt(context.Background(), rec.KeyID, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestVerifyWithPublicKey_RoundTrip(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Dilithium5, GenerateOptions{})
	require.NoError(t, err)

	message := []byte("stateless verify, no key_id involved")
	sig, err := c.Sign(context.Background(), rec.KeyID, message)
	require.NoError(t, err)

	valid, err := VerifyWithPublicKey(primitive.Dilithium5, rec.PublicKey, message, sig)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = VerifyWithPublicKey(primitive.Dilithium5, rec.PublicKey, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestEncrypt_WrongPurposeFails(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Dilithium5, GenerateOptions{})
	require.NoError(t, err)

	_, err = c.Encrypt(context.Background(), rec.KeyID, []byte("x"))
	require.Error(t, err)
	code, _ := coreerrors.CodeOf(err)
	assert.Equal(t, coreerrors.InvalidParameter, code)
}

func TestRotate_MarksPredecessorPendingAndCreatesSuccessor(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	successor, err := c.Rotate(context.Background(), rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, rec.KeyID, successor.PredecessorID)
	assert.Equal(t, 2, successor.Generation)

	old, err := c.store.Get(rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, keystore.PendingRotation, old.State)
	assert.False(t, old.ExpiresAt.IsZero())
}

func TestRotate_SecondCallerConvergesOnSameSuccessor(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	winner, err := c.Rotate(context.Background(), rec.KeyID)
	require.NoError(t, err)

	// A second Rotate on the now-PendingRotation predecessor must not
	// error: it resolves to the same successor the first caller produced.
	loser, err := c.Rotate(context.Background(), rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, winner.KeyID, loser.KeyID)
}

func TestRotate_TerminalKeyFails(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Revoke(context.Background(), rec.KeyID, "leaked"))

	_, err = c.Rotate(context.Background(), rec.KeyID)
	require.Error(t, err)
	code, _ := coreerrors.CodeOf(err)
	assert.Equal(t, coreerrors.KeyNotActive, code)
}

func TestRotateExpiring_RotatesActiveKeysPastExpiry(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{ExpiresIn: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := c.RotateExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := c.store.Get(rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, keystore.PendingRotation, old.State)
}

func TestGenerate_DefaultsExpiryFromKeyRotationInterval(t *testing.T) {
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	backend, err := local.New([]byte("test-passphrase"), local.Params{Time: 1, MemKiB: 64 * 1024, Threads: 1})
	require.NoError(t, err)
	c := New(Config{Store: store, Protector: backend, CacheTTL: time.Minute, KeyRotationInterval: time.Hour})
	require.NoError(t, c.Initialize(context.Background()))

	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, rec.ExpiresAt.IsZero())
}

func TestRevoke_MarksCompromisedAndBlocksFurtherUse(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Revoke(context.Background(), rec.KeyID, "key material suspected leaked"))

	_, err = c.Encrypt(context.Background(), rec.KeyID, []byte("x"))
	require.Error(t, err)
	code, _ := coreerrors.CodeOf(err)
	assert.Equal(t, coreerrors.KeyNotActive, code)
}

func TestRevoke_AlreadyTerminalFails(t *testing.T) {
	c := newTestCore(t)
	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Revoke(context.Background(), rec.KeyID, "first"))

	err = c.Revoke(context.Background(), rec.KeyID, "second")
	require.Error(t, err)
}

func TestFinalizeExpired_TransitionsPastGraceKeys(t *testing.T) {
	c := newTestCore(t)
	c.rotationGrace = time.Millisecond

	rec, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)
	_, err = c.Rotate(context.Background(), rec.KeyID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := c.FinalizeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := c.store.Get(rec.KeyID)
	require.NoError(t, err)
	assert.Equal(t, keystore.Expired, old.State)
}

func TestDecrypt_UnknownKeyFails(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Decrypt(context.Background(), "does-not-exist", []byte("junk"))
	require.Error(t, err)
	code, _ := coreerrors.CodeOf(err)
	assert.Equal(t, coreerrors.KeyNotFound, code)
}

func TestHealth_ReportsBackendAndKeyCounts(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.NoError(t, err)

	report, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", report.Status)
	assert.NoError(t, report.BackendHealth)
	assert.Equal(t, 1, report.KeysByState[keystore.Active])
}

func TestNotInitialized_RejectsOperations(t *testing.T) {
	store, err := file.New(t.TempDir())
	require.NoError(t, err)
	backend, err := local.New([]byte("x"), local.Params{Time: 1, MemKiB: 64 * 1024, Threads: 1})
	require.NoError(t, err)
	c := New(Config{Store: store, Protector: backend})

	_, err = c.Generate(context.Background(), primitive.Kyber1024, GenerateOptions{})
	require.Error(t, err)
	code, _ := coreerrors.CodeOf(err)
	assert.Equal(t, coreerrors.NotInitialized, code)
}
