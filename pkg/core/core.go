// Package core implements the Operations Engine: the single entry point
// that ties the Primitive Adapter, the protector backend, the key store,
// the key cache and the audit log together into generate / encrypt /
// decrypt / sign / verify / rotate / revoke. Every public method takes a
// context and is safe to call concurrently; per-key mutual exclusion is
// enforced internally so two goroutines racing to rotate the same key
// never corrupt its state, while unrelated keys proceed independently.
package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/systmms/pqkeys/internal/audit"
	"github.com/systmms/pqkeys/internal/coreerrors"
	"github.com/systmms/pqkeys/internal/keycache"
	"github.com/systmms/pqkeys/internal/keystore"
	"github.com/systmms/pqkeys/internal/logging"
	"github.com/systmms/pqkeys/internal/metrics"
	"github.com/systmms/pqkeys/pkg/primitive"
	"github.com/systmms/pqkeys/pkg/protector"
)

// DefaultRotationGrace is how long a key stays in PendingRotation after a
// successor is generated, giving in-flight encrypt/decrypt callers time to
// move to the new key before the old one is finalized to Expired.
const DefaultRotationGrace = 30 * 24 * time.Hour

// Core is the Operations Engine. Construct one with New, call Initialize
// before any other method, and Shutdown exactly once when done.
type Core struct {
	store     keystore.Store
	protector protector.Protector
	cache     *keycache.Cache
	audit     *audit.Log
	logger    *logging.Logger

	rotationGrace       time.Duration
	keyRotationInterval time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	initialized bool
	mu          sync.RWMutex
}

// Config configures a Core instance.
type Config struct {
	Store         keystore.Store
	Protector     protector.Protector
	Logger        *logging.Logger
	CacheTTL      time.Duration
	RotationGrace time.Duration

	// KeyRotationInterval, when positive, becomes the default ExpiresIn
	// for any Generate call that doesn't set one itself: every key this
	// Core issues then carries a natural expiry, so the rotation
	// scheduler's sweep has something to act on even for callers who
	// never think about rotation.
	KeyRotationInterval time.Duration
}

// New constructs a Core. Call Initialize before use.
func New(cfg Config) *Core {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(false, false)
	}
	grace := cfg.RotationGrace
	if grace <= 0 {
		grace = DefaultRotationGrace
	}
	c := &Core{
		store:               cfg.Store,
		protector:           cfg.Protector,
		cache:               keycache.New(cfg.CacheTTL),
		logger:              logger,
		rotationGrace:       grace,
		keyRotationInterval: cfg.KeyRotationInterval,
		locks:               make(map[string]*sync.Mutex),
	}
	c.audit = audit.New(cfg.Store)
	return c
}

// Initialize verifies the configured protector backend is reachable and
// marks the Core ready to serve operations. It must be called exactly
// once before any other method.
func (c *Core) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.InitMetrics()

	if err := c.protector.Health(ctx); err != nil {
		metrics.SetBackendHealth(c.protector.Name(), false)
		_ = c.audit.RecordSecurity(audit.SystemInitializationFailed, audit.SeverityCritical, "", err.Error())
		return coreerrors.Wrap(coreerrors.BackendUnavailable, "initialize", err)
	}
	metrics.SetBackendHealth(c.protector.Name(), true)

	counts, err := c.store.Count()
	if err != nil {
		_ = c.audit.RecordSecurity(audit.SystemInitializationFailed, audit.SeverityCritical, "", err.Error())
		return coreerrors.Wrap(coreerrors.StorageFailure, "initialize", err)
	}
	for state, n := range counts {
		metrics.SetKeysByState(string(state), n)
	}

	c.initialized = true
	c.logger.Info("Core initialized with %s backend", c.protector.Name())
	_ = c.audit.RecordSecurity(audit.SystemInitialized, audit.SeverityLow, "", "core initialized with "+c.protector.Name()+" backend")
	return nil
}

// Shutdown stops the key cache's janitor and destroys every entry still
// held in memory. It does not close the store or protector backend;
// callers that constructed those themselves are responsible for closing
// them.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Close()
	c.initialized = false
	_ = c.audit.RecordSecurity(audit.SystemShutdown, audit.SeverityLow, "", "core shut down")
	return nil
}

func (c *Core) requireInitialized(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return coreerrors.New(coreerrors.NotInitialized, op, "core has not been initialized or has been shut down")
	}
	return nil
}

func (c *Core) lockFor(keyID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[keyID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[keyID] = l
	}
	return l
}

// GenerateOptions customizes key generation.
type GenerateOptions struct {
	ExpiresIn time.Duration // zero means no expiry
	Tags      map[string]string
}

// Generate creates a new key of the given algorithm, protects its private
// material with the configured backend, and persists the record. Unless
// opts.ExpiresIn overrides it, the key's expiry defaults to the Core's
// configured key_rotation_interval, so it surfaces from ListExpiring (and
// gets rotated) without the caller having to think about rotation at all.
func (c *Core) Generate(ctx context.Context, algorithm primitive.Name, opts GenerateOptions) (rec *keystore.Record, err error) {
	return c.generate(ctx, algorithm, opts, true)
}

func (c *Core) generate(ctx context.Context, algorithm primitive.Name, opts GenerateOptions, reportMasterKeyEvent bool) (rec *keystore.Record, err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation("generate", err == nil, time.Since(start)) }()

	if err := c.requireInitialized("generate"); err != nil {
		return nil, err
	}

	purpose, ok := primitive.PurposeOf(algorithm)
	if !ok {
		return nil, coreerrors.New(coreerrors.InvalidParameter, "generate", fmt.Sprintf("unsupported algorithm %q", algorithm))
	}

	kp, err := primitive.Generate(algorithm)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "generate", err)
	}

	keyID, err := newKeyID()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "generate", err)
	}
	blob, err := c.protector.Protect(ctx, keyID, string(purpose), kp.PrivateKey)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendUnavailable, "generate", err).WithKey(keyID)
	}

	now := time.Now().UTC()
	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = c.keyRotationInterval
	}
	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = now.Add(expiresIn)
	}

	rec = &keystore.Record{
		KeyID:         keyID,
		Algorithm:     string(algorithm),
		Purpose:       string(purpose),
		State:         keystore.Active,
		ProtectorName: c.protector.Name(),
		PublicKey:     kp.PublicKey,
		ProtectedBlob: blob,
		Generation:    1,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
		Tags:          opts.Tags,
	}

	if err := c.store.Insert(rec); err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "generate", err).WithKey(keyID)
	}

	_ = c.audit.RecordLifecycle(keyID, "", keystore.Active, "", "generated", "")
	if reportMasterKeyEvent {
		_ = c.audit.RecordSecurity(audit.MasterKeysGenerated, audit.SeverityLow, keyID, fmt.Sprintf("generated %s key for %s", algorithm, purpose))
	}
	c.refreshStateMetrics()

	return rec, nil
}

// resolveUsable fetches a key record and verifies it is usable for an
// operation: it must exist and must not be in a terminal state.
func (c *Core) resolveUsable(keyID, op string) (*keystore.Record, error) {
	rec, err := c.store.Get(keyID)
	if err != nil {
		if err == keystore.ErrNotFound {
			return nil, coreerrors.New(coreerrors.KeyNotFound, op, "no such key").WithKey(keyID)
		}
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, op, err).WithKey(keyID)
	}
	if rec.State.Terminal() {
		return nil, coreerrors.New(coreerrors.KeyNotActive, op, fmt.Sprintf("key is %s", rec.State)).WithKey(keyID)
	}
	return rec, nil
}

func (c *Core) unprotectPrivateKey(ctx context.Context, rec *keystore.Record) ([]byte, error) {
	if plaintext, ok := c.cache.Get(rec.KeyID); ok {
		return plaintext, nil
	}
	plaintext, err := c.protector.Unprotect(ctx, rec.KeyID, rec.Purpose, rec.ProtectedBlob)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Put(rec.KeyID, plaintext)
	return plaintext, nil
}

// sealedEnvelope is the wire format for Encrypt/Decrypt: the Kyber KEM
// ciphertext needed to recover the shared secret, plus the AES-GCM
// ciphertext of the caller's payload under a key derived from that
// secret via HKDF-SHA256.
type sealedEnvelope struct {
	KEMCiphertext []byte
	Nonce         []byte
	Payload       []byte
}

// EncryptToPublicKey performs hybrid encryption against a raw Kyber
// public key supplied by the caller: it encapsulates a fresh shared
// secret against it, derives an AES-256 key from that secret with HKDF,
// and AES-GCM encrypts plaintext. It has no dependency on a Core or its
// key store — spec.md's encrypt is stateless with respect to the Core,
// taking the recipient's public key directly rather than a key_id, which
// is why this is a package-level function rather than a Core method.
// Decrypt only needs the matching private key's owner to supply a key_id
// whose stored public key matches what was encrypted against here.
func EncryptToPublicKey(algorithm primitive.Name, recipientPublicKey, plaintext []byte) ([]byte, error) {
	purpose, ok := primitive.PurposeOf(algorithm)
	if !ok || purpose != primitive.PurposeEncapsulation {
		return nil, fmt.Errorf("%q is not an encapsulation algorithm", algorithm)
	}

	ciphertext, sharedSecret, err := primitive.Encapsulate(algorithm, recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("encapsulate: %w", err)
	}
	defer zero(sharedSecret)

	info := publicKeyFingerprint(recipientPublicKey)
	aesKey, err := deriveAESKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}
	defer zero(aesKey)

	sealedPayload, nonce, err := aesGCMSeal(aesKey, plaintext, info)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	return encodeEnvelope(sealedEnvelope{KEMCiphertext: ciphertext, Nonce: nonce, Payload: sealedPayload}), nil
}

// Encrypt is the Core-resident convenience form of EncryptToPublicKey: it
// resolves keyID to its stored public key, so callers that already track
// a key_id in this Core's store don't have to fetch and pass the raw key
// themselves.
func (c *Core) Encrypt(ctx context.Context, keyID string, plaintext []byte) (blob []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation("encrypt", err == nil, time.Since(start))
		_ = c.audit.RecordUsage(keyID, "encrypt", "", err == nil, errString(err))
	}()

	if err = c.requireInitialized("encrypt"); err != nil {
		return nil, err
	}
	rec, err := c.resolveUsable(keyID, "encrypt")
	if err != nil {
		return nil, err
	}
	if rec.Purpose != string(primitive.PurposeEncapsulation) {
		return nil, coreerrors.New(coreerrors.InvalidParameter, "encrypt", "key is not an encapsulation key").WithKey(keyID)
	}

	blob, err = EncryptToPublicKey(primitive.Name(rec.Algorithm), rec.PublicKey, plaintext)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "encrypt", err).WithKey(keyID)
	}
	return blob, nil
}

// Decrypt reverses Encrypt: it decapsulates the embedded KEM ciphertext
// against the key's protected private key (fetching it from cache or the
// protector backend) to recover the shared secret, then AES-GCM opens the
// payload.
func (c *Core) Decrypt(ctx context.Context, keyID string, blob []byte) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation("decrypt", err == nil, time.Since(start))
		_ = c.audit.RecordUsage(keyID, "decrypt", "", err == nil, errString(err))
	}()

	if err = c.requireInitialized("decrypt"); err != nil {
		return nil, err
	}
	rec, err := c.resolveUsable(keyID, "decrypt")
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(blob)
	if err != nil {
		return nil, coreerrors.New(coreerrors.InvalidParameter, "decrypt", "malformed ciphertext envelope").WithKey(keyID)
	}

	privateKey, err := c.unprotectPrivateKey(ctx, rec)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendUnavailable, "decrypt", err).WithKey(keyID)
	}

	sharedSecret, err := primitive.Decapsulate(primitive.Name(rec.Algorithm), privateKey, env.KEMCiphertext)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "decrypt", err).WithKey(keyID)
	}
	defer zero(sharedSecret)

	info := publicKeyFingerprint(rec.PublicKey)
	aesKey, err := deriveAESKey(sharedSecret, info)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "decrypt", err).WithKey(keyID)
	}
	defer zero(aesKey)

	plaintext, err = aesGCMOpen(aesKey, env.Nonce, env.Payload, info)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "decrypt", err).WithKey(keyID)
	}
	return plaintext, nil
}

// Sign produces a Dilithium signature over message using keyID's private
// key.
func (c *Core) Sign(ctx context.Context, keyID string, message []byte) (signature []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation("sign", err == nil, time.Since(start))
		_ = c.audit.RecordUsage(keyID, "sign", "", err == nil, errString(err))
	}()

	if err = c.requireInitialized("sign"); err != nil {
		return nil, err
	}
	rec, err := c.resolveUsable(keyID, "sign")
	if err != nil {
		return nil, err
	}
	if rec.Purpose != string(primitive.PurposeSignature) {
		return nil, coreerrors.New(coreerrors.InvalidParameter, "sign", "key is not a signature key").WithKey(keyID)
	}

	privateKey, err := c.unprotectPrivateKey(ctx, rec)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.BackendUnavailable, "sign", err).WithKey(keyID)
	}

	sig, err := primitive.Sign(primitive.Name(rec.Algorithm), privateKey, message)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.PrimitiveFailure, "sign", err).WithKey(keyID)
	}
	return sig, nil
}

// VerifyWithPublicKey checks a Dilithium signature against a raw public
// key supplied by the caller, with no Core, key store, or key_id
// involved: spec.md's verify accepts "a key_id | a raw public key", and
// this is the raw-public-key form.
func VerifyWithPublicKey(algorithm primitive.Name, publicKey, message, signature []byte) (bool, error) {
	purpose, ok := primitive.PurposeOf(algorithm)
	if !ok || purpose != primitive.PurposeSignature {
		return false, fmt.Errorf("%q is not a signature algorithm", algorithm)
	}
	return primitive.Verify(algorithm, publicKey, message, signature)
}

// Verify checks a Dilithium signature against keyID's public key. Unlike
// Encrypt, Decrypt and Sign, Verify does not check the key's lifecycle
// state: it works against Expired and Compromised keys too, since
// rejecting a signature made before a key was revoked would be the wrong
// default.
func (c *Core) Verify(ctx context.Context, keyID string, message, signature []byte) (valid bool, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation("verify", err == nil, time.Since(start))
		_ = c.audit.RecordUsage(keyID, "verify", "", err == nil, errString(err))
	}()

	if err = c.requireInitialized("verify"); err != nil {
		return false, err
	}
	rec, err := c.store.Get(keyID)
	if err != nil {
		if err == keystore.ErrNotFound {
			return false, coreerrors.New(coreerrors.KeyNotFound, "verify", "no such key").WithKey(keyID)
		}
		return false, coreerrors.Wrap(coreerrors.StorageFailure, "verify", err).WithKey(keyID)
	}
	if rec.Purpose != string(primitive.PurposeSignature) {
		return false, coreerrors.New(coreerrors.InvalidParameter, "verify", "key is not a signature key").WithKey(keyID)
	}

	valid, err = VerifyWithPublicKey(primitive.Name(rec.Algorithm), rec.PublicKey, message, signature)
	if err != nil {
		return false, coreerrors.Wrap(coreerrors.PrimitiveFailure, "verify", err).WithKey(keyID)
	}
	return valid, nil
}

// Rotate generates a successor key of the same algorithm and purpose,
// marks keyID PendingRotation with an expiry DefaultRotationGrace (or the
// Core's configured grace) in the future, and invalidates keyID's cached
// plaintext so any cached copy doesn't outlive the lock window. The
// predecessor stays usable for decrypt/verify until the scheduler
// finalizes it to Expired.
//
// Concurrent Rotate calls on the same keyID are serialized by lockFor, so
// only the first caller actually finds it Active; by the time the second
// caller acquires the lock, the key is already PendingRotation. Rather
// than surface that race as an error, the losing caller resolves and
// returns the same successor the winner created: both callers converge on
// one winning new key id.
func (c *Core) Rotate(ctx context.Context, keyID string) (successor *keystore.Record, err error) {
	lock := c.lockFor(keyID)
	lock.Lock()
	defer lock.Unlock()

	defer func() { metrics.RecordRotation(err == nil) }()

	if err = c.requireInitialized("rotate"); err != nil {
		return nil, err
	}

	rec, err := c.store.Get(keyID)
	if err != nil {
		if err == keystore.ErrNotFound {
			return nil, coreerrors.New(coreerrors.KeyNotFound, "rotate", "no such key").WithKey(keyID)
		}
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "rotate", err).WithKey(keyID)
	}

	if rec.State == keystore.PendingRotation {
		history, herr := c.store.RotationHistory(keyID, 1)
		if herr != nil {
			return nil, coreerrors.Wrap(coreerrors.StorageFailure, "rotate", herr).WithKey(keyID)
		}
		if len(history) == 0 || history[0].SuccessorID == "" {
			return nil, coreerrors.New(coreerrors.ConcurrencyConflict, "rotate", "key is pending rotation but its successor could not be resolved").WithKey(keyID)
		}
		winner, gerr := c.store.Get(history[0].SuccessorID)
		if gerr != nil {
			return nil, coreerrors.Wrap(coreerrors.StorageFailure, "rotate", gerr).WithKey(history[0].SuccessorID)
		}
		return winner, nil
	}
	if rec.State != keystore.Active {
		return nil, coreerrors.New(coreerrors.KeyNotActive, "rotate", fmt.Sprintf("key is %s, only active keys can be rotated", rec.State)).WithKey(keyID)
	}

	successor, err = c.generate(ctx, primitive.Name(rec.Algorithm), GenerateOptions{Tags: rec.Tags}, false)
	if err != nil {
		return nil, err
	}
	successor.PredecessorID = rec.KeyID
	successor.Generation = rec.Generation + 1
	if err := c.store.Update(successor); err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "rotate", err).WithKey(successor.KeyID)
	}

	rec.State = keystore.PendingRotation
	rec.RotatedAt = time.Now().UTC()
	rec.ExpiresAt = rec.RotatedAt.Add(c.rotationGrace)
	if err := c.store.Update(rec); err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "rotate", err).WithKey(keyID)
	}

	c.cache.Invalidate(keyID)
	_ = c.audit.RecordLifecycle(keyID, keystore.Active, keystore.PendingRotation, successor.KeyID, "rotated", "")
	_ = c.audit.RecordSecurity(audit.KeyRotated, audit.SeverityMedium, keyID, fmt.Sprintf("rotated to successor %s", successor.KeyID))
	c.refreshStateMetrics()

	return successor, nil
}

// Revoke immediately marks keyID Compromised, bypassing the PendingRotation
// grace period, and invalidates any cached plaintext. Revocation is
// terminal: a revoked key can never be rotated or used for encrypt,
// decrypt or sign again, though Verify against signatures made before
// revocation remains available for audit.
func (c *Core) Revoke(ctx context.Context, keyID, reason string) (err error) {
	lock := c.lockFor(keyID)
	lock.Lock()
	defer lock.Unlock()

	defer func() { metrics.RecordRevocation(reason) }()

	if err = c.requireInitialized("revoke"); err != nil {
		return err
	}

	rec, err := c.store.Get(keyID)
	if err != nil {
		if err == keystore.ErrNotFound {
			return coreerrors.New(coreerrors.KeyNotFound, "revoke", "no such key").WithKey(keyID)
		}
		return coreerrors.Wrap(coreerrors.StorageFailure, "revoke", err).WithKey(keyID)
	}
	if rec.State.Terminal() {
		return coreerrors.New(coreerrors.KeyNotActive, "revoke", fmt.Sprintf("key is already %s", rec.State)).WithKey(keyID)
	}

	from := rec.State
	rec.State = keystore.Compromised
	rec.RevokedAt = time.Now().UTC()
	rec.RevokedReason = reason
	if err := c.store.Update(rec); err != nil {
		return coreerrors.Wrap(coreerrors.StorageFailure, "revoke", err).WithKey(keyID)
	}

	c.cache.Invalidate(keyID)
	_ = c.audit.RecordLifecycle(keyID, from, keystore.Compromised, "", reason, "")
	_ = c.audit.RecordSecurity(audit.KeyRevoked, audit.SeverityHigh, keyID, reason)
	c.refreshStateMetrics()

	return nil
}

// RotateExpiring rotates every Active key whose ExpiresAt has passed,
// implementing the key_rotation_interval half of the rotation scheduler:
// a key nobody has manually rotated still gets succeeded once its
// natural expiry arrives, exactly as if a caller had called Rotate on it.
// The rotation scheduler calls this on a timer, ahead of FinalizeExpired;
// it is also safe to call directly.
func (c *Core) RotateExpiring(ctx context.Context) (rotated int, err error) {
	if err = c.requireInitialized("rotate_expiring"); err != nil {
		return 0, err
	}

	expiring, err := c.store.ListExpiring(time.Now().UTC())
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.StorageFailure, "rotate_expiring", err)
	}

	for _, rec := range expiring {
		if rec.State != keystore.Active {
			continue
		}
		if _, rerr := c.Rotate(ctx, rec.KeyID); rerr != nil {
			c.logger.Error("failed to rotate expiring key %s: %v", rec.KeyID, rerr)
			continue
		}
		rotated++
	}
	return rotated, nil
}

// FinalizeExpired walks every PendingRotation key whose grace period has
// elapsed and transitions it to Expired. The rotation scheduler calls
// this on a timer; it is also safe to call directly (e.g. from the CLI's
// sweep command).
func (c *Core) FinalizeExpired(ctx context.Context) (finalized int, err error) {
	if err = c.requireInitialized("finalize_expired"); err != nil {
		return 0, err
	}

	expiring, err := c.store.ListExpiring(time.Now().UTC())
	if err != nil {
		return 0, coreerrors.Wrap(coreerrors.StorageFailure, "finalize_expired", err)
	}

	for _, rec := range expiring {
		if rec.State != keystore.PendingRotation {
			continue
		}
		lock := c.lockFor(rec.KeyID)
		lock.Lock()
		rec.State = keystore.Expired
		updateErr := c.store.Update(rec)
		lock.Unlock()
		if updateErr != nil {
			c.logger.Error("failed to finalize expired key %s: %v", rec.KeyID, updateErr)
			continue
		}
		c.cache.Invalidate(rec.KeyID)
		_ = c.audit.RecordLifecycle(rec.KeyID, keystore.PendingRotation, keystore.Expired, "", "grace period elapsed", "scheduler")
		finalized++
	}
	if finalized > 0 {
		c.refreshStateMetrics()
	}
	return finalized, nil
}

// HealthReport summarizes the Core's readiness: whether the configured
// protector backend is reachable, and how many keys are in each
// lifecycle state.
type HealthReport struct {
	Status        string // "healthy" or "unhealthy"
	Backend       string
	BackendHealth error
	KeysByState   map[keystore.State]int
}

// Health probes the protector backend and summarizes key counts, without
// requiring the caller to reach into the store directly.
func (c *Core) Health(ctx context.Context) (*HealthReport, error) {
	if err := c.requireInitialized("health"); err != nil {
		return nil, err
	}

	report := &HealthReport{Backend: c.protector.Name(), Status: "healthy"}
	if err := c.protector.Health(ctx); err != nil {
		report.BackendHealth = err
		report.Status = "unhealthy"
	}
	metrics.SetBackendHealth(c.protector.Name(), report.BackendHealth == nil)

	counts, err := c.store.Count()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "health", err)
	}
	report.KeysByState = counts

	return report, nil
}

func (c *Core) refreshStateMetrics() {
	counts, err := c.store.Count()
	if err != nil {
		return
	}
	for state, n := range counts {
		metrics.SetKeysByState(string(state), n)
	}
}

func deriveAESKey(sharedSecret, info []byte) ([]byte, error) {
	hkdfReader := hkdf.New(sha256.New, sharedSecret, info, []byte("pqkeys-hybrid-encryption"))
	key := make([]byte, 32)
	if _, err := hkdfReader.Read(key); err != nil {
		return nil, fmt.Errorf("derive aes key: %w", err)
	}
	return key, nil
}

// publicKeyFingerprint binds the HKDF info and AES-GCM AAD to the
// recipient's public key rather than a key_id, so EncryptToPublicKey
// (which never sees a key_id) and the Core's keyID-resolving Encrypt
// produce envelopes that Decrypt opens alike for the same recipient key.
func publicKeyFingerprint(publicKey []byte) []byte {
	sum := sha256.Sum256(publicKey)
	return sum[:]
}

// newKeyID generates the public, boundary-facing key identifier: a
// 32-character lowercase hex string from 16 random bytes.
func newKeyID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
