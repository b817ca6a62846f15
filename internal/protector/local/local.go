// Package local implements the Local-Derived protector backend: private
// key material is wrapped with AES-256-GCM under a key derived from an
// operator-supplied passphrase or master secret via Argon2id, a
// memory-hard KDF chosen to make offline brute force of the passphrase
// expensive even against GPU/ASIC attackers.
//
// Blobs produced here are self-describing and carry everything needed to
// re-derive the same wrapping key on Unprotect: the tag, the Argon2
// parameters, the salt, the nonce and the ciphertext. Losing the
// passphrase loses every key this backend has ever protected; there is no
// recovery path, which is the trade this backend makes for having no
// external dependency.
package local

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/systmms/pqkeys/pkg/protector"
	"golang.org/x/crypto/argon2"
)

const (
	// saltSize is the random salt length fed to Argon2id.
	saltSize = 16
	// nonceSize is the AES-GCM nonce length.
	nonceSize = 12
	// keySize is the derived AES-256 key length.
	keySize = 32

	// minMemoryKiB/minOutputLen enforce the floor on KDF cost: at least
	// 64MiB of Argon2 memory and 64 bytes of derived output, of which the
	// first 32 bytes become the AES-256 key.
	minMemoryKiB = 64 * 1024
	minOutputLen = 64
)

// Params controls the Argon2id cost. New rejects time=0 and memory below
// 64MiB; the defaults use time=3. Every derivation produces 64 bytes of
// output, of which the first 32 bytes become the AES-256 key.
type Params struct {
	Time    uint32
	MemKiB  uint32
	Threads uint8
}

// DefaultParams returns the Argon2id cost this backend uses unless
// overridden.
func DefaultParams() Params {
	return Params{Time: 3, MemKiB: minMemoryKiB, Threads: 4}
}

// Backend is the Local-Derived Protector. It holds the passphrase (or
// master secret) in memory only as long as the process runs; it is never
// written to disk by this package.
type Backend struct {
	secret []byte
	params Params
}

// New constructs a Local-Derived backend around secret, the passphrase or
// master key material used to derive per-blob wrapping keys. secret is
// copied; callers should zero their own copy after this call returns.
func New(secret []byte, params Params) (*Backend, error) {
	if len(secret) == 0 {
		return nil, errors.New("local: secret must not be empty")
	}
	if params.Time == 0 || params.MemKiB < minMemoryKiB {
		return nil, fmt.Errorf("local: argon2 params below floor (time=%d memKiB=%d, need memKiB>=%d)", params.Time, params.MemKiB, minMemoryKiB)
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &Backend{secret: cp, params: params}, nil
}

func (b *Backend) Name() string { return "local" }

// blob layout after the "L1:" tag, colon-joined:
// time:memKiB:threads:salt:nonce:ciphertext, the first three in decimal
// and the rest unpadded base64-url.
func (b *Backend) Protect(_ context.Context, keyID, purpose string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("local: read salt: %w", err)
	}

	dek := argon2.IDKey(b.secret, salt, b.params.Time, b.params.MemKiB, b.params.Threads, minOutputLen)
	defer zero(dek)

	block, err := aes.NewCipher(dek[:keySize])
	if err != nil {
		return nil, fmt.Errorf("local: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("local: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("local: read nonce: %w", err)
	}

	aad := []byte(keyID + "|" + purpose)
	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)

	fields := []string{
		strconv.FormatUint(uint64(b.params.Time), 10),
		strconv.FormatUint(uint64(b.params.MemKiB), 10),
		strconv.FormatUint(uint64(b.params.Threads), 10),
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(ciphertext),
	}
	return []byte(protector.TagLocal + ":" + strings.Join(fields, ":")), nil
}

func (b *Backend) Unprotect(_ context.Context, keyID, purpose string, blob []byte) ([]byte, error) {
	s := string(blob)
	prefix := protector.TagLocal + ":"
	if !strings.HasPrefix(s, prefix) {
		return nil, errors.New("local: blob does not carry the local tag")
	}
	parts := strings.Split(strings.TrimPrefix(s, prefix), ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("local: malformed blob, expected 6 fields got %d", len(parts))
	}

	timeCost, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("local: parse time cost: %w", err)
	}
	memKiB, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("local: parse memory cost: %w", err)
	}
	threads, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("local: parse threads: %w", err)
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("local: decode salt: %w", err)
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("local: decode nonce: %w", err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, fmt.Errorf("local: decode ciphertext: %w", err)
	}

	dek := argon2.IDKey(b.secret, salt, uint32(timeCost), uint32(memKiB), uint8(threads), minOutputLen)
	defer zero(dek)

	block, err := aes.NewCipher(dek[:keySize])
	if err != nil {
		return nil, fmt.Errorf("local: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("local: new gcm: %w", err)
	}

	aad := []byte(keyID + "|" + purpose)
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("local: decrypt: authentication failed, wrong passphrase or tampered blob: %w", err)
	}
	return plaintext, nil
}

// Health always succeeds: the Local-Derived backend has no network
// dependency. It exists to satisfy the Protector interface uniformly.
func (b *Backend) Health(_ context.Context) error { return nil }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
