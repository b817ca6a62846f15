// Package kms implements the KMS protector backend via envelope
// encryption against Google Cloud KMS: a fresh AES-256 data encryption key
// (DEK) is generated locally for every Protect call, wrapped through the
// configured KMS CryptoKey, and used to AES-GCM encrypt the private key
// material. Only the wrapped DEK and the ciphertext are persisted; the raw
// DEK is zeroed immediately after use and never stored.
//
// This backend never sends private key plaintext to the KMS API — only the
// DEK, which is exactly what "envelope encryption" buys over calling
// Encrypt directly on the key material: KMS payload size limits and
// latency stop mattering once the thing it wraps is a fixed 32-byte key.
package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	kmsapi "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/option"

	"github.com/systmms/pqkeys/pkg/protector"
)

// client is the subset of the generated GCP KMS client this backend needs,
// narrowed to keep Backend testable without a live GCP project.
type client interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...interface{}) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...interface{}) (*kmspb.DecryptResponse, error)
	Close() error
}

// realClient adapts *kmsapi.KeyManagementClient to the client interface;
// the variadic opts are accepted and ignored since the generated client's
// gax.CallOption type isn't something a test double needs to reproduce.
type realClient struct {
	inner *kmsapi.KeyManagementClient
}

func (r *realClient) Encrypt(ctx context.Context, req *kmspb.EncryptRequest, _ ...interface{}) (*kmspb.EncryptResponse, error) {
	return r.inner.Encrypt(ctx, req)
}

func (r *realClient) Decrypt(ctx context.Context, req *kmspb.DecryptRequest, _ ...interface{}) (*kmspb.DecryptResponse, error) {
	return r.inner.Decrypt(ctx, req)
}

func (r *realClient) Close() error { return r.inner.Close() }

// Config selects the KMS key used to wrap DEKs. KeyName is the fully
// qualified resource name:
// projects/*/locations/*/keyRings/*/cryptoKeys/*.
type Config struct {
	KeyName             string
	CredentialsJSON     []byte
	CredentialsFilePath string
}

// Backend is the KMS Protector.
type Backend struct {
	client  client
	keyName string
}

// New builds a KMS backend from Config, establishing the GCP client
// connection. The returned Backend's Close should be called at Core
// shutdown to release the gRPC connection.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.KeyName == "" {
		return nil, fmt.Errorf("kms: key_name is required")
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFilePath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFilePath))
	}

	inner, err := kmsapi.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: new client: %w", err)
	}

	return &Backend{client: &realClient{inner: inner}, keyName: cfg.KeyName}, nil
}

// newWithClient injects a fake client for tests.
func newWithClient(c client, keyName string) *Backend {
	return &Backend{client: c, keyName: keyName}
}

func (b *Backend) Name() string { return "kms" }

// envelope is the on-disk JSON shape of a KMS-protected blob. Its leading
// bytes (`{"b":"kms"`) double as the dispatch tag in protector.Dispatch.
type envelope struct {
	Backend       string `json:"b"`
	KeyName       string `json:"key_name"`
	WrappedDEK    string `json:"wrapped_dek"`
	Nonce         string `json:"nonce"`
	Ciphertext    string `json:"ciphertext"`
	ContextKeyID  string `json:"key_id"`
	ContextPurp   string `json:"purpose"`
}

func (b *Backend) Protect(ctx context.Context, keyID, purpose string, plaintext []byte) ([]byte, error) {
	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("kms: generate dek: %w", err)
	}

	wrapResp, err := b.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        b.keyName,
		Plaintext:                   dek,
		AdditionalAuthenticatedData: []byte(keyID + "|" + purpose),
	})
	if err != nil {
		zero(dek)
		return nil, fmt.Errorf("kms: wrap dek: %w", err)
	}

	ciphertext, nonce, err := aesGCMEncrypt(dek, plaintext, []byte(keyID+"|"+purpose))
	zero(dek)
	if err != nil {
		return nil, fmt.Errorf("kms: encrypt payload: %w", err)
	}

	env := envelope{
		Backend:      "kms",
		KeyName:      b.keyName,
		WrappedDEK:   base64.StdEncoding.EncodeToString(wrapResp.Ciphertext),
		Nonce:        base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:   base64.StdEncoding.EncodeToString(ciphertext),
		ContextKeyID: keyID,
		ContextPurp:  purpose,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("kms: marshal envelope: %w", err)
	}
	return out, nil
}

func (b *Backend) Unprotect(ctx context.Context, keyID, purpose string, blob []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("kms: unmarshal envelope: %w", err)
	}
	if env.Backend != "kms" {
		return nil, fmt.Errorf("kms: blob does not carry the kms tag")
	}
	if env.ContextKeyID != keyID || env.ContextPurp != purpose {
		return nil, fmt.Errorf("kms: envelope context mismatch, blob is bound to a different key or purpose")
	}

	wrappedDEK, err := base64.StdEncoding.DecodeString(env.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("kms: decode wrapped dek: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("kms: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kms: decode ciphertext: %w", err)
	}

	unwrapResp, err := b.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                        env.KeyName,
		Ciphertext:                  wrappedDEK,
		AdditionalAuthenticatedData: []byte(keyID + "|" + purpose),
	})
	if err != nil {
		return nil, fmt.Errorf("kms: unwrap dek: %w", err)
	}
	dek := unwrapResp.Plaintext
	defer zero(dek)

	plaintext, err := aesGCMDecrypt(dek, nonce, ciphertext, []byte(keyID+"|"+purpose))
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// Health calls Encrypt on a short fixed probe payload to confirm the configured
// key is reachable and the caller has permission, without persisting
// anything.
func (b *Backend) Health(ctx context.Context) error {
	probe := []byte("pqkeys-health-probe")
	_, err := b.client.Encrypt(ctx, &kmspb.EncryptRequest{Name: b.keyName, Plaintext: probe})
	if err != nil {
		return fmt.Errorf("kms: health check failed: %w", err)
	}
	return nil
}

// Close releases the underlying GCP client connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

func aesGCMEncrypt(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

func aesGCMDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ protector.Protector = (*Backend)(nil)
