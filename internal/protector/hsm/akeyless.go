// Package hsm implements the HSM protector backend against Akeyless,
// which holds an AES key inside its own vault and exposes Encrypt/Decrypt
// operations that never release the key itself. The plaintext crosses the
// network to Akeyless's gateway on every call; what this backend buys over
// Local-Derived is that compromising the pqkeys process alone is not
// enough to recover historical ciphertext, since the unwrapping key lives
// entirely outside the process.
//
// Authentication follows the same cache-then-authenticate shape the
// akeyless_client and token_cache helpers already use elsewhere in this
// codebase's lineage: a short-lived access token is cached in memory and
// refreshed on expiry, never written to disk.
package hsm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"

	"github.com/systmms/pqkeys/pkg/protector"
)

// Config configures the Akeyless HSM backend.
type Config struct {
	GatewayURL string
	AccessID   string
	AccessKey  string
	// KeyName is the Akeyless classic/DFC key item path used for every
	// Encrypt/Decrypt call, e.g. "/pqkeys/wrapping-key".
	KeyName string
	Timeout time.Duration
}

// DefaultGatewayURL is used when Config.GatewayURL is empty.
const DefaultGatewayURL = "https://api.akeyless.io"

// sdkClient is the subset of akeyless-go this backend drives, narrowed so
// tests can substitute a fake without standing up a gateway.
type sdkClient interface {
	Authenticate(ctx context.Context, accessID, accessKey string) (token string, ttl time.Duration, err error)
	Encrypt(ctx context.Context, token, keyName string, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ctx context.Context, token, keyName string, ciphertext []byte) (plaintext []byte, err error)
}

// akeylessSDKClient implements sdkClient against the real akeyless-go SDK.
type akeylessSDKClient struct {
	api *akeyless.APIClient
}

func newAkeylessSDKClient(gatewayURL string) *akeylessSDKClient {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{{URL: gatewayURL}}
	return &akeylessSDKClient{api: akeyless.NewAPIClient(configuration)}
}

func (c *akeylessSDKClient) Authenticate(ctx context.Context, accessID, accessKey string) (string, time.Duration, error) {
	authBody := akeyless.NewAuthWithDefaults()
	authBody.SetAccessId(accessID)
	authBody.SetAccessKey(accessKey)

	authRes, _, err := c.api.V2Api.Auth(ctx).Body(*authBody).Execute()
	if err != nil {
		return "", 0, fmt.Errorf("hsm: akeyless auth: %w", err)
	}
	// Akeyless tokens typically last 30 minutes; cache for 25 to be safe.
	return authRes.GetToken(), 25 * time.Minute, nil
}

func (c *akeylessSDKClient) Encrypt(ctx context.Context, token, keyName string, plaintext []byte) ([]byte, error) {
	body := akeyless.NewEncryptWithDefaults()
	body.SetToken(token)
	body.SetKeyName(keyName)
	body.SetPlaintext(base64.StdEncoding.EncodeToString(plaintext))

	res, _, err := c.api.V2Api.Encrypt(ctx).Body(*body).Execute()
	if err != nil {
		return nil, fmt.Errorf("hsm: akeyless encrypt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(res.GetResult())
	if err != nil {
		return nil, fmt.Errorf("hsm: decode encrypt result: %w", err)
	}
	return ciphertext, nil
}

func (c *akeylessSDKClient) Decrypt(ctx context.Context, token, keyName string, ciphertext []byte) ([]byte, error) {
	body := akeyless.NewDecryptWithDefaults()
	body.SetToken(token)
	body.SetKeyName(keyName)
	body.SetCiphertext(base64.StdEncoding.EncodeToString(ciphertext))

	res, _, err := c.api.V2Api.Decrypt(ctx).Body(*body).Execute()
	if err != nil {
		return nil, fmt.Errorf("hsm: akeyless decrypt: %w", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(res.GetResult())
	if err != nil {
		return nil, fmt.Errorf("hsm: decode decrypt result: %w", err)
	}
	return plaintext, nil
}

// tokenCache caches a short-lived Akeyless access token in memory, never
// persisting it to disk.
type tokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func (c *tokenCache) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	const buffer = 5 * time.Second
	if ttl > buffer {
		ttl -= buffer
	}
	c.expiresAt = time.Now().Add(ttl)
}

// Backend is the HSM Protector realized against Akeyless.
type Backend struct {
	client  sdkClient
	cfg     Config
	tokens  tokenCache
}

// New builds an HSM backend from Config.
func New(cfg Config) (*Backend, error) {
	if cfg.AccessID == "" || cfg.AccessKey == "" {
		return nil, fmt.Errorf("hsm: access_id and access_key are required")
	}
	if cfg.KeyName == "" {
		return nil, fmt.Errorf("hsm: key_name is required")
	}
	gw := cfg.GatewayURL
	if gw == "" {
		gw = DefaultGatewayURL
	}
	return &Backend{client: newAkeylessSDKClient(gw), cfg: cfg}, nil
}

// newWithClient injects a fake sdkClient for tests.
func newWithClient(c sdkClient, cfg Config) *Backend {
	return &Backend{client: c, cfg: cfg}
}

func (b *Backend) Name() string { return "hsm" }

func (b *Backend) getToken(ctx context.Context) (string, error) {
	if token, ok := b.tokens.get(); ok {
		return token, nil
	}
	token, ttl, err := b.client.Authenticate(ctx, b.cfg.AccessID, b.cfg.AccessKey)
	if err != nil {
		return "", err
	}
	b.tokens.set(token, ttl)
	return token, nil
}

// Protect sends plaintext to Akeyless's Encrypt endpoint and returns the
// opaque ciphertext tagged for this backend. keyID and purpose are folded
// into the blob itself (not sent to Akeyless, which has no AAD concept on
// this endpoint) so Unprotect can still detect cross-binding misuse.
func (b *Backend) Protect(ctx context.Context, keyID, purpose string, plaintext []byte) ([]byte, error) {
	token, err := b.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("hsm: %w", err)
	}
	ciphertext, err := b.client.Encrypt(ctx, token, b.cfg.KeyName, plaintext)
	if err != nil {
		return nil, err
	}
	blob := protector.TagHSM + b.cfg.KeyName + ":" + keyID + ":" + purpose + ":" + base64.StdEncoding.EncodeToString(ciphertext)
	return []byte(blob), nil
}

func (b *Backend) Unprotect(ctx context.Context, keyID, purpose string, blob []byte) ([]byte, error) {
	s := string(blob)
	if !strings.HasPrefix(s, protector.TagHSM) {
		return nil, fmt.Errorf("hsm: blob does not carry the hsm tag")
	}
	rest := strings.TrimPrefix(s, protector.TagHSM)
	parts := strings.SplitN(rest, ":", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("hsm: malformed blob")
	}
	keyName, blobKeyID, blobPurpose, encCiphertext := parts[0], parts[1], parts[2], parts[3]
	if blobKeyID != keyID || blobPurpose != purpose {
		return nil, fmt.Errorf("hsm: blob is bound to a different key or purpose")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encCiphertext)
	if err != nil {
		return nil, fmt.Errorf("hsm: decode ciphertext: %w", err)
	}

	token, err := b.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("hsm: %w", err)
	}
	plaintext, err := b.client.Decrypt(ctx, token, keyName, ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// Health authenticates (or reuses a cached token) to confirm the gateway
// is reachable and credentials are valid.
func (b *Backend) Health(ctx context.Context) error {
	_, err := b.getToken(ctx)
	if err != nil {
		return fmt.Errorf("hsm: health check failed: %w", err)
	}
	return nil
}

var _ protector.Protector = (*Backend)(nil)
