// Package config loads pqkeys.yaml, the Core's runtime configuration:
// which protector backend to use, which key store backend to use, and
// the timing knobs for rotation and the key cache. Secrets never live in
// the YAML file in plaintext in a production deployment; every field that
// holds one can instead be supplied via a PQKEYS_* environment variable,
// which always takes precedence over the file when set.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/pqkeys/internal/coreerrors"
)

// Definition is the parsed shape of pqkeys.yaml.
type Definition struct {
	Version  int            `yaml:"version"`
	Backend  string         `yaml:"backend"` // "local", "kms", or "hsm"
	Local    LocalConfig    `yaml:"local,omitempty"`
	KMS      KMSConfig      `yaml:"kms,omitempty"`
	HSM      HSMConfig      `yaml:"hsm,omitempty"`
	Store    StoreConfig    `yaml:"store"`
	Rotation RotationConfig `yaml:"rotation,omitempty"`
	Cache    CacheConfig    `yaml:"cache,omitempty"`
}

// LocalConfig configures the Local-Derived protector backend.
// Passphrase is overridden by PQKEYS_LOCAL_PASSPHRASE.
type LocalConfig struct {
	Passphrase string       `yaml:"passphrase,omitempty"`
	Argon2     Argon2Config `yaml:"argon2,omitempty"`
}

// Argon2Config is the KDF cost used by the Local-Derived backend.
type Argon2Config struct {
	Time     uint32 `yaml:"time,omitempty"`
	MemoryKB uint32 `yaml:"memory_kib,omitempty"`
	Threads  uint8  `yaml:"threads,omitempty"`
}

// KMSConfig configures the KMS protector backend.
type KMSConfig struct {
	KeyName             string `yaml:"key_name"`
	CredentialsFilePath string `yaml:"credentials_file,omitempty"`
}

// HSMConfig configures the HSM (Akeyless) protector backend. AccessKey is
// overridden by PQKEYS_HSM_ACCESS_KEY.
type HSMConfig struct {
	GatewayURL string `yaml:"gateway_url,omitempty"`
	AccessID   string `yaml:"access_id"`
	AccessKey  string `yaml:"access_key,omitempty"`
	KeyName    string `yaml:"key_name"`
}

// StoreConfig selects and configures the key store backend.
type StoreConfig struct {
	Type string          `yaml:"type"` // "file", "postgres", or "mysql"
	File FileStoreConfig `yaml:"file,omitempty"`
	SQL  SQLStoreConfig  `yaml:"sql,omitempty"`
}

// FileStoreConfig configures the file-backed key store.
type FileStoreConfig struct {
	BaseDir string `yaml:"base_dir,omitempty"`
}

// SQLStoreConfig configures the SQL-backed key store. DSN is overridden
// by PQKEYS_SQL_DSN.
type SQLStoreConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// RotationConfig controls the rotation scheduler's timing.
type RotationConfig struct {
	GracePeriod   string `yaml:"grace_period,omitempty"`
	SweepInterval string `yaml:"sweep_interval,omitempty"`
	// KeyRotationInterval is the default lifetime given to a key generated
	// without an explicit ExpiresIn. The sweep loop rotates Active keys
	// once they pass it, ahead of the grace-period finalize step.
	KeyRotationInterval string `yaml:"key_rotation_interval,omitempty"`
}

// CacheConfig controls the key cache's TTL.
type CacheConfig struct {
	TTL string `yaml:"ttl,omitempty"`
}

// Load reads and parses path, then applies PQKEYS_* environment overrides
// for every field that can hold a secret.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.StorageFailure, "config.load", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, coreerrors.Wrap(coreerrors.InvalidParameter, "config.load", fmt.Errorf("invalid yaml in %s: %w", path, err))
	}

	applyEnvOverrides(&def)

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func applyEnvOverrides(def *Definition) {
	if v := os.Getenv("PQKEYS_LOCAL_PASSPHRASE"); v != "" {
		def.Local.Passphrase = v
	}
	if v := os.Getenv("PQKEYS_HSM_ACCESS_ID"); v != "" {
		def.HSM.AccessID = v
	}
	if v := os.Getenv("PQKEYS_HSM_ACCESS_KEY"); v != "" {
		def.HSM.AccessKey = v
	}
	if v := os.Getenv("PQKEYS_KMS_KEY_NAME"); v != "" {
		def.KMS.KeyName = v
	}
	if v := os.Getenv("PQKEYS_SQL_DSN"); v != "" {
		def.Store.SQL.DSN = v
	}
	if v := os.Getenv("PQKEYS_BACKEND"); v != "" {
		def.Backend = v
	}
}

// Validate checks that the selected backend and store have the fields
// they need, failing fast at load time rather than surfacing a confusing
// error from deep inside a Protector or Store constructor.
func (d *Definition) Validate() error {
	switch d.Backend {
	case "local":
		if d.Local.Passphrase == "" {
			return coreerrors.New(coreerrors.InvalidParameter, "config.validate", "local.passphrase (or PQKEYS_LOCAL_PASSPHRASE) is required for the local backend")
		}
	case "kms":
		if d.KMS.KeyName == "" {
			return coreerrors.New(coreerrors.InvalidParameter, "config.validate", "kms.key_name is required for the kms backend")
		}
	case "hsm":
		if d.HSM.AccessID == "" || d.HSM.AccessKey == "" || d.HSM.KeyName == "" {
			return coreerrors.New(coreerrors.InvalidParameter, "config.validate", "hsm.access_id, hsm.access_key and hsm.key_name are all required for the hsm backend")
		}
	default:
		return coreerrors.New(coreerrors.InvalidParameter, "config.validate", fmt.Sprintf("unknown backend %q, expected local, kms, or hsm", d.Backend))
	}

	switch d.Store.Type {
	case "file":
	case "postgres", "mysql":
		if d.Store.SQL.DSN == "" {
			return coreerrors.New(coreerrors.InvalidParameter, "config.validate", "store.sql.dsn (or PQKEYS_SQL_DSN) is required for a sql store")
		}
	default:
		return coreerrors.New(coreerrors.InvalidParameter, "config.validate", fmt.Sprintf("unknown store type %q, expected file, postgres, or mysql", d.Store.Type))
	}

	return nil
}

// ArgonParams returns the Local-Derived KDF cost, falling back to safe
// defaults for any field left unset in the file.
func (l LocalConfig) ArgonParams() (timeCost, memKiB uint32, threads uint8) {
	timeCost, memKiB, threads = 3, 64*1024, 4
	if l.Argon2.Time > 0 {
		timeCost = l.Argon2.Time
	}
	if l.Argon2.MemoryKB > 0 {
		memKiB = l.Argon2.MemoryKB
	}
	if l.Argon2.Threads > 0 {
		threads = l.Argon2.Threads
	}
	return
}

// Duration parses a Go duration string, returning def if s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
