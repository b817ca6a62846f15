package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pqkeys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_LocalBackend(t *testing.T) {
	path := writeConfig(t, `
version: 1
backend: local
local:
  passphrase: correct-horse-battery-staple
store:
  type: file
  file:
    base_dir: /tmp/pqkeys-test
`)
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local", def.Backend)
	assert.Equal(t, "correct-horse-battery-staple", def.Local.Passphrase)
	assert.Equal(t, "file", def.Store.Type)
}

func TestLoad_EnvOverridesPassphrase(t *testing.T) {
	path := writeConfig(t, `
version: 1
backend: local
local:
  passphrase: file-value
store:
  type: file
`)
	t.Setenv("PQKEYS_LOCAL_PASSPHRASE", "env-value")
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-value", def.Local.Passphrase)
}

func TestLoad_MissingBackendField(t *testing.T) {
	path := writeConfig(t, `
version: 1
backend: kms
store:
  type: file
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_SQLStoreRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
version: 1
backend: local
local:
  passphrase: x
store:
  type: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_SQLStoreDSNFromEnv(t *testing.T) {
	path := writeConfig(t, `
version: 1
backend: local
local:
  passphrase: x
store:
  type: mysql
`)
	t.Setenv("PQKEYS_SQL_DSN", "user:pass@/dbname")
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@/dbname", def.Store.SQL.DSN)
}

func TestLoad_UnknownFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestArgonParams_DefaultsWhenUnset(t *testing.T) {
	l := LocalConfig{}
	timeCost, memKiB, threads := l.ArgonParams()
	assert.Equal(t, uint32(3), timeCost)
	assert.Equal(t, uint32(64*1024), memKiB)
	assert.Equal(t, uint8(4), threads)
}

func TestDuration_Defaults(t *testing.T) {
	d, err := Duration("", 0)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestDuration_ParsesValue(t *testing.T) {
	d, err := Duration("90m", 0)
	require.NoError(t, err)
	assert.Equal(t, 90*60_000_000_000, int(d))
}

func TestDuration_RejectsGarbage(t *testing.T) {
	_, err := Duration("not-a-duration", 0)
	require.Error(t, err)
}
