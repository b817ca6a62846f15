package config

import (
	"context"
	"fmt"

	"github.com/systmms/pqkeys/internal/keystore"
	"github.com/systmms/pqkeys/internal/keystore/file"
	"github.com/systmms/pqkeys/internal/keystore/sql"
	"github.com/systmms/pqkeys/internal/protector/hsm"
	"github.com/systmms/pqkeys/internal/protector/kms"
	"github.com/systmms/pqkeys/internal/protector/local"
	"github.com/systmms/pqkeys/pkg/protector"
)

// BuildProtector constructs the Protector named by def.Backend.
func (d *Definition) BuildProtector(ctx context.Context) (protector.Protector, error) {
	switch d.Backend {
	case "local":
		timeCost, memKiB, threads := d.Local.ArgonParams()
		return local.New([]byte(d.Local.Passphrase), local.Params{Time: timeCost, MemKiB: memKiB, Threads: threads})
	case "kms":
		return kms.New(ctx, kms.Config{
			KeyName:             d.KMS.KeyName,
			CredentialsFilePath: d.KMS.CredentialsFilePath,
		})
	case "hsm":
		return hsm.New(hsm.Config{
			GatewayURL: d.HSM.GatewayURL,
			AccessID:   d.HSM.AccessID,
			AccessKey:  d.HSM.AccessKey,
			KeyName:    d.HSM.KeyName,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", d.Backend)
	}
}

// BuildStore constructs the keystore.Store named by def.Store.Type.
func (d *Definition) BuildStore() (keystore.Store, error) {
	switch d.Store.Type {
	case "file":
		baseDir := d.Store.File.BaseDir
		if baseDir == "" {
			baseDir = file.DefaultBaseDir()
		}
		return file.New(baseDir)
	case "postgres":
		return sql.Open(sql.Postgres, d.Store.SQL.DSN)
	case "mysql":
		return sql.Open(sql.MySQL, d.Store.SQL.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", d.Store.Type)
	}
}
