package engine

import (
	"context"
	"encoding/hex"

	"github.com/cuemby/blockvault/pkg/blockhash"
	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/storagebackend"
	"github.com/cuemby/blockvault/pkg/storagebackend/file"
	"github.com/cuemby/blockvault/pkg/storagebackend/s3"
	"github.com/cuemby/blockvault/pkg/transform"
	"github.com/cuemby/blockvault/pkg/transform/compression"
	"github.com/cuemby/blockvault/pkg/transform/encryption"
)

// Build opens the metadata database and wires every configured storage's
// backend and transform chain, returning a ready-to-use Engine. It is the
// single place cmd/blockvault translates a parsed config.Config into live
// objects.
func Build(ctx context.Context, cfg *config.Config) (*Engine, error) {
	hashFn := blockhash.Algorithm(cfg.HashFunction)
	if err := blockhash.Validate(hashFn); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.MetadataEngine)
	if err != nil {
		return nil, err
	}

	eng := New(db, hashFn)
	for _, sc := range cfg.Storages {
		backend, err := buildBackend(sc)
		if err != nil {
			db.Close()
			return nil, err
		}
		chain, transforms, err := buildChain(cfg.Transforms)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := eng.RegisterStorage(ctx, sc, backend, chain, transforms...); err != nil {
			db.Close()
			return nil, err
		}
	}
	return eng, nil
}

func buildBackend(sc config.StorageConfig) (storagebackend.Backend, error) {
	m := sc.Configuration
	limits := limitsFromConfig(m)
	hmacKey := bytesValue(m, "hmacKey")
	consistencyCheck := boolValue(m, "consistencyCheckWrites", false)

	switch sc.Module {
	case "file":
		return file.New(file.Config{
			Path:                   stringValue(m, "path"),
			HMACKey:                hmacKey,
			Limits:                 limits,
			ConsistencyCheckWrites: consistencyCheck,
		})
	case "s3":
		return s3.New(s3.Config{
			Bucket:                 stringValue(m, "bucket"),
			Region:                 stringValue(m, "region"),
			Endpoint:               stringValue(m, "endpoint"),
			AccessKeyID:            stringValue(m, "accessKeyId"),
			SecretAccessKey:        stringValue(m, "secretAccessKey"),
			ForcePathStyle:         boolValue(m, "forcePathStyle", false),
			HMACKey:                hmacKey,
			Limits:                 limits,
			ConsistencyCheckWrites: consistencyCheck,
		})
	default:
		return nil, blockvaulterrors.Configurationf("storage %q: unknown module %q", sc.Name, sc.Module)
	}
}

func limitsFromConfig(m map[string]any) storagebackend.Limits {
	limits := storagebackend.DefaultLimits()
	if v := intValue(m, "simultaneousWrites", 0); v > 0 {
		limits.SimultaneousWrites = v
	}
	if v := intValue(m, "simultaneousReads", 0); v > 0 {
		limits.SimultaneousReads = v
	}
	limits.BandwidthRead = intValue(m, "bandwidthRead", 0)
	limits.BandwidthWrite = intValue(m, "bandwidthWrite", 0)
	return limits
}

// buildChain wires one transform.Transform per configured module, in
// configuration order, into both a Chain (for Encapsulate) and a plain
// slice of the transforms, which the caller indexes by name for
// Decapsulate's reverse lookup.
func buildChain(mods []config.ModuleConfig) (*transform.Chain, []transform.Transform, error) {
	transforms := make([]transform.Transform, 0, len(mods))
	for _, mc := range mods {
		t, err := buildTransform(mc)
		if err != nil {
			return nil, nil, err
		}
		transforms = append(transforms, t)
	}
	return transform.NewChain(transforms...), transforms, nil
}

func buildTransform(mc config.ModuleConfig) (transform.Transform, error) {
	m := mc.Configuration
	switch mc.Module {
	case "zstd":
		level := intValue(m, "level", 1)
		return compression.New(level, bytesValue(m, "dictionary"))
	case "aes-256-gcm":
		masterKey := bytesValue(m, "masterKey")
		source, err := encryption.NewMasterKeyEnvelope(masterKey)
		if err != nil {
			return nil, err
		}
		nonceSize := encryption.Nonce96
		if intValue(m, "nonceSize", 96) == 128 {
			nonceSize = encryption.Nonce128
		}
		return encryption.New(source, nonceSize), nil
	default:
		return nil, blockvaulterrors.Configurationf("transform %q: unknown module %q", mc.Name, mc.Module)
	}
}

func stringValue(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolValue(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func intValue(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// bytesValue decodes a hex-encoded configuration string into raw bytes,
// falling back to the string's literal bytes if it is not valid hex (so
// a human-typed passphrase-like value still works).
func bytesValue(m map[string]any, key string) []byte {
	s := stringValue(m, key)
	if s == "" {
		return nil
	}
	if decoded, err := hex.DecodeString(s); err == nil {
		return decoded
	}
	return []byte(s)
}
