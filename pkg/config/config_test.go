package config

import "testing"

const validConfig = `
configurationVersion: '1.0.0'
logFile: /var/log/blockvault.log
blockSize: 4194304
defaultStorage: s1
metadataEngine: sqlite:///var/lib/blockvault/blockvault.sqlite
storages:
  - name: s1
    module: file
    storageId: 1
    configuration:
      path: /var/lib/blockvault/data
      simultaneousWrites: 5
      simultaneousReads: 5
nbd:
  cacheDirectory: /tmp
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BlockSize != 4194304 {
		t.Errorf("BlockSize = %d, want 4194304", cfg.BlockSize)
	}
	if cfg.ProcessName != "blockvault" {
		t.Errorf("ProcessName default = %q, want blockvault", cfg.ProcessName)
	}
	if cfg.HashFunction != "blake2b-256" {
		t.Errorf("HashFunction default = %q", cfg.HashFunction)
	}
	if len(cfg.Storages) != 1 || cfg.Storages[0].Name != "s1" {
		t.Fatalf("storages = %+v", cfg.Storages)
	}
}

func TestParseMissingVersion(t *testing.T) {
	_, err := Parse([]byte("blockSize: 4194304\n"))
	if err == nil {
		t.Fatal("expected an error for missing configurationVersion")
	}
}

func TestParseWrongMajorVersion(t *testing.T) {
	bad := `
configurationVersion: '2.0.0'
blockSize: 4194304
metadataEngine: sqlite:///x
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected an error for an unsupported configurationVersion major")
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	bad := validConfig + "\nbogusOption: true\n"
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected an error for an unrecognized top-level key")
	}
}

func TestParseDefaultStorageMustExist(t *testing.T) {
	bad := `
configurationVersion: '1.0.0'
blockSize: 4194304
metadataEngine: sqlite:///x
defaultStorage: nope
storages:
  - name: s1
    module: file
    storageId: 1
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected an error when defaultStorage does not match a configured storage")
	}
}

func TestStorageByName(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatal(err)
	}
	s, ok := cfg.StorageByName("s1")
	if !ok || s.Module != "file" {
		t.Fatalf("StorageByName(s1) = %+v, %v", s, ok)
	}
	if _, ok := cfg.StorageByName("missing"); ok {
		t.Fatal("expected ok=false for an unknown storage name")
	}
}
