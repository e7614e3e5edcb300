package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default.Validate(); err != nil {
		t.Fatalf("Default should validate, got %v", err)
	}
}

func TestNumNamesAndDerivedWidths(t *testing.T) {
	p := Default
	if got := p.NumNames(); got != p.NumShards*p.ShardSlots {
		t.Fatalf("NumNames mismatch: got %d", got)
	}
	if got := p.LogShard(); got != 7 {
		t.Fatalf("expected log2(128)=7, got %d", got)
	}
	if got := p.Rounds(); got != 3 {
		t.Fatalf("expected log2(8)=3 rounds, got %d", got)
	}
}

func TestValidateRejectsNonPowerOfTwoWidths(t *testing.T) {
	p := Default
	p.NumShards = 3
	if err := p.Validate(); err == nil {
		t.Fatalf("expected an error for non-power-of-two NumShards")
	}
}

func TestValidateRejectsHashesWiderThanSlots(t *testing.T) {
	p := Default
	p.NumHashes = p.ShardSlots + 1
	if err := p.Validate(); err == nil {
		t.Fatalf("expected an error when NumHashes exceeds ShardSlots")
	}
}

func TestLoadWithoutPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != Default {
		t.Fatalf("expected Default back unchanged, got %+v", p)
	}
}

func TestLoadAppliesOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.json")
	overrides := map[string]int{"tx_duration": 5, "num_puppets": 4}
	data, err := json.Marshal(overrides)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TxDuration != 5 || p.NumPuppets != 4 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.NumShards != Default.NumShards || p.Pool != Default.Pool {
		t.Fatalf("fields absent from the override file should keep their default: %+v", p)
	}
}

func TestLoadRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte(`{"num_shards": 3}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error from a config that fails Validate")
	}
}
