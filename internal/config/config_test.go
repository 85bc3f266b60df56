package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UpdateNetworksInterval != 120*time.Second || cfg.SyncInterval != 300*time.Second {
		t.Fatalf("unexpected intervals %v %v", cfg.UpdateNetworksInterval, cfg.SyncInterval)
	}
	if cfg.EventQueryTimeout != 20*time.Second || cfg.BatchSize != 5000 || cfg.Listen != ":5000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PushEnabled() {
		t.Fatalf("push enabled without credentials")
	}
}

func TestLoadPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.yaml")
	content := "rpc: http://file:8545\nsync-interval: 1m\nlisten: :6000\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RELAY_SYNC_INTERVAL", "30s")

	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flags.String("listen", ":5000", "")
	if err := flags.Parse([]string{"--listen", ":7000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(file, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file:8545" {
		t.Fatalf("rpc from file: %q", cfg.RPCURL)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Fatalf("env must override file: %v", cfg.SyncInterval)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("flag must override file: %q", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{RPCURL: "http://localhost:8545", AddressesFile: "addresses.json", BatchSize: 10}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.RPCURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing rpc accepted")
	}

	cfg = Config{RPCURL: "x", AddressesFile: "y", BatchSize: 1, PGDSN: "postgres://", TokenFile: "tokens.jsonl"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("two token stores accepted")
	}

	cfg = Config{FirebaseCredentials: "creds.json", TokenFile: "tokens.jsonl"}
	if !cfg.PushEnabled() {
		t.Fatalf("push disabled with credentials and store")
	}
}
