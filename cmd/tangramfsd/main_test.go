package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangramfs/tangramfs/internal/config"
	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/persistedconfig"
)

func TestResolveSelfSubstitutesWildcardHost(t *testing.T) {
	cfg := &config.Config{ListenAddr: "0.0.0.0:7777", Rank: 3}
	self, err := resolveSelf("node01", cfg)
	if err != nil {
		t.Fatalf("resolveSelf: %v", err)
	}
	if got, want := string(self.Interface), "node01:7777"; got != want {
		t.Fatalf("Interface = %q, want %q", got, want)
	}
	if got, want := string(self.Device), "node01#3"; got != want {
		t.Fatalf("Device = %q, want %q", got, want)
	}
}

func TestResolveSelfKeepsConcreteHost(t *testing.T) {
	cfg := &config.Config{ListenAddr: "10.0.0.5:7777", Rank: 0}
	self, err := resolveSelf("node01", cfg)
	if err != nil {
		t.Fatalf("resolveSelf: %v", err)
	}
	if got, want := string(self.Interface), "10.0.0.5:7777"; got != want {
		t.Fatalf("Interface = %q, want %q", got, want)
	}
}

func TestResolveSelfRejectsMalformedListenAddr(t *testing.T) {
	cfg := &config.Config{ListenAddr: "not-a-host-port"}
	if _, err := resolveSelf("node01", cfg); err == nil {
		t.Fatal("expected error for malformed listen_addr")
	}
}

func TestJobSizeFallsBackToOneWithoutNodelist(t *testing.T) {
	cfg := &config.Config{PersistDir: t.TempDir()}
	size, err := jobSize(cfg)
	if err != nil {
		t.Fatalf("jobSize: %v", err)
	}
	if size != 1 {
		t.Fatalf("jobSize = %d, want 1", size)
	}
}

func TestJobSizeReflectsNodelist(t *testing.T) {
	dir := t.TempDir()
	if err := persistedconfig.WriteNodelist(dir, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("WriteNodelist: %v", err)
	}
	cfg := &config.Config{PersistDir: dir}
	size, err := jobSize(cfg)
	if err != nil {
		t.Fatalf("jobSize: %v", err)
	}
	if size != 3 {
		t.Fatalf("jobSize = %d, want 3", size)
	}
}

func TestPublishServerAddrGlobalVsLocal(t *testing.T) {
	persistDir := t.TempDir()
	bufferDir := t.TempDir()
	self := addr.New([]byte("node01#0"), []byte("node01:7777"))

	globalCfg := &config.Config{PersistDir: persistDir, UseLocalServer: false}
	if err := publishServerAddr(globalCfg, "node01", self); err != nil {
		t.Fatalf("publishServerAddr (global): %v", err)
	}
	if _, err := os.Stat(filepath.Join(persistDir, persistedconfig.GlobalConfigName)); err != nil {
		t.Fatalf("expected global config file: %v", err)
	}

	localCfg := &config.Config{BufferDir: bufferDir, UseLocalServer: true}
	if err := publishServerAddr(localCfg, "node01", self); err != nil {
		t.Fatalf("publishServerAddr (local): %v", err)
	}
	if _, err := os.Stat(filepath.Join(bufferDir, persistedconfig.NodeConfigName("node01"))); err != nil {
		t.Fatalf("expected per-node config file: %v", err)
	}
}

func TestAwaitServerAddrReturnsOncePublished(t *testing.T) {
	persistDir := t.TempDir()
	self := addr.New([]byte("node01#0"), []byte("node01:7777"))
	if err := persistedconfig.WriteGlobalServerAddr(persistDir, self); err != nil {
		t.Fatalf("WriteGlobalServerAddr: %v", err)
	}

	cfg := &config.Config{PersistDir: persistDir}
	got, err := awaitServerAddr(context.Background(), cfg, "node01")
	if err != nil {
		t.Fatalf("awaitServerAddr: %v", err)
	}
	if !got.Equal(self) {
		t.Fatalf("awaitServerAddr = %v, want %v", got, self)
	}
}
