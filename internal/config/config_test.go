package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestCacheBase_XDGSet(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")
	got := cacheBase()
	want := filepath.Join("/custom/cache", "rsindex")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_HomeDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	got := cacheBase()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	want := filepath.Join(home, ".cache", "rsindex")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_TmpFallback(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "")
	got := cacheBase()
	// Should use os.TempDir() when HOME is unset
	if !strings.Contains(got, "rsindex") {
		t.Errorf("expected rsindex in path, got %q", got)
	}
}

func TestSocketPath_RuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/test")
	if got, want := SocketPath(), filepath.Join("/run/test", "rsindex", "daemon.sock"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecode_Defaults(t *testing.T) {
	cfg, err := decode(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Daemon.Expiration != 10*time.Minute {
		t.Errorf("expiration = %s, want 10m", cfg.Daemon.Expiration)
	}
	if cfg.Loader.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Loader.Concurrency)
	}
}

func TestDecode_Values(t *testing.T) {
	cfg, err := decode(map[string]interface{}{
		"daemon":     map[string]interface{}{"expiration": "90s"},
		"activation": map[string]interface{}{"on_start": "true"},
		"index":      map[string]interface{}{"restore": true, "autosave": false},
		"loader":     map[string]interface{}{"concurrency": "auto", "strict": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Daemon.Expiration != 90*time.Second {
		t.Errorf("expiration = %s", cfg.Daemon.Expiration)
	}
	if !cfg.Activation.OnStart || !cfg.Index.Restore || cfg.Index.Autosave || !cfg.Loader.Strict {
		t.Errorf("flags not decoded: %+v", cfg)
	}
	if int(cfg.Loader.Concurrency) != runtime.NumCPU() {
		t.Errorf("concurrency = %d, want %d", cfg.Loader.Concurrency, runtime.NumCPU())
	}
}

func TestDecode_BadConcurrency(t *testing.T) {
	_, err := decode(map[string]interface{}{
		"loader": map[string]interface{}{"concurrency": "lots"},
	})
	if err == nil {
		t.Error("expected error for non-numeric concurrency")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	if err := os.MkdirAll(filepath.Join(dir, "rsindex"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rsindex", "config.toml"), []byte("[loader]\nconcurrency = 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RSINDEX_ACTIVATION_ON_START", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Loader.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3 from file", cfg.Loader.Concurrency)
	}
	if !cfg.Activation.OnStart {
		t.Error("env override for activation.on_start not applied")
	}
}
