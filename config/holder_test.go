package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHolder_GetAndReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer h.Stop()

	if h.Get().Server.Port != 8080 {
		t.Errorf("initial port = %d", h.Get().Server.Port)
	}

	updated := minimalConfig + "server:\n  port: 9191\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.Get().Server.Port != 9191 {
		t.Errorf("port after reload = %d, want 9191", h.Get().Server.Port)
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer h.Stop()

	// Break the file: validation must fail and the old config stay.
	if err := os.WriteFile(path, []byte("auth:\n  jwt_secret: x\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if h.Get().Upstream.URL != "http://localhost:3000" {
		t.Errorf("old config lost: %+v", h.Get().Upstream)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer h.Stop()

	var got *Config
	h.OnChange(func(c *Config) { got = c })

	updated := minimalConfig + "metering:\n  exempt_origin: studio.internal\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got == nil {
		t.Fatal("onChange callback not invoked")
	}
	if got.Metering.ExemptOrigin != "studio.internal" {
		t.Errorf("callback config = %+v", got.Metering)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	h, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer h.Stop()

	changed := make(chan struct{}, 1)
	h.OnChange(func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	updated := minimalConfig + "server:\n  port: 9292\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not pick up the change")
	}
	if h.Get().Server.Port != 9292 {
		t.Errorf("port after watch reload = %d", h.Get().Server.Port)
	}
}

func TestNewHolder_MissingFile(t *testing.T) {
	if _, err := NewHolder(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop()); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestReloadableFields(t *testing.T) {
	fields := ReloadableFields()
	if len(fields) == 0 {
		t.Fatal("ReloadableFields returned empty")
	}
	for _, want := range []string{"metering.exempt_origin", "metering.api_costs", "logging.level"} {
		if !containsField(fields, want) {
			t.Errorf("%s not in ReloadableFields", want)
		}
	}
	// A field must not claim both behaviors.
	for _, f := range NonReloadableFields() {
		if containsField(fields, f) {
			t.Errorf("%s listed as both reloadable and non-reloadable", f)
		}
	}
}

func TestNonReloadableFields(t *testing.T) {
	fields := NonReloadableFields()
	if len(fields) == 0 {
		t.Fatal("NonReloadableFields returned empty")
	}
	for _, want := range []string{"server.port", "upstream.url", "database.dsn", "auth.jwt_secret"} {
		if !containsField(fields, want) {
			t.Errorf("%s not in NonReloadableFields", want)
		}
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
