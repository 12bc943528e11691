package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ghprs.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
github:
  owner: acme
  repo: widgets
  enterprise_url: https://github.acme.com
cache:
  backend: otter
  default_ttl: 2m
  max_size: 500
  coalesce: true
  ttl_overrides:
    - uri: api.github.com/repos/acme/widgets/branches
      ttl: 30m
log:
  level: debug
http:
  timeout: 10s
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.GitHub.Owner != "acme" || cfg.GitHub.Repo != "widgets" {
		t.Errorf("repository = %s/%s, want acme/widgets", cfg.GitHub.Owner, cfg.GitHub.Repo)
	}
	if cfg.Cache.Backend != BackendOtter {
		t.Errorf("backend = %q, want %q", cfg.Cache.Backend, BackendOtter)
	}
	if cfg.Cache.DefaultTTL != 2*time.Minute {
		t.Errorf("default_ttl = %v, want 2m", cfg.Cache.DefaultTTL)
	}
	if len(cfg.Cache.TTLOverrides) != 1 || cfg.Cache.TTLOverrides[0].TTL != 30*time.Minute {
		t.Errorf("ttl_overrides = %+v", cfg.Cache.TTLOverrides)
	}
	if !cfg.Cache.Coalesce || cfg.Cache.MaxSize != 500 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.HTTP.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.HTTP.Timeout)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.Log.SlogLevel())
	}

	// defaults survive for unset fields
	if cfg.Cache.RateLimitBuffer != 10 {
		t.Errorf("rate_limit_buffer = %d, want 10", cfg.Cache.RateLimitBuffer)
	}
	if cfg.Profiles.DSN != "ghprs.db" {
		t.Errorf("profiles dsn = %q, want ghprs.db", cfg.Profiles.DSN)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("GHPRS_TEST_TOKEN", "ghp_secret")

	cfg, err := Load(writeConfig(t, "github:\n  token: ${GHPRS_TEST_TOKEN}\n  owner: ${GHPRS_TEST_UNSET}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHub.Token != "ghp_secret" {
		t.Errorf("token = %q, want ghp_secret", cfg.GitHub.Token)
	}
	// unknown variables are left as written
	if cfg.GitHub.Owner != "${GHPRS_TEST_UNSET}" {
		t.Errorf("owner = %q", cfg.GitHub.Owner)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown backend", yaml: "cache:\n  backend: memcached\n", want: "unknown cache backend"},
		{name: "postgres without dsn", yaml: "cache:\n  backend: postgres\n", want: "dsn is required"},
		{name: "negative buffer", yaml: "cache:\n  rate_limit_buffer: -1\n", want: "must not be negative"},
		{name: "bad yaml", yaml: "cache: [", want: "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
