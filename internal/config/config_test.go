package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestLoad_RequiresTokenSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SESSION_TOKEN_SECRET", "")
	t.Setenv("RECRUITER_JWT_SECRET", "recruiter")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when SESSION_TOKEN_SECRET is missing")
		}
	}()
	Load()
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SESSION_TOKEN_SECRET", "session")
	t.Setenv("RECRUITER_JWT_SECRET", "recruiter")
	t.Setenv("SESSION_TOKEN_TTL_HOURS", "")
	t.Setenv("SWEEP_INTERVAL_MINUTES", "")
	t.Setenv("MAX_UPLOAD_MB", "")

	cfg := Load()
	if cfg.SessionTokenTTL() != 72*time.Hour {
		t.Errorf("Expected 72h token TTL, got %s", cfg.SessionTokenTTL())
	}
	if cfg.SweepInterval() != 10*time.Minute {
		t.Errorf("Expected 10m sweep interval, got %s", cfg.SweepInterval())
	}
	if cfg.MaxUploadMB != 512 {
		t.Errorf("Expected 512 MB upload limit, got %d", cfg.MaxUploadMB)
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		p, err := LoadPolicy("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.MCQDurationSec != 900 || p.VoiceDurationSec != 900 {
			t.Errorf("Expected 900s phases, got %d/%d", p.MCQDurationSec, p.VoiceDurationSec)
		}
		if p.FullscreenEnforced {
			t.Error("Expected advisory fullscreen by default")
		}
	})

	t.Run("file overrides and fills zero durations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		body := "mcq_duration_sec: 600\nfullscreen_enforced: true\ntab_switch_limit: 3\nblock_on_tab_switch_limit: true\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}

		p, err := LoadPolicy(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.MCQDurationSec != 600 {
			t.Errorf("Expected 600, got %d", p.MCQDurationSec)
		}
		if p.VoiceDurationSec != 900 {
			t.Errorf("Expected default voice duration, got %d", p.VoiceDurationSec)
		}
		if !p.FullscreenEnforced || p.TabSwitchLimit != 3 || !p.BlockOnTabSwitchLimit {
			t.Errorf("Unexpected proctoring flags: %+v", p)
		}
	})

	t.Run("rejects negative tab limit", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		os.WriteFile(path, []byte("tab_switch_limit: -1\n"), 0o644)
		if _, err := LoadPolicy(path); err == nil {
			t.Error("Expected error for negative tab_switch_limit")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}
