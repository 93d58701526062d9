package config

import (
	"testing"

	"github.com/visumhq/visum-go/pkg/visum"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    false,
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		shouldSet    bool
		want         int
	}{
		{
			name:         "returns environment variable as int when set with valid integer",
			key:          "TEST_INT_VAR",
			defaultValue: 100,
			envValue:     "200",
			shouldSet:    true,
			want:         200,
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_INT_VAR_MISSING",
			defaultValue: 100,
			envValue:     "",
			shouldSet:    false,
			want:         100,
		},
		{
			name:         "returns default when environment variable is not a valid integer",
			key:          "TEST_INT_VAR_INVALID",
			defaultValue: 100,
			envValue:     "not_a_number",
			shouldSet:    true,
			want:         100,
		},
		{
			name:         "handles negative integers",
			key:          "TEST_INT_VAR_NEGATIVE",
			defaultValue: 100,
			envValue:     "-50",
			shouldSet:    true,
			want:         -50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("fails without credentials", func(t *testing.T) {
		t.Setenv("VISUM_API_KEY", "")
		t.Setenv("VISUM_CLIENT_ID", "")
		t.Setenv("VISUM_CLIENT_SECRET", "")

		if _, err := Load(); err == nil {
			t.Error("Load() error = nil, want error when no credentials are set")
		}
	})

	t.Run("accepts an API key alone", func(t *testing.T) {
		t.Setenv("VISUM_API_KEY", "test-api-key")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if cfg.APIKey != "test-api-key" {
			t.Errorf("Load() APIKey = %v, want test-api-key", cfg.APIKey)
		}
		if cfg.BaseURL != visum.DefaultBaseURL {
			t.Errorf("Load() BaseURL = %v, want %v", cfg.BaseURL, visum.DefaultBaseURL)
		}
		if cfg.MaxBatchSize != visum.DefaultMaxBatchSize {
			t.Errorf("Load() MaxBatchSize = %v, want %v", cfg.MaxBatchSize, visum.DefaultMaxBatchSize)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("Load() LogLevel = %v, want info", cfg.LogLevel)
		}
	})

	t.Run("accepts client credentials alone", func(t *testing.T) {
		t.Setenv("VISUM_API_KEY", "")
		t.Setenv("VISUM_CLIENT_ID", "client-id")
		t.Setenv("VISUM_CLIENT_SECRET", "client-secret")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if cfg.ClientID != "client-id" || cfg.ClientSecret != "client-secret" {
			t.Errorf("Load() credentials = %v/%v, want client-id/client-secret", cfg.ClientID, cfg.ClientSecret)
		}
	})

	t.Run("fails when a client credential is missing its pair", func(t *testing.T) {
		t.Setenv("VISUM_API_KEY", "")
		t.Setenv("VISUM_CLIENT_ID", "client-id")
		t.Setenv("VISUM_CLIENT_SECRET", "")

		if _, err := Load(); err == nil {
			t.Error("Load() error = nil, want error for client id without secret")
		}
	})

	t.Run("returns custom VISUM_BASE_URL when set", func(t *testing.T) {
		t.Setenv("VISUM_API_KEY", "test-api-key")
		t.Setenv("VISUM_BASE_URL", "https://visum.internal.example.com")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if cfg.BaseURL != "https://visum.internal.example.com" {
			t.Errorf("Load() BaseURL = %v, want custom value", cfg.BaseURL)
		}
	})
}

func TestLoad_MaxBatchSize(t *testing.T) {
	t.Setenv("VISUM_API_KEY", "test-api-key")

	t.Run("override via VISUM_MAX_BATCH_SIZE", func(t *testing.T) {
		t.Setenv("VISUM_MAX_BATCH_SIZE", "32")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxBatchSize != 32 {
			t.Errorf("MaxBatchSize = %d, want 32", cfg.MaxBatchSize)
		}
	})

	t.Run("validation error when <= 0", func(t *testing.T) {
		t.Setenv("VISUM_MAX_BATCH_SIZE", "0")
		if _, err := Load(); err == nil {
			t.Error("Load() error = nil, want error for VISUM_MAX_BATCH_SIZE <= 0")
		}
	})

	t.Run("non-numeric falls back to default", func(t *testing.T) {
		t.Setenv("VISUM_MAX_BATCH_SIZE", "x")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.MaxBatchSize != visum.DefaultMaxBatchSize {
			t.Errorf("MaxBatchSize = %d, want default %d", cfg.MaxBatchSize, visum.DefaultMaxBatchSize)
		}
	})
}

func TestLoad_TimeoutSeconds(t *testing.T) {
	t.Setenv("VISUM_API_KEY", "test-api-key")

	t.Run("default is 30 when unset", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.TimeoutSeconds != 30 {
			t.Errorf("TimeoutSeconds = %d, want 30", cfg.TimeoutSeconds)
		}
	})

	t.Run("validation error when <= 0", func(t *testing.T) {
		t.Setenv("VISUM_TIMEOUT_SECONDS", "-1")
		if _, err := Load(); err == nil {
			t.Error("Load() error = nil, want error for VISUM_TIMEOUT_SECONDS <= 0")
		}
	})
}
