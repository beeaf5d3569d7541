package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Run("returns value when set", func(t *testing.T) {
		os.Setenv("TEST_GET_ENV_KEY", "myvalue")
		defer os.Unsetenv("TEST_GET_ENV_KEY")

		if got := getEnv("TEST_GET_ENV_KEY", "default"); got != "myvalue" {
			t.Errorf("got %q, want myvalue", got)
		}
	})

	t.Run("returns default when unset", func(t *testing.T) {
		os.Unsetenv("TEST_GET_ENV_KEY_MISSING")
		if got := getEnv("TEST_GET_ENV_KEY_MISSING", "fallback"); got != "fallback" {
			t.Errorf("got %q, want fallback", got)
		}
	})
}

func TestGetEnvAsInt(t *testing.T) {
	t.Run("valid int", func(t *testing.T) {
		os.Setenv("TEST_INT", "42")
		defer os.Unsetenv("TEST_INT")

		if got := getEnvAsInt("TEST_INT", 10); got != 42 {
			t.Errorf("got %d, want 42", got)
		}
	})

	t.Run("invalid int returns default", func(t *testing.T) {
		os.Setenv("TEST_INT_BAD", "not_a_number")
		defer os.Unsetenv("TEST_INT_BAD")

		if got := getEnvAsInt("TEST_INT_BAD", 99); got != 99 {
			t.Errorf("got %d, want 99", got)
		}
	})

	t.Run("unset returns default", func(t *testing.T) {
		os.Unsetenv("TEST_INT_MISSING")
		if got := getEnvAsInt("TEST_INT_MISSING", 7); got != 7 {
			t.Errorf("got %d, want 7", got)
		}
	})
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"1500ms", 1500 * time.Millisecond},
		{"3s", 3 * time.Second},
		{"250", 250 * time.Millisecond},
		{"soon", 5 * time.Second},
		{"", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvAsDuration("TEST_DURATION", 5*time.Second); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"OPENMATRIX_URL", "OPENMATRIX_POLL_INTERVAL", "OPENMATRIX_RETRIES", "REDIS_ADDR", "MQTT_BROKER", "API_PORT", "REDIS_CONSUMER_GROUP", "AMQP_URL", "AMQP_EXCHANGE", "AMQP_PREFETCH_COUNT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", cfg.Device.PollInterval)
	}
	if cfg.Device.RequestTimeout != 2*time.Second {
		t.Errorf("request timeout = %v, want 2s", cfg.Device.RequestTimeout)
	}
	if cfg.Device.Retries != 2 {
		t.Errorf("retries = %d, want 2", cfg.Device.Retries)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("redis should be disabled by default, got %q", cfg.Redis.Addr)
	}
	if cfg.MQTT.TopicPrefix != "openmatrix" {
		t.Errorf("topic prefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.API.Port != 0 {
		t.Errorf("control API should be disabled by default, got port %d", cfg.API.Port)
	}
	if cfg.Redis.ConsumerGroup != "openmatrix-bridge" {
		t.Errorf("consumer group = %q", cfg.Redis.ConsumerGroup)
	}
	if cfg.AMQP.URL != "" || cfg.AMQP.Exchange != "openmatrix" || cfg.AMQP.PrefetchCount != 1 {
		t.Errorf("unexpected AMQP defaults: %+v", cfg.AMQP)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENMATRIX_URL", "http://10.0.0.7")
	t.Setenv("OPENMATRIX_RETRIES", "5")
	t.Setenv("IMAGING_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.BaseURL != "http://10.0.0.7" {
		t.Errorf("base URL = %q", cfg.Device.BaseURL)
	}
	if cfg.Device.Retries != 5 {
		t.Errorf("retries = %d, want 5", cfg.Device.Retries)
	}
	if cfg.Imaging.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Imaging.Workers)
	}
}
