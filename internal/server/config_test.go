package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 256, cfg.SubscriberBuffer)
	assert.Less(t, cfg.PingPeriod, cfg.PongWait)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , https://b.example ")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("SUBSCRIBER_BUFFER", "8")
	t.Setenv("SHUTDOWN_TIMEOUT", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.EqualValues(t, 1024, cfg.MaxMessageSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 8, cfg.SubscriberBuffer)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestNewConfigFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-5")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "soon")
	t.Setenv("SUBSCRIBER_BUFFER", "0")
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")

	cfg := NewConfigFromEnv()
	defaults := NewConfig()

	assert.Equal(t, defaults.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, defaults.RateLimit, cfg.RateLimit)
	assert.Equal(t, defaults.SubscriberBuffer, cfg.SubscriberBuffer)
	assert.Equal(t, defaults.ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "go syntax", value: "250ms", want: 250 * time.Millisecond},
		{name: "bare seconds", value: "3", want: 3 * time.Second},
		{name: "zero", value: "0", want: time.Minute},
		{name: "negative", value: "-2s", want: time.Minute},
		{name: "garbage", value: "later", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDuration(tt.value, time.Minute))
		})
	}
}

func TestSanitize(t *testing.T) {
	cfg := sanitize(Config{
		PongWait:   10 * time.Second,
		PingPeriod: 20 * time.Second,
	})

	assert.Equal(t, defaultPort, cfg.Port)
	assert.EqualValues(t, defaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, defaultSubscriberBuffer, cfg.SubscriberBuffer)
	assert.Equal(t, 9*time.Second, cfg.PingPeriod, "ping period must stay below the pong wait")
	assert.Equal(t, defaultWriteWait, cfg.WriteWait)
}

func TestSanitizeCopiesOrigins(t *testing.T) {
	origins := []string{"http://a.example"}
	cfg := sanitize(Config{AllowedOrigins: origins})

	origins[0] = "http://changed.example"
	assert.Equal(t, []string{"http://a.example"}, cfg.AllowedOrigins)
}

func TestRateLimitConfigLimit(t *testing.T) {
	tests := []struct {
		name string
		cfg  RateLimitConfig
		want rate.Limit
	}{
		{name: "ten per second", cfg: RateLimitConfig{Burst: 10, RefillInterval: time.Second}, want: 10},
		{name: "five per two seconds", cfg: RateLimitConfig{Burst: 5, RefillInterval: 2 * time.Second}, want: 2.5},
		{name: "disabled burst", cfg: RateLimitConfig{Burst: 0, RefillInterval: time.Second}, want: rate.Inf},
		{name: "disabled interval", cfg: RateLimitConfig{Burst: 3}, want: rate.Inf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, float64(tt.want), float64(tt.cfg.Limit()), 1e-9)
		})
	}
}
