package server

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, "/", cfg.Path)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, "HS256", cfg.JWT.Algorithm)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(64*1024), cfg.MaxMessageSize)
	assert.Less(t, cfg.PingInterval, cfg.PongWait)
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Path:         "relay",
		PongWait:     10 * time.Second,
		PingInterval: time.Minute,
	})

	assert.Equal(t, "/relay", cfg.Path)
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, 9*time.Second, cfg.PingInterval)
	assert.Positive(t, cfg.Workers)
	assert.Positive(t, cfg.SendBuffer)
	assert.Positive(t, cfg.QueueSize)
}

func TestSanitizeConfigNormalizesPort(t *testing.T) {
	tests := map[string]string{
		"9000":           ":9000",
		" 9000 ":         ":9000",
		":9000":          ":9000",
		"127.0.0.1:9000": "127.0.0.1:9000",
		"":               ":8080",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeConfig(Config{Port: in}).Port, in)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("RELAY_PATH", "/relay")
	t.Setenv("RELAY_WORKERS", "3")
	t.Setenv("RELAY_JWT_ALGORITHM", "ES256")
	t.Setenv("RELAY_JWT_SECRET", "s3cret")
	t.Setenv("RELAY_SHUTDOWN_TIMEOUT", "1500ms")
	t.Setenv("RELAY_DIRECTORY", "peers.db")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("RELAY_LOCAL_IDENTITY", "hub")
	t.Setenv("RELAY_LOCAL_ENDPOINTS", "whisper,chat")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RELAY_TLS_CERT_FILE", "cert.pem")
	t.Setenv("RELAY_TLS_KEY_FILE", "key.pem")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, "/relay", cfg.Path)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "ES256", cfg.JWT.Algorithm)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 1500*time.Millisecond, cfg.ShutdownTimeout)
	assert.Equal(t, "peers.db", cfg.DirectoryPath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(64*1024), cfg.MaxMessageSize, "invalid values fall back to defaults")
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "hub", cfg.LocalIdentity)
	assert.Equal(t, []string{"whisper", "chat"}, cfg.LocalEndpoints)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, TLSConfig{CertFile: "cert.pem", KeyFile: "key.pem"}, cfg.TLS)
	assert.True(t, cfg.TLS.Enabled())
}

func TestTLSConfigLoad(t *testing.T) {
	assert.False(t, TLSConfig{}.Enabled())

	_, err := TLSConfig{CertFile: "cert.pem"}.Load()
	assert.ErrorContains(t, err, "both")

	_, err = TLSConfig{CertFile: "missing.pem", KeyFile: "missing.pem"}.Load()
	assert.ErrorContains(t, err, "load TLS key pair")
}

func TestKeyMaterial(t *testing.T) {
	cfg := NewConfig()
	_, err := cfg.KeyMaterial()
	assert.Error(t, err, "HMAC without secret")

	cfg.JWT.Secret = "s3cret"
	material, err := cfg.KeyMaterial()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), material)

	cfg.JWT.Algorithm = "RS256"
	_, err = cfg.KeyMaterial()
	assert.Error(t, err, "asymmetric algorithm without key file")

	keyFile := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte("pem"), 0o600))
	cfg.JWT.PublicKeyFile = keyFile
	material, err = cfg.KeyMaterial()
	require.NoError(t, err)
	assert.Equal(t, []byte("pem"), material)
}
