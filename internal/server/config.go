// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay hub.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/javelin/internal/auth"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// JWTConfig selects the handshake signing algorithm and its key material.
// Secret is used for HMAC algorithms, PublicKeyFile for the others.
type JWTConfig struct {
	Algorithm     string
	Secret        string
	PublicKeyFile string
}

// TLSConfig points at the PEM certificate and key used to serve wss://.
// TLS is off unless both are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether either file is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// Load reads the key pair into a server TLS configuration.
func (t TLSConfig) Load() (*tls.Config, error) {
	if t.CertFile == "" || t.KeyFile == "" {
		return nil, errors.New("TLS needs both RELAY_TLS_CERT_FILE and RELAY_TLS_KEY_FILE")
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Config holds the relay configuration.
type Config struct {
	Port            string
	Path            string
	Workers         int
	JWT             JWTConfig
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	DirectoryPath   string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBuffer      int
	QueueSize       int
	RateLimit       RateLimitConfig

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	// LocalIdentity registers the hub process itself as a peer so that
	// Send and Handle can exchange envelopes with remote peers.
	LocalIdentity  string
	LocalEndpoints []string

	LogLevel  string
	LogFormat string
}

func defaultConfig() Config {
	return Config{
		Port:            ":8080",
		Path:            "/",
		Workers:         runtime.NumCPU(),
		JWT:             JWTConfig{Algorithm: "HS256"},
		ShutdownTimeout: 5 * time.Second,
		DirectoryPath:   "servers.json",
		MaxMessageSize:  64 * 1024,
		SendBuffer:      256,
		QueueSize:       1024,
		RateLimit: RateLimitConfig{
			Burst:          50,
			RefillInterval: time.Second,
		},
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port = parsePort(cfg.Port); cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.JWT.Algorithm == "" {
		cfg.JWT.Algorithm = def.JWT.Algorithm
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.LocalEndpoints = append([]string(nil), cfg.LocalEndpoints...)
	return cfg
}

// KeyMaterial returns the verification key: the shared secret for HMAC
// algorithms, the PEM public key read from PublicKeyFile otherwise.
func (c Config) KeyMaterial() ([]byte, error) {
	if auth.IsHMAC(c.JWT.Algorithm) {
		if c.JWT.Secret == "" {
			return nil, fmt.Errorf("%s requires RELAY_JWT_SECRET", c.JWT.Algorithm)
		}
		return []byte(c.JWT.Secret), nil
	}

	if c.JWT.PublicKeyFile == "" {
		return nil, fmt.Errorf("%s requires RELAY_JWT_PUBLIC_KEY_FILE", c.JWT.Algorithm)
	}
	data, err := os.ReadFile(c.JWT.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return data, nil
}

// NewVerifier builds the token verifier described by the JWT settings.
func (c Config) NewVerifier() (*auth.JWTVerifier, error) {
	material, err := c.KeyMaterial()
	if err != nil {
		return nil, err
	}
	return auth.NewJWTVerifier(c.JWT.Algorithm, material)
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("RELAY_PORT"); port != "" {
		cfg.Port = parsePort(port)
	}
	if path := os.Getenv("RELAY_PATH"); path != "" {
		cfg.Path = path
	}
	if workers := os.Getenv("RELAY_WORKERS"); workers != "" {
		cfg.Workers = parseIntValue(workers, cfg.Workers)
	}
	if alg := os.Getenv("RELAY_JWT_ALGORITHM"); alg != "" {
		cfg.JWT.Algorithm = alg
	}
	cfg.JWT.Secret = os.Getenv("RELAY_JWT_SECRET")
	cfg.JWT.PublicKeyFile = os.Getenv("RELAY_JWT_PUBLIC_KEY_FILE")
	cfg.TLS.CertFile = os.Getenv("RELAY_TLS_CERT_FILE")
	cfg.TLS.KeyFile = os.Getenv("RELAY_TLS_KEY_FILE")

	if timeout := os.Getenv("RELAY_SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
	if dir := os.Getenv("RELAY_DIRECTORY"); dir != "" {
		cfg.DirectoryPath = dir
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if buffer := os.Getenv("RELAY_SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseIntValue(buffer, cfg.SendBuffer)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}
	if identity := os.Getenv("RELAY_LOCAL_IDENTITY"); identity != "" {
		cfg.LocalIdentity = identity
	}
	if endpoints := os.Getenv("RELAY_LOCAL_ENDPOINTS"); endpoints != "" {
		cfg.LocalEndpoints = parseList(endpoints)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	return &cfg
}

// parsePort accepts "8080" as well as ":8080" or "host:8080".
func parsePort(value string) string {
	value = strings.TrimSpace(value)
	if _, err := strconv.Atoi(value); err == nil {
		return ":" + value
	}
	return value
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts whole seconds ("5") or a Go duration ("1500ms").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
