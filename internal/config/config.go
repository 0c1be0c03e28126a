package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	GRPCPort int    // 0 disables the gRPC health listener
	Profile  string // prod|default (logger encoding)
	Preset   string // groq|vllm (upstream defaults)

	// Upstream
	UpstreamURL           string
	UpstreamModel         string
	APIKeyEnv             string // name of the env var holding the bearer credential
	DefaultMaxTokens      int
	UpstreamHeaderTimeout time.Duration

	// Limits
	MaxBodyBytes      int64
	StreamBufferBytes int
	StreamChunkPolicy string // ignore-malformed-chunk|fail-on-malformed-chunk

	MetricsEnabled  bool
	PersonaFile     string
	ShutdownTimeout time.Duration
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvStr(k string, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvMs(k string, def int) time.Duration {
	return time.Duration(getEnvInt(k, def)) * time.Millisecond
}

// LoadConfig reads the process environment. UpstreamURL and UpstreamModel stay
// empty unless set explicitly; ApplyPresetOverrides fills them afterwards.
func LoadConfig() Config {
	return Config{
		Port:     getEnvInt("PORT", 8080),
		GRPCPort: getEnvInt("GRPC_PORT", 0),
		Profile:  getEnvStr("PROFILE", "default"),
		Preset:   strings.ToLower(getEnvStr("PRESET", "groq")),

		UpstreamURL:           getEnvStr("UPSTREAM_URL", ""),
		UpstreamModel:         getEnvStr("UPSTREAM_MODEL", ""),
		APIKeyEnv:             getEnvStr("API_KEY_ENV", "GROQ_API_KEY"),
		DefaultMaxTokens:      getEnvInt("DEFAULT_MAX_TOKENS", 4096),
		UpstreamHeaderTimeout: getEnvMs("UPSTREAM_HEADER_TIMEOUT_MS", 60000),

		MaxBodyBytes:      int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		StreamBufferBytes: getEnvInt("STREAM_BUFFER_BYTES", 1<<20),
		StreamChunkPolicy: strings.ToLower(getEnvStr("STREAM_CHUNK_POLICY", "ignore-malformed-chunk")),

		MetricsEnabled:  getBool("METRICS_ENABLED", true),
		PersonaFile:     getEnvStr("PERSONA_FILE", ""),
		ShutdownTimeout: getEnvMs("SHUTDOWN_TIMEOUT_MS", 10000),
	}
}

// Validate reports settings the proxy cannot run without. Call it after
// ApplyPresetOverrides.
func (c Config) Validate() error {
	if c.UpstreamURL == "" {
		return errors.New("UPSTREAM_URL is empty")
	}
	if c.UpstreamModel == "" {
		return fmt.Errorf("UPSTREAM_MODEL must be set for preset %q", c.Preset)
	}
	return nil
}
