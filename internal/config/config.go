package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/saviobatista/uavlog/internal/decoder"
)

// Config holds the application configuration
type Config struct {
	OutputDir     string
	StampPath     string
	Workers       int
	NATSURL       string
	DBConnStr     string
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration
	Compress      bool
	Decoder       DecoderSettings
}

// DecoderSettings are the per run decoding knobs. They can be given in a
// TOML file named by DECODER_CONFIG:
//
//	message_class = "telemetry"
//	policy = "skip"
//	time_offset = 0.0
//	max_payload = 4096
//	aircraft = [1, 2]
//	messages = ["GPS"]
type DecoderSettings struct {
	MessageClass string   `toml:"message_class"`
	Policy       string   `toml:"policy"`
	TimeOffset   float64  `toml:"time_offset"`
	MaxPayload   int      `toml:"max_payload"`
	Aircraft     []uint32 `toml:"aircraft"`
	Messages     []string `toml:"messages"`
}

// Options converts the settings to decoder options
func (d DecoderSettings) Options() (decoder.Options, error) {
	policy, err := decoder.ParsePolicy(d.Policy)
	if err != nil {
		return decoder.Options{}, err
	}
	return decoder.Options{
		Policy:         policy,
		TimeOffset:     d.TimeOffset,
		AircraftFilter: d.Aircraft,
		MessageFilter:  d.Messages,
		MaxPayload:     d.MaxPayload,
	}, nil
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./output" // Default output directory
	}

	workers, err := intEnv("WORKERS", 4)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", workers)
	}

	cacheTTL := 24 * time.Hour
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if cacheTTL, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid CACHE_TTL %q: %w", v, err)
		}
	}

	cfg := &Config{
		OutputDir:     outputDir,
		StampPath:     os.Getenv("STAMP_PATH"),
		Workers:       workers,
		NATSURL:       os.Getenv("NATS_URL"),
		DBConnStr:     os.Getenv("DB_CONN_STR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CacheTTL:      cacheTTL,
		Compress:      os.Getenv("COMPRESS_MESSAGES") != "false",
	}

	if path := os.Getenv("DECODER_CONFIG"); path != "" {
		settings, err := LoadDecoderSettings(path)
		if err != nil {
			return nil, err
		}
		cfg.Decoder = *settings
	}
	if policy := os.Getenv("DECODE_POLICY"); policy != "" {
		cfg.Decoder.Policy = policy
	}
	if _, err := decoder.ParsePolicy(cfg.Decoder.Policy); err != nil {
		return nil, fmt.Errorf("invalid DECODE_POLICY: %w", err)
	}

	return cfg, nil
}

// LoadDecoderSettings reads decoder settings from a TOML file
func LoadDecoderSettings(path string) (*DecoderSettings, error) {
	var settings DecoderSettings
	meta, err := toml.DecodeFile(path, &settings)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoder config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("decoder config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if settings.MaxPayload < 0 {
		return nil, fmt.Errorf("decoder config %s: max_payload must not be negative", path)
	}
	return &settings, nil
}

// StampFile returns where the file stamp store keeps the version stamp,
// defaulting to a file in the output directory
func (c *Config) StampFile() string {
	if c.StampPath != "" {
		return c.StampPath
	}
	return filepath.Join(c.OutputDir, "decoder.stamp.json")
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}
