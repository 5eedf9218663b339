package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Cache       CacheConfig     `yaml:"cache"`
	Chunking    ChunkingConfig  `yaml:"chunking"`
	Acoustic    AcousticConfig  `yaml:"acoustic"`
	Playback    PlaybackConfig  `yaml:"playback"`
	TTS         TTSConfig       `yaml:"tts"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CacheConfig selects the analysis cache tiers. Mode is one of
// ephemeral|sqlite|postgres.
type CacheConfig struct {
	Mode          string `yaml:"mode"`
	Path          string `yaml:"path"`
	DatabaseURL   string `yaml:"database_url"`
	MemoryEntries int    `yaml:"memory_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ChunkingConfig struct {
	WordsPerChunk  int     `yaml:"words_per_chunk"`
	WordsPerMinute float64 `yaml:"words_per_minute"`
}

type AcousticConfig struct {
	Enabled      bool    `yaml:"enabled"`
	WindowMS     int     `yaml:"window_ms"`
	Threshold    float64 `yaml:"threshold"`
	MinSilenceMS int     `yaml:"min_silence_ms"`
	MinSegmentMS int     `yaml:"min_segment_ms"`
}

type PlaybackConfig struct {
	LookaheadMS         int     `yaml:"lookahead_ms"`
	TickMS              int     `yaml:"tick_ms"`
	PreloadConcurrency  int     `yaml:"preload_concurrency"`
	FallbackWordSeconds float64 `yaml:"fallback_word_seconds"`
	Speed               float64 `yaml:"speed"`
	OutputSampleRate    int     `yaml:"output_sample_rate"`
	AutoPreload         bool    `yaml:"auto_preload"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, bus
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Alignment  bool   `yaml:"alignment"`
	LatencyMS  int    `yaml:"latency_ms"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	Subject    string `yaml:"subject"`
	Serve      bool   `yaml:"serve"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Cache: CacheConfig{
			Mode:          "sqlite",
			Path:          "./data/loqa-narrate-cache.db",
			MemoryEntries: 4096,
		},
		Chunking: ChunkingConfig{
			WordsPerChunk:  200,
			WordsPerMinute: 150,
		},
		Acoustic: AcousticConfig{
			Enabled:      true,
			WindowMS:     10,
			Threshold:    0.02,
			MinSilenceMS: 50,
			MinSegmentMS: 80,
		},
		Playback: PlaybackConfig{
			LookaheadMS:         100,
			TickMS:              50,
			PreloadConcurrency:  2,
			FallbackWordSeconds: 0.3,
			Speed:               1.0,
			OutputSampleRate:    22050,
			AutoPreload:         true,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "en-US",
			SampleRate: 22050,
			Alignment:  true,
			TimeoutMS:  30000,
			Subject:    "tts.synthesize",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Cache.Mode, "LOQA_CACHE_MODE")
	overrideString(&cfg.Cache.Path, "LOQA_CACHE_PATH")
	overrideString(&cfg.Cache.DatabaseURL, "LOQA_CACHE_DATABASE_URL")
	overrideInt(&cfg.Cache.MemoryEntries, "LOQA_CACHE_MEMORY_ENTRIES")
	overrideBool(&cfg.Cache.VacuumOnStart, "LOQA_CACHE_VACUUM_ON_START")
	overrideInt(&cfg.Chunking.WordsPerChunk, "LOQA_CHUNKING_WORDS_PER_CHUNK")
	overrideFloat(&cfg.Chunking.WordsPerMinute, "LOQA_CHUNKING_WORDS_PER_MINUTE")
	overrideBool(&cfg.Acoustic.Enabled, "LOQA_ACOUSTIC_ENABLED")
	overrideInt(&cfg.Acoustic.WindowMS, "LOQA_ACOUSTIC_WINDOW_MS")
	overrideFloat(&cfg.Acoustic.Threshold, "LOQA_ACOUSTIC_THRESHOLD")
	overrideInt(&cfg.Acoustic.MinSilenceMS, "LOQA_ACOUSTIC_MIN_SILENCE_MS")
	overrideInt(&cfg.Acoustic.MinSegmentMS, "LOQA_ACOUSTIC_MIN_SEGMENT_MS")
	overrideInt(&cfg.Playback.LookaheadMS, "LOQA_PLAYBACK_LOOKAHEAD_MS")
	overrideInt(&cfg.Playback.TickMS, "LOQA_PLAYBACK_TICK_MS")
	overrideInt(&cfg.Playback.PreloadConcurrency, "LOQA_PLAYBACK_PRELOAD_CONCURRENCY")
	overrideFloat(&cfg.Playback.FallbackWordSeconds, "LOQA_PLAYBACK_FALLBACK_WORD_SECONDS")
	overrideFloat(&cfg.Playback.Speed, "LOQA_PLAYBACK_SPEED")
	overrideInt(&cfg.Playback.OutputSampleRate, "LOQA_PLAYBACK_OUTPUT_SAMPLE_RATE")
	overrideBool(&cfg.Playback.AutoPreload, "LOQA_PLAYBACK_AUTO_PRELOAD")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideBool(&cfg.TTS.Alignment, "LOQA_TTS_ALIGNMENT")
	overrideInt(&cfg.TTS.LatencyMS, "LOQA_TTS_LATENCY_MS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.Subject, "LOQA_TTS_SUBJECT")
	overrideBool(&cfg.TTS.Serve, "LOQA_TTS_SERVE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Cache.Mode {
	case "ephemeral":
	case "sqlite":
		if cfg.Cache.Path == "" {
			return errors.New("cache.path must not be empty when mode=sqlite")
		}
	case "postgres":
		if cfg.Cache.DatabaseURL == "" {
			return errors.New("cache.database_url must be set when mode=postgres")
		}
	default:
		return errors.New("cache.mode must be one of ephemeral|sqlite|postgres")
	}
	if cfg.Cache.MemoryEntries <= 0 {
		return errors.New("cache.memory_entries must be positive")
	}
	if cfg.Chunking.WordsPerChunk <= 0 {
		return errors.New("chunking.words_per_chunk must be positive")
	}
	if cfg.Chunking.WordsPerMinute <= 0 {
		return errors.New("chunking.words_per_minute must be positive")
	}
	if cfg.Acoustic.Enabled {
		if cfg.Acoustic.WindowMS <= 0 {
			return errors.New("acoustic.window_ms must be positive")
		}
		if cfg.Acoustic.Threshold <= 0 || cfg.Acoustic.Threshold >= 1 {
			return errors.New("acoustic.threshold must be in (0, 1)")
		}
		if cfg.Acoustic.MinSilenceMS < 0 || cfg.Acoustic.MinSegmentMS < 0 {
			return errors.New("acoustic.min_silence_ms and min_segment_ms must be >= 0")
		}
	}
	if cfg.Playback.LookaheadMS < 0 {
		return errors.New("playback.lookahead_ms must be >= 0")
	}
	if cfg.Playback.TickMS <= 0 {
		return errors.New("playback.tick_ms must be positive")
	}
	if cfg.Playback.PreloadConcurrency <= 0 {
		return errors.New("playback.preload_concurrency must be >= 1")
	}
	if cfg.Playback.FallbackWordSeconds <= 0 {
		return errors.New("playback.fallback_word_seconds must be positive")
	}
	if cfg.Playback.Speed <= 0 {
		return errors.New("playback.speed must be positive")
	}
	if cfg.Playback.OutputSampleRate <= 0 {
		return errors.New("playback.output_sample_rate must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "bus":
	default:
		return errors.New("tts.mode must be one of mock|exec|bus")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "bus" && !cfg.Bus.Enabled {
		return errors.New("tts.mode=bus requires bus.enabled")
	}
	if cfg.TTS.Serve && !cfg.Bus.Enabled {
		return errors.New("tts.serve requires bus.enabled")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.TimeoutMS < 0 {
		return errors.New("tts.timeout_ms must be >= 0")
	}
	return nil
}
