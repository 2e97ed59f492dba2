// Package config loads turnsync runtime settings.
//
// Settings are resolved in three layers: defaults, an optional YAML file named
// by TURNSYNC_CONFIG, then environment variables (a local .env file is loaded
// first when present). Every tunable is clamped to its documented minimum.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingRedisURL is returned when a Redis-backed component is enabled without REDIS_URL.
var ErrMissingRedisURL = errors.New("redis backed room components require REDIS_URL")

// Config is the full runtime configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	InstanceID  string `yaml:"instance_id"`
	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`

	Redis     RedisConfig     `yaml:"redis"`
	Turn      TurnConfig      `yaml:"turn"`
	Socket    SocketConfig    `yaml:"socket"`
	STT       STTConfig       `yaml:"stt"`
	Answer    AnswerConfig    `yaml:"answer"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RedisConfig selects the distributed room components.
type RedisConfig struct {
	URL             string        `yaml:"url"`
	UseRoomState    bool          `yaml:"use_room_state"`
	EventBus        bool          `yaml:"event_bus"`
	StateTTL        time.Duration `yaml:"state_ttl"`
	ListenerBackoff time.Duration `yaml:"listener_backoff"`
}

// TurnConfig holds the silence watcher thresholds.
type TurnConfig struct {
	SilenceFinalize time.Duration `yaml:"silence_finalize"`
	PartialFallback time.Duration `yaml:"partial_fallback"`
	HardTimeout     time.Duration `yaml:"hard_timeout"`
	MinFinalWords   int           `yaml:"min_final_words"`
	MinPartialWords int           `yaml:"min_partial_words"`
	MaxMissedFinals int           `yaml:"max_missed_finals"`
	HesitationMin   time.Duration `yaml:"hesitation_min"`
	HesitationMax   time.Duration `yaml:"hesitation_max"`
	MaxTurns        int           `yaml:"max_turns"`
	AutoNext        bool          `yaml:"auto_next_question"`
}

// SocketConfig bounds the client websocket.
type SocketConfig struct {
	MaxTextBytes            int           `yaml:"max_text_bytes"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout        time.Duration `yaml:"heartbeat_timeout"`
	TextRatePerSec          float64       `yaml:"text_rate_per_sec"`
	TextBurst               int           `yaml:"text_burst"`
	ClientVersionConstraint string        `yaml:"client_version_constraint"`
}

// STTConfig configures the upstream transcription stream.
type STTConfig struct {
	DeepgramAPIKey     string        `yaml:"deepgram_api_key"`
	DeepgramURL        string        `yaml:"deepgram_url"`
	Model              string        `yaml:"model"`
	Language           string        `yaml:"language"`
	SampleRate         int           `yaml:"sample_rate"`
	EndpointingMS      int           `yaml:"endpointing_ms"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	WatchdogInterval   time.Duration `yaml:"watchdog_interval"`
	MaxReconnects      int           `yaml:"max_reconnects"`
	AllowBrowserSTT    bool          `yaml:"allow_browser_stt"`
	QAMode             bool          `yaml:"qa_mode"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	KeepaliveAfterIdle time.Duration `yaml:"keepalive_after_idle"`
}

// AnswerConfig configures suggestion generation.
type AnswerConfig struct {
	GeminiAPIKey string        `yaml:"gemini_api_key"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SessionConfig configures session bookkeeping and the default scorer.
type SessionConfig struct {
	InactiveTTL     time.Duration `yaml:"inactive_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Questions       []string      `yaml:"questions"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// SampleRatio is the fraction of root spans kept. Values outside (0,1]
	// keep everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		LogLevel:    "info",
		ServiceName: "turnsync",
		Redis: RedisConfig{
			StateTTL:        24 * time.Hour,
			ListenerBackoff: 1500 * time.Millisecond,
		},
		Turn: TurnConfig{
			SilenceFinalize: 2 * time.Second,
			PartialFallback: 6 * time.Second,
			HardTimeout:     24 * time.Second,
			MinFinalWords:   4,
			MinPartialWords: 8,
			MaxMissedFinals: 2,
			HesitationMin:   700 * time.Millisecond,
			HesitationMax:   2500 * time.Millisecond,
			MaxTurns:        5,
		},
		Socket: SocketConfig{
			MaxTextBytes:      65536,
			HeartbeatInterval: 25 * time.Second,
			HeartbeatTimeout:  120 * time.Second,
			TextRatePerSec:    50,
			TextBurst:         100,
		},
		STT: STTConfig{
			DeepgramURL:        "wss://api.deepgram.com/v1/listen",
			Model:              "nova-2",
			Language:           "en-US",
			SampleRate:         16000,
			EndpointingMS:      700,
			StaleAfter:         10 * time.Second,
			WatchdogInterval:   5 * time.Second,
			MaxReconnects:      3,
			KeepaliveInterval:  400 * time.Millisecond,
			KeepaliveAfterIdle: 600 * time.Millisecond,
		},
		Answer: AnswerConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 20 * time.Second,
		},
		Session: SessionConfig{
			InactiveTTL:     15 * time.Minute,
			CleanupInterval: time.Minute,
			Questions: []string{
				"Tell me about yourself.",
				"Describe a system you designed end to end.",
				"How do you handle disagreements on technical direction?",
				"Tell me about a production incident you owned.",
				"What would you improve in your last project?",
			},
		},
	}
}

// Load resolves the configuration from .env, the optional YAML file and the environment.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("TURNSYNC_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports configuration combinations that cannot work.
func (c *Config) Validate() error {
	if (c.Redis.UseRoomState || c.Redis.EventBus) && strings.TrimSpace(c.Redis.URL) == "" {
		return ErrMissingRedisURL
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = parseBool(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	ratio := func(key string, dst *float64) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil && !math.IsNaN(v) {
			*dst = v
		}
	}
	seconds := func(key string, dst *time.Duration) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil && !math.IsNaN(v) {
			*dst = time.Duration(v * float64(time.Second))
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("INSTANCE_ID", &c.InstanceID)
	str("LOG_LEVEL", &c.LogLevel)
	str("OTEL_SERVICE_NAME", &c.ServiceName)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	ratio("TRACE_SAMPLE_RATIO", &c.Telemetry.SampleRatio)

	str("REDIS_URL", &c.Redis.URL)
	flag("USE_REDIS_ROOM_STATE", &c.Redis.UseRoomState)
	flag("ROOM_EVENT_BUS_ENABLED", &c.Redis.EventBus)

	seconds("SILENCE_FINALIZE_SEC", &c.Turn.SilenceFinalize)
	seconds("PARTIAL_FALLBACK_SEC", &c.Turn.PartialFallback)
	seconds("HARD_TIMEOUT_SEC", &c.Turn.HardTimeout)
	integer("MIN_FINAL_WORDS", &c.Turn.MinFinalWords)
	integer("MIN_PARTIAL_WORDS", &c.Turn.MinPartialWords)
	integer("MAX_TURNS", &c.Turn.MaxTurns)
	flag("AUTO_NEXT_QUESTION_ENABLED", &c.Turn.AutoNext)

	integer("MAX_WS_TEXT_BYTES", &c.Socket.MaxTextBytes)
	seconds("WS_HEARTBEAT_INTERVAL_SEC", &c.Socket.HeartbeatInterval)
	seconds("WS_HEARTBEAT_TIMEOUT_SEC", &c.Socket.HeartbeatTimeout)
	integer("WS_TEXT_BURST", &c.Socket.TextBurst)
	ratio("WS_TEXT_RATE_PER_SEC", &c.Socket.TextRatePerSec)
	str("CLIENT_VERSION_CONSTRAINT", &c.Socket.ClientVersionConstraint)

	str("DEEPGRAM_API_KEY", &c.STT.DeepgramAPIKey)
	str("DEEPGRAM_URL", &c.STT.DeepgramURL)
	str("DEEPGRAM_MODEL", &c.STT.Model)
	str("DEEPGRAM_LANGUAGE", &c.STT.Language)
	integer("DEEPGRAM_ENDPOINTING_MS", &c.STT.EndpointingMS)
	integer("STT_MAX_RECONNECTS", &c.STT.MaxReconnects)
	seconds("STT_STALE_AFTER_SEC", &c.STT.StaleAfter)
	flag("ALLOW_BROWSER_STT_FALLBACK", &c.STT.AllowBrowserSTT)
	flag("QA_MODE", &c.STT.QAMode)

	str("GEMINI_API_KEY", &c.Answer.GeminiAPIKey)
	str("GEMINI_MODEL", &c.Answer.Model)
	seconds("ANSWER_TIMEOUT_SEC", &c.Answer.Timeout)

	seconds("SESSION_INACTIVE_TTL_SEC", &c.Session.InactiveTTL)
}

func (c *Config) clamp() {
	c.Turn.SilenceFinalize = atLeast(c.Turn.SilenceFinalize, time.Second)
	c.Turn.PartialFallback = atLeast(c.Turn.PartialFallback, 4*time.Second)
	c.Turn.HardTimeout = atLeast(c.Turn.HardTimeout, 10*time.Second)
	c.Turn.MinFinalWords = max(c.Turn.MinFinalWords, 3)
	c.Turn.MinPartialWords = max(c.Turn.MinPartialWords, 6)
	c.Turn.MaxMissedFinals = max(c.Turn.MaxMissedFinals, 1)
	c.Turn.MaxTurns = max(c.Turn.MaxTurns, 1)

	c.Socket.MaxTextBytes = max(c.Socket.MaxTextBytes, 1024)
	c.Socket.HeartbeatInterval = atLeast(c.Socket.HeartbeatInterval, 10*time.Second)
	c.Socket.HeartbeatTimeout = atLeast(c.Socket.HeartbeatTimeout, 20*time.Second)
	c.Socket.TextBurst = max(c.Socket.TextBurst, 1)
	if c.Socket.TextRatePerSec <= 0 {
		c.Socket.TextRatePerSec = 1
	}

	c.STT.MaxReconnects = max(c.STT.MaxReconnects, 0)
	c.STT.EndpointingMS = max(c.STT.EndpointingMS, 500)
	c.STT.StaleAfter = atLeast(c.STT.StaleAfter, time.Second)
	c.Answer.Timeout = atLeast(c.Answer.Timeout, time.Second)
	c.Session.InactiveTTL = atLeast(c.Session.InactiveTTL, 30*time.Second)
}

func atLeast(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
