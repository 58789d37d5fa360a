package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keshucs12345/voicematch/internal/logging"
)

type Config struct {
	Conversation ConversationConfig `yaml:"conversation"`
	Matching     MatchingConfig     `yaml:"matching"`
	Audio        AudioConfig        `yaml:"audio"`
	Call         CallConfig         `yaml:"call"`
	Auth         AuthConfig         `yaml:"auth"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Logging      logging.Config     `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Session      SessionConfig      `yaml:"session"`
}

type ConversationConfig struct {
	URL              string `yaml:"url"`
	Language         string `yaml:"language"`
	OutputSampleRate int    `yaml:"output_sample_rate"`
	QueueDepth       int    `yaml:"queue_depth"`
}

type MatchingConfig struct {
	URL string `yaml:"url"`
}

type AudioConfig struct {
	InputDevice      string        `yaml:"input_device"`
	CaptureRate      int           `yaml:"capture_rate"`
	FallbackRates    []int         `yaml:"fallback_rates"`
	FramesPerBuffer  int           `yaml:"frames_per_buffer"`
	ChunkDuration    time.Duration `yaml:"chunk_duration"`
	CrossfadeSamples int           `yaml:"crossfade_samples"`
	AttackSamples    int           `yaml:"attack_samples"`
	FadeIn           time.Duration `yaml:"fade_in"`
	FadeOut          time.Duration `yaml:"fade_out"`
}

type CallConfig struct {
	LiveKitURL    string   `yaml:"livekit_url"`
	StripPrefixes []string `yaml:"strip_prefixes"`
	AIHostPrefix  string   `yaml:"ai_host_prefix"`
	AIHostName    string   `yaml:"ai_host_name"`
	SelfUserID    string   `yaml:"self_user_id"`
}

type AuthConfig struct {
	Token        string `yaml:"token"`
	TokenURL     string `yaml:"token_url"`
	RefreshToken string `yaml:"refresh_token"`
}

type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	SummarizeAbove int    `yaml:"summarize_above"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables serving.
	Addr string `yaml:"addr"`
}

type SessionConfig struct {
	Topics         []string `yaml:"topics"`
	Hashtags       []string `yaml:"hashtags"`
	TranscriptFile string   `yaml:"transcript_file"`
}

func Default() Config {
	return Config{
		Conversation: ConversationConfig{
			Language:         "en",
			OutputSampleRate: 24000,
			QueueDepth:       64,
		},
		Audio: AudioConfig{
			CaptureRate:      24000,
			FallbackRates:    []int{16000, 44100},
			FramesPerBuffer:  480,
			ChunkDuration:    100 * time.Millisecond,
			CrossfadeSamples: 240,
			AttackSamples:    120,
			FadeIn:           30 * time.Millisecond,
			FadeOut:          40 * time.Millisecond,
		},
		Call: CallConfig{
			StripPrefixes: []string{"user_", "user-", "identity_"},
			AIHostPrefix:  "ai_",
			AIHostName:    "AI Host",
		},
		OpenAI: OpenAIConfig{
			SummarizeAbove: 4000,
		},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}

// Load reads .env (best effort), then the YAML file named by VOICEMATCH_CONFIG
// if set, then environment overrides, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("VOICEMATCH_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Conversation.URL = envOrDefault("VOICEMATCH_CONVERSATION_URL", c.Conversation.URL)
	c.Conversation.Language = envOrDefault("VOICEMATCH_LANGUAGE", c.Conversation.Language)
	c.Conversation.OutputSampleRate = envOrDefaultInt("VOICEMATCH_OUTPUT_RATE", c.Conversation.OutputSampleRate)
	c.Matching.URL = envOrDefault("VOICEMATCH_MATCHING_URL", c.Matching.URL)

	c.Audio.InputDevice = envOrDefault("VOICEMATCH_INPUT_DEVICE", c.Audio.InputDevice)
	c.Audio.CaptureRate = envOrDefaultInt("VOICEMATCH_CAPTURE_RATE", c.Audio.CaptureRate)
	c.Audio.FramesPerBuffer = envOrDefaultInt("VOICEMATCH_FRAMES_PER_BUFFER", c.Audio.FramesPerBuffer)
	c.Audio.ChunkDuration = envOrDefaultDuration("VOICEMATCH_CHUNK_DURATION", c.Audio.ChunkDuration)

	c.Call.LiveKitURL = envOrDefault("LIVEKIT_URL", c.Call.LiveKitURL)
	c.Call.SelfUserID = envOrDefault("VOICEMATCH_USER_ID", c.Call.SelfUserID)

	c.Auth.Token = envOrDefault("VOICEMATCH_AUTH_TOKEN", c.Auth.Token)
	c.Auth.TokenURL = envOrDefault("VOICEMATCH_TOKEN_URL", c.Auth.TokenURL)
	c.Auth.RefreshToken = envOrDefault("VOICEMATCH_REFRESH_TOKEN", c.Auth.RefreshToken)

	c.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.Model = envOrDefault("OPENAI_MODEL", c.OpenAI.Model)

	c.Logging.Level = envOrDefault("VOICEMATCH_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOrDefault("VOICEMATCH_LOG_FORMAT", c.Logging.Format)
	c.Metrics.Addr = envOrDefault("VOICEMATCH_METRICS_ADDR", c.Metrics.Addr)

	c.Session.Topics = envOrDefaultList("VOICEMATCH_TOPICS", c.Session.Topics)
	c.Session.Hashtags = envOrDefaultList("VOICEMATCH_HASHTAGS", c.Session.Hashtags)
	c.Session.TranscriptFile = envOrDefault("VOICEMATCH_TRANSCRIPT_FILE", c.Session.TranscriptFile)
}

func (c Config) Validate() error {
	var errs []error
	if c.Conversation.URL == "" {
		errs = append(errs, errors.New("conversation url is required"))
	}
	if c.Matching.URL == "" {
		errs = append(errs, errors.New("matching url is required"))
	}
	if c.Conversation.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("output_sample_rate must be positive, got %d", c.Conversation.OutputSampleRate))
	}
	if c.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("capture_rate must be positive, got %d", c.Audio.CaptureRate))
	}
	for _, r := range c.Audio.FallbackRates {
		if r <= 0 {
			errs = append(errs, fmt.Errorf("fallback rate must be positive, got %d", r))
		}
	}
	if c.Audio.ChunkDuration <= 0 {
		errs = append(errs, errors.New("chunk_duration must be positive"))
	}
	if c.Auth.Token == "" && (c.Auth.TokenURL == "" || c.Auth.RefreshToken == "") {
		errs = append(errs, errors.New("either an auth token or a token url with a refresh token is required"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultList splits a comma separated value.
func envOrDefaultList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
