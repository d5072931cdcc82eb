package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server           ServerConfig      `yaml:"server"`
	Paths            PathsConfig       `yaml:"paths"`
	Log              LogConfig         `yaml:"log"`
	DB               DBConfig          `yaml:"db"`
	Request          RequestConfig     `yaml:"request"`
	LLM              LLMConfig         `yaml:"llm"`
	SD               SDConfig          `yaml:"sd"`
	TTS              TTSConfig         `yaml:"tts"`
	Worker           WorkerConfig      `yaml:"worker"`
	Audio            AudioConfig       `yaml:"audio"`
	Characters       map[string]string `yaml:"characters"`
	DefaultCharacter string            `yaml:"default_character"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// PathsConfig holds the output and input directories.
type PathsConfig struct {
	TextDir    string `yaml:"text_dir"`
	AudioDir   string `yaml:"audio_dir"`
	ImageDir   string `yaml:"image_dir"`
	SpeakerDir string `yaml:"speaker_dir"`
	// WatchInterval is how often the output dirs are polled for outside changes; 0 disables.
	WatchInterval Duration `yaml:"watch_interval"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LLMConfig holds settings for the story-writing model.
type LLMConfig struct {
	Engine       string       `yaml:"engine"`
	Fallback     []string     `yaml:"fallback"` // engines tried in order when the primary fails
	DefaultModel string       `yaml:"default_model"`
	Temperature  float32      `yaml:"temperature"`
	Ollama       OllamaConfig `yaml:"ollama"`
	OpenAI       OpenAIConfig `yaml:"openai"`
	Gemini       GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds the native Ollama endpoint.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// OpenAIConfig holds settings for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Key     string   `yaml:"key"`
	Model   string   `yaml:"model"`
	Models  []string `yaml:"models"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	Key   string `yaml:"key"`
	Model string `yaml:"model"`
}

// SDConfig holds Stable Diffusion WebUI settings.
type SDConfig struct {
	URL            string   `yaml:"url"`
	Steps          int      `yaml:"steps"`
	Sampler        string   `yaml:"sampler"`
	Width          int      `yaml:"width"`
	Height         int      `yaml:"height"`
	CFGScale       float64  `yaml:"cfg_scale"`
	NegativePrompt string   `yaml:"negative_prompt"`
	Styles         []string `yaml:"styles"`
	Timeout        Duration `yaml:"timeout"`
}

// TTSConfig holds settings for the speech server.
type TTSConfig struct {
	Engine     string   `yaml:"engine"`
	URL        string   `yaml:"url"`
	Language   string   `yaml:"language"`
	SampleRate int      `yaml:"sample_rate"` // 0 keeps the rate the server reports
	Timeout    Duration `yaml:"timeout"`
}

// WorkerConfig holds job worker settings.
type WorkerConfig struct {
	MaxCount        int      `yaml:"max_count"`
	QueueSize       int      `yaml:"queue_size"`
	StatusRetention int      `yaml:"status_retention"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AudioConfig holds local playback settings.
type AudioConfig struct {
	Enabled bool    `yaml:"enabled"`
	Volume  float64 `yaml:"volume"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	LLM      LogSettings `yaml:"llm"`
	TTS      LogSettings `yaml:"tts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path             string   `yaml:"path"`
	HistoryRetention Duration `yaml:"history_retention"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:5000",
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Paths: PathsConfig{
			TextDir:       "data/output/text",
			AudioDir:      "data/output/audio",
			ImageDir:      "data/output/images",
			SpeakerDir:    "data/speakers",
			WatchInterval: Duration(2 * time.Second),
		},
		Log: LogConfig{
			Server:   LogSettings{Path: "logs/server.log", Level: "INFO"},
			Requests: LogSettings{Path: "logs/requests.log", Level: "INFO"},
			LLM:      LogSettings{Path: "logs/llm.log"},
			TTS:      LogSettings{Path: "logs/tts.log"},
		},
		DB: DBConfig{
			Path:             "data/storyforge.db",
			HistoryRetention: Duration(30 * Day),
		},
		Request: RequestConfig{
			Retries: 0,
			Timeout: Duration(300 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		LLM: LLMConfig{
			Engine:       "ollama",
			Fallback:     []string{},
			DefaultModel: "llama3.1",
			Temperature:  0.9,
			Ollama:       OllamaConfig{URL: "http://127.0.0.1:11434"},
			OpenAI:       OpenAIConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
			Gemini:       GeminiConfig{Model: "gemini-2.0-flash"},
		},
		SD: SDConfig{
			URL:            "http://127.0.0.1:7860",
			Steps:          30,
			Sampler:        "DPM++ 2M Karras",
			Width:          768,
			Height:         512,
			CFGScale:       7,
			NegativePrompt: "blurry, lowres, bad anatomy, watermark, text, signature",
			Styles:         []string{},
			Timeout:        Duration(180 * time.Second),
		},
		TTS: TTSConfig{
			Engine:   "xtts",
			URL:      "http://127.0.0.1:8020",
			Language: "en",
			Timeout:  Duration(300 * time.Second),
		},
		Worker: WorkerConfig{
			MaxCount:        50,
			QueueSize:       64,
			StatusRetention: 200,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Audio: AudioConfig{
			Enabled: true,
			Volume:  1.0,
		},
		Characters: map[string]string{
			"Narrator": "A warm, unhurried storyteller who speaks directly to the listener.",
			"Pirate":   "A boisterous old sea captain, fond of tall tales and nautical slang.",
			"Wizard":   "An absent-minded wizard who keeps wandering off into riddles.",
		},
		DefaultCharacter: "Narrator",
	}
}

// Load reads configuration from the given path.
// If the file does not exist, it creates it with default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallbacks are never written back to disk
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.LLM.OpenAI.Key == "" {
		cfg.LLM.OpenAI.Key = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.Gemini.Key == "" {
		cfg.LLM.Gemini.Key = os.Getenv("GEMINI_API_KEY")
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		cfg.LLM.Ollama.URL = v
	}
	if v := os.Getenv("SD_API_URL"); v != "" {
		cfg.SD.URL = v
	}
}

// Validate checks values that would otherwise fail deep inside the worker.
func (c *Config) Validate() error {
	if !validEngine(c.LLM.Engine) {
		return fmt.Errorf("invalid llm.engine %q: must be one of ollama, openai, gemini", c.LLM.Engine)
	}
	seen := map[string]bool{c.LLM.Engine: true}
	for _, e := range c.LLM.Fallback {
		if !validEngine(e) {
			return fmt.Errorf("invalid llm.fallback engine %q", e)
		}
		if seen[e] {
			return fmt.Errorf("llm.fallback lists %q twice or repeats the primary engine", e)
		}
		seen[e] = true
	}
	if c.Worker.MaxCount < 1 {
		return fmt.Errorf("worker.max_count must be at least 1, got %d", c.Worker.MaxCount)
	}
	if c.SD.Width%8 != 0 || c.SD.Height%8 != 0 {
		return fmt.Errorf("sd.width and sd.height must be multiples of 8 (got %dx%d)", c.SD.Width, c.SD.Height)
	}
	if c.DefaultCharacter != "" && len(c.Characters) > 0 {
		if _, ok := c.Characters[c.DefaultCharacter]; !ok {
			return fmt.Errorf("default_character %q is not defined in characters", c.DefaultCharacter)
		}
	}
	return nil
}

func validEngine(e string) bool {
	switch e {
	case "ollama", "openai", "gemini":
		return true
	}
	return false
}

// EngineModel returns the default model for engine: its own model setting,
// else llm.default_model.
func (c *Config) EngineModel(engine string) string {
	var m string
	switch engine {
	case "ollama":
		m = c.LLM.Ollama.Model
	case "openai":
		m = c.LLM.OpenAI.Model
	case "gemini":
		m = c.LLM.Gemini.Model
	}
	if m == "" {
		return c.LLM.DefaultModel
	}
	return m
}

// CharacterNames returns the configured character names in sorted order.
func (c *Config) CharacterNames() []string {
	names := make([]string, 0, len(c.Characters))
	for name := range c.Characters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the configuration to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# storyforge configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Secrets may be left empty and supplied via OPENAI_API_KEY / GEMINI_API_KEY
# (a .env file next to the binary is loaded at startup).

`)
	data = append(header, data...)

	reEngine := regexp.MustCompile(`(?m)^(\s+)engine: (ollama|openai|gemini)`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: ollama, openai, gemini\n${1}engine: ${2}"))

	reFallback := regexp.MustCompile(`(?m)^(\s+)fallback:`)
	data = reFallback.ReplaceAll(data, []byte("${1}# Engines tried in order when the primary fails, e.g. [openai, gemini]\n${1}fallback:"))

	reTTS := regexp.MustCompile(`(?m)^(\s+)engine: xtts`)
	data = reTTS.ReplaceAll(data, []byte("${1}# Options: xtts\n${1}engine: xtts"))

	reRate := regexp.MustCompile(`(?m)^(\s+)sample_rate:`)
	data = reRate.ReplaceAll(data, []byte("${1}# 0 keeps the sample rate reported by the TTS server\n${1}sample_rate:"))

	reRetries := regexp.MustCompile(`(?m)^(\s+)retries:`)
	data = reRetries.ReplaceAll(data, []byte("${1}# Retries on 429/5xx; 0 makes every backend failure terminal for the item\n${1}retries:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default configuration file if it doesn't exist.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
