// Package config provides the configuration structure for the batch
// synthesis pipeline.
package config

import (
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Provider kinds for the synthesis backend.
const (
	ProviderExec = "exec"
	ProviderHTTP = "http"
)

// PathsConfig holds the directories the pipeline reads and writes.
type PathsConfig struct {
	VoiceDataDir     string `toml:"voice_data_dir"`
	SelectedVoiceDir string `toml:"selected_voice_dir"`
	EmotionDir       string `toml:"emotion_dir"`
	NoiseDir         string `toml:"noise_dir"`
	OutputDir        string `toml:"output_dir"`
	BaseLogsDir      string `toml:"base_logs_dir"`
}

// SynthesisConfig holds the model provider selection and the batch defaults.
// Parameter defaults are strings so the "random" sentinel can be configured
// alongside literal values; they are parsed into typed values at startup.
// SplitSentences is a pointer so an explicit false can be told apart from an
// unset value; it defaults to on.
type SynthesisConfig struct {
	Provider string `toml:"provider"`
	Command  string `toml:"command"`
	// MinimalOnly declares that the exec binary rejects the sampling flags,
	// so only minimal calls are issued.
	MinimalOnly       bool   `toml:"minimal_only"`
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	Language          string `toml:"language"`
	SplitSentences    *bool  `toml:"split_sentences"`
	Temperature       string `toml:"temperature"`
	LengthPenalty     string `toml:"length_penalty"`
	RepetitionPenalty string `toml:"repetition_penalty"`
	TopK              string `toml:"top_k"`
	TopP              string `toml:"top_p"`
	Speed             string `toml:"speed"`
}

// NoiseConfig holds the optional post-process mixing defaults. SNRdB is a
// pointer so an explicit 0 dB survives defaulting; unset means 10 dB.
type NoiseConfig struct {
	Type  string   `toml:"type"`
	SNRdB *float64 `toml:"snr_db"`
	Count int      `toml:"count"`
}

// NATSConfig holds the configuration for the batch worker transport.
type NATSConfig struct {
	URL                  string `toml:"url"`
	BatchRequestSubject  string `toml:"batch_request_subject"`
	BatchFinishedSubject string `toml:"batch_finished_subject"`
	ObjectStoreBucket    string `toml:"object_store_bucket"`
}

// Config is the root configuration structure.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Noise     NoiseConfig     `toml:"noise"`
	NATS      NATSConfig      `toml:"nats"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromFile loads the configuration from a local TOML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills the values a minimal configuration may omit.
func (c *Config) applyDefaults() {
	if c.Synthesis.Provider == "" {
		c.Synthesis.Provider = ProviderExec
	}

	if c.Synthesis.Language == "" {
		c.Synthesis.Language = "zh-cn"
	}

	if c.Synthesis.Temperature == "" {
		c.Synthesis.Temperature = "0.65"
	}

	if c.Synthesis.LengthPenalty == "" {
		c.Synthesis.LengthPenalty = "1.0"
	}

	if c.Synthesis.RepetitionPenalty == "" {
		c.Synthesis.RepetitionPenalty = "2.0"
	}

	if c.Synthesis.TopK == "" {
		c.Synthesis.TopK = "50"
	}

	if c.Synthesis.TopP == "" {
		c.Synthesis.TopP = "0.8"
	}

	if c.Synthesis.Speed == "" {
		c.Synthesis.Speed = "1.0"
	}

	if c.Synthesis.SplitSentences == nil {
		split := true
		c.Synthesis.SplitSentences = &split
	}

	if c.Noise.SNRdB == nil {
		snr := 10.0
		c.Noise.SNRdB = &snr
	}

	if c.Noise.Count == 0 {
		c.Noise.Count = 1
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = "output"
	}

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = 300
	}
}
