// Package config handles platform configuration
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	LLM       LLMConfig       `yaml:"llm"`
	Listener  ListenerConfig  `yaml:"listener"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

type PathsConfig struct {
	TmpDir string `yaml:"tmp_dir"`
}

type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	Blocksize  int    `yaml:"blocksize"`
	DType      string `yaml:"dtype"`
}

// Format returns the capture format this config describes.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Blocksize:  a.Blocksize,
		DType:      audio.DType(a.DType),
	}
}

type RecordingConfig struct {
	MaxDurationSeconds float64 `yaml:"max_duration_seconds"`
}

type EncoderConfig struct {
	Binary      string `yaml:"binary"`
	OutputCodec string `yaml:"output_codec"`
	Container   string `yaml:"container"`
}

type WhisperConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (w WhisperConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds * float64(time.Second))
}

type LLMConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds * float64(time.Second))
}

type ListenerConfig struct {
	WakeWindowSeconds   float64  `yaml:"wake_window_seconds"`
	WakeFrameMs         int      `yaml:"wake_frame_ms"`
	WakeThreshold       float64  `yaml:"wake_threshold"`
	WakeModels          []string `yaml:"wake_models"`
	WakeModelDir        string   `yaml:"wake_model_dir"`
	WakeMelspecModel    string   `yaml:"wake_melspec_model"`
	WakeEmbeddingModel  string   `yaml:"wake_embedding_model"`
	VADModel            string   `yaml:"vad_model"`
	VADThreshold        float64  `yaml:"vad_threshold"`
	VADMinSilenceMs     int      `yaml:"vad_min_silence_ms"`
	VADSpeechPadMs      int      `yaml:"vad_speech_pad_ms"`
	ArmedTimeoutSeconds float64  `yaml:"armed_timeout_seconds"`
	MaxUtteranceSeconds float64  `yaml:"max_utterance_seconds"`
	EndHangoverMs       int      `yaml:"end_hangover_ms"`
	OnnxLib             string   `yaml:"onnx_lib"`
}

// ModelPath resolves a model file against wake_model_dir. Absolute
// paths pass through untouched.
func (l ListenerConfig) ModelPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(l.WakeModelDir, name)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8000"},
		Paths:  PathsConfig{TmpDir: "~/.cache/wakescribe"},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			Blocksize:  512,
			DType:      string(audio.Float32),
		},
		Recording: RecordingConfig{MaxDurationSeconds: 300},
		Encoder: EncoderConfig{
			Binary:      "ffmpeg",
			OutputCodec: "pcm_s16le",
			Container:   "wav",
		},
		Whisper: WhisperConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 120,
		},
		LLM: LLMConfig{
			BaseURL:        "http://localhost:11434/v1",
			Model:          "llama3.1",
			Temperature:    0.2,
			MaxTokens:      1024,
			TimeoutSeconds: 160,
		},
		Listener: ListenerConfig{
			WakeWindowSeconds:   2.0,
			WakeFrameMs:         80,
			WakeThreshold:       0.5,
			WakeModels:          []string{"hey_jarvis"},
			WakeModelDir:        "~/.local/share/wakescribe/models",
			WakeMelspecModel:    "melspectrogram.onnx",
			WakeEmbeddingModel:  "embedding_model.onnx",
			VADModel:            "silero_vad.onnx",
			VADThreshold:        0.5,
			VADMinSilenceMs:     250,
			VADSpeechPadMs:      100,
			ArmedTimeoutSeconds: 5.0,
			MaxUtteranceSeconds: 20.0,
			EndHangoverMs:       300,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads YAML from path (optional), applies env overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidFormat, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, errors.InvalidFormat, "parse config %s", path)
		}
	}

	cfg.applyEnv()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Whisper.BaseURL = getEnv("WHISPER_BASE_URL", c.Whisper.BaseURL)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.Paths.TmpDir = getEnv("TMP_DIR", c.Paths.TmpDir)
}

func (c *Config) expandPaths() {
	c.Paths.TmpDir = expandHome(c.Paths.TmpDir)
	c.Listener.WakeModelDir = expandHome(c.Listener.WakeModelDir)
	c.Listener.OnnxLib = expandHome(c.Listener.OnnxLib)
}

// Validate checks the operational knobs. Bad values map to InvalidFormat.
func (c *Config) Validate() error {
	if err := c.Audio.Format().Validate(); err != nil {
		return err
	}
	if c.Server.HTTPAddr == "" {
		return errors.New(errors.InvalidFormat, "server.http_addr must not be empty")
	}
	if c.Recording.MaxDurationSeconds <= 0 {
		return errors.Newf(errors.InvalidFormat, "recording.max_duration_seconds must be positive, got %v", c.Recording.MaxDurationSeconds)
	}
	if c.Encoder.Container == "" || c.Encoder.OutputCodec == "" {
		return errors.New(errors.InvalidFormat, "encoder.container and encoder.output_codec must not be empty")
	}
	if c.Whisper.TimeoutSeconds <= 0 || c.LLM.TimeoutSeconds <= 0 {
		return errors.New(errors.InvalidFormat, "upstream timeout_seconds must be positive")
	}
	l := c.Listener
	if l.WakeThreshold < 0 || l.WakeThreshold > 1 {
		return errors.Newf(errors.InvalidFormat, "listener.wake_threshold must be in [0,1], got %v", l.WakeThreshold)
	}
	if l.VADThreshold < 0 || l.VADThreshold > 1 {
		return errors.Newf(errors.InvalidFormat, "listener.vad_threshold must be in [0,1], got %v", l.VADThreshold)
	}
	if l.WakeWindowSeconds <= 0 || l.WakeFrameMs <= 0 {
		return errors.New(errors.InvalidFormat, "listener wake window and frame size must be positive")
	}
	if l.ArmedTimeoutSeconds <= 0 || l.MaxUtteranceSeconds <= 0 {
		return errors.New(errors.InvalidFormat, "listener timeouts must be positive")
	}
	if l.VADSpeechPadMs < 0 || l.VADMinSilenceMs < 0 || l.EndHangoverMs < 0 {
		return errors.New(errors.InvalidFormat, "listener millisecond knobs must not be negative")
	}
	if len(l.WakeModels) == 0 {
		return errors.New(errors.InvalidFormat, "listener.wake_models must name at least one model")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
