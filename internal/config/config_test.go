package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8000", cfg.Server.HTTPAddr)
	assert.Equal(t, audio.Format{SampleRate: 16000, Channels: 1, Blocksize: 512, DType: audio.Float32}, cfg.Audio.Format())
	assert.Equal(t, "wav", cfg.Encoder.Container)
	assert.Equal(t, "pcm_s16le", cfg.Encoder.OutputCodec)
	assert.Equal(t, []string{"hey_jarvis"}, cfg.Listener.WakeModels)
	assert.InDelta(t, 20.0, cfg.Listener.MaxUtteranceSeconds, 1e-9)
	assert.InDelta(t, 160.0, cfg.LLM.TimeoutSeconds, 1e-9)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  http_addr: ":9100"
audio:
  sample_rate: 48000
  blocksize: 1024
listener:
  wake_models: ["alexa", "hey_jarvis"]
  end_hangover_ms: 450
llm:
  model: qwen2.5
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.HTTPAddr)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 1024, cfg.Audio.Blocksize)
	// untouched keys keep defaults
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, "float32", cfg.Audio.DType)
	assert.Equal(t, []string{"alexa", "hey_jarvis"}, cfg.Listener.WakeModels)
	assert.Equal(t, 450, cfg.Listener.EndHangoverMs)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidFormat))
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.InvalidFormat))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7777")
	t.Setenv("WHISPER_BASE_URL", "http://gpu-box:8080")
	t.Setenv("LLM_BASE_URL", "http://gpu-box:11434/v1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TMP_DIR", "/tmp/scratch")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.HTTPAddr)
	assert.Equal(t, "http://gpu-box:8080", cfg.Whisper.BaseURL)
	assert.Equal(t, "http://gpu-box:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/scratch", cfg.Paths.TmpDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"bad dtype", func(c *Config) { c.Audio.DType = "int8" }},
		{"empty addr", func(c *Config) { c.Server.HTTPAddr = "" }},
		{"zero max duration", func(c *Config) { c.Recording.MaxDurationSeconds = 0 }},
		{"empty container", func(c *Config) { c.Encoder.Container = "" }},
		{"zero whisper timeout", func(c *Config) { c.Whisper.TimeoutSeconds = 0 }},
		{"wake threshold above one", func(c *Config) { c.Listener.WakeThreshold = 1.5 }},
		{"negative vad threshold", func(c *Config) { c.Listener.VADThreshold = -0.1 }},
		{"zero armed timeout", func(c *Config) { c.Listener.ArmedTimeoutSeconds = 0 }},
		{"zero max utterance", func(c *Config) { c.Listener.MaxUtteranceSeconds = 0 }},
		{"negative hangover", func(c *Config) { c.Listener.EndHangoverMs = -1 }},
		{"no wake models", func(c *Config) { c.Listener.WakeModels = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.InvalidFormat), "got %v", err)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".cache/wakescribe"), expandHome("~/.cache/wakescribe"))
	assert.Equal(t, "/var/tmp", expandHome("/var/tmp"))
	assert.Equal(t, home, expandHome("~"))
}

func TestTimeouts(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "2m0s", cfg.Whisper.Timeout().String())
	assert.Equal(t, "2m40s", cfg.LLM.Timeout().String())
}

func TestModelPath(t *testing.T) {
	l := ListenerConfig{WakeModelDir: "/opt/models"}
	assert.Equal(t, "/opt/models/silero_vad.onnx", l.ModelPath("silero_vad.onnx"))
	assert.Equal(t, "/elsewhere/custom.onnx", l.ModelPath("/elsewhere/custom.onnx"))
}
