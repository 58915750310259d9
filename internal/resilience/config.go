package resilience

import "time"

// Circuit breaker configuration constants
const (
	// Default configuration
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// STT upstream: local inference server, trip early and probe quickly
	STTThreshold         = 3
	STTResetTimeout      = 10 * time.Second
	STTHalfOpenSuccesses = 2

	// LLM upstream: slow restarts, probe less often
	LLMThreshold         = 5
	LLMResetTimeout      = 60 * time.Second
	LLMHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// STTBreakerConfig returns settings for the transcription upstream.
func STTBreakerConfig() Config {
	return Config{
		Threshold:         STTThreshold,
		ResetTimeout:      STTResetTimeout,
		HalfOpenSuccesses: STTHalfOpenSuccesses,
	}
}

// LLMBreakerConfig returns settings for the enhancement upstream.
func LLMBreakerConfig() Config {
	return Config{
		Threshold:         LLMThreshold,
		ResetTimeout:      LLMResetTimeout,
		HalfOpenSuccesses: LLMHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
