package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(DeviceError, "no input device")
	assert.Equal(t, "[DEVICE_ERROR] no input device", err.Error())

	wrapped := Wrap(fmt.Errorf("portaudio: host error"), DeviceError, "stream open failed")
	assert.Contains(t, wrapped.Error(), "caused by: portaudio: host error")

	withMeta := New(NotFound, "recording not found").WithMetadata("recording_id", "rec-1")
	assert.Contains(t, withMeta.Error(), "recording_id")
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, EncodeFailed, "ffmpeg failed")
	require.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", New(InvalidFormat, "bad rate"), InvalidFormat},
		{"wrapped once", fmt.Errorf("outer: %w", New(NoAudioCaptured, "empty")), NoAudioCaptured},
		{"nested app errors", Wrap(New(EncodeFailed, "inner"), TranscribeFailed, "outer"), TranscribeFailed},
		{"plain error", fmt.Errorf("boom"), Unknown},
		{"nil-adjacent plain", fmt.Errorf(""), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(SessionAlreadyActive, "recording in progress"))
	assert.True(t, IsCode(err, SessionAlreadyActive))
	assert.False(t, IsCode(err, StreamNotRunning))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{InvalidFormat, http.StatusBadRequest},
		{DeviceError, http.StatusInternalServerError},
		{SessionAlreadyActive, http.StatusConflict},
		{StreamNotRunning, http.StatusConflict},
		{NoAudioCaptured, http.StatusConflict},
		{EncodeFailed, http.StatusInternalServerError},
		{InvalidRecording, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{EmptyTranscript, http.StatusBadRequest},
		{TranscribeFailed, http.StatusInternalServerError},
		{EnhanceFailed, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
		{Unknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus())
		})
	}
}

func TestHTTPStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatusOf(New(NotFound, "missing")))
	assert.Equal(t, http.StatusConflict, HTTPStatusOf(fmt.Errorf("w: %w", New(NoAudioCaptured, "none"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(fmt.Errorf("plain")))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "no frames captured", MessageOf(New(NoAudioCaptured, "no frames captured")))
	assert.Equal(t, "plain failure", MessageOf(fmt.Errorf("plain failure")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(TranscribeFailed, "upstream 503")))
	assert.True(t, IsRetryable(New(EnhanceFailed, "timeout")))
	assert.True(t, IsRetryable(New(DeviceError, "device busy")))
	assert.False(t, IsRetryable(New(InvalidFormat, "bad dtype")))
	assert.False(t, IsRetryable(New(NotFound, "missing")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}
