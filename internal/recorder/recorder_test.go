package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, Blocksize: 512, DType: audio.Float32}

type fakeDevice struct {
	blocks    chan audio.Samples
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		blocks: make(chan audio.Samples, 256),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) ReadBlock() (audio.Samples, error) {
	select {
	case s, ok := <-d.blocks:
		if !ok {
			return audio.Samples{}, io.ErrUnexpectedEOF
		}
		return s, nil
	case <-d.closed:
		return audio.Samples{}, io.EOF
	}
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) feed(n int) {
	for i := 0; i < n; i++ {
		block := make([]float32, testFormat.Blocksize)
		for j := range block {
			block[j] = float32(i) / 100
		}
		d.blocks <- audio.F32Samples(block)
	}
}

type fakeEncoder struct {
	dir     string
	saveErr error
	saved   int
	lastLen int
}

func (f *fakeEncoder) SaveRecording(rec *audio.Recording) error {
	f.saved++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.lastLen = rec.Data.Len()
	rec.Path = filepath.Join(f.dir, fmt.Sprintf("rec-%d.wav", f.saved))
	if err := os.WriteFile(rec.Path, []byte("wav"), 0o644); err != nil {
		return err
	}
	return rec.ReleaseData()
}

func (f *fakeEncoder) ConvertFile(src, _ string) (string, error) {
	return src, nil
}

func newTestRecorder(t *testing.T) (*Recorder, *audio.Hub, *fakeDevice, *fakeEncoder, *Registry) {
	t.Helper()
	dev := newFakeDevice()
	hub := audio.NewHubWithOpener(testFormat, func(audio.Format) (audio.Device, string, error) {
		return dev, "fake-mic", nil
	})
	t.Cleanup(hub.Stop)
	enc := &fakeEncoder{dir: t.TempDir()}
	reg := NewRegistry()
	return New(hub, enc, reg, 300), hub, dev, enc, reg
}

func TestStartRequiresRunningHub(t *testing.T) {
	rec, _, _, _, _ := newTestRecorder(t)

	_, err := rec.Start()
	require.Error(t, err)
	assert.Equal(t, errors.StreamNotRunning, errors.CodeOf(err))
}

func TestStartWhileActiveFails(t *testing.T) {
	rec, hub, dev, _, _ := newTestRecorder(t)
	require.NoError(t, hub.Start())

	session, err := rec.Start()
	require.NoError(t, err)
	assert.Equal(t, float64(300), session.MaxDurationSeconds)
	assert.WithinDuration(t, time.Now().UTC(), session.StartedAt, time.Minute)
	assert.True(t, rec.IsRecording())

	_, err = rec.Start()
	require.Error(t, err)
	assert.Equal(t, errors.SessionAlreadyActive, errors.CodeOf(err))

	dev.feed(1)
	require.Eventually(t, func() bool { return rec.capturedFrames() == 1 }, time.Second, 5*time.Millisecond)
	_, err = rec.Stop()
	require.NoError(t, err)
}

func TestStopWithoutSession(t *testing.T) {
	rec, hub, _, _, _ := newTestRecorder(t)
	require.NoError(t, hub.Start())

	_, err := rec.Stop()
	require.Error(t, err)
	assert.Equal(t, errors.StreamNotRunning, errors.CodeOf(err))
}

func TestRecordRoundTrip(t *testing.T) {
	rec, hub, dev, enc, reg := newTestRecorder(t)
	require.NoError(t, hub.Start())

	_, err := rec.Start()
	require.NoError(t, err)

	dev.feed(10)
	require.Eventually(t, func() bool { return rec.capturedFrames() == 10 }, time.Second, 5*time.Millisecond)

	got, err := rec.Stop()
	require.NoError(t, err)
	assert.False(t, rec.IsRecording())

	assert.NotEmpty(t, got.Path)
	assert.FileExists(t, got.Path)
	assert.False(t, got.HasData(), "payload released after persist")
	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, 1, got.Channels)
	assert.Equal(t, "fake-mic", got.DeviceName)
	assert.Equal(t, 10*testFormat.Blocksize, enc.lastLen)

	stored, err := reg.Get(got.Path)
	require.NoError(t, err)
	assert.Equal(t, got.Path, stored.Path)
	assert.Equal(t, 1, reg.Len())
}

func TestStopWithNoFramesFails(t *testing.T) {
	rec, hub, dev, _, _ := newTestRecorder(t)
	require.NoError(t, hub.Start())

	_, err := rec.Start()
	require.NoError(t, err)

	_, err = rec.Stop()
	require.Error(t, err)
	assert.Equal(t, errors.NoAudioCaptured, errors.CodeOf(err))
	assert.False(t, rec.IsRecording())

	// session state is clean, a new recording can start
	_, err = rec.Start()
	require.NoError(t, err)
	dev.feed(2)
	require.Eventually(t, func() bool { return rec.capturedFrames() == 2 }, time.Second, 5*time.Millisecond)
	_, err = rec.Stop()
	require.NoError(t, err)
}

func TestEncodeFailurePropagates(t *testing.T) {
	rec, hub, dev, enc, reg := newTestRecorder(t)
	require.NoError(t, hub.Start())
	enc.saveErr = errors.New(errors.EncodeFailed, "ffmpeg: exit status 1")

	_, err := rec.Start()
	require.NoError(t, err)
	dev.feed(3)
	require.Eventually(t, func() bool { return rec.capturedFrames() == 3 }, time.Second, 5*time.Millisecond)

	_, err = rec.Stop()
	require.Error(t, err)
	assert.Equal(t, errors.EncodeFailed, errors.CodeOf(err))
	assert.Zero(t, reg.Len())
	assert.False(t, rec.IsRecording())
}

func TestRegistryPutGet(t *testing.T) {
	reg := NewRegistry()
	format := audio.Format{SampleRate: 16000, Channels: 1, Blocksize: 512, DType: audio.Float32}

	_, err := reg.Get("/missing.wav")
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.CodeOf(err))

	noPath := audio.NewRecording(audio.F32Samples([]float32{0.1}), format, "")
	_, err = reg.Put(noPath)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidRecording, errors.CodeOf(err))

	rec := audio.NewRecording(audio.F32Samples([]float32{0.1, 0.2}), format, "mic")
	rec.Path = "/tmp/rec-1.wav"
	id, err := reg.Put(rec)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rec-1.wav", id)
	assert.Equal(t, 1, reg.Len())

	// registry holds its own copy, later caller mutation is invisible
	rec.Data.Float32()[0] = 9.9
	got, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), got.Data.Float32()[0])

	// lookups return independent copies
	got.Data.Float32()[0] = 5.5
	again, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), again.Data.Float32()[0])
	assert.Equal(t, got.Path, again.Path)
}

func TestRecorderRestartAfterStop(t *testing.T) {
	rec, hub, dev, _, reg := newTestRecorder(t)
	require.NoError(t, hub.Start())

	for i := 0; i < 2; i++ {
		_, err := rec.Start()
		require.NoError(t, err)
		dev.feed(2)
		require.Eventually(t, func() bool { return rec.capturedFrames() == 2 }, time.Second, 5*time.Millisecond)
		_, err = rec.Stop()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, reg.Len())
}
