package audio

import (
	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/wakescribe/platform/internal/errors"
)

// Device produces fixed-size interleaved sample blocks from a capture source.
type Device interface {
	// ReadBlock blocks until the next block is available. The returned
	// samples are private to the caller.
	ReadBlock() (Samples, error)
	Close() error
}

// DeviceOpener opens a capture device for the given format, returning the
// device and its human-readable name.
type DeviceOpener func(Format) (Device, string, error)

// OpenPortAudio opens the system microphone through portaudio. Selection
// policy: first input whose name contains "monitor", else the default
// input, else the first device with input channels.
func OpenPortAudio(format Format) (Device, string, error) {
	if err := format.Validate(); err != nil {
		return nil, "", err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, "", errors.Wrap(err, errors.DeviceError, "initialize audio backend")
	}

	dev, err := selectInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, "", err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: format.Blocksize,
	}

	d := &portaudioDevice{format: format}
	var stream *portaudio.Stream
	switch format.DType {
	case Int16:
		d.i16 = make([]int16, format.Blocksize*format.Channels)
		stream, err = portaudio.OpenStream(params, d.i16)
	default:
		// float64 streams capture through a float32 device buffer and widen;
		// portaudio has no float64 sample format
		d.f32 = make([]float32, format.Blocksize*format.Channels)
		stream, err = portaudio.OpenStream(params, d.f32)
	}
	if err != nil {
		_ = portaudio.Terminate()
		return nil, "", errors.Wrapf(err, errors.DeviceError, "open device %q", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, "", errors.Wrapf(err, errors.DeviceError, "start device %q", dev.Name)
	}
	d.stream = stream

	logrus.WithFields(logrus.Fields{
		"device":      dev.Name,
		"sample_rate": format.SampleRate,
		"channels":    format.Channels,
		"blocksize":   format.Blocksize,
		"dtype":       format.DType,
	}).Info("opened capture device")
	return d, dev.Name, nil
}

func selectInputDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Wrap(err, errors.DeviceError, "enumerate devices")
	}

	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && containsIgnoreCase(dev.Name, "monitor") {
			return dev, nil
		}
	}
	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, errors.New(errors.DeviceError, "no input device available")
}

type portaudioDevice struct {
	stream *portaudio.Stream
	format Format
	f32    []float32
	i16    []int16
}

func (d *portaudioDevice) ReadBlock() (Samples, error) {
	for {
		err := d.stream.Read()
		if err == nil {
			break
		}
		if err == portaudio.InputOverflowed {
			// recoverable, the block is stale but usable
			logrus.Debug("audio input overflowed")
			break
		}
		return Samples{}, err
	}

	// copy out, portaudio reuses the buffer
	switch d.format.DType {
	case Int16:
		return I16Samples(append([]int16(nil), d.i16...)), nil
	case Float64:
		out := make([]float64, len(d.f32))
		for i, v := range d.f32 {
			out[i] = float64(v)
		}
		return F64Samples(out), nil
	default:
		return F32Samples(append([]float32(nil), d.f32...)), nil
	}
}

func (d *portaudioDevice) Close() error {
	_ = d.stream.Stop()
	err := d.stream.Close()
	_ = portaudio.Terminate()
	return err
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
