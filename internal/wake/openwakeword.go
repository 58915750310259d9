package wake

import (
	"math"
	"path/filepath"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/errors"
)

// openWakeWord pipeline geometry. The melspectrogram model turns raw
// int16-range samples into 32-bin mel frames at a 160-sample hop, the
// embedding model consumes 76 mel frames and advances 8 per step, and
// each wake-word head scores the last 16 embeddings.
const (
	melBins      = 32
	melHop       = 160
	melWindow    = 76
	melStep      = 8
	embeddingDim = 96
	embedFrames  = 16
)

// Config holds model paths and tuning knobs for the ONNX pipeline.
type Config struct {
	ModelDir       string
	Models         []string
	MelspecModel   string
	EmbeddingModel string
	OnnxLib        string

	SampleRate    int
	FrameMs       int
	WindowSeconds float64
	Threshold     float64
}

// OpenWakeWord runs the openWakeWord three-stage ONNX pipeline:
// melspectrogram, shared embedding, one scoring head per model.
// Incoming frames accumulate until a full inference chunk is available;
// scores land in a trailing window and detection fires on the window
// max, so a peak that arrives a step early or late is not missed.
type OpenWakeWord struct {
	cfg          Config
	chunkSamples int
	melFrames    int

	melIn   *ort.Tensor[float32]
	melOut  *ort.Tensor[float32]
	melSess *ort.AdvancedSession

	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]
	embedSess *ort.AdvancedSession

	headIn *ort.Tensor[float32]
	heads  []*head

	pcm   []int16
	mel   []float32
	embed []float32

	envOwned bool
	log      *logrus.Entry
}

type head struct {
	name   string
	sess   *ort.AdvancedSession
	out    *ort.Tensor[float32]
	window *scoreWindow
}

func NewOpenWakeWord(cfg Config) (*OpenWakeWord, error) {
	chunkSamples := cfg.SampleRate * cfg.FrameMs / 1000
	if cfg.SampleRate != 16000 {
		return nil, errors.Newf(errors.InvalidFormat, "wake pipeline requires 16 kHz input, got %d", cfg.SampleRate)
	}
	if len(cfg.Models) == 0 {
		return nil, errors.New(errors.InvalidFormat, "no wake-word models configured")
	}
	if chunkSamples <= 0 || chunkSamples%melHop != 0 {
		return nil, errors.Newf(errors.InvalidFormat, "wake_frame_ms %d does not align with the %d-sample mel hop", cfg.FrameMs, melHop)
	}
	melFrames := chunkSamples/melHop - 3
	if melFrames < 1 {
		return nil, errors.Newf(errors.InvalidFormat, "wake_frame_ms %d is too short for one mel frame", cfg.FrameMs)
	}
	if cfg.WindowSeconds <= 0 {
		return nil, errors.New(errors.InvalidFormat, "wake_window_seconds must be positive")
	}

	envOwned := false
	if !ort.IsInitialized() {
		if cfg.OnnxLib != "" {
			ort.SetSharedLibraryPath(cfg.OnnxLib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, errors.Internal, "initialize onnx runtime")
		}
		envOwned = true
	}

	o := &OpenWakeWord{
		cfg:          cfg,
		chunkSamples: chunkSamples,
		melFrames:    melFrames,
		embed:        make([]float32, embedFrames*embeddingDim),
		envOwned:     envOwned,
		log:          logrus.WithField("component", "wake"),
	}

	if err := o.buildPipeline(); err != nil {
		o.Close()
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"models":         cfg.Models,
		"threshold":      cfg.Threshold,
		"frame_ms":       cfg.FrameMs,
		"window_seconds": cfg.WindowSeconds,
	}).Info("openWakeWord pipeline initialized")
	return o, nil
}

func (o *OpenWakeWord) buildPipeline() error {
	var err error

	o.melIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.chunkSamples)))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "melspectrogram input tensor")
	}
	o.melOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(o.melFrames), melBins))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "melspectrogram output tensor")
	}
	o.melSess, err = o.newSession(o.cfg.MelspecModel, o.melIn, o.melOut)
	if err != nil {
		return err
	}

	o.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "embedding input tensor")
	}
	o.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "embedding output tensor")
	}
	o.embedSess, err = o.newSession(o.cfg.EmbeddingModel, o.embedIn, o.embedOut)
	if err != nil {
		return err
	}

	o.headIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, embedFrames, embeddingDim))
	if err != nil {
		return errors.Wrap(err, errors.Internal, "head input tensor")
	}

	slots := windowSlots(o.cfg.WindowSeconds, o.cfg.SampleRate)
	for _, name := range o.cfg.Models {
		out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
		if err != nil {
			return errors.Wrapf(err, errors.Internal, "output tensor for %s", name)
		}
		sess, err := o.newSession(filepath.Join(o.cfg.ModelDir, name+".onnx"), o.headIn, out)
		if err != nil {
			out.Destroy()
			return err
		}
		o.heads = append(o.heads, &head{
			name:   name,
			sess:   sess,
			out:    out,
			window: newScoreWindow(slots),
		})
	}
	return nil
}

func (o *OpenWakeWord) newSession(modelPath string, in, out ort.Value) (*ort.AdvancedSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "inspect onnx model").WithMetadata("model", modelPath)
	}
	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "load onnx model").WithMetadata("model", modelPath)
	}
	return sess, nil
}

// Detect folds the frame into the pipeline and reports the current
// per-model window maxima.
func (o *OpenWakeWord) Detect(frame audio.Frame) (Event, error) {
	o.pcm = append(o.pcm, frame.MonoInt16()...)

	for len(o.pcm) >= o.chunkSamples {
		err := o.processChunk(o.pcm[:o.chunkSamples])
		n := copy(o.pcm, o.pcm[o.chunkSamples:])
		o.pcm = o.pcm[:n]
		if err != nil {
			return Event{}, err
		}
	}

	ev := o.snapshot()
	if ev.Detected {
		o.log.WithField("scores", ev.Scores).Info("wake-word detected")
	}
	return ev, nil
}

func (o *OpenWakeWord) processChunk(chunk []int16) error {
	// The melspectrogram model takes raw int16-range values, and its
	// output is rescaled the same way openWakeWord does before the
	// embedding stage.
	in := o.melIn.GetData()
	for i, v := range chunk {
		in[i] = float32(v)
	}
	if err := o.melSess.Run(); err != nil {
		return errors.Wrap(err, errors.Internal, "melspectrogram inference")
	}
	for _, v := range o.melOut.GetData()[:o.melFrames*melBins] {
		o.mel = append(o.mel, v/10.0+2.0)
	}

	if err := o.scoreEmbeddings(); err != nil {
		return err
	}

	// Keep mel history bounded if scoring bailed out early.
	if frames := len(o.mel) / melBins; frames > melWindow {
		n := copy(o.mel, o.mel[(frames-melWindow)*melBins:])
		o.mel = o.mel[:n]
	}
	return nil
}

func (o *OpenWakeWord) scoreEmbeddings() error {
	for len(o.mel)/melBins >= melWindow {
		copy(o.embedIn.GetData(), o.mel[:melWindow*melBins])
		if err := o.embedSess.Run(); err != nil {
			return errors.Wrap(err, errors.Internal, "embedding inference")
		}

		// Slide the embedding buffer one step and append the new vector.
		copy(o.embed, o.embed[embeddingDim:])
		copy(o.embed[(embedFrames-1)*embeddingDim:], o.embedOut.GetData()[:embeddingDim])

		n := copy(o.mel, o.mel[melStep*melBins:])
		o.mel = o.mel[:n]

		copy(o.headIn.GetData(), o.embed)
		for _, h := range o.heads {
			if err := h.sess.Run(); err != nil {
				return errors.Wrapf(err, errors.Internal, "score wake model %s", h.name)
			}
			h.window.push(float64(h.out.GetData()[0]))
		}
	}
	return nil
}

func (o *OpenWakeWord) snapshot() Event {
	scores := make(map[string]float64, len(o.heads))
	detected := false
	for _, h := range o.heads {
		m := h.window.max()
		scores[h.name] = m
		if m >= o.cfg.Threshold {
			detected = true
		}
	}
	return Event{Detected: detected, Scores: scores}
}

// Reset flushes the sample accumulator, the mel and embedding history
// and every trailing score window, so a past peak cannot re-trigger.
func (o *OpenWakeWord) Reset() error {
	o.pcm = o.pcm[:0]
	o.mel = o.mel[:0]
	for i := range o.embed {
		o.embed[i] = 0
	}
	for _, h := range o.heads {
		h.window.reset()
	}
	return nil
}

// Close destroys the ONNX sessions and tensors. Safe to call on a
// partially constructed pipeline.
func (o *OpenWakeWord) Close() error {
	for _, h := range o.heads {
		if h.sess != nil {
			h.sess.Destroy()
		}
		if h.out != nil {
			h.out.Destroy()
		}
	}
	o.heads = nil
	destroySession(&o.melSess)
	destroySession(&o.embedSess)
	destroyTensor(&o.melIn)
	destroyTensor(&o.melOut)
	destroyTensor(&o.embedIn)
	destroyTensor(&o.embedOut)
	destroyTensor(&o.headIn)
	if o.envOwned && ort.IsInitialized() {
		ort.DestroyEnvironment()
		o.envOwned = false
	}
	return nil
}

func destroySession(s **ort.AdvancedSession) {
	if *s != nil {
		(*s).Destroy()
		*s = nil
	}
}

func destroyTensor(t **ort.Tensor[float32]) {
	if *t != nil {
		(*t).Destroy()
		*t = nil
	}
}

// Models returns the configured wake-word model names.
func (o *OpenWakeWord) Models() []string {
	out := make([]string, len(o.cfg.Models))
	copy(out, o.cfg.Models)
	return out
}

// windowSlots converts the detection window duration into a number of
// embedding steps. One step covers melStep mel hops of audio.
func windowSlots(seconds float64, sampleRate int) int {
	stepSeconds := float64(melStep*melHop) / float64(sampleRate)
	n := int(math.Round(seconds / stepSeconds))
	if n < 1 {
		n = 1
	}
	return n
}

// scoreWindow keeps the most recent n scores for one model.
type scoreWindow struct {
	scores []float64
	idx    int
}

func newScoreWindow(n int) *scoreWindow {
	return &scoreWindow{scores: make([]float64, n)}
}

func (w *scoreWindow) push(s float64) {
	w.scores[w.idx%len(w.scores)] = s
	w.idx++
}

func (w *scoreWindow) max() float64 {
	var m float64
	for _, s := range w.scores {
		if s > m {
			m = s
		}
	}
	return m
}

func (w *scoreWindow) reset() {
	for i := range w.scores {
		w.scores[i] = 0
	}
	w.idx = 0
}
