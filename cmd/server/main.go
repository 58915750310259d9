// Platform server - wake-word listening, audio capture and transcription
// over HTTP and WebSocket
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/wakescribe/platform/internal/audio"
	"github.com/wakescribe/platform/internal/config"
	"github.com/wakescribe/platform/internal/encoder"
	"github.com/wakescribe/platform/internal/enhance"
	"github.com/wakescribe/platform/internal/listener"
	"github.com/wakescribe/platform/internal/metrics"
	"github.com/wakescribe/platform/internal/recorder"
	"github.com/wakescribe/platform/internal/server"
	"github.com/wakescribe/platform/internal/stt"
	"github.com/wakescribe/platform/internal/vad"
	"github.com/wakescribe/platform/internal/wake"
)

func main() {
	_ = godotenv.Load()

	configPath := pflag.String("config", "", "path to YAML config file")
	addr := pflag.String("addr", "", "HTTP listen address (overrides config)")
	pflag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	if *addr != "" {
		cfg.Server.HTTPAddr = *addr
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(level)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	// Capture pipeline
	hub := audio.NewHub(cfg.Audio.Format())
	if err := hub.Start(); err != nil {
		logrus.WithError(err).Fatal("start audio hub")
	}

	enc, err := encoder.NewFFmpeg(encoder.Config{
		Binary:      cfg.Encoder.Binary,
		OutputCodec: cfg.Encoder.OutputCodec,
		Container:   cfg.Encoder.Container,
		TmpDir:      cfg.Paths.TmpDir,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	})
	if err != nil {
		logrus.WithError(err).Fatal("init encoder")
	}

	registry := recorder.NewRegistry()
	rec := recorder.New(hub, enc, registry, cfg.Recording.MaxDurationSeconds)

	// Inference adapters
	transcripts := stt.NewService(stt.NewWhisper(stt.Config{
		BaseURL: cfg.Whisper.BaseURL,
		Model:   cfg.Whisper.Model,
		Timeout: cfg.Whisper.Timeout(),
	}, enc))

	notes := enhance.NewService(enhance.NewLLM(enhance.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	}))

	// Detection models load up front so a broken install fails the
	// process instead of the first session.
	wk, err := wake.NewOpenWakeWord(wake.Config{
		ModelDir:       cfg.Listener.WakeModelDir,
		Models:         cfg.Listener.WakeModels,
		MelspecModel:   cfg.Listener.WakeMelspecModel,
		EmbeddingModel: cfg.Listener.WakeEmbeddingModel,
		OnnxLib:        cfg.Listener.OnnxLib,
		SampleRate:     cfg.Audio.SampleRate,
		FrameMs:        cfg.Listener.WakeFrameMs,
		WindowSeconds:  cfg.Listener.WakeWindowSeconds,
		Threshold:      cfg.Listener.WakeThreshold,
	})
	if err != nil {
		logrus.WithError(err).Fatal("load wake-word models")
	}
	defer func() { _ = wk.Close() }()

	engine, err := vad.NewSileroEngine(vad.SileroConfig{
		ModelPath:    cfg.Listener.ModelPath(cfg.Listener.VADModel),
		SampleRate:   cfg.Audio.SampleRate,
		Threshold:    float32(cfg.Listener.VADThreshold),
		MinSilenceMs: cfg.Listener.VADMinSilenceMs,
		SpeechPadMs:  cfg.Listener.VADSpeechPadMs,
	})
	if err != nil {
		logrus.WithError(err).Fatal("load vad model")
	}
	defer func() { _ = engine.Close() }()

	lst := listener.New(hub, wk, vad.NewDetector(engine), enc, registry, transcripts, listener.Config{
		ArmedTimeoutSeconds: cfg.Listener.ArmedTimeoutSeconds,
		MaxUtteranceSeconds: cfg.Listener.MaxUtteranceSeconds,
		SpeechPadMs:         cfg.Listener.VADSpeechPadMs,
		HangoverMs:          cfg.Listener.EndHangoverMs,
	})

	srv := server.New(rec, lst, registry, transcripts, notes)

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.Server.HTTPAddr).Info("platform server starting")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http shutdown error")
	}

	if lst.IsListening() {
		_, _ = lst.Stop()
	}
	if rec.IsRecording() {
		// flush the in-flight manual recording before the stream dies
		if _, err := rec.Stop(); err != nil {
			logrus.WithError(err).Warn("final recording not persisted")
		}
	}
	hub.Stop()
	logrus.Info("shutdown complete")
}
