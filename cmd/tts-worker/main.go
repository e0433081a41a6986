// Command tts-worker is the NATS daemon that runs batch synthesis jobs
// published to the configured subject.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/zeng-zr/tts-batch/internal/config"
	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/noise"
	"github.com/zeng-zr/tts-batch/internal/objectstore"
	"github.com/zeng-zr/tts-batch/internal/params"
	"github.com/zeng-zr/tts-batch/internal/synth"
	"github.com/zeng-zr/tts-batch/internal/textload"
	"github.com/zeng-zr/tts-batch/internal/voicelib"
	"github.com/zeng-zr/tts-batch/internal/worker"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Worker exited with error: %v", err)
	}
}

func run() error {
	bootstrapLog, err := logger.New(os.TempDir(), "tts-worker-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Paths.BaseLogsDir == "" {
		cfg.Paths.BaseLogsDir = os.TempDir()
	}

	appLogger, err := logger.New(cfg.Paths.BaseLogsDir, "tts-worker.log")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsWorker, err := buildWorker(cfg, appLogger)
	if err != nil {
		return err
	}

	appLogger.System("Worker listening for batch jobs on subject: %s",
		cfg.NATS.BatchRequestSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	return nil
}

// buildWorker wires the NATS transport, the object store and the synthesis
// pipeline from configuration.
func buildWorker(cfg *config.Config, appLogger *logger.Logger) (*worker.NatsWorker, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	synthesizer, err := buildSynthesizer(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	defaults, err := defaultOptions(cfg)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(os.TempDir(), "tts-worker-inputs")

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.BatchRequestSubject,
		cfg.NATS.BatchFinishedSubject,
		store,
		synthesizer,
		defaults,
		workDir,
		appLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	return natsWorker, nil
}

func buildSynthesizer(cfg *config.Config, appLogger *logger.Logger) (*synth.Synthesizer, error) {
	voices, err := voicelib.New(voicelib.Config{
		DataDir:          cfg.Paths.VoiceDataDir,
		SelectedVoiceDir: cfg.Paths.SelectedVoiceDir,
		EmotionDir:       cfg.Paths.EmotionDir,
	}, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize voice library: %w", err)
	}

	provider, err := buildProvider(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	mixer := noise.NewMixer(noise.NewLibrary(cfg.Paths.NoiseDir, appLogger), appLogger)
	loader := textload.NewLoader(appLogger)

	return synth.New(cfg.Paths.OutputDir, loader, voices, provider, mixer, appLogger), nil
}

func buildProvider(cfg *config.Config, appLogger *logger.Logger) (core.ModelProvider, error) {
	switch cfg.Synthesis.Provider {
	case config.ProviderHTTP:
		timeout := time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second

		return synth.NewHTTPProvider(cfg.Synthesis.BaseURL, timeout, appLogger), nil
	default:
		provider, err := synth.NewExecProvider(
			cfg.Synthesis.Command, !cfg.Synthesis.MinimalOnly, appLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize exec provider: %w", err)
		}

		return provider, nil
	}
}

// defaultOptions parses the configured parameter defaults once at startup.
func defaultOptions(cfg *config.Config) (synth.Options, error) {
	opts := synth.Options{
		Language:          cfg.Synthesis.Language,
		SplitSentences:    *cfg.Synthesis.SplitSentences,
		SameVoice:         false,
		PromptName:        "",
		Emotion:           "",
		Temperature:       params.Value{},
		LengthPenalty:     params.Value{},
		RepetitionPenalty: params.Value{},
		TopK:              params.Value{},
		TopP:              params.Value{},
		Speed:             params.Value{},
		MetaFile:          "",
		NoiseType:         "",
		NoiseSNRdB:        *cfg.Noise.SNRdB,
		NoiseCount:        cfg.Noise.Count,
	}

	values := []struct {
		raw    string
		target *params.Value
	}{
		{cfg.Synthesis.Temperature, &opts.Temperature},
		{cfg.Synthesis.LengthPenalty, &opts.LengthPenalty},
		{cfg.Synthesis.RepetitionPenalty, &opts.RepetitionPenalty},
		{cfg.Synthesis.TopK, &opts.TopK},
		{cfg.Synthesis.TopP, &opts.TopP},
		{cfg.Synthesis.Speed, &opts.Speed},
	}

	for _, value := range values {
		parsed, err := params.Parse(value.raw)
		if err != nil {
			return synth.Options{}, fmt.Errorf("invalid configured parameter: %w", err)
		}

		*value.target = parsed
	}

	return opts, nil
}
