// Command tts-batch synthesizes a text corpus into speech files and writes a
// metadata report for the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/config"
	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/noise"
	"github.com/zeng-zr/tts-batch/internal/params"
	"github.com/zeng-zr/tts-batch/internal/synth"
	"github.com/zeng-zr/tts-batch/internal/textload"
	"github.com/zeng-zr/tts-batch/internal/voicelib"
)

// Flag names.
const (
	flagInput        = "input"
	flagConfig       = "config"
	flagOutputDir    = "output-dir"
	flagOutputMeta   = "output-meta"
	flagLanguage     = "language"
	flagNoSplit      = "no-split-sentences"
	flagSameVoice    = "same-voice"
	flagPrompt       = "prompt"
	flagEmotion      = "emotion"
	flagRandomParams = "random-params"
	flagTemperature  = "temperature"
	flagLengthPen    = "length-penalty"
	flagRepPen       = "repetition-penalty"
	flagTopK         = "top-k"
	flagTopP         = "top-p"
	flagSpeed        = "speed"
	flagTextColumn   = "text-column"
	flagIDColumn     = "id-column"
	flagSheet        = "sheet"
	flagNoiseType    = "noise-type"
	flagSNR          = "snr"
	flagNoiseCount   = "noise-count"
)

// Flag descriptions.
const (
	flagInputDesc        = "Input text file (.txt, .csv, .xlsx, .json)"
	flagConfigDesc       = "Path to a local TOML configuration file"
	flagOutputDirDesc    = "Directory for synthesized audio (overrides configuration)"
	flagOutputMetaDesc   = "Metadata CSV path (defaults to meta_{timestamp}.csv in the output dir)"
	flagLanguageDesc     = "Synthesis language (overrides configuration)"
	flagNoSplitDesc      = "Disable sentence splitting in the model"
	flagSameVoiceDesc    = "Use one randomly chosen voice prompt for the whole batch"
	flagPromptDesc       = "Voice prompt wav name or path (implies a fixed voice)"
	flagEmotionDesc      = "Emotion reference name from the emotion directory"
	flagRandomParamsDesc = "Randomize every sampling parameter per record"
	flagParamDesc        = "Sampling parameter value, or 'random'"
	flagTextColumnDesc   = "Text column name for csv/xlsx inputs"
	flagIDColumnDesc     = "ID column name for csv/xlsx inputs"
	flagSheetDesc        = "Sheet name for xlsx inputs (defaults to the first sheet)"
	flagNoiseTypeDesc    = "Noise type for the post-process stage ('random' draws per file)"
	flagSNRDesc          = "Signal-to-noise ratio in dB for the noise stage (negative uses the configured default)"
	flagNoiseCountDesc   = "Number of random-noise variants per output"
)

var errInputRequired = errors.New("--input is required")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	input        string
	config       string
	outputDir    string
	outputMeta   string
	language     string
	noSplit      bool
	sameVoice    bool
	prompt       string
	emotion      string
	randomParams bool
	temperature  string
	lengthPen    string
	repPen       string
	topK         string
	topP         string
	speed        string
	textColumn   string
	idColumn     string
	sheet        string
	noiseType    string
	snr          float64
	noiseCount   int
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	if flags.input == "" {
		flag.Usage()

		return errInputRequired
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	applyPathOverrides(cfg, flags)

	appLogger, err := logger.New(cfg.Paths.BaseLogsDir, "tts-batch.log")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	synthesizer, err := buildSynthesizer(cfg, appLogger)
	if err != nil {
		return err
	}

	opts, err := buildOptions(cfg, flags)
	if err != nil {
		return err
	}

	loadOpts := textload.Options{
		TextColumn: flags.textColumn,
		IDColumn:   flags.idColumn,
		SheetName:  flags.sheet,
		TextKey:    "",
		IDKey:      "",
	}

	summary, err := synthesizer.ProcessTextFile(ctx, flags.input, loadOpts, opts)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}

	fmt.Printf("Synthesized %d/%d records, metadata: %s\n",
		summary.SuccessCount(), len(summary.Results), summary.MetaFile)

	if len(summary.NoiseFiles) > 0 {
		fmt.Printf("Noise stage produced %d files\n", len(summary.NoiseFiles))
	}

	if summary.FailureCount() > 0 {
		fmt.Printf("%d records failed, see the metadata report\n", summary.FailureCount())
	}

	return nil
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.input, flagInput, "", flagInputDesc)
	flag.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flag.StringVar(&flags.outputDir, flagOutputDir, "", flagOutputDirDesc)
	flag.StringVar(&flags.outputMeta, flagOutputMeta, "", flagOutputMetaDesc)
	flag.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flag.BoolVar(&flags.noSplit, flagNoSplit, false, flagNoSplitDesc)
	flag.BoolVar(&flags.sameVoice, flagSameVoice, false, flagSameVoiceDesc)
	flag.StringVar(&flags.prompt, flagPrompt, "", flagPromptDesc)
	flag.StringVar(&flags.emotion, flagEmotion, "", flagEmotionDesc)
	flag.BoolVar(&flags.randomParams, flagRandomParams, false, flagRandomParamsDesc)
	flag.StringVar(&flags.temperature, flagTemperature, "", flagParamDesc)
	flag.StringVar(&flags.lengthPen, flagLengthPen, "", flagParamDesc)
	flag.StringVar(&flags.repPen, flagRepPen, "", flagParamDesc)
	flag.StringVar(&flags.topK, flagTopK, "", flagParamDesc)
	flag.StringVar(&flags.topP, flagTopP, "", flagParamDesc)
	flag.StringVar(&flags.speed, flagSpeed, "", flagParamDesc)
	flag.StringVar(&flags.textColumn, flagTextColumn, "", flagTextColumnDesc)
	flag.StringVar(&flags.idColumn, flagIDColumn, "", flagIDColumnDesc)
	flag.StringVar(&flags.sheet, flagSheet, "", flagSheetDesc)
	flag.StringVar(&flags.noiseType, flagNoiseType, "", flagNoiseTypeDesc)
	flag.Float64Var(&flags.snr, flagSNR, -1, flagSNRDesc)
	flag.IntVar(&flags.noiseCount, flagNoiseCount, 0, flagNoiseCountDesc)
	flag.Parse()

	return flags
}

// loadConfig reads the local TOML file when one is given, otherwise goes
// through the central configurator.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}

		return cfg, nil
	}

	bootstrapLog, err := logger.New(os.TempDir(), "tts-batch-bootstrap.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func applyPathOverrides(cfg *config.Config, flags appFlags) {
	if flags.outputDir != "" {
		cfg.Paths.OutputDir = flags.outputDir
	}

	if cfg.Paths.BaseLogsDir == "" {
		cfg.Paths.BaseLogsDir = os.TempDir()
	}
}

// buildSynthesizer wires the pipeline from configuration: text loader, voice
// library, noise mixer and the configured model provider.
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

// buildOptions merges CLI flags over configuration defaults.
func buildOptions(cfg *config.Config, flags appFlags) (synth.Options, error) {
	opts := synth.Options{
		Language:          cfg.Synthesis.Language,
		SplitSentences:    *cfg.Synthesis.SplitSentences && !flags.noSplit,
		SameVoice:         flags.sameVoice || flags.prompt != "",
		PromptName:        flags.prompt,
		Emotion:           flags.emotion,
		Temperature:       params.Value{},
		LengthPenalty:     params.Value{},
		RepetitionPenalty: params.Value{},
		TopK:              params.Value{},
		TopP:              params.Value{},
		Speed:             params.Value{},
		MetaFile:          flags.outputMeta,
		NoiseType:         flags.noiseType,
		NoiseSNRdB:        flags.snr,
		NoiseCount:        flags.noiseCount,
	}

	if flags.language != "" {
		opts.Language = flags.language
	}

	if flags.noiseType != "" && flags.snr < 0 {
		opts.NoiseSNRdB = *cfg.Noise.SNRdB
	}

	if flags.noiseType != "" && flags.noiseCount == 0 {
		opts.NoiseCount = cfg.Noise.Count
	}

	values := []struct {
		flagValue   string
		configValue string
		target      *params.Value
	}{
		{flags.temperature, cfg.Synthesis.Temperature, &opts.Temperature},
		{flags.lengthPen, cfg.Synthesis.LengthPenalty, &opts.LengthPenalty},
		{flags.repPen, cfg.Synthesis.RepetitionPenalty, &opts.RepetitionPenalty},
		{flags.topK, cfg.Synthesis.TopK, &opts.TopK},
		{flags.topP, cfg.Synthesis.TopP, &opts.TopP},
		{flags.speed, cfg.Synthesis.Speed, &opts.Speed},
	}

	for _, value := range values {
		raw := value.configValue
		if value.flagValue != "" {
			raw = value.flagValue
		}

		if flags.randomParams {
			raw = params.RandomSentinel
		}

		parsed, err := params.Parse(raw)
		if err != nil {
			return synth.Options{}, fmt.Errorf("invalid parameter value: %w", err)
		}

		*value.target = parsed
	}

	return opts, nil
}
