// Package synth orchestrates batch speech synthesis: it loads text records,
// selects voice prompts, resolves sampling parameters per record, drives the
// model provider, and writes a metadata report for the batch.
package synth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/fileutil"
	"github.com/zeng-zr/tts-batch/internal/noise"
	"github.com/zeng-zr/tts-batch/internal/params"
	"github.com/zeng-zr/tts-batch/internal/textload"
	"github.com/zeng-zr/tts-batch/internal/voicelib"
)

const (
	outputExtension = ".wav"
	metaFilePrefix  = "meta_"
)

// ErrNoRecords indicates the input file yielded nothing to synthesize.
var ErrNoRecords = errors.New("no text records to synthesize")

// Options controls one batch run. Parameter values carry the literal-or-random
// variant; random values are resolved independently for every record.
type Options struct {
	Language       string
	SplitSentences bool

	// SameVoice pins one randomly chosen prompt for the whole batch.
	// PromptName overrides random selection entirely.
	SameVoice  bool
	PromptName string

	// Emotion names a reference wav in the emotion directory, without the
	// extension. A missing emotion reference downgrades the batch to plain
	// synthesis with a warning.
	Emotion string

	Temperature       params.Value
	LengthPenalty     params.Value
	RepetitionPenalty params.Value
	TopK              params.Value
	TopP              params.Value
	Speed             params.Value

	// MetaFile is the metadata report path. Empty selects
	// {output dir}/meta_{timestamp}.csv.
	MetaFile string

	// NoiseType enables the post-process stage: every successful output
	// gets noise overlaid at NoiseSNRdB. NoiseCount controls how many
	// variants a random-type request produces per file.
	NoiseType  string
	NoiseSNRdB float64
	NoiseCount int
}

// Synthesizer runs batches against a model provider.
type Synthesizer struct {
	outputDir string
	loader    *textload.Loader
	voices    *voicelib.Library
	provider  core.ModelProvider
	mixer     *noise.Mixer
	pre       *preprocessor
	log       *logger.Logger
}

// New creates a batch synthesizer writing audio into outputDir. mixer may be
// nil when the noise post-process stage is not configured.
func New(
	outputDir string,
	loader *textload.Loader,
	voices *voicelib.Library,
	provider core.ModelProvider,
	mixer *noise.Mixer,
	log *logger.Logger,
) *Synthesizer {
	return &Synthesizer{
		outputDir: outputDir,
		loader:    loader,
		voices:    voices,
		provider:  provider,
		mixer:     mixer,
		pre:       newPreprocessor(),
		log:       log,
	}
}

// ProcessTextFile loads records from path and synthesizes them all. The
// returned summary holds one result per record and the metadata report path.
func (s *Synthesizer) ProcessTextFile(
	ctx context.Context,
	path string,
	loadOpts textload.Options,
	opts Options,
) (*core.BatchSummary, error) {
	records, err := s.loader.LoadFile(path, loadOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to load text file %s: %w", path, err)
	}

	return s.ProcessRecords(ctx, records, opts)
}

// ProcessRecords synthesizes every record. A failed record is reported in its
// result and never aborts the batch.
func (s *Synthesizer) ProcessRecords(
	ctx context.Context,
	records []textload.Record,
	opts Options,
) (*core.BatchSummary, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	err := fileutil.EnsureDir(s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	fixedPrompt, err := s.resolveFixedPrompt(opts)
	if err != nil {
		return nil, err
	}

	emotionWav, emotionSuffix := s.resolveEmotion(opts.Emotion)

	summary := &core.BatchSummary{
		Results:  make([]core.SynthesisResult, 0, len(records)),
		MetaFile: s.metaFilePath(opts.MetaFile),
	}

	for i := range records {
		prompt := fixedPrompt
		if prompt == "" {
			prompt, err = s.voices.RandomPrompt()
			if err != nil {
				return nil, fmt.Errorf("failed to select voice prompt: %w", err)
			}
		}

		result := s.synthesizeOne(ctx, records[i], prompt, emotionWav, emotionSuffix, opts)
		summary.Results = append(summary.Results, result)

		if result.Success {
			s.log.Info("Synthesized %s in %s", records[i].ID,
				fileutil.FormatDuration(result.ProcessingTime))
		} else {
			s.log.Error("Failed to synthesize %s: %s", records[i].ID, result.ErrorMessage)
		}
	}

	err = WriteMeta(summary.MetaFile, summary.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to write metadata report: %w", err)
	}

	summary.NoiseFiles = s.applyNoise(summary, opts)

	s.log.System("Batch finished: %d succeeded, %d failed, metadata at %s",
		summary.SuccessCount(), summary.FailureCount(), summary.MetaFile)

	return summary, nil
}

// applyNoise runs the optional noise post-process over the batch's successful
// outputs.
func (s *Synthesizer) applyNoise(summary *core.BatchSummary, opts Options) []string {
	if opts.NoiseType == "" || s.mixer == nil {
		return nil
	}

	var files []string

	for i := range summary.Results {
		if summary.Results[i].Success {
			files = append(files, summary.Results[i].OutputFile)
		}
	}

	if len(files) == 0 {
		return nil
	}

	produced := s.mixer.PostProcess(files, opts.NoiseType, opts.NoiseSNRdB, opts.NoiseCount, s.outputDir)
	s.log.Info("Noise post-process produced %d files", len(produced))

	return produced
}

// resolveFixedPrompt returns the prompt shared by the whole batch, or empty
// when every record selects its own at random.
func (s *Synthesizer) resolveFixedPrompt(opts Options) (string, error) {
	if opts.PromptName != "" {
		prompt := s.voices.PromptByName(opts.PromptName)
		if prompt != "" {
			return prompt, nil
		}

		s.log.Warn("Voice prompt %q not found, falling back to a random prompt", opts.PromptName)
	}

	if opts.PromptName != "" || opts.SameVoice {
		prompt, err := s.voices.RandomPrompt()
		if err != nil {
			return "", fmt.Errorf("failed to select voice prompt: %w", err)
		}

		return prompt, nil
	}

	return "", nil
}

// resolveEmotion looks up the emotion reference wav once for the batch. A
// missing reference produces a warning and an empty result, which downgrades
// the run to plain synthesis.
func (s *Synthesizer) resolveEmotion(emotion string) (wav, suffix string) {
	if emotion == "" {
		return "", ""
	}

	wav = s.voices.EmotionWav(emotion + outputExtension)
	if wav == "" {
		s.log.Warn("Emotion reference %q not found, synthesizing without it", emotion)

		return "", ""
	}

	return wav, "_" + emotion
}

func (s *Synthesizer) synthesizeOne(
	ctx context.Context,
	record textload.Record,
	prompt string,
	emotionWav string,
	emotionSuffix string,
	opts Options,
) core.SynthesisResult {
	req := core.SynthesisRequest{
		Text:           s.pre.normalize(record.Text),
		ReferenceWavs:  []string{prompt},
		OutputPath:     filepath.Join(s.outputDir, record.ID+emotionSuffix+outputExtension),
		Language:       opts.Language,
		SplitSentences: opts.SplitSentences,
		Params:         resolveParams(opts),
	}

	if emotionWav != "" {
		req.ReferenceWavs = append(req.ReferenceWavs, emotionWav)
		req.Params.Emotion = opts.Emotion
	}

	started := time.Now()
	err := s.callProvider(ctx, req)
	elapsed := time.Since(started).Seconds()

	if err == nil && !fileutil.FileExists(req.OutputPath) {
		err = fmt.Errorf("%w: %s", core.ErrOutputMissing, req.OutputPath)
	}

	result := core.SynthesisResult{
		Input:          req,
		Success:        err == nil,
		ErrorMessage:   "",
		OutputFile:     "",
		ProcessingTime: elapsed,
	}

	if err != nil {
		result.ErrorMessage = err.Error()

		return result
	}

	result.OutputFile = req.OutputPath

	return result
}

// callProvider issues the full-parameter call when the provider supports it,
// falling back to exactly one minimal call if the full shape is rejected.
func (s *Synthesizer) callProvider(ctx context.Context, req core.SynthesisRequest) error {
	if !s.provider.SupportsFullParams() {
		return s.provider.SynthesizeMinimal(ctx, req)
	}

	err := s.provider.Synthesize(ctx, req)
	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrParamsUnsupported) {
		s.log.Warn("Full parameter set rejected, retrying with minimal call: %v", err)

		return s.provider.SynthesizeMinimal(ctx, req)
	}

	return err
}

// resolveParams draws concrete values for the record. Random values are
// re-sampled here on every call, so each record gets its own draw.
func resolveParams(opts Options) core.SynthesisParams {
	return core.SynthesisParams{
		Temperature:       resolveOne(params.NameTemperature, opts.Temperature),
		LengthPenalty:     resolveOne(params.NameLengthPenalty, opts.LengthPenalty),
		RepetitionPenalty: resolveOne(params.NameRepetitionPenalty, opts.RepetitionPenalty),
		TopK:              int(resolveOne(params.NameTopK, opts.TopK)),
		TopP:              resolveOne(params.NameTopP, opts.TopP),
		Speed:             resolveOne(params.NameSpeed, opts.Speed),
		Emotion:           "",
	}
}

func resolveOne(name string, value params.Value) float64 {
	paramRange, _ := params.DefaultRange(name)

	return params.Resolve(name, value, paramRange)
}

func (s *Synthesizer) metaFilePath(configured string) string {
	if configured != "" {
		return configured
	}

	return filepath.Join(s.outputDir, metaFilePrefix+fileutil.Timestamp()+".csv")
}
