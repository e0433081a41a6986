package synth

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/mattn/go-shellwords"

	"github.com/zeng-zr/tts-batch/internal/core"
)

// Command-line flags of the external synthesis binary.
const (
	flagText           = "--text"
	flagReference      = "--ref"
	flagOutput         = "--output"
	flagLanguage       = "--language"
	flagSplitSentences = "--split-sentences"
	flagTemperature    = "--temperature"
	flagLengthPenalty  = "--length-penalty"
	flagRepPenalty     = "--repetition-penalty"
	flagTopK           = "--top-k"
	flagTopP           = "--top-p"
	flagSpeed          = "--speed"
	flagEmotion        = "--emotion"
)

// Markers in the binary's error output that identify a parameter-set
// rejection rather than a synthesis failure.
var unsupportedFlagMarkers = []string{
	"unknown flag",
	"unrecognized arguments",
	"unrecognized option",
}

var (
	// ErrCommandEmpty indicates that the configured synthesis command is empty.
	ErrCommandEmpty = errors.New("synthesis command cannot be empty")
)

// ExecProvider drives an external synthesis binary. The binary receives the
// text, the reference audio paths, and the output path as flags; the full
// call adds the sampling parameters. The provider is an exclusive singleton:
// the pipeline never invokes it concurrently.
type ExecProvider struct {
	command      []string
	supportsFull bool
	log          *logger.Logger
}

// NewExecProvider parses the configured command line. supportsFull declares
// whether the binary accepts the sampling flags; it is the provider's static
// capability and is not re-probed per call.
func NewExecProvider(command string, supportsFull bool, log *logger.Logger) (*ExecProvider, error) {
	parser := shellwords.NewParser()

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse synthesis command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &ExecProvider{
		command:      args,
		supportsFull: supportsFull,
		log:          log,
	}, nil
}

// SupportsFullParams reports the provider's declared capability.
func (p *ExecProvider) SupportsFullParams() bool {
	return p.supportsFull
}

// Synthesize invokes the binary with the full parameter set.
func (p *ExecProvider) Synthesize(ctx context.Context, req core.SynthesisRequest) error {
	if !p.supportsFull {
		return core.ErrParamsUnsupported
	}

	args := p.minimalArgs(req)
	args = append(args,
		flagTemperature, formatFloat(req.Params.Temperature),
		flagLengthPenalty, formatFloat(req.Params.LengthPenalty),
		flagRepPenalty, formatFloat(req.Params.RepetitionPenalty),
		flagTopK, strconv.Itoa(req.Params.TopK),
		flagTopP, formatFloat(req.Params.TopP),
		flagSpeed, formatFloat(req.Params.Speed),
	)

	if req.Params.Emotion != "" {
		args = append(args, flagEmotion, req.Params.Emotion)
	}

	return p.run(ctx, args, true)
}

// SynthesizeMinimal invokes the binary with only the required arguments.
func (p *ExecProvider) SynthesizeMinimal(ctx context.Context, req core.SynthesisRequest) error {
	return p.run(ctx, p.minimalArgs(req), false)
}

func (p *ExecProvider) minimalArgs(req core.SynthesisRequest) []string {
	args := append([]string{}, p.command[1:]...)

	args = append(args, flagText, req.Text)

	for _, ref := range req.ReferenceWavs {
		args = append(args, flagReference, ref)
	}

	args = append(args,
		flagOutput, req.OutputPath,
		flagLanguage, req.Language,
		flagSplitSentences, strconv.FormatBool(req.SplitSentences),
	)

	return args
}

func (p *ExecProvider) run(ctx context.Context, args []string, fullCall bool) error {
	// #nosec G204 -- the command comes from validated configuration
	cmd := exec.CommandContext(ctx, p.command[0], args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if fullCall && looksLikeFlagRejection(string(output)) {
			p.log.Warn("Synthesis binary rejected the full parameter set")

			return fmt.Errorf("%w: %s", core.ErrParamsUnsupported, strings.TrimSpace(string(output)))
		}

		return fmt.Errorf("synthesis binary execution failed: %w - output: %s", err, string(output))
	}

	return nil
}

func looksLikeFlagRejection(output string) bool {
	lowered := strings.ToLower(output)

	for _, marker := range unsupportedFlagMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return false
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
