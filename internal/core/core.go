// Package core defines the domain types and interfaces shared across the
// batch synthesis pipeline.
package core

import "context"

// SynthesisRequest carries everything the model provider needs for one call.
// ReferenceWavs holds the voice prompt first, followed by an optional emotion
// reference when expressive conditioning is requested.
type SynthesisRequest struct {
	Text           string
	ReferenceWavs  []string
	OutputPath     string
	Language       string
	SplitSentences bool
	Params         SynthesisParams
}

// SynthesisParams is the resolved (literal) parameter set passed to the model
// provider. Values are resolved per record before the call; the "random"
// sentinel never reaches this struct.
type SynthesisParams struct {
	Temperature       float64
	LengthPenalty     float64
	RepetitionPenalty float64
	TopK              int
	TopP              float64
	Speed             float64
	Emotion           string
}

// SynthesisResult records the outcome of exactly one synthesis attempt.
// It is created once per record and never mutated afterwards.
type SynthesisResult struct {
	Input          SynthesisRequest
	Success        bool
	ErrorMessage   string
	OutputFile     string
	ProcessingTime float64
}

// BatchSummary aggregates the results of one batch run. Counts are derived
// from the result list, not stored redundantly.
type BatchSummary struct {
	Results  []SynthesisResult
	MetaFile string

	// NoiseFiles lists the noisy variants produced by the optional
	// post-process stage, empty when the stage is disabled.
	NoiseFiles []string
}

// SuccessCount returns the number of successful results in the batch.
func (b *BatchSummary) SuccessCount() int {
	count := 0

	for i := range b.Results {
		if b.Results[i].Success {
			count++
		}
	}

	return count
}

// FailureCount returns the number of failed results in the batch.
func (b *BatchSummary) FailureCount() int {
	return len(b.Results) - b.SuccessCount()
}

// ModelProvider is the contract for the external speech synthesis engine.
//
// Synthesize receives the full parameter set. A provider that cannot honor the
// full set returns ErrParamsUnsupported (wrapped or bare), at which point the
// orchestrator retries exactly once via SynthesizeMinimal. SupportsFullParams
// is a capability probe evaluated once per provider instance; the orchestrator
// skips the full call entirely for providers that report false.
type ModelProvider interface {
	Synthesize(ctx context.Context, req SynthesisRequest) error
	SynthesizeMinimal(ctx context.Context, req SynthesisRequest) error
	SupportsFullParams() bool
}

// ObjectStore is the contract for a key-value blob store used by the worker
// to fetch batch inputs and publish batch outputs.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
