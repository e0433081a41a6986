package core

import "errors"

// Common errors shared across the pipeline.
var (
	// ErrParamsUnsupported signals that the model provider rejected the full
	// parameter set. The orchestrator reacts with a single minimal-call retry.
	ErrParamsUnsupported = errors.New("model provider does not support the full parameter set")

	// ErrOutputMissing is reported when a provider call returned without error
	// but the declared output file does not exist on disk.
	ErrOutputMissing = errors.New("output file was not created")
)
