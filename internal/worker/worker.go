// Package worker provides a NATS worker that runs batch synthesis jobs. A job
// names an input corpus in the object store; the worker downloads it, runs
// the batch, uploads the metadata report, and publishes a finished event.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/fileutil"
	"github.com/zeng-zr/tts-batch/internal/params"
	"github.com/zeng-zr/tts-batch/internal/synth"
	"github.com/zeng-zr/tts-batch/internal/textload"
)

// Batches run sequentially and can be large.
const batchTimeout = 30 * time.Minute

const (
	defaultInputFormat  = "txt"
	inputFilePermission = 0o600
)

var (
	// ErrInputKeyEmpty indicates a batch request without an input object key.
	ErrInputKeyEmpty = errors.New("batch request input key cannot be empty")
)

// BatchRunner is the slice of the synthesizer the worker drives.
type BatchRunner interface {
	ProcessTextFile(
		ctx context.Context,
		path string,
		loadOpts textload.Options,
		opts synth.Options,
	) (*core.BatchSummary, error)
}

// NatsWorker listens for batch requests on a NATS subject and runs them one
// at a time.
type NatsWorker struct {
	natsConnection  *nats.Conn
	subject         string
	finishedSubject string
	store           core.ObjectStore
	runner          BatchRunner
	defaults        synth.Options
	workDir         string
	log             *logger.Logger
}

// NewNatsWorker creates a worker. defaults supplies the synthesis options a
// request may leave unset; workDir receives the downloaded input files.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	finishedSubject string,
	store core.ObjectStore,
	runner BatchRunner,
	defaults synth.Options,
	workDir string,
	log *logger.Logger,
) (*NatsWorker, error) {
	err := fileutil.EnsureDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker directory: %w", err)
	}

	return &NatsWorker{
		natsConnection:  natsConnection,
		subject:         subject,
		finishedSubject: finishedSubject,
		store:           store,
		runner:          runner,
		defaults:        defaults,
		workDir:         workDir,
		log:             log,
	}, nil
}

// Run subscribes and blocks until the context is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	event, err := parseRequest(msg.Data)
	if err != nil {
		w.log.Error("Failed to parse batch request: %v", err)
		w.publishFinished(msg, &BatchFinishedEvent{
			BatchID:      "",
			Success:      false,
			ErrorMessage: err.Error(),
			MetaKey:      "",
			TotalCount:   0,
			SuccessCount: 0,
			FailureCount: 0,
		})

		return
	}

	w.log.Info("Starting batch %s from input %s", event.BatchID, event.InputKey)

	finished := w.runBatch(ctx, event)
	w.publishFinished(msg, finished)
}

// runBatch executes one request end to end and always produces a finished
// event, successful or not.
func (w *NatsWorker) runBatch(ctx context.Context, event *BatchRequestEvent) *BatchFinishedEvent {
	finished := &BatchFinishedEvent{
		BatchID:      event.BatchID,
		Success:      false,
		ErrorMessage: "",
		MetaKey:      "",
		TotalCount:   0,
		SuccessCount: 0,
		FailureCount: 0,
	}

	inputPath, err := w.fetchInput(ctx, event)
	if err != nil {
		finished.ErrorMessage = err.Error()

		return finished
	}

	defer w.removeInput(inputPath)

	opts, err := w.buildOptions(event)
	if err != nil {
		finished.ErrorMessage = err.Error()

		return finished
	}

	loadOpts := textload.Options{
		TextColumn: event.TextColumn,
		IDColumn:   event.IDColumn,
		SheetName:  event.SheetName,
		TextKey:    "",
		IDKey:      "",
	}

	summary, err := w.runner.ProcessTextFile(ctx, inputPath, loadOpts, opts)
	if err != nil {
		finished.ErrorMessage = err.Error()

		return finished
	}

	finished.TotalCount = len(summary.Results)
	finished.SuccessCount = summary.SuccessCount()
	finished.FailureCount = summary.FailureCount()

	metaKey, err := w.uploadMeta(ctx, event.BatchID, summary.MetaFile)
	if err != nil {
		finished.ErrorMessage = err.Error()

		return finished
	}

	finished.MetaKey = metaKey
	finished.Success = true

	return finished
}

func (w *NatsWorker) removeInput(path string) {
	err := os.Remove(path)
	if err != nil {
		w.log.Warn("Failed to remove input file %s: %v", path, err)
	}
}

func (w *NatsWorker) fetchInput(ctx context.Context, event *BatchRequestEvent) (string, error) {
	data, err := w.store.Download(ctx, event.InputKey)
	if err != nil {
		return "", fmt.Errorf("failed to download input '%s': %w", event.InputKey, err)
	}

	inputPath := filepath.Join(w.workDir, event.BatchID+"."+inputFormat(event))

	err = os.WriteFile(inputPath, data, inputFilePermission)
	if err != nil {
		return "", fmt.Errorf("failed to write input file %s: %w", inputPath, err)
	}

	return inputPath, nil
}

func (w *NatsWorker) uploadMeta(ctx context.Context, batchID, metaFile string) (string, error) {
	data, err := os.ReadFile(metaFile)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata report %s: %w", metaFile, err)
	}

	metaKey := batchID + "/" + filepath.Base(metaFile)

	err = w.store.Upload(ctx, metaKey, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload metadata report '%s': %w", metaKey, err)
	}

	return metaKey, nil
}

// buildOptions merges the request over the worker's configured defaults.
func (w *NatsWorker) buildOptions(event *BatchRequestEvent) (synth.Options, error) {
	opts := w.defaults

	if event.Language != "" {
		opts.Language = event.Language
	}

	if event.SplitSentences != nil {
		opts.SplitSentences = *event.SplitSentences
	}

	opts.SameVoice = opts.SameVoice || event.SameVoice

	if event.PromptName != "" {
		opts.PromptName = event.PromptName
	}

	if event.Emotion != "" {
		opts.Emotion = event.Emotion
	}

	overrides := []struct {
		raw    string
		target *params.Value
	}{
		{event.Temperature, &opts.Temperature},
		{event.LengthPenalty, &opts.LengthPenalty},
		{event.RepetitionPenalty, &opts.RepetitionPenalty},
		{event.TopK, &opts.TopK},
		{event.TopP, &opts.TopP},
		{event.Speed, &opts.Speed},
	}

	for _, override := range overrides {
		if override.raw == "" {
			continue
		}

		value, err := params.Parse(override.raw)
		if err != nil {
			return synth.Options{}, fmt.Errorf("invalid batch request parameter: %w", err)
		}

		*override.target = value
	}

	if event.NoiseType != "" {
		opts.NoiseType = event.NoiseType

		if event.NoiseSNRdB != nil {
			opts.NoiseSNRdB = *event.NoiseSNRdB
		}

		if event.NoiseCount > 0 {
			opts.NoiseCount = event.NoiseCount
		}
	}

	opts.MetaFile = ""

	return opts, nil
}

func (w *NatsWorker) publishFinished(msg *nats.Msg, finished *BatchFinishedEvent) {
	data, err := json.Marshal(finished)
	if err != nil {
		w.log.Error("Failed to marshal finished event for batch %s: %v", finished.BatchID, err)

		return
	}

	if msg.Reply != "" {
		err = msg.Respond(data)
	} else {
		err = w.natsConnection.Publish(w.finishedSubject, data)
	}

	if err != nil {
		w.log.Error("Failed to publish finished event for batch %s: %v", finished.BatchID, err)

		return
	}

	if finished.Success {
		w.log.Info("Batch %s finished: %d/%d succeeded, metadata at %s",
			finished.BatchID, finished.SuccessCount, finished.TotalCount, finished.MetaKey)
	} else {
		w.log.Error("Batch %s failed: %s", finished.BatchID, finished.ErrorMessage)
	}
}

func parseRequest(data []byte) (*BatchRequestEvent, error) {
	var event BatchRequestEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch request: %w", err)
	}

	if event.InputKey == "" {
		return nil, ErrInputKeyEmpty
	}

	if event.BatchID == "" {
		event.BatchID = uuid.NewString()
	}

	return &event, nil
}

// inputFormat derives the text loader format from the request, preferring the
// explicit field over the input key's extension.
func inputFormat(event *BatchRequestEvent) string {
	if event.Format != "" {
		return strings.TrimPrefix(event.Format, ".")
	}

	ext := strings.TrimPrefix(filepath.Ext(event.InputKey), ".")
	if ext == "" {
		return defaultInputFormat
	}

	return ext
}
