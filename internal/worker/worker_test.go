// Package worker_test tests the NATS batch worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/params"
	"github.com/zeng-zr/tts-batch/internal/synth"
	"github.com/zeng-zr/tts-batch/internal/textload"
	"github.com/zeng-zr/tts-batch/internal/worker"
)

const requestSubject = "batch.request"

var errObjectNotFound = errors.New("object not found")

// memStore is an in-memory object store double.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errObjectNotFound, key)
	}

	return data, nil
}

func (m *memStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

// fakeRunner writes a metadata report and returns a fixed two-record summary.
type fakeRunner struct {
	mu       sync.Mutex
	metaDir  string
	lastPath string
	lastOpts synth.Options
}

func (f *fakeRunner) ProcessTextFile(
	_ context.Context,
	path string,
	_ textload.Options,
	opts synth.Options,
) (*core.BatchSummary, error) {
	f.mu.Lock()
	f.lastPath = path
	f.lastOpts = opts
	f.mu.Unlock()

	metaFile := filepath.Join(f.metaDir, "meta_test.csv")

	err := os.WriteFile(metaFile, []byte("text,success\n你好,Yes\n再见,No\n"), 0o600)
	if err != nil {
		return nil, err
	}

	return &core.BatchSummary{
		Results: []core.SynthesisResult{
			{Success: true},
			{Success: false, ErrorMessage: "synthesis failed"},
		},
		MetaFile: metaFile,
	}, nil
}

func (f *fakeRunner) last() (string, synth.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastPath, f.lastOpts
}

func startWorker(t *testing.T, store core.ObjectStore, runner worker.BatchRunner) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	defaults := synth.Options{
		Language:          "zh-cn",
		SplitSentences:    true,
		SameVoice:         false,
		PromptName:        "",
		Emotion:           "",
		Temperature:       params.Literal(0.65),
		LengthPenalty:     params.Literal(1.0),
		RepetitionPenalty: params.Literal(2.0),
		TopK:              params.Literal(50),
		TopP:              params.Literal(0.8),
		Speed:             params.Literal(1.0),
		MetaFile:          "",
		NoiseType:         "",
		NoiseSNRdB:        10,
		NoiseCount:        2,
	}

	natsWorker, err := worker.NewNatsWorker(
		natsConnection, requestSubject, "batch.finished",
		store, runner, defaults, t.TempDir(), testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = natsWorker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the subscription land before tests publish.
	require.NoError(t, natsConnection.Flush())

	return natsConnection
}

func requestBatch(t *testing.T, natsConnection *nats.Conn, event worker.BatchRequestEvent) worker.BatchFinishedEvent {
	t.Helper()

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	msg, err := natsConnection.Request(requestSubject, payload, 10*time.Second)
	require.NoError(t, err)

	var finished worker.BatchFinishedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &finished))

	return finished
}

func TestNatsWorker_RunsBatch(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.txt", []byte("你好\n再见\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:  "batch-42",
		InputKey: "jobs/corpus.txt",
	})

	assert.True(t, finished.Success)
	assert.Equal(t, "batch-42", finished.BatchID)
	assert.Equal(t, 2, finished.TotalCount)
	assert.Equal(t, 1, finished.SuccessCount)
	assert.Equal(t, 1, finished.FailureCount)
	assert.Equal(t, "batch-42/meta_test.csv", finished.MetaKey)

	// The report landed back in the store.
	data, err := store.Download(context.Background(), finished.MetaKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), "你好")

	// The input was materialized with the key's extension.
	lastPath, _ := runner.last()
	assert.Equal(t, ".txt", filepath.Ext(lastPath))
}

func TestNatsWorker_GeneratesBatchID(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.txt", []byte("你好\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		InputKey: "jobs/corpus.txt",
	})

	assert.True(t, finished.Success)
	assert.NotEmpty(t, finished.BatchID)
}

func TestNatsWorker_OverridesOptions(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.csv", []byte("text\n你好\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:     "batch-43",
		InputKey:    "jobs/corpus.csv",
		Emotion:     "happy",
		SameVoice:   true,
		Temperature: "random",
		TopK:        "80",
	})

	require.True(t, finished.Success)

	lastPath, lastOpts := runner.last()
	assert.Equal(t, "happy", lastOpts.Emotion)
	assert.True(t, lastOpts.SameVoice)
	assert.True(t, lastOpts.Temperature.IsRandom())
	assert.False(t, lastOpts.TopK.IsRandom())
	assert.Equal(t, ".csv", filepath.Ext(lastPath))
}

func TestNatsWorker_NoiseKeepsConfiguredSNR(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.txt", []byte("你好\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:   "batch-46",
		InputKey:  "jobs/corpus.txt",
		NoiseType: "white",
	})

	require.True(t, finished.Success)

	// SNR and count were omitted, so the worker's defaults apply.
	_, lastOpts := runner.last()
	assert.Equal(t, "white", lastOpts.NoiseType)
	assert.InEpsilon(t, 10.0, lastOpts.NoiseSNRdB, 0.001)
	assert.Equal(t, 2, lastOpts.NoiseCount)
}

func TestNatsWorker_NoiseExplicitZeroSNR(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.txt", []byte("你好\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	snr := 0.0
	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:    "batch-47",
		InputKey:   "jobs/corpus.txt",
		NoiseType:  "white",
		NoiseSNRdB: &snr,
	})

	require.True(t, finished.Success)

	_, lastOpts := runner.last()
	assert.Zero(t, lastOpts.NoiseSNRdB)
}

func TestNatsWorker_MalformedRequestReplies(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, newMemStore(), runner)

	msg, err := natsConnection.Request(requestSubject, []byte("{not json"), 10*time.Second)
	require.NoError(t, err)

	var finished worker.BatchFinishedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &finished))
	assert.False(t, finished.Success)
	assert.Contains(t, finished.ErrorMessage, "unmarshal")
}

func TestNatsWorker_MissingInputFails(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, newMemStore(), runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:  "batch-44",
		InputKey: "jobs/ghost.txt",
	})

	assert.False(t, finished.Success)
	assert.Contains(t, finished.ErrorMessage, "ghost.txt")
}

func TestNatsWorker_BadParameterFails(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.Upload(context.Background(), "jobs/corpus.txt", []byte("你好\n")))

	runner := &fakeRunner{metaDir: t.TempDir()}
	natsConnection := startWorker(t, store, runner)

	finished := requestBatch(t, natsConnection, worker.BatchRequestEvent{
		BatchID:     "batch-45",
		InputKey:    "jobs/corpus.txt",
		Temperature: "not-a-number",
	})

	assert.False(t, finished.Success)
	assert.Contains(t, finished.ErrorMessage, "invalid batch request parameter")
}
