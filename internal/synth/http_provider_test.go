package synth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/synth"
)

func newHTTPTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "http-test.log")
	require.NoError(t, err)

	return testLogger
}

func sampleRequest(t *testing.T) core.SynthesisRequest {
	t.Helper()

	return core.SynthesisRequest{
		Text:           "你好世界",
		ReferenceWavs:  []string{"/voices/spk_a.wav"},
		OutputPath:     filepath.Join(t.TempDir(), "out.wav"),
		Language:       "zh-cn",
		SplitSentences: true,
		Params: core.SynthesisParams{
			Temperature:       0.65,
			LengthPenalty:     1.0,
			RepetitionPenalty: 2.0,
			TopK:              50,
			TopP:              0.8,
			Speed:             1.0,
			Emotion:           "",
		},
	}
}

func TestHTTPProvider_Synthesize(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF-audio-bytes"))
	}))
	defer server.Close()

	provider := synth.NewHTTPProvider(server.URL, 5*time.Second, newHTTPTestLogger(t))
	req := sampleRequest(t)

	require.NoError(t, provider.Synthesize(context.Background(), req))

	data, err := os.ReadFile(req.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio-bytes", string(data))

	assert.InDelta(t, 0.65, received["temperature"], 1e-9)
	assert.InDelta(t, 50, received["top_k"], 1e-9)
}

func TestHTTPProvider_UnprocessableDemotesCapability(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"unknown field top_k","error_code":"BAD_PARAMS"}`))
	}))
	defer server.Close()

	provider := synth.NewHTTPProvider(server.URL, 5*time.Second, newHTTPTestLogger(t))
	require.True(t, provider.SupportsFullParams())

	err := provider.Synthesize(context.Background(), sampleRequest(t))
	require.ErrorIs(t, err, core.ErrParamsUnsupported)
	assert.Contains(t, err.Error(), "unknown field top_k")

	// The rejection is remembered for the life of the provider instance.
	assert.False(t, provider.SupportsFullParams())
}

func TestHTTPProvider_SynthesizeMinimalOmitsParams(t *testing.T) {
	t.Parallel()

	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer server.Close()

	provider := synth.NewHTTPProvider(server.URL, 5*time.Second, newHTTPTestLogger(t))

	require.NoError(t, provider.SynthesizeMinimal(context.Background(), sampleRequest(t)))

	assert.NotContains(t, received, "temperature")
	assert.NotContains(t, received, "top_k")
	assert.Equal(t, "你好世界", received["text"])
}

func TestHTTPProvider_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model crashed"}`))
	}))
	defer server.Close()

	provider := synth.NewHTTPProvider(server.URL, 5*time.Second, newHTTPTestLogger(t))

	err := provider.SynthesizeMinimal(context.Background(), sampleRequest(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
	assert.True(t, provider.SupportsFullParams())
}
