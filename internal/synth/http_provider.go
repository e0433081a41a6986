package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/core"
)

// API endpoint of the standalone synthesis service.
const apiGenerateSpeech = "/v1/generate/speech"

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

const outputFilePermissions = 0o600

// httpSynthesisRequest is the JSON payload for the full-parameter call. The
// minimal call omits the sampling fields entirely, which older service
// versions reject with 422 when present.
type httpSynthesisRequest struct {
	Text              string   `json:"text"`
	SpeakerRefPaths   []string `json:"speaker_ref_paths"`
	Language          string   `json:"language"`
	SplitSentences    bool     `json:"split_sentences"`
	Temperature       *float64 `json:"temperature,omitempty"`
	LengthPenalty     *float64 `json:"length_penalty,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	Speed             *float64 `json:"speed,omitempty"`
	Emotion           string   `json:"emotion,omitempty"`
}

// httpErrorResponse is the service's structured error body.
type httpErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPProvider drives a standalone synthesis HTTP service. A 422 response to
// a full-parameter call marks the full shape unsupported for the life of the
// provider instance; subsequent records go straight to the minimal call.
type HTTPProvider struct {
	httpClient   *http.Client
	baseURL      string
	supportsFull bool
	log          *logger.Logger
}

// NewHTTPProvider creates a provider against the service at baseURL. The
// timeout applies to every request.
func NewHTTPProvider(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		supportsFull: true,
		log:          log,
	}
}

// SupportsFullParams reports whether the service has accepted (or not yet
// rejected) the full-parameter shape.
func (p *HTTPProvider) SupportsFullParams() bool {
	return p.supportsFull
}

// Synthesize posts the full-parameter payload and writes the returned audio
// to the request's output path.
func (p *HTTPProvider) Synthesize(ctx context.Context, req core.SynthesisRequest) error {
	payload := httpSynthesisRequest{
		Text:              req.Text,
		SpeakerRefPaths:   req.ReferenceWavs,
		Language:          req.Language,
		SplitSentences:    req.SplitSentences,
		Temperature:       &req.Params.Temperature,
		LengthPenalty:     &req.Params.LengthPenalty,
		RepetitionPenalty: &req.Params.RepetitionPenalty,
		TopK:              &req.Params.TopK,
		TopP:              &req.Params.TopP,
		Speed:             &req.Params.Speed,
		Emotion:           req.Params.Emotion,
	}

	err := p.post(ctx, payload, req.OutputPath)
	if err != nil {
		return err
	}

	return nil
}

// SynthesizeMinimal posts only the required fields.
func (p *HTTPProvider) SynthesizeMinimal(ctx context.Context, req core.SynthesisRequest) error {
	payload := httpSynthesisRequest{
		Text:            req.Text,
		SpeakerRefPaths: req.ReferenceWavs,
		Language:        req.Language,
		SplitSentences:  req.SplitSentences,
	}

	return p.post(ctx, payload, req.OutputPath)
}

func (p *HTTPProvider) post(ctx context.Context, payload httpSynthesisRequest, outputPath string) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + apiGenerateSpeech

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to synthesis service at %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		p.supportsFull = false
		p.log.Warn("Synthesis service rejected the full parameter set, demoting to minimal calls")

		return fmt.Errorf("%w: %s", core.ErrParamsUnsupported, p.parseErrorDetail(resp))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("synthesis service returned non-OK status %s: %s",
			resp.Status, p.parseErrorDetail(resp))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio data: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, outputFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio to %s: %w", outputPath, err)
	}

	return nil
}

func (p *HTTPProvider) parseErrorDetail(resp *http.Response) string {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Status
	}

	var errorResponse httpErrorResponse

	err = json.Unmarshal(body, &errorResponse)
	if err != nil || errorResponse.Detail == "" {
		return string(body)
	}

	if errorResponse.ErrorCode != "" {
		return fmt.Sprintf("%s (code: %s)", errorResponse.Detail, errorResponse.ErrorCode)
	}

	return errorResponse.Detail
}
