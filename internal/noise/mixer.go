package noise

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/zeng-zr/tts-batch/internal/fileutil"
)

// SNR bounds in decibels. Out-of-range requests are corrected to the default
// with a warning, never rejected.
const (
	MinSNRdB     = 0.0
	MaxSNRdB     = 20.0
	DefaultSNRdB = 10.0
)

// epsilonPower guards the gain computation against zero-power noise.
const epsilonPower = 1e-10

// Static errors.
var (
	ErrNoNoiseAvailable = errors.New("no noise file available for mixing")
)

// Mixer performs SNR-controlled additive mixing of noise over synthesized
// speech. It is a stateless transform over audio files identified by path.
type Mixer struct {
	library *Library
	log     *logger.Logger
}

// NewMixer creates a mixer over the given noise library.
func NewMixer(library *Library, log *logger.Logger) *Mixer {
	return &Mixer{
		library: library,
		log:     log,
	}
}

// Mix overlays one noise asset on the audio file at the requested SNR and
// persists the result under outputDir. The output filename encodes the source
// stem, the noise stem, the integer SNR and a timestamp.
func (m *Mixer) Mix(audioPath, noiseType string, snrDB float64, outputDir string) (string, error) {
	snrDB = m.clampSNR(snrDB)

	signal, sampleRate, err := ReadAudio(audioPath)
	if err != nil {
		m.log.Error("Failed to load audio file %s: %v", audioPath, err)

		return "", err
	}

	asset := m.library.Asset(noiseType)
	if asset == nil {
		m.log.Error("No noise file available for mixing")

		return "", ErrNoNoiseAvailable
	}

	err = fileutil.EnsureDir(outputDir)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s_snr%d_%s.wav",
		fileutil.Stem(audioPath), asset.Type, int(snrDB), fileutil.Timestamp()))

	err = m.mixOne(signal, sampleRate, *asset, snrDB, outputPath)
	if err != nil {
		return "", err
	}

	return outputPath, nil
}

// MixRandom overlays count distinct randomly-sampled noise assets on the
// audio file, producing one output per asset. Individual failures are logged
// and skipped; the partial result list is returned.
func (m *Mixer) MixRandom(audioPath string, snrDB float64, outputDir string, count int) []string {
	snrDB = m.clampSNR(snrDB)

	signal, sampleRate, err := ReadAudio(audioPath)
	if err != nil {
		m.log.Error("Failed to load audio file %s: %v", audioPath, err)

		return nil
	}

	assets := m.library.RandomAssets(count)
	if len(assets) == 0 {
		m.log.Error("No noise files available for mixing")

		return nil
	}

	err = fileutil.EnsureDir(outputDir)
	if err != nil {
		m.log.Error("Failed to create output directory %s: %v", outputDir, err)

		return nil
	}

	timestamp := fileutil.Timestamp()
	sourceStem := fileutil.Stem(audioPath)

	var mixed []string

	for i, asset := range assets {
		outputPath := filepath.Join(outputDir, fmt.Sprintf("%s_%s_snr%d_%s_%d.wav",
			sourceStem, asset.Type, int(snrDB), timestamp, i+1))

		mixErr := m.mixOne(signal, sampleRate, asset, snrDB, outputPath)
		if mixErr != nil {
			m.log.Error("Failed to mix audio with noise %s: %v", asset.Path, mixErr)

			continue
		}

		mixed = append(mixed, outputPath)
	}

	return mixed
}

// PostProcess overlays noise on a list of synthesized files. Random type
// requests draw count fresh assets per file; a named type produces one mix
// per file. Per-file failures are logged and skipped so a noisy variant never
// invalidates the batch it decorates.
func (m *Mixer) PostProcess(files []string, noiseType string, snrDB float64, count int, outputDir string) []string {
	if count < 1 {
		count = 1
	}

	var produced []string

	for _, file := range files {
		if noiseType == RandomType || noiseType == RandomFromListType {
			produced = append(produced, m.MixRandom(file, snrDB, outputDir, count)...)

			continue
		}

		outputPath, err := m.Mix(file, noiseType, snrDB, outputDir)
		if err != nil {
			m.log.Warn("Skipping noise overlay for %s: %v", file, err)

			continue
		}

		produced = append(produced, outputPath)
	}

	return produced
}

// mixOne loads one noise asset, reconciles rate and length with the signal,
// applies the SNR gain and persists the result.
func (m *Mixer) mixOne(signal []float64, sampleRate int, asset Asset, snrDB float64, outputPath string) error {
	noiseData, noiseRate, err := ReadAudio(asset.Path)
	if err != nil {
		return fmt.Errorf("failed to load noise file %s: %w", asset.Path, err)
	}

	if noiseRate != sampleRate {
		noiseData = Resample(noiseData, noiseRate, sampleRate)
		m.log.Info("Resampled noise to match audio sample rate: %d", sampleRate)
	}

	noiseData = alignLength(noiseData, len(signal))

	mixedSignal := applySNR(signal, noiseData, snrDB)
	m.log.Info("Mixed audio with noise '%s' at %.0fdB SNR", asset.Type, snrDB)

	err = WriteWAV(outputPath, mixedSignal, sampleRate)
	if err != nil {
		return err
	}

	m.log.Info("Saved mixed audio to: %s", outputPath)

	return nil
}

func (m *Mixer) clampSNR(snrDB float64) float64 {
	if snrDB < MinSNRdB || snrDB > MaxSNRdB {
		m.log.Warn("SNR value %.1f is out of range [%.0f, %.0f], using default %.0fdB",
			snrDB, MinSNRdB, MaxSNRdB, DefaultSNRdB)

		return DefaultSNRdB
	}

	return snrDB
}

// alignLength reconciles the noise buffer to exactly the signal length:
// shorter noise is tiled and truncated; longer noise yields a random
// contiguous slice.
func alignLength(noiseData []float64, length int) []float64 {
	if len(noiseData) == 0 || length == 0 {
		return make([]float64, length)
	}

	if len(noiseData) < length {
		tiled := make([]float64, 0, length)
		for len(tiled) < length {
			tiled = append(tiled, noiseData...)
		}

		return tiled[:length]
	}

	if len(noiseData) == length {
		return noiseData
	}

	start := rand.Intn(len(noiseData) - length + 1)

	return noiseData[start : start+length]
}

// applySNR mixes noise into the signal at the requested signal-to-noise
// ratio. The epsilon guard keeps zero-power noise from collapsing the gain
// into a division by zero. The mix is peak-normalized only when it exceeds
// the [-1, 1] range.
func applySNR(signal, noiseData []float64, snrDB float64) []float64 {
	signalPower := meanSquare(signal)
	noisePower := meanSquare(noiseData)

	snrRatio := math.Pow(10, snrDB/10)
	scaleFactor := math.Sqrt(signalPower / (snrRatio*noisePower + epsilonPower))

	mixedSignal := make([]float64, len(signal))

	peak := 0.0

	for i := range signal {
		mixedSignal[i] = signal[i] + noiseData[i]*scaleFactor

		magnitude := math.Abs(mixedSignal[i])
		if magnitude > peak {
			peak = magnitude
		}
	}

	if peak > 1.0 {
		for i := range mixedSignal {
			mixedSignal[i] /= peak
		}
	}

	return mixedSignal
}

func meanSquare(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += sample * sample
	}

	return sum / float64(len(samples))
}
