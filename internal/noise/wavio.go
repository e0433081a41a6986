// Package noise catalogs noise audio assets and performs SNR-controlled
// additive mixing with resampling and length alignment.
package noise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Encoding constants for the persisted mix output.
const (
	outputBitDepth = 16
	outputChannels = 1
	wavAudioFormat = 1

	maxInt16 = 32767
	minInt16 = -32768

	mp3Channels      = 2
	mp3BytesPerFrame = 4
)

var (
	// ErrNotAudioFile is returned for paths whose extension no decoder handles.
	ErrNotAudioFile = errors.New("unsupported audio file")

	// ErrInvalidWAV is returned when a .wav file fails header validation.
	ErrInvalidWAV = errors.New("invalid WAV file")
)

// ReadAudio decodes an audio file into mono float64 samples in [-1, 1] at the
// file's native sample rate. Multi-channel input is downmixed by averaging.
func ReadAudio(path string) ([]float64, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return readWAV(path)
	case ".mp3":
		return readMP3(path)
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrNotAudioFile, path)
	}
}

func readWAV(path string) ([]float64, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	channels := buffer.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	scale := math.Pow(2, float64(decoder.BitDepth-1))
	frames := len(buffer.Data) / channels
	samples := make([]float64, frames)

	for frame := range frames {
		sum := 0.0
		for ch := range channels {
			sum += float64(buffer.Data[frame*channels+ch])
		}

		samples[frame] = sum / float64(channels) / scale
	}

	return samples, buffer.Format.SampleRate, nil
}

func readMP3(path string) ([]float64, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3 file %s: %w", path, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read MP3 data from %s: %w", path, err)
	}

	// go-mp3 always yields 16-bit little-endian stereo frames.
	frames := len(pcm) / mp3BytesPerFrame
	samples := make([]float64, frames)

	for frame := range frames {
		left := int16(binary.LittleEndian.Uint16(pcm[frame*mp3BytesPerFrame:]))
		right := int16(binary.LittleEndian.Uint16(pcm[frame*mp3BytesPerFrame+2:]))
		samples[frame] = (float64(left) + float64(right)) / mp3Channels / maxInt16
	}

	return samples, decoder.SampleRate(), nil
}

// WriteWAV persists mono float64 samples as 16-bit PCM at the given rate.
// Samples are clamped to [-1, 1] before quantization.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create audio file %s: %w", path, err)
	}

	encoder := wav.NewEncoder(file, sampleRate, outputBitDepth, outputChannels, wavAudioFormat)

	buffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: outputChannels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: outputBitDepth,
	}

	for i, sample := range samples {
		quantized := int(math.Round(sample * maxInt16))
		if quantized > maxInt16 {
			quantized = maxInt16
		}

		if quantized < minInt16 {
			quantized = minInt16
		}

		buffer.Data[i] = quantized
	}

	err = encoder.Write(buffer)
	if err != nil {
		closeFileQuietly(file)

		return fmt.Errorf("failed to write WAV data to %s: %w", path, err)
	}

	err = encoder.Close()
	if err != nil {
		closeFileQuietly(file)

		return fmt.Errorf("failed to finalize WAV file %s: %w", path, err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("failed to close WAV file %s: %w", path, err)
	}

	return nil
}

// Resample converts samples from one rate to another with linear
// interpolation. Same-rate input is returned unchanged.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Ceil(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	resampled := make([]float64, outLen)

	for i := range outLen {
		position := float64(i) * ratio

		left := int(position)
		if left >= len(samples)-1 {
			resampled[i] = samples[len(samples)-1]

			continue
		}

		fraction := position - float64(left)
		resampled[i] = samples[left]*(1-fraction) + samples[left+1]*fraction
	}

	return resampled
}

func closeFileQuietly(file *os.File) {
	_ = file.Close()
}
