package synth

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zeng-zr/tts-batch/internal/core"
	"github.com/zeng-zr/tts-batch/internal/fileutil"
)

// Metadata success markers.
const (
	successYes = "Yes"
	successNo  = "No"
)

// metaHeader is the fixed column order of the batch metadata report.
var metaHeader = []string{
	"text",
	"prompt_wav_path",
	"output_audio_path",
	"success",
	"error_message",
	"processing_time",
	"temperature",
	"length_penalty",
	"repetition_penalty",
	"top_k",
	"top_p",
	"speed",
	"emotion",
}

// WriteMeta writes the batch metadata report as CSV, one row per result.
func WriteMeta(path string, results []core.SynthesisResult) error {
	err := fileutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metadata file %s: %w", path, err)
	}

	writeErr := writeRows(file, results)
	closeErr := file.Close()

	if writeErr != nil {
		return writeErr
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close metadata file %s: %w", path, closeErr)
	}

	return nil
}

func writeRows(file *os.File, results []core.SynthesisResult) error {
	writer := csv.NewWriter(file)

	err := writer.Write(metaHeader)
	if err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}

	for i := range results {
		err = writer.Write(metaRow(&results[i]))
		if err != nil {
			return fmt.Errorf("failed to write metadata row: %w", err)
		}
	}

	writer.Flush()

	err = writer.Error()
	if err != nil {
		return fmt.Errorf("failed to flush metadata file: %w", err)
	}

	return nil
}

func metaRow(result *core.SynthesisResult) []string {
	success := successNo
	if result.Success {
		success = successYes
	}

	promptWav := ""
	if len(result.Input.ReferenceWavs) > 0 {
		promptWav = result.Input.ReferenceWavs[0]
	}

	return []string{
		result.Input.Text,
		promptWav,
		result.OutputFile,
		success,
		result.ErrorMessage,
		strconv.FormatFloat(result.ProcessingTime, 'f', 2, 64),
		strconv.FormatFloat(result.Input.Params.Temperature, 'f', -1, 64),
		strconv.FormatFloat(result.Input.Params.LengthPenalty, 'f', -1, 64),
		strconv.FormatFloat(result.Input.Params.RepetitionPenalty, 'f', -1, 64),
		strconv.Itoa(result.Input.Params.TopK),
		strconv.FormatFloat(result.Input.Params.TopP, 'f', -1, 64),
		strconv.FormatFloat(result.Input.Params.Speed, 'f', -1, 64),
		result.Input.Params.Emotion,
	}
}
