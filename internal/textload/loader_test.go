package textload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeng-zr/tts-batch/internal/textload"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoadFile_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.yaml", "text: hello")

	_, err := loader.LoadFile(path, textload.Options{})
	require.ErrorIs(t, err, textload.ErrUnsupportedFormat)
}

func TestLoadFile_LegacyExcelUnsupported(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.xls", "not a workbook")

	_, err := loader.LoadFile(path, textload.Options{})
	require.ErrorIs(t, err, textload.ErrUnsupportedFormat)
}

func TestLoadFile_TXT(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "corpus.txt", "第一句话\n第二句话\n第三句话\n")

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "corpus_0", records[0].ID)
	assert.Equal(t, "corpus_1", records[1].ID)
	assert.Equal(t, "corpus_2", records[2].ID)
	assert.Equal(t, "第一句话", records[0].Text)
	assert.Equal(t, "第一句话", records[0].OriginalText)
}

func TestLoadFile_TXT_BlankLinesSkippedButIndexed(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "gaps.txt", "第一句\n\n第三句\n")

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Ids follow source line numbers, so the blank line leaves a gap.
	assert.Equal(t, "gaps_0", records[0].ID)
	assert.Equal(t, "gaps_2", records[1].ID)
}

func TestLoadFile_TXT_AppliesSymbolConversion(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "symbols.txt", "浓度5%，范围200-500\n")

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "浓度百分之五，范围200到500", records[0].Text)
	assert.Equal(t, "浓度5%，范围200-500", records[0].OriginalText)
}

func TestLoadFile_CSV(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.csv", "text,speaker\n你好,spk01\n,spk02\n再见,spk03\n")

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "text_0", records[0].ID)
	assert.Equal(t, "你好", records[0].Text)
	assert.Equal(t, "spk01", records[0].Extra["speaker"])

	// The blank-text row consumed index 1.
	assert.Equal(t, "text_2", records[1].ID)
}

func TestLoadFile_CSV_ExplicitIDColumn(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.csv", "utt_id,sentence\nu001,你好\nu002,再见\n")

	records, err := loader.LoadFile(path, textload.Options{
		TextColumn: "sentence",
		IDColumn:   "utt_id",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "u001", records[0].ID)
	assert.Equal(t, "u002", records[1].ID)
}

func TestLoadFile_CSV_MissingTextColumn(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.csv", "sentence\n你好\n")

	_, err := loader.LoadFile(path, textload.Options{})
	require.ErrorIs(t, err, textload.ErrColumnNotFound)
}

func TestLoadFile_JSON_BareList(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.json",
		`[{"text":"你好","mood":"calm"},{"note":"no text key"},{"text":"再见"}]`)

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "text_0", records[0].ID)
	assert.Equal(t, "calm", records[0].Extra["mood"])

	// The entry missing the text key was skipped silently but kept its index.
	assert.Equal(t, "text_2", records[1].ID)
}

func TestLoadFile_JSON_ItemsWrapper(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.json",
		`{"items":[{"utt":"u1","sentence":"你好"}]}`)

	records, err := loader.LoadFile(path, textload.Options{
		TextKey: "sentence",
		IDKey:   "utt",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "u1", records[0].ID)
	assert.Equal(t, "你好", records[0].Text)
}

func TestLoadFile_JSON_BadShape(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestFile(t, "input.json", `{"text":"你好"}`)

	_, err := loader.LoadFile(path, textload.Options{})
	require.ErrorIs(t, err, textload.ErrBadJSONShape)
}
