package textload_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/zeng-zr/tts-batch/internal/textload"
)

func writeTestWorkbook(t *testing.T, cells map[string]any) string {
	t.Helper()

	workbook := excelize.NewFile()

	for cell, value := range cells {
		err := workbook.SetCellValue("Sheet1", cell, value)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, workbook.SaveAs(path))
	require.NoError(t, workbook.Close())

	return path
}

func TestLoadFile_Excel(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestWorkbook(t, map[string]any{
		"A1": "text", "B1": "speaker",
		"A2": "你好", "B2": "spk01",
		"A3": "再见", "B3": "spk02",
	})

	records, err := loader.LoadFile(path, textload.Options{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "text_0", records[0].ID)
	assert.Equal(t, "你好", records[0].Text)
	assert.Equal(t, "spk01", records[0].Extra["speaker"])
	assert.Equal(t, "text_1", records[1].ID)
}

func TestLoadFile_Excel_MissingTextColumn(t *testing.T) {
	t.Parallel()

	loader := newTestLoader(t)
	path := writeTestWorkbook(t, map[string]any{
		"A1": "sentence",
		"A2": "你好",
	})

	_, err := loader.LoadFile(path, textload.Options{})
	require.ErrorIs(t, err, textload.ErrColumnNotFound)
}
