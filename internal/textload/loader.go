package textload

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/xuri/excelize/v2"

	"github.com/zeng-zr/tts-batch/internal/fileutil"
)

// Defaults for column and key names when the caller does not override them.
const (
	defaultTextColumn = "text"
	jsonItemsKey      = "items"
	generatedIDPrefix = "text_"
)

// Supported file extensions. Legacy .xls workbooks are not supported; the
// spreadsheet reader only understands the OOXML format.
const (
	extTXT  = ".txt"
	extCSV  = ".csv"
	extXLSX = ".xlsx"
	extJSON = ".json"
)

// Static errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrColumnNotFound    = errors.New("text column not found")
	ErrBadJSONShape      = errors.New("JSON data must be a list or contain an 'items' list")
)

// Record is one unit of text to synthesize. Immutable after creation. Text
// holds the symbol-normalized form; OriginalText preserves the input exactly.
type Record struct {
	ID           string
	Text         string
	OriginalText string
	Extra        map[string]any
}

// Options selects which columns or keys carry the text and the id for the
// tabular and structured formats. Zero values fall back to "text" and a
// generated sequential id.
type Options struct {
	TextColumn string
	IDColumn   string
	SheetName  string
	TextKey    string
	IDKey      string
}

func (o Options) textColumn() string {
	if o.TextColumn == "" {
		return defaultTextColumn
	}

	return o.TextColumn
}

func (o Options) textKey() string {
	if o.TextKey == "" {
		return defaultTextColumn
	}

	return o.TextKey
}

// Loader parses text files of several formats into records.
type Loader struct {
	symbols *symbolTable
	log     *logger.Logger
}

// NewLoader creates a Loader with compiled normalization tables.
func NewLoader(log *logger.Logger) *Loader {
	return &Loader{
		symbols: newSymbolTable(),
		log:     log,
	}
}

// ConvertSpecialSymbols applies the symbol normalization pass to one string.
// Exposed for callers that normalize text outside file ingestion.
func (l *Loader) ConvertSpecialSymbols(text string) string {
	return l.symbols.convert(text)
}

// LoadFile parses the file at path, dispatching on its extension. Unsupported
// extensions are a configuration error, fatal for the whole call.
func (l *Loader) LoadFile(path string, opts Options) ([]Record, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case extTXT:
		return l.loadTXT(path)
	case extCSV:
		return l.loadCSV(path, opts)
	case extXLSX:
		return l.loadExcel(path, opts)
	case extJSON:
		return l.loadJSON(path, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// loadTXT reads one text per line. Blank lines are skipped but still consume
// an index, so record ids stay aligned with source line numbers.
func (l *Loader) loadTXT(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open text file %s: %w", path, err)
	}
	defer closeQuietly(file, l.log)

	stem := fileutil.Stem(path)

	var records []Record

	scanner := bufio.NewScanner(file)

	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			records = append(records, Record{
				ID:           fmt.Sprintf("%s_%d", stem, index),
				Text:         l.symbols.convert(line),
				OriginalText: line,
				Extra:        nil,
			})
		}

		index++
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read text file %s: %w", path, scanErr)
	}

	l.log.Info("Loaded %d texts from TXT file %s", len(records), path)

	return records, nil
}

// loadCSV reads a delimited file with a header row. A missing text column
// fails the whole load; there is no partial-success mode for tabular input.
func (l *Loader) loadCSV(path string, opts Options) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer closeQuietly(file, l.log)

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", path, err)
	}

	textIdx, idIdx := columnIndexes(header, opts.textColumn(), opts.IDColumn)
	if textIdx < 0 {
		return nil, fmt.Errorf("%w: '%s' in %s", ErrColumnNotFound, opts.textColumn(), path)
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV rows from %s: %w", path, err)
	}

	records := make([]Record, 0, len(rows))

	for index, row := range rows {
		record, ok := l.recordFromRow(header, row, textIdx, idIdx, index)
		if ok {
			records = append(records, record)
		}
	}

	l.log.Info("Loaded %d texts from CSV file %s", len(records), path)

	return records, nil
}

// loadExcel reads a spreadsheet sheet with a header row. The sheet defaults
// to the first one in the workbook.
func (l *Loader) loadExcel(path string, opts Options) ([]Record, error) {
	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}

	defer func() {
		closeErr := workbook.Close()
		if closeErr != nil {
			l.log.Warn("Failed to close spreadsheet %s: %v", path, closeErr)
		}
	}()

	sheet := opts.SheetName
	if sheet == "" {
		sheet = workbook.GetSheetName(0)
	}

	rows, err := workbook.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet '%s' from %s: %w", sheet, path, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: '%s' in empty sheet '%s'", ErrColumnNotFound, opts.textColumn(), sheet)
	}

	header := rows[0]

	textIdx, idIdx := columnIndexes(header, opts.textColumn(), opts.IDColumn)
	if textIdx < 0 {
		return nil, fmt.Errorf("%w: '%s' in %s", ErrColumnNotFound, opts.textColumn(), path)
	}

	records := make([]Record, 0, len(rows)-1)

	for index, row := range rows[1:] {
		record, ok := l.recordFromRow(header, row, textIdx, idIdx, index)
		if ok {
			records = append(records, record)
		}
	}

	l.log.Info("Loaded %d texts from spreadsheet %s", len(records), path)

	return records, nil
}

// loadJSON reads a structured-object list: either a bare array of objects or
// an object carrying an "items" array. Entries that are not objects or that
// miss the text key are skipped silently, unlike the tabular formats.
func (l *Loader) loadJSON(path string, opts Options) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}

	items, err := jsonItems(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	textKey := opts.textKey()

	var records []Record

	for index, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		textValue, ok := item[textKey]
		if !ok {
			continue
		}

		text := strings.TrimSpace(fmt.Sprintf("%v", textValue))
		if text == "" {
			continue
		}

		record := Record{
			ID:           fmt.Sprintf("%s%d", generatedIDPrefix, index),
			Text:         l.symbols.convert(text),
			OriginalText: text,
			Extra:        make(map[string]any),
		}

		if opts.IDKey != "" {
			idValue, hasID := item[opts.IDKey]
			if hasID {
				record.ID = fmt.Sprintf("%v", idValue)
			}
		}

		for key, value := range item {
			if key != textKey && key != opts.IDKey {
				record.Extra[key] = value
			}
		}

		records = append(records, record)
	}

	l.log.Info("Loaded %d texts from JSON file %s", len(records), path)

	return records, nil
}

// recordFromRow builds a record from one tabular row, shared by the CSV and
// spreadsheet parsers. Rows with blank text are skipped but keep consuming
// indexes, matching the line-oriented parser.
func (l *Loader) recordFromRow(header, row []string, textIdx, idIdx, index int) (Record, bool) {
	if textIdx >= len(row) {
		return Record{}, false
	}

	text := strings.TrimSpace(row[textIdx])
	if text == "" {
		return Record{}, false
	}

	record := Record{
		ID:           fmt.Sprintf("%s%d", generatedIDPrefix, index),
		Text:         l.symbols.convert(text),
		OriginalText: text,
		Extra:        make(map[string]any),
	}

	if idIdx >= 0 && idIdx < len(row) {
		record.ID = strings.TrimSpace(row[idIdx])
	}

	for i, name := range header {
		if i == textIdx || i == idIdx || i >= len(row) {
			continue
		}

		record.Extra[name] = row[i]
	}

	return record, true
}

// jsonItems normalizes the two accepted JSON shapes into a flat item list.
func jsonItems(data []byte) ([]any, error) {
	var asList []any

	listErr := json.Unmarshal(data, &asList)
	if listErr == nil {
		return asList, nil
	}

	var asObject map[string]any

	objectErr := json.Unmarshal(data, &asObject)
	if objectErr != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", objectErr)
	}

	items, ok := asObject[jsonItemsKey].([]any)
	if !ok {
		return nil, ErrBadJSONShape
	}

	return items, nil
}

func columnIndexes(header []string, textColumn, idColumn string) (textIdx, idIdx int) {
	textIdx = -1
	idIdx = -1

	for i, name := range header {
		if name == textColumn {
			textIdx = i
		}

		if idColumn != "" && name == idColumn {
			idIdx = i
		}
	}

	return textIdx, idIdx
}

func closeQuietly(file *os.File, log *logger.Logger) {
	closeErr := file.Close()
	if closeErr != nil {
		log.Warn("Failed to close file '%s': %v", file.Name(), closeErr)
	}
}
