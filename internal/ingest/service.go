// Package ingest turns uploaded spreadsheets into scene items. An import is
// submitted to the session engine as one Composite change, so the whole
// upload is a single undo step.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/history"
	"github.com/rpattn/easel/internal/session"
	"github.com/rpattn/easel/pkg/validator"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoImportableRows is returned when no row of the upload survives
	// validation; the scene is left untouched in every mode.
	ErrNoImportableRows = errors.New("no importable rows in file")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Mode selects what an import does with the items already on the scene.
type Mode string

const (
	// ModeAppend adds the uploaded items to the existing scene content.
	ModeAppend Mode = "append"
	// ModeReplace swaps the scene's items for the uploaded ones. Deletes
	// and adds travel in the same composite, so undo restores the old
	// content exactly.
	ModeReplace Mode = "replace"
)

// ParseMode maps a form value to a Mode; empty means append.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeAppend:
		return ModeAppend, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("unknown import mode %q", raw)
	}
}

// columnNames maps sanitized header spellings to the item field they feed.
var columnNames = map[string]string{
	"id":           "id",
	"kind":         "kind",
	"type":         "kind",
	"x":            "x",
	"y":            "y",
	"width":        "width",
	"height":       "height",
	"rotation":     "rotation",
	"scale":        "scale",
	"text":         "text",
	"prompt_label": "promptLabel",
	"promptlabel":  "promptLabel",
	"prompt_body":  "promptBody",
	"promptbody":   "promptBody",
	"model":        "model",
	"display_name": "displayName",
	"displayname":  "displayName",
	"name":         "displayName",
	"locked":       "locked",
	"hidden":       "hidden",
}

// Service imports tabular item data into open scenes.
type Service struct {
	manager   *session.Manager
	validator *validator.SceneValidator
	logger    *slog.Logger
}

// NewService creates an import service on top of the session engine.
func NewService(manager *session.Manager) *Service {
	return &Service{
		manager:   manager,
		validator: validator.NewSceneValidator(),
		logger:    slog.Default().With("component", "ingest"),
	}
}

// Request describes one import upload.
type Request struct {
	SceneID  uuid.UUID
	FileName string
	Mode     Mode
	Data     io.Reader
}

// RowError reports why a single data row was skipped. Row numbers are
// 1-based file positions including the header row.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary returns import metrics plus the scene's session status after the
// composite was applied.
type Summary struct {
	SceneID      uuid.UUID      `json:"sceneId"`
	Mode         Mode           `json:"mode"`
	TotalRows    int            `json:"totalRows"`
	ImportedRows int            `json:"importedRows"`
	InvalidRows  int            `json:"invalidRows"`
	RowErrors    []RowError     `json:"rowErrors,omitempty"`
	Status       session.Status `json:"status"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// Import parses the upload, validates every row, and applies the surviving
// items to the scene as one composite change. Invalid rows are skipped and
// reported; they never abort the rows that do parse.
func (s *Service) Import(req Request) (Summary, error) {
	summary := Summary{SceneID: req.SceneID, Mode: req.Mode}

	if req.SceneID == uuid.Nil {
		return summary, errors.New("scene id is required")
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}
	columns := mapColumns(table.headers)
	if _, ok := columns["kind"]; !ok {
		return summary, errors.New("no kind column detected in header row")
	}

	scene, err := s.manager.Scene(req.SceneID)
	if err != nil {
		return summary, err
	}

	usedIDs := make(map[string]struct{})
	if req.Mode == ModeAppend {
		// In replace mode the existing items are deleted first, so their
		// ids are free for reuse.
		for _, item := range scene.Items {
			usedIDs[item.ID] = struct{}{}
		}
	}

	summary.TotalRows = len(table.rows)
	items := make([]domain.Item, 0, len(table.rows))
	for rowIdx, row := range table.rows {
		rowNumber := rowIdx + 2 // 1-based, counting the header row
		item, rowErr := s.buildItem(columns, row)
		if rowErr == nil {
			if _, dup := usedIDs[item.ID]; dup {
				rowErr = fmt.Errorf("duplicate item id %q", item.ID)
			}
		}
		if rowErr != nil {
			summary.InvalidRows++
			summary.RowErrors = append(summary.RowErrors, RowError{Row: rowNumber, Message: rowErr.Error()})
			s.logger.Warn("import row skipped", "scene", req.SceneID, "file", req.FileName, "row", rowNumber, "error", rowErr)
			continue
		}
		usedIDs[item.ID] = struct{}{}
		items = append(items, item)
	}

	if len(items) == 0 {
		return summary, fmt.Errorf("%w: %d rows failed validation", ErrNoImportableRows, summary.InvalidRows)
	}

	children := make([]history.Change, 0, len(scene.Items)+len(items))
	if req.Mode == ModeReplace {
		// Delete back-to-front so reverting the composite reinserts
		// front-to-back at the original positions.
		for idx := len(scene.Items) - 1; idx >= 0; idx-- {
			children = append(children, history.NewDeleteItem(scene.Items[idx], idx))
		}
	}
	for _, item := range items {
		children = append(children, history.NewAddItem(item))
	}

	status, err := s.manager.ApplyChange(req.SceneID, history.NewComposite(children...))
	if err != nil {
		return summary, fmt.Errorf("failed to apply import: %w", err)
	}
	summary.ImportedRows = len(items)
	summary.Status = status
	s.logger.Info("import applied",
		"scene", req.SceneID, "file", req.FileName, "mode", req.Mode,
		"imported", summary.ImportedRows, "invalid", summary.InvalidRows)
	return summary, nil
}

// buildItem converts one data row into an item, strict about every typed
// cell: a malformed number or unknown kind skips the row rather than
// guessing.
func (s *Service) buildItem(columns map[string]int, row []string) (domain.Item, error) {
	cell := func(key string) string {
		idx, ok := columns[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	kind := strings.ToLower(cell("kind"))
	if kind == "" {
		return domain.Item{}, errors.New("missing item kind")
	}
	if !domain.IsKnownKind(kind) {
		return domain.Item{}, fmt.Errorf("unknown item kind %q", kind)
	}

	id := cell("id")
	if id == "" {
		id = uuid.NewString()
	}

	item := domain.NewItem(id, kind, 0, 0)
	item.Text = cell("text")
	item.PromptLabel = cell("promptLabel")
	item.PromptBody = cell("promptBody")
	item.Model = cell("model")
	item.DisplayName = cell("displayName")

	for _, field := range []struct {
		key string
		dst *float64
	}{
		{"x", &item.X}, {"y", &item.Y},
		{"width", &item.Width}, {"height", &item.Height},
		{"rotation", &item.Rotation}, {"scale", &item.Scale},
	} {
		raw := cell(field.key)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Item{}, fmt.Errorf("field %s: unable to parse %q as number", field.key, raw)
		}
		*field.dst = value
	}

	for _, field := range []struct {
		key string
		dst *bool
	}{
		{"locked", &item.Locked}, {"hidden", &item.Hidden},
	} {
		raw := cell(field.key)
		if raw == "" {
			continue
		}
		value, err := boolCell(raw)
		if err != nil {
			return domain.Item{}, fmt.Errorf("field %s: %w", field.key, err)
		}
		*field.dst = value
	}

	if errs := s.validator.ValidateItem(item); len(errs) > 0 {
		return domain.Item{}, errors.New(errs[0].Message)
	}
	return item, nil
}

func boolCell(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "yes", "y", "true":
		return true, nil
	case "0", "no", "n", "false":
		return false, nil
	}
	return false, fmt.Errorf("unable to parse %q as boolean", raw)
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as the header and pads every
// data row to the header width.
func normalizeTable(records [][]string) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}
	return tableData{headers: headers, rows: dataRows}, nil
}

func mapColumns(headers []string) map[string]int {
	columns := make(map[string]int, len(headers))
	for idx, header := range headers {
		canonical, ok := columnNames[header]
		if !ok {
			continue
		}
		if _, taken := columns[canonical]; taken {
			continue
		}
		columns[canonical] = idx
	}
	return columns
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		headers[idx] = strings.Trim(name, "_")
	}
	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
