// Package export renders open scenes to downloadable spreadsheets: an XLSX
// workbook with an Items sheet and a History sheet, or a flat CSV of items.
// The CSV column layout matches what the import endpoint accepts, so an
// exported scene re-imports cleanly.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/easel/internal/domain"
	"github.com/rpattn/easel/internal/session"
)

// Format selects the download file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat maps a query value to a Format; empty means xlsx.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown export format %q", raw)
	}
}

// itemColumns is the column order for both file types. It mirrors the
// header names the importer understands.
var itemColumns = []string{
	"id", "kind", "x", "y", "width", "height", "rotation", "scale",
	"text", "promptLabel", "promptBody", "model", "displayName",
	"locked", "hidden",
}

var historyColumns = []string{"position", "kind", "subjectId", "timestamp", "applied"}

// Service renders scene exports from live session state.
type Service struct {
	manager *session.Manager
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the timestamp source used in generated file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an export service on top of the session engine.
func NewService(manager *session.Manager, opts ...Option) *Service {
	service := &Service{
		manager: manager,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// Result is a rendered export ready to stream to the client.
type Result struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Export renders the scene in the requested format. The scene must be open;
// exports read the live working copy, not storage.
func (s *Service) Export(sceneID uuid.UUID, format Format) (Result, error) {
	scene, err := s.manager.Scene(sceneID)
	if err != nil {
		return Result{}, err
	}

	switch format {
	case FormatCSV:
		data, err := buildCSV(scene)
		if err != nil {
			return Result{}, err
		}
		return Result{
			FileName:    s.fileName(scene.Name, FormatCSV),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case FormatXLSX:
		blob, err := s.manager.SerializeHistory(sceneID, true)
		if err != nil {
			return Result{}, err
		}
		hist, err := decodeHistoryBlob(blob)
		if err != nil {
			return Result{}, err
		}
		data, err := buildWorkbook(scene, hist)
		if err != nil {
			return Result{}, err
		}
		return Result{
			FileName:    s.fileName(scene.Name, FormatXLSX),
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	default:
		return Result{}, fmt.Errorf("unknown export format %q", format)
	}
}

func (s *Service) fileName(sceneName string, format Format) string {
	return fmt.Sprintf("%s-%s.%s",
		sanitizeFileComponent(sceneName),
		s.now().UTC().Format("20060102-150405"),
		format)
}

// historyRow is the envelope slice of a serialized record; the variant
// payload stays out of the export.
type historyRow struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subjectId"`
	Timestamp int64  `json:"timestamp"`
}

type historyBlob struct {
	Records      []historyRow `json:"records"`
	CurrentIndex int          `json:"currentIndex"`
}

func decodeHistoryBlob(blob []byte) (historyBlob, error) {
	var hist historyBlob
	if err := json.Unmarshal(blob, &hist); err != nil {
		return historyBlob{}, fmt.Errorf("failed to decode history blob: %w", err)
	}
	return hist, nil
}

func buildCSV(scene domain.Scene) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(itemColumns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, item := range scene.Items {
		if err := writer.Write(itemRow(item)); err != nil {
			return nil, fmt.Errorf("write item row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func buildWorkbook(scene domain.Scene, hist historyBlob) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const itemsSheet = "Items"
	if err := f.SetSheetName(f.GetSheetName(0), itemsSheet); err != nil {
		return nil, fmt.Errorf("rename items sheet: %w", err)
	}
	if err := writeSheetRows(f, itemsSheet, itemColumns, itemRows(scene)); err != nil {
		return nil, err
	}

	const historySheet = "History"
	if _, err := f.NewSheet(historySheet); err != nil {
		return nil, fmt.Errorf("create history sheet: %w", err)
	}
	if err := writeSheetRows(f, historySheet, historyColumns, historyRows(hist)); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheetRows(f *excelize.File, sheet string, header []string, rows [][]string) error {
	cells := make([]any, len(header))
	for i, name := range header {
		cells[i] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &cells); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return fmt.Errorf("address %s row: %w", sheet, err)
		}
		cells := make([]any, len(row))
		for i, value := range row {
			cells[i] = value
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("write %s row: %w", sheet, err)
		}
	}
	return nil
}

func itemRows(scene domain.Scene) [][]string {
	rows := make([][]string, 0, len(scene.Items))
	for _, item := range scene.Items {
		rows = append(rows, itemRow(item))
	}
	return rows
}

func itemRow(item domain.Item) []string {
	return []string{
		item.ID,
		item.Kind,
		formatFloat(item.X),
		formatFloat(item.Y),
		formatFloat(item.Width),
		formatFloat(item.Height),
		formatFloat(item.Rotation),
		formatFloat(item.Scale),
		item.Text,
		item.PromptLabel,
		item.PromptBody,
		item.Model,
		item.DisplayName,
		strconv.FormatBool(item.Locked),
		strconv.FormatBool(item.Hidden),
	}
}

// historyRows renders every record including the redo future; the applied
// column marks which side of the cursor a record sits on.
func historyRows(hist historyBlob) [][]string {
	rows := make([][]string, 0, len(hist.Records))
	for idx, record := range hist.Records {
		rows = append(rows, []string{
			strconv.Itoa(idx),
			record.Kind,
			record.SubjectID,
			time.UnixMilli(record.Timestamp).UTC().Format(time.RFC3339),
			strconv.FormatBool(idx <= hist.CurrentIndex),
		})
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "scene"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteRune('-')
		default:
			builder.WriteRune('-')
		}
	}
	result := builder.String()
	result = strings.Trim(result, "-")
	if result == "" {
		return "scene"
	}
	return result
}
