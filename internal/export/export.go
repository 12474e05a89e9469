// Package export writes operator-facing xlsx reports of failed queue items
// and conflict resolutions.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/models"
)

type Exporter struct {
	store  domain.Store
	path   string
	logger zerolog.Logger
}

func NewExporter(store domain.Store, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		store:  store,
		path:   path,
		logger: logger.With().Str("component", "exporter").Logger(),
	}
}

// WriteFailureReport creates an xlsx with one sheet of terminally failed
// queue items and one sheet of recent conflict resolutions, and returns the
// file path.
func (e *Exporter) WriteFailureReport(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	failed, err := e.store.GetFailedSyncItems(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting failed items: %v", err)
	}

	resolutions, err := e.store.GetSyncLogs(ctx, "conflict_resolution", 500)
	if err != nil {
		return "", fmt.Errorf("error getting conflict resolutions: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeFailedSheet(f, failed); err != nil {
		return "", err
	}
	if err := e.writeResolutionSheet(f, resolutions); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_report_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().
		Str("file_path", filePath).
		Int("failed_items", len(failed)).
		Int("resolutions", len(resolutions)).
		Msg("sync report created")
	return filePath, nil
}

func (e *Exporter) writeFailedSheet(f *excelize.File, failed []models.SyncQueueItem) error {
	const sheetName = "Failed Items"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Mapping", "Action", "Retries", "Max Retries", "Last Error", "Created", "Processed"}
	writeHeaderRow(f, sheetName, headers)

	for i, item := range failed {
		row := i + 2
		setRow(f, sheetName, row,
			item.ID,
			item.TaskMappingID,
			item.ActionType,
			item.RetryCount,
			item.MaxRetries,
			stringOrEmpty(item.LastError),
			item.CreatedAt.Format(time.RFC3339),
			timeOrEmpty(item.ProcessedAt),
		)
	}

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "E", 12)
	_ = f.SetColWidth(sheetName, "F", "F", 60)
	_ = f.SetColWidth(sheetName, "G", "H", 22)
	return nil
}

func (e *Exporter) writeResolutionSheet(f *excelize.File, resolutions []models.SyncLogEntry) error {
	const sheetName = "Conflict Resolutions"
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	headers := []string{"ID", "Platform", "Success", "Details", "Created"}
	writeHeaderRow(f, sheetName, headers)

	for i, entry := range resolutions {
		row := i + 2
		setRow(f, sheetName, row,
			entry.ID,
			entry.Platform,
			entry.Success,
			entry.Details,
			entry.CreatedAt.Format(time.RFC3339),
		)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	_ = f.SetColWidth(sheetName, "B", "C", 12)
	_ = f.SetColWidth(sheetName, "D", "D", 80)
	_ = f.SetColWidth(sheetName, "E", "E", 22)
	return nil
}

func writeHeaderRow(f *excelize.File, sheetName string, headers []string) {
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}
	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", last, style)
}

func setRow(f *excelize.File, sheetName string, row int, values ...any) {
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheetName, cell, value)
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
