package sheets

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/cuptrace/cuptrace/internal/config"
	"github.com/cuptrace/cuptrace/internal/domain/models"
)

const reportWriteRange = "TraceReports!A:I"

// Exporter appends daily trace summaries to the co-op's shared spreadsheet.
type Exporter interface {
	AppendTraceReport(ctx context.Context, report models.TraceReport) error
}

// GoogleSheetExporter implements Exporter using the official Google Sheets API.
type GoogleSheetExporter struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewGoogleSheetExporter builds a Google Sheets backed exporter instance.
func NewGoogleSheetExporter(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*GoogleSheetExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &GoogleSheetExporter{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		logger:        logger,
	}, nil
}

// AppendTraceReport writes one summary row: date, per-stage counts, total.
func (e *GoogleSheetExporter) AppendTraceReport(ctx context.Context, report models.TraceReport) error {
	row := []interface{}{report.Date.Format("2006-01-02")}
	for _, stage := range models.AllStages() {
		row = append(row, report.Transitions[stage])
	}
	row = append(row, report.Total)

	payload := &sheetsapi.ValueRange{Values: [][]interface{}{row}}

	call := e.service.Spreadsheets.Values.Append(e.spreadsheetID, reportWriteRange, payload).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append trace report row: %w", err)
	}

	e.logger.Debug("trace report appended to sheet", zap.String("date", report.Date.Format("2006-01-02")))
	return nil
}
