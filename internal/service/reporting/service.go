package reporting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/domain/models"
	"github.com/cuptrace/cuptrace/internal/repository/mongodb"
	"github.com/cuptrace/cuptrace/internal/repository/sheets"
)

// Service builds the daily transition summary for co-op oversight.
type Service struct {
	history  mongodb.HistoryRepository
	reports  mongodb.ReportRepository
	exporter sheets.Exporter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a reporting service instance. The sheet exporter may be
// nil, in which case reports only land in MongoDB.
func NewService(history mongodb.HistoryRepository, reports mongodb.ReportRepository, exporter sheets.Exporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		history:  history,
		reports:  reports,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}
}

// GenerateDailyReport aggregates all stage transitions recorded on the given
// day (UTC), persists the summary, and appends it to the co-op sheet.
func (s *Service) GenerateDailyReport(ctx context.Context, day time.Time) (*models.TraceReport, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	entries, err := s.history.ListSince(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load transitions for %s: %w", start.Format("2006-01-02"), err)
	}

	report := models.TraceReport{
		Date:        start,
		Transitions: make(map[models.Stage]int),
		Total:       len(entries),
		CreatedAt:   s.now().UTC(),
	}
	for _, entry := range entries {
		report.Transitions[entry.Stage]++
	}

	if err := s.reports.SaveTraceReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save trace report: %w", err)
	}

	if s.exporter != nil {
		if err := s.exporter.AppendTraceReport(ctx, report); err != nil {
			// The Mongo copy is authoritative; the sheet is a convenience view.
			s.logger.Warn("sheet export failed", zap.Error(err))
		}
	}

	s.logger.Info("daily trace report generated",
		zap.String("date", start.Format("2006-01-02")),
		zap.Int("transitions", report.Total))

	return &report, nil
}
