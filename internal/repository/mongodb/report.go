package mongodb

import (
	"context"
	"fmt"

	"github.com/cuptrace/cuptrace/internal/domain/models"
)

// ReportRepository persists the daily transition summaries produced by the
// reporting job.
type ReportRepository interface {
	SaveTraceReport(ctx context.Context, report models.TraceReport) error
}

// SaveTraceReport stores one daily trace report.
func (s *Store) SaveTraceReport(ctx context.Context, report models.TraceReport) error {
	if _, err := s.collection(reportCollection).InsertOne(ctx, report); err != nil {
		return fmt.Errorf("insert trace report: %w", err)
	}
	return nil
}
