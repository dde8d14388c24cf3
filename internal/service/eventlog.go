package service

import (
	"context"
	"strings"
	"time"

	"ticket_desk/internal/models"
	"ticket_desk/internal/repository"
)

// LogFilter narrows the scan log by time range and result type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "VALID", "USED", "INVALID", "ERROR", "UNPAID", "PRODUCT"
}

type ScanLogService struct {
	scans repository.ScanEventRepo
}

func NewScanLogService(scans repository.ScanEventRepo) *ScanLogService {
	return &ScanLogService{scans: scans}
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func normalizeResultType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}
	return from, to, normalizeResultType(f.Type), nil
}

func (s *ScanLogService) List(ctx context.Context, f LogFilter) ([]models.ScanEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.scans.List(ctx, from, to, typ)
}
