package rewards

import (
	"context"
	"errors"
	"strings"

	"github.com/briangreenhill/bperks/internal/entities"
	"github.com/briangreenhill/bperks/internal/storage"
)

// CreateReport files an issue report for r.UserID. Reports always start
// open; a repeated id returns the stored report.
func (s *Service) CreateReport(ctx context.Context, r entities.Report) (entities.Report, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return entities.Report{}, invalid("title is required")
	}
	if r.Lat < -90 || r.Lat > 90 || r.Lng < -180 || r.Lng > 180 {
		return entities.Report{}, invalid("location out of range")
	}
	if r.ID == "" {
		r.ID = s.newID()
	}
	r.Status = entities.ReportOpen
	r.SyncState = ""
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.timestamp()
	}

	err := s.write(ctx, func(tx *storage.Tx) error {
		if _, err := load[entities.User](ctx, tx, entities.Users, r.UserID); err != nil {
			return err
		}
		existing, err := load[entities.Report](ctx, tx, entities.Reports, r.ID)
		if err == nil {
			r = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return storage.PutJSON(ctx, tx, entities.Reports, r.ID, r)
	})
	return r, err
}

func (s *Service) ListReports(ctx context.Context) ([]entities.Report, error) {
	return storage.ListJSON[entities.Report](ctx, s.store, entities.Reports)
}

func (s *Service) UpdateReportStatus(ctx context.Context, id string, status entities.ReportStatus) (entities.Report, error) {
	if !status.Valid() {
		return entities.Report{}, invalid("unknown status %q", status)
	}
	var r entities.Report
	err := s.write(ctx, func(tx *storage.Tx) error {
		var err error
		r, err = load[entities.Report](ctx, tx, entities.Reports, id)
		if err != nil {
			return err
		}
		r.Status = status
		return storage.PutJSON(ctx, tx, entities.Reports, r.ID, r)
	})
	return r, err
}
