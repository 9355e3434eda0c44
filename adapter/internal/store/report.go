package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Report is one recorded adapter failure: a getter for a domain threw on
// live markup. Reports are the durable half of the fail-open policy: the
// dispatch keeps running, the breakage lands here.
type Report struct {
	ID        string `json:"id"`
	Domain    string `json:"domain"`
	Area      string `json:"area"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// InsertReport stores a failure report, assigning a UUIDv7 ID when absent.
func (s *Store) InsertReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		r.ID = id.String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reports (id, domain, area, message, created_at)
		VALUES (?,?,?,?,?)`,
		r.ID, r.Domain, r.Area, r.Message, r.CreatedAt)
	return err
}

// ListReports returns the most recent reports for a domain, newest first.
// An empty domain lists across all domains.
func (s *Store) ListReports(ctx context.Context, domain string, limit int) ([]*Report, error) {
	query := `SELECT id, domain, area, message, created_at FROM reports`
	var args []any
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r := &Report{}
		if err := rows.Scan(&r.ID, &r.Domain, &r.Area, &r.Message, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CountReports returns the total number of stored reports.
func (s *Store) CountReports(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}

// PruneReports deletes reports older than before, returning how many went.
func (s *Store) PruneReports(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM reports WHERE created_at < ?`,
		before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
