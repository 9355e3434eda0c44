package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Record is one stored profile: the JSON selector spec for a top-level
// domain plus its operational health counters.
type Record struct {
	Domain      string  `json:"domain"`
	Spec        []byte  `json:"spec"` // JSON-encoded adapter.Profile
	SuccessRate float64 `json:"success_rate"`
	TotalUses   int     `json:"total_uses"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// Put inserts or replaces the profile for rec.Domain.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	now := time.Now().UnixMilli()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.SuccessRate == 0 {
		rec.SuccessRate = 1.0
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO profiles (domain, spec, success_rate, total_uses, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(domain) DO UPDATE SET
			spec = excluded.spec,
			updated_at = excluded.updated_at`,
		rec.Domain, string(rec.Spec), rec.SuccessRate, rec.TotalUses, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// Get retrieves the profile for a domain. Returns nil when absent.
func (s *Store) Get(ctx context.Context, domain string) (*Record, error) {
	rec := &Record{}
	var spec string
	err := s.DB.QueryRowContext(ctx, `
		SELECT domain, spec, success_rate, total_uses, created_at, updated_at
		FROM profiles WHERE domain = ?`, domain).Scan(
		&rec.Domain, &spec, &rec.SuccessRate, &rec.TotalUses, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Spec = []byte(spec)
	return rec, nil
}

// List returns all profiles ordered by domain.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT domain, spec, success_rate, total_uses, created_at, updated_at
		FROM profiles ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec := &Record{}
		var spec string
		if err := rows.Scan(&rec.Domain, &spec, &rec.SuccessRate, &rec.TotalUses,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Spec = []byte(spec)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes the profile for a domain.
func (s *Store) Delete(ctx context.Context, domain string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM profiles WHERE domain = ?`, domain)
	return err
}

// IncrementUses bumps total_uses for a domain's profile.
func (s *Store) IncrementUses(ctx context.Context, domain string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE profiles SET total_uses = total_uses + 1, updated_at = ?
		WHERE domain = ?`, time.Now().UnixMilli(), domain)
	return err
}

// RecordSuccess adjusts success_rate upward using exponential moving average.
func (s *Store) RecordSuccess(ctx context.Context, domain string) error {
	// EMA with alpha=0.05: new_rate = old_rate * 0.95 + 1.0 * 0.05
	_, err := s.DB.ExecContext(ctx, `
		UPDATE profiles SET
			success_rate = MIN(1.0, success_rate * 0.95 + 0.05),
			updated_at = ?
		WHERE domain = ?`, time.Now().UnixMilli(), domain)
	return err
}

// RecordFailure adjusts success_rate downward using exponential moving
// average. Broken selectors drift toward zero and surface operationally.
func (s *Store) RecordFailure(ctx context.Context, domain string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE profiles SET
			success_rate = MAX(0.0, success_rate * 0.95),
			updated_at = ?
		WHERE domain = ?`, time.Now().UnixMilli(), domain)
	return err
}

// Count returns the number of stored profiles.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n)
	return n, err
}
