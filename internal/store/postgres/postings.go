package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
)

const postingColumns = `id, title, COALESCE(description, ''), requirements, COALESCE(type, ''), COALESCE(location, ''),
	latitude::float8, longitude::float8, min_cgpa::float8, openings, quota_reserved::text, deadline, status`

func (s *Store) GetPosting(ctx context.Context, id int64) (*internship.Posting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM jobs WHERE id = $1`, id)
	p, err := scanPosting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrNotFound
		}
		return nil, fmt.Errorf("load posting: %w", err)
	}
	return p, nil
}

func (s *Store) ListAllocatable(ctx context.Context) ([]internship.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postingColumns+` FROM jobs WHERE status = $1 AND openings > 0 ORDER BY id`,
		string(internship.PostingActive))
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	var postings []internship.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		postings = append(postings, *p)
	}
	return postings, rows.Err()
}

func (s *Store) CloseExpired(ctx context.Context, now time.Time) ([]internship.PostingRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = $1
		WHERE status = $2 AND deadline IS NOT NULL AND deadline < $3
		RETURNING id, title`,
		string(internship.PostingClosed), string(internship.PostingActive), now)
	if err != nil {
		return nil, fmt.Errorf("close expired postings: %w", err)
	}
	defer rows.Close()

	var closed []internship.PostingRef
	for rows.Next() {
		var ref internship.PostingRef
		if err := rows.Scan(&ref.ID, &ref.Title); err != nil {
			return nil, err
		}
		closed = append(closed, ref)
	}
	return sortRefs(closed), rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosting(row scanner) (*internship.Posting, error) {
	var (
		p            internship.Posting
		requirements []string
		lat, lon     sql.NullFloat64
		minCGPA      sql.NullFloat64
		quota        sql.NullString
		deadline     sql.NullTime
		status       string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, pq.Array(&requirements), &p.Type, &p.Location,
		&lat, &lon, &minCGPA, &p.Openings, &quota, &deadline, &status); err != nil {
		return nil, err
	}

	p.Requirements = requirements
	p.ReservedQuota, p.QuotaErr = decodeQuota(quota)
	p.Coordinates = geo.NewPoint(floatPtr(lat), floatPtr(lon))
	p.MinCGPA = floatPtr(minCGPA)
	p.Status = internship.PostingStatus(status)
	if deadline.Valid {
		t := deadline.Time
		p.Deadline = &t
	}

	return &p, nil
}

// decodeQuota reads the jsonb column, where counts were historically stored as numbers or strings.
func decodeQuota(raw sql.NullString) (internship.Quota, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw.String), &doc); err != nil {
		return nil, fmt.Errorf("decode quota_reserved: %w", err)
	}
	return internship.DecodeQuota(doc)
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
