package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
)

func (s *Store) GetApplicant(ctx context.Context, id int64) (*internship.Applicant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), skills, COALESCE(course, ''), COALESCE(address, ''),
			latitude::float8, longitude::float8, cgpa::float8, COALESCE(category, '')
		FROM intern_profiles WHERE id = $1`, id)

	var (
		a        internship.Applicant
		skills   []string
		lat, lon sql.NullFloat64
		cgpa     sql.NullFloat64
		category string
	)
	if err := row.Scan(&a.ID, &a.Name, pq.Array(&skills), &a.Course, &a.Address, &lat, &lon, &cgpa, &category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrNotFound
		}
		return nil, fmt.Errorf("load applicant: %w", err)
	}

	a.Skills = skills
	a.Coordinates = geo.NewPoint(floatPtr(lat), floatPtr(lon))
	a.CGPA = floatPtr(cgpa)
	a.Category = internship.Category(category)
	return &a, nil
}
