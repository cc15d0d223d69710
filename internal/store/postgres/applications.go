package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/spigell/intern-allocator/internal/internship"
)

func (s *Store) GetApplication(ctx context.Context, id int64) (*internship.Application, error) {
	var (
		app    internship.Application
		score  sql.NullInt64
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, intern_id, job_id, ai_score, status FROM applications WHERE id = $1`, id).
		Scan(&app.ID, &app.ApplicantID, &app.PostingID, &score, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrNotFound
		}
		return nil, fmt.Errorf("load application: %w", err)
	}
	app.Score = int(score.Int64)
	app.Status = internship.Status(status)
	return &app, nil
}

func (s *Store) CreateApplication(ctx context.Context, app internship.Application) (*internship.Application, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (job_id, intern_id, ai_score, status) VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, intern_id) DO NOTHING
		RETURNING id`,
		app.PostingID, app.ApplicantID, app.Score, string(internship.StatusPending)).Scan(&app.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, internship.ErrAlreadyApplied
		}
		return nil, fmt.Errorf("insert application: %w", err)
	}
	app.Status = internship.StatusPending
	return &app, nil
}

// An application whose profile row is missing still competes on merit with an empty category.
const (
	pendingCandidatesQuery = `
		SELECT a.id, a.intern_id, COALESCE(a.ai_score, 0), COALESCE(i.category, '')
		FROM applications a
		LEFT JOIN intern_profiles i ON a.intern_id = i.id
		WHERE a.job_id = $1 AND a.status = $2
		ORDER BY a.ai_score DESC, a.id ASC`

	allocatedByCategoryQuery = `
		SELECT COALESCE(i.category, ''), COUNT(*)
		FROM applications a
		LEFT JOIN intern_profiles i ON a.intern_id = i.id
		WHERE a.job_id = $1 AND a.status = ANY($2)
		GROUP BY 1`
)

func (s *Store) ListPendingCandidates(ctx context.Context, postingID int64) ([]internship.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, pendingCandidatesQuery, postingID, string(internship.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending applications: %w", err)
	}
	defer rows.Close()

	var candidates []internship.Candidate
	for rows.Next() {
		var (
			c        internship.Candidate
			category string
		)
		if err := rows.Scan(&c.ApplicationID, &c.ApplicantID, &c.Score, &category); err != nil {
			return nil, err
		}
		c.Category = internship.Category(category)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *Store) AllocatedByCategory(ctx context.Context, postingID int64) (map[internship.Category]int, error) {
	rows, err := s.db.QueryContext(ctx, allocatedByCategoryQuery,
		postingID, pq.Array(statusStrings(internship.SlotStatuses())))
	if err != nil {
		return nil, fmt.Errorf("count allocated applications: %w", err)
	}
	defer rows.Close()

	counts := make(map[internship.Category]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		counts[internship.Category(category)] = n
	}
	return counts, rows.Err()
}

// MarkShortlisted promotes the rows in one statement. The status predicate
// keeps rows changed concurrently by other writers untouched.
func (s *Store) MarkShortlisted(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE applications SET status = $1
		WHERE id = ANY($2) AND status = $3
		RETURNING id`,
		string(internship.StatusShortlisted), pq.Array(ids), string(internship.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("shortlist applications: %w", err)
	}
	defer rows.Close()

	var written []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		written = append(written, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(written, func(i, j int) bool { return written[i] < written[j] })
	return written, nil
}

func (s *Store) UpdateScore(ctx context.Context, id int64, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE applications SET ai_score = $1 WHERE id = $2`, score, id)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internship.ErrNotFound
	}
	return nil
}

func (s *Store) MarkError(ctx context.Context, id int64) error {
	if _, err := s.GetApplication(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE applications SET status = $1 WHERE id = $2 AND status = $3`,
		string(internship.StatusError), id, string(internship.StatusPending))
	return err
}

func (s *Store) ConfirmAllocation(ctx context.Context, id int64) (*internship.Application, error) {
	var (
		app    internship.Application
		score  sql.NullInt64
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE applications SET status = $1
		WHERE id = $2 AND status = $3
		RETURNING id, intern_id, job_id, ai_score, status`,
		string(internship.StatusAutoAllocated), id, string(internship.StatusShortlisted)).
		Scan(&app.ID, &app.ApplicantID, &app.PostingID, &score, &status)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("confirm allocation: %w", err)
		}
		if _, err := s.GetApplication(ctx, id); err != nil {
			return nil, err
		}
		return nil, internship.ErrInvalidTransition
	}

	app.Score = int(score.Int64)
	app.Status = internship.Status(status)
	return &app, nil
}

func statusStrings(statuses []internship.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func sortRefs(refs []internship.PostingRef) []internship.PostingRef {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}
