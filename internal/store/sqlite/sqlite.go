package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spigell/intern-allocator/internal/geo"
	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const postingColumns = `id, title, description, requirements, type, location, latitude, longitude,
	min_cgpa, openings, quota_reserved, deadline, status`

// Store persists applicants, postings and applications in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn and creates the tables when they are missing.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers and an in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)

	// other processes may hold the write lock for a moment, e.g. while taking the cycle lease
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Debug("sqlite store ready", zap.String("dsn", dsn))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutApplicant inserts or replaces an applicant profile.
func (s *Store) PutApplicant(ctx context.Context, a internship.Applicant) error {
	skills, err := json.Marshal(nonNil(a.Skills))
	if err != nil {
		return err
	}
	lat, lon := coordinates(a.Coordinates)
	category := a.Category
	if category == "" {
		category = internship.CategoryGeneral
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intern_profiles (id, name, skills, course, address, latitude, longitude, cgpa, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, skills = excluded.skills, course = excluded.course,
			address = excluded.address, latitude = excluded.latitude, longitude = excluded.longitude,
			cgpa = excluded.cgpa, category = excluded.category`,
		a.ID, a.Name, string(skills), a.Course, a.Address, lat, lon, nullFloat(a.CGPA), string(category))
	return err
}

// PutPosting inserts or replaces a posting. An empty status means Active.
func (s *Store) PutPosting(ctx context.Context, p internship.Posting) error {
	requirements, err := json.Marshal(nonNil(p.Requirements))
	if err != nil {
		return err
	}

	var quota sql.NullString
	if len(p.ReservedQuota) > 0 {
		raw, err := json.Marshal(p.ReservedQuota)
		if err != nil {
			return err
		}
		quota = sql.NullString{String: string(raw), Valid: true}
	}

	var deadline sql.NullInt64
	if p.Deadline != nil {
		deadline = sql.NullInt64{Int64: p.Deadline.UnixMilli(), Valid: true}
	}

	status := p.Status
	if status == "" {
		status = internship.PostingActive
	}
	lat, lon := coordinates(p.Coordinates)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+postingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, description = excluded.description, requirements = excluded.requirements,
			type = excluded.type, location = excluded.location, latitude = excluded.latitude,
			longitude = excluded.longitude, min_cgpa = excluded.min_cgpa, openings = excluded.openings,
			quota_reserved = excluded.quota_reserved, deadline = excluded.deadline, status = excluded.status`,
		p.ID, p.Title, p.Description, string(requirements), p.Type, p.Location, lat, lon,
		nullFloat(p.MinCGPA), p.Openings, quota, deadline, string(status))
	return err
}

// PutApplication inserts an application with an explicit id and status.
func (s *Store) PutApplication(ctx context.Context, app internship.Application) error {
	status := app.Status
	if status == "" {
		status = internship.StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applications (id, job_id, intern_id, ai_score, status) VALUES (?, ?, ?, ?, ?)`,
		app.ID, app.PostingID, app.ApplicantID, app.Score, string(status))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return internship.ErrAlreadyApplied
	}
	return err
}

func (s *Store) GetApplicant(ctx context.Context, id int64) (*internship.Applicant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, skills, course, address, latitude, longitude, cgpa, category
		FROM intern_profiles WHERE id = ?`, id)

	var (
		a        internship.Applicant
		skills   string
		lat, lon sql.NullFloat64
		cgpa     sql.NullFloat64
		category string
	)
	if err := row.Scan(&a.ID, &a.Name, &skills, &a.Course, &a.Address, &lat, &lon, &cgpa, &category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrNotFound
		}
		return nil, fmt.Errorf("load applicant: %w", err)
	}
	if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
		return nil, fmt.Errorf("decode skills of applicant %d: %w", id, err)
	}
	a.Coordinates = geo.NewPoint(floatPtr(lat), floatPtr(lon))
	a.CGPA = floatPtr(cgpa)
	a.Category = internship.Category(category)

	return &a, nil
}

func (s *Store) GetPosting(ctx context.Context, id int64) (*internship.Posting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM jobs WHERE id = ?`, id)
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
		`SELECT `+postingColumns+` FROM jobs WHERE status = ? AND openings > 0 ORDER BY id`,
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
		UPDATE jobs SET status = ?
		WHERE status = ? AND deadline IS NOT NULL AND deadline < ?
		RETURNING id, title`,
		string(internship.PostingClosed), string(internship.PostingActive), now.UnixMilli())
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	return closed, nil
}

func (s *Store) GetApplication(ctx context.Context, id int64) (*internship.Application, error) {
	var (
		app    internship.Application
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, intern_id, job_id, ai_score, status FROM applications WHERE id = ?`, id).
		Scan(&app.ID, &app.ApplicantID, &app.PostingID, &app.Score, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrNotFound
		}
		return nil, fmt.Errorf("load application: %w", err)
	}
	app.Status = internship.Status(status)
	return &app, nil
}

func (s *Store) CreateApplication(ctx context.Context, app internship.Application) (*internship.Application, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (job_id, intern_id, ai_score, status) VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id, intern_id) DO NOTHING
		RETURNING id`,
		app.PostingID, app.ApplicantID, app.Score, string(internship.StatusPending)).Scan(&app.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internship.ErrAlreadyApplied
		}
		return nil, fmt.Errorf("insert application: %w", err)
	}
	app.Status = internship.StatusPending
	return &app, nil
}

func (s *Store) ListPendingCandidates(ctx context.Context, postingID int64) ([]internship.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.intern_id, a.ai_score, COALESCE(i.category, '')
		FROM applications a
		LEFT JOIN intern_profiles i ON a.intern_id = i.id
		WHERE a.job_id = ? AND a.status = ?
		ORDER BY a.ai_score DESC, a.id ASC`,
		postingID, string(internship.StatusPending))
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
	statuses := internship.SlotStatuses()
	args := make([]any, 0, len(statuses)+1)
	args = append(args, postingID)
	for _, st := range statuses {
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(i.category, ''), COUNT(*)
		FROM applications a
		LEFT JOIN intern_profiles i ON a.intern_id = i.id
		WHERE a.job_id = ? AND a.status IN (`+placeholders(len(statuses))+`)
		GROUP BY 1`, args...)
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

func (s *Store) MarkShortlisted(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE applications SET status = ? WHERE id = ? AND status = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var written []int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, string(internship.StatusShortlisted), id, string(internship.StatusPending))
		if err != nil {
			return nil, fmt.Errorf("shortlist application %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			written = append(written, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return written, nil
}

func (s *Store) UpdateScore(ctx context.Context, id int64, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE applications SET ai_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkError(ctx context.Context, id int64) error {
	if _, err := s.GetApplication(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE applications SET status = ? WHERE id = ? AND status = ?`,
		string(internship.StatusError), id, string(internship.StatusPending))
	return err
}

func (s *Store) ConfirmAllocation(ctx context.Context, id int64) (*internship.Application, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE applications SET status = ? WHERE id = ? AND status = ?`,
		string(internship.StatusAutoAllocated), id, string(internship.StatusShortlisted))
	if err != nil {
		return nil, fmt.Errorf("confirm allocation: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetApplication(ctx, id); err != nil {
			return nil, err
		}
		return nil, internship.ErrInvalidTransition
	}

	return s.GetApplication(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosting(row scanner) (*internship.Posting, error) {
	var (
		p            internship.Posting
		requirements string
		lat, lon     sql.NullFloat64
		minCGPA      sql.NullFloat64
		quota        sql.NullString
		deadline     sql.NullInt64
		status       string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &requirements, &p.Type, &p.Location,
		&lat, &lon, &minCGPA, &p.Openings, &quota, &deadline, &status); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(requirements), &p.Requirements); err != nil {
		return nil, fmt.Errorf("decode requirements of posting %d: %w", p.ID, err)
	}
	if quota.Valid && quota.String != "" {
		p.ReservedQuota, p.QuotaErr = decodeQuota(quota.String)
	}
	if deadline.Valid {
		t := time.UnixMilli(deadline.Int64).UTC()
		p.Deadline = &t
	}

	p.Coordinates = geo.NewPoint(floatPtr(lat), floatPtr(lon))
	p.MinCGPA = floatPtr(minCGPA)
	p.Status = internship.PostingStatus(status)

	return &p, nil
}

func decodeQuota(doc string) (internship.Quota, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, fmt.Errorf("decode quota_reserved: %w", err)
	}
	return internship.DecodeQuota(raw)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internship.ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func coordinates(p *geo.Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lon, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
