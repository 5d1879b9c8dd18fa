package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("result not found")
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

// Result is one immutable exam attempt. Username is filled by listings that join users.
type Result struct {
	ID         int64     `json:"id"`
	PupilID    int64     `json:"pupil_id"`
	Username   string    `json:"username,omitempty"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	Comment    string    `json:"comment"`
	ClassLevel string    `json:"class_level,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Percent is the rounded share of correct answers; 0 for an empty exam.
func (r Result) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	return (r.Score*100 + r.Total/2) / r.Total
}

type RecordInput struct {
	PupilID    int64
	Score      int
	Total      int
	Comment    string
	ClassLevel string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Record appends an attempt. Earlier attempts are never touched.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Result, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	in.ClassLevel = strings.TrimSpace(in.ClassLevel)
	switch {
	case in.PupilID <= 0:
		return nil, fmt.Errorf("%w: pupil is required", ErrInvalidInput)
	case in.Score < 0 || in.Total < 0:
		return nil, fmt.Errorf("%w: score and total must not be negative", ErrInvalidInput)
	case in.Score > in.Total:
		return nil, fmt.Errorf("%w: score %d exceeds total %d", ErrInvalidInput, in.Score, in.Total)
	case in.Comment == "":
		return nil, fmt.Errorf("%w: comment is required", ErrInvalidInput)
	}

	res := Result{
		PupilID:    in.PupilID,
		Score:      in.Score,
		Total:      in.Total,
		Comment:    in.Comment,
		ClassLevel: in.ClassLevel,
		CreatedAt:  s.now().UTC(),
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO results (pupil_id, score, total, comment, class_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, res.PupilID, res.Score, res.Total, res.Comment, nullableString(res.ClassLevel), res.CreatedAt).Scan(&res.ID)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	return &res, nil
}

// LatestFor returns the pupil's most recent attempt by id.
func (s *Service) LatestFor(ctx context.Context, pupilID int64) (*Result, error) {
	row := s.db.QueryRowContext(ctx, selectResults+`
		WHERE r.pupil_id = $1
		ORDER BY r.id DESC
		LIMIT 1
	`, pupilID)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query latest result: %w", err)
	}
	return res, nil
}

func (s *Service) AllFor(ctx context.Context, pupilID int64) ([]Result, error) {
	return s.list(ctx, `WHERE r.pupil_id = $1`, pupilID)
}

// AllForClass lists attempts recorded for a class level, newest first. Levels match
// case-insensitively.
func (s *Service) AllForClass(ctx context.Context, level string) ([]Result, error) {
	return s.list(ctx, `WHERE LOWER(r.class_level) = $1`, strings.ToLower(strings.TrimSpace(level)))
}

func (s *Service) All(ctx context.Context) ([]Result, error) {
	return s.list(ctx, ``)
}

const selectResults = `
	SELECT r.id, r.pupil_id, u.username, r.score, r.total, r.comment, r.class_level, r.created_at
	FROM results r
	JOIN users u ON u.id = r.pupil_id
`

func (s *Service) list(ctx context.Context, where string, args ...any) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, selectResults+where+`
		ORDER BY r.id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func scanResult(scanner interface{ Scan(dest ...any) error }) (*Result, error) {
	var res Result
	var level sql.NullString
	if err := scanner.Scan(
		&res.ID,
		&res.PupilID,
		&res.Username,
		&res.Score,
		&res.Total,
		&res.Comment,
		&level,
		&res.CreatedAt,
	); err != nil {
		return nil, err
	}
	res.ClassLevel = level.String
	return &res, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
