package report

import (
	"context"
	"database/sql"
	"fmt"
)

type Service struct {
	db *sql.DB
}

// ClassSummary aggregates every recorded attempt for one class level.
type ClassSummary struct {
	ClassLevel   string  `json:"class_level"`
	Participants int     `json:"participants"`
	Attempts     int     `json:"attempts"`
	AverageScore float64 `json:"average_score"`
	HighestScore int     `json:"highest_score"`
	LowestScore  int     `json:"lowest_score"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// SummaryByClass groups results by the class recorded at submission time. Attempts stored
// without a class are reported under an empty class level.
func (s *Service) SummaryByClass(ctx context.Context) ([]ClassSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(class_level, '') AS class_key,
			COUNT(DISTINCT pupil_id),
			COUNT(*),
			CAST(AVG(score) AS DOUBLE PRECISION),
			MAX(score),
			MIN(score)
		FROM results
		GROUP BY COALESCE(class_level, '')
		ORDER BY class_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("summarize results: %w", err)
	}
	defer rows.Close()

	out := make([]ClassSummary, 0)
	for rows.Next() {
		var cs ClassSummary
		if err := rows.Scan(
			&cs.ClassLevel,
			&cs.Participants,
			&cs.Attempts,
			&cs.AverageScore,
			&cs.HighestScore,
			&cs.LowestScore,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return out, nil
}
