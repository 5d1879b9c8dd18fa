package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cbtportal/internal/auth"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidOption     = errors.New("correct option must be one of a, b, c or d")
	ErrInstructorUnknown = errors.New("instructor not found")
)

// Labels are the option labels in display order.
var Labels = [4]string{"a", "b", "c", "d"}

type Service struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

type Question struct {
	ID            int64     `json:"id"`
	Text          string    `json:"question_text"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	CorrectOption string    `json:"correct_option"`
	ClassLevel    string    `json:"class_level"`
	InstructorID  int64     `json:"instructor_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (q Question) Options() []Option {
	return []Option{
		{Label: "a", Text: q.OptionA},
		{Label: "b", Text: q.OptionB},
		{Label: "c", Text: q.OptionC},
		{Label: "d", Text: q.OptionD},
	}
}

type AddQuestionInput struct {
	InstructorID int64     `validate:"gt=0"`
	Text         string    `validate:"required,max=2000"`
	Options      [4]string `validate:"dive,required,max=200"`
	CorrectLabel string
	ClassLevel   string `validate:"max=50"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, validate: validator.New(), now: time.Now}
}

// NormalizeLabel lower-cases a submitted option label. It returns "" for anything that is
// not one of the four labels.
func NormalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, l := range Labels {
		if v == l {
			return v
		}
	}
	return ""
}

// AddQuestion appends a question to the bank. An empty class level falls back to the
// instructor's own class.
func (s *Service) AddQuestion(ctx context.Context, in AddQuestionInput) (*Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.ClassLevel = strings.TrimSpace(in.ClassLevel)
	for i := range in.Options {
		in.Options[i] = strings.TrimSpace(in.Options[i])
	}

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	label := NormalizeLabel(in.CorrectLabel)
	if label == "" {
		return nil, ErrInvalidOption
	}

	ownLevel, err := s.instructorClass(ctx, in.InstructorID)
	if err != nil {
		return nil, err
	}
	if in.ClassLevel == "" {
		in.ClassLevel = ownLevel
	}
	if in.ClassLevel == "" {
		return nil, fmt.Errorf("%w: class level is required", ErrInvalidInput)
	}

	q := Question{
		Text:          in.Text,
		OptionA:       in.Options[0],
		OptionB:       in.Options[1],
		OptionC:       in.Options[2],
		OptionD:       in.Options[3],
		CorrectOption: label,
		ClassLevel:    in.ClassLevel,
		InstructorID:  in.InstructorID,
		CreatedAt:     s.now().UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			question_text, option_a, option_b, option_c, option_d,
			correct_option, class_level, instructor_id, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id
	`, q.Text, q.OptionA, q.OptionB, q.OptionC, q.OptionD,
		q.CorrectOption, q.ClassLevel, q.InstructorID, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return &q, nil
}

func (s *Service) instructorClass(ctx context.Context, instructorID int64) (string, error) {
	var role auth.Role
	var level sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT role, class_level
		FROM users
		WHERE id = $1
	`, instructorID).Scan(&role, &level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInstructorUnknown
		}
		return "", fmt.Errorf("load instructor: %w", err)
	}
	if role != auth.RoleInstructor {
		return "", ErrInstructorUnknown
	}
	return strings.TrimSpace(level.String), nil
}

// ListForLevel returns the bank for one class in insertion order. Levels match
// case-insensitively.
func (s *Service) ListForLevel(ctx context.Context, level string) ([]Question, error) {
	return s.list(ctx, `WHERE LOWER(class_level) = $1`, strings.ToLower(strings.TrimSpace(level)))
}

func (s *Service) ListByInstructor(ctx context.Context, instructorID int64) ([]Question, error) {
	return s.list(ctx, `WHERE instructor_id = $1`, instructorID)
}

func (s *Service) list(ctx context.Context, where string, arg any) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_text, option_a, option_b, option_c, option_d,
			correct_option, class_level, instructor_id, created_at
		FROM questions
		`+where+`
		ORDER BY id ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(
			&q.ID,
			&q.Text,
			&q.OptionA,
			&q.OptionB,
			&q.OptionC,
			&q.OptionD,
			&q.CorrectOption,
			&q.ClassLevel,
			&q.InstructorID,
			&q.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fe := verrs[0]
	field := fieldLabel(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", ErrInvalidInput, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", ErrInvalidInput, field)
	}
}

func fieldLabel(f string) string {
	switch f {
	case "Text":
		return "question text"
	case "Options[0]", "Options[1]", "Options[2]", "Options[3]":
		return "option " + strings.ToUpper(Labels[f[8]-'0'])
	case "ClassLevel":
		return "class level"
	case "InstructorID":
		return "instructor"
	default:
		return strings.ToLower(f)
	}
}
