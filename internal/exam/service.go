package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cbtportal/internal/auth"
	"cbtportal/internal/question"
	"cbtportal/internal/result"
)

var (
	ErrLevelForbidden = errors.New("exam level not available to this pupil")
	ErrNotPupil       = errors.New("only pupils can take exams")
	ErrNoClassLevel   = errors.New("pupil has no class level")
	ErrNoQuestions    = errors.New("no questions for this class level")
)

type questionBank interface {
	ListForLevel(ctx context.Context, level string) ([]question.Question, error)
}

type resultRecorder interface {
	Record(ctx context.Context, in result.RecordInput) (*result.Result, error)
}

type Service struct {
	questions questionBank
	results   resultRecorder
	policy    BandPolicy
}

// Exam is the question set one class level sees, in insertion order.
type Exam struct {
	ClassLevel string
	Questions  []question.Question
}

func NewService(questions questionBank, results resultRecorder, policy BandPolicy) *Service {
	return &Service{questions: questions, results: results, policy: policy}
}

// LoadExam returns the bank for level, or for the pupil's own class when level is empty.
func (s *Service) LoadExam(ctx context.Context, pupil *auth.User, level string) (*Exam, error) {
	level, err := resolveLevel(pupil, level)
	if err != nil {
		return nil, err
	}
	items, err := s.questions.ListForLevel(ctx, level)
	if err != nil {
		return nil, fmt.Errorf("load exam questions: %w", err)
	}
	return &Exam{ClassLevel: level, Questions: items}, nil
}

// Submit rescores the answers against the stored bank and appends a result. The client never
// supplies the score.
func (s *Service) Submit(ctx context.Context, pupil *auth.User, level string, answers map[int64]string) (*result.Result, error) {
	exam, err := s.LoadExam(ctx, pupil, level)
	if err != nil {
		return nil, err
	}
	if len(exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	score := Score(exam.Questions, answers)
	res, err := s.results.Record(ctx, result.RecordInput{
		PupilID:    pupil.ID,
		Score:      score.Raw,
		Total:      score.Total,
		Comment:    s.policy.Band(score.Raw, score.Total),
		ClassLevel: exam.ClassLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	return res, nil
}

func resolveLevel(pupil *auth.User, level string) (string, error) {
	if pupil == nil || pupil.Role != auth.RolePupil {
		return "", ErrNotPupil
	}
	own := strings.TrimSpace(pupil.ClassLevel)
	if own == "" {
		return "", ErrNoClassLevel
	}
	level = strings.TrimSpace(level)
	if level == "" {
		return own, nil
	}
	if !strings.EqualFold(level, own) {
		return "", ErrLevelForbidden
	}
	return own, nil
}
