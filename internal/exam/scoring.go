package exam

import (
	"strings"

	"cbtportal/internal/question"
)

const (
	BandExcellent        = "Excellent"
	BandVeryGood         = "Very Good"
	BandGood             = "Good"
	BandNeedsImprovement = "Needs Improvement"
)

type ScoreResult struct {
	Raw   int `json:"raw"`
	Total int `json:"total"`
}

// Score counts exact label matches. Missing answers count as wrong and answers for
// questions outside the set are ignored.
func Score(questions []question.Question, answers map[int64]string) ScoreResult {
	res := ScoreResult{Total: len(questions)}
	for _, q := range questions {
		submitted, ok := answers[q.ID]
		if !ok {
			continue
		}
		if label := normalizeLabel(submitted); label != "" && label == normalizeLabel(q.CorrectOption) {
			res.Raw++
		}
	}
	return res
}

// Band maps a raw score to its comment using fixed thresholds that assume a 20 question
// exam. The total is ignored.
func Band(raw, total int) string {
	switch {
	case raw >= 18:
		return BandExcellent
	case raw >= 15:
		return BandVeryGood
	case raw >= 10:
		return BandGood
	default:
		return BandNeedsImprovement
	}
}

// BandScaled applies the same cut-offs as fractions of the exam size (90%, 75%, 50%).
func BandScaled(raw, total int) string {
	if total <= 0 || raw < 0 {
		return BandNeedsImprovement
	}
	switch {
	case raw*20 >= total*18:
		return BandExcellent
	case raw*20 >= total*15:
		return BandVeryGood
	case raw*20 >= total*10:
		return BandGood
	default:
		return BandNeedsImprovement
	}
}

type BandPolicy uint8

const (
	BandAbsolute BandPolicy = iota
	BandProportional
)

func ParseBandPolicy(v string) BandPolicy {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "scaled", "proportional":
		return BandProportional
	default:
		return BandAbsolute
	}
}

func (p BandPolicy) String() string {
	switch p {
	case BandProportional:
		return "scaled"
	case BandAbsolute:
		return "absolute"
	default:
		return "absolute"
	}
}

func (p BandPolicy) Band(raw, total int) string {
	switch p {
	case BandProportional:
		return BandScaled(raw, total)
	case BandAbsolute:
		return Band(raw, total)
	default:
		return Band(raw, total)
	}
}

func normalizeLabel(v string) string {
	return question.NormalizeLabel(v)
}
