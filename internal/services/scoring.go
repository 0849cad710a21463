package services

// ScoringEngine grades a validated submission against the server-side
// answer key. It never trusts client-supplied correctness; everything is
// recomputed from the key.
type ScoringEngine struct {
	passThreshold    float64
	rewardPerCorrect int
}

func NewScoringEngine(passThreshold float64, rewardPerCorrect int) *ScoringEngine {
	return &ScoringEngine{
		passThreshold:    passThreshold,
		rewardPerCorrect: rewardPerCorrect,
	}
}

// AnswerSubmission is one raw (question, option) pair from the client.
type AnswerSubmission struct {
	QuestionID uint `json:"question_id" validate:"required"`
	OptionID   uint `json:"option_id"`
}

// GradedAnswer is one accepted answer after grading.
type GradedAnswer struct {
	QuestionID uint `json:"question_id"`
	OptionID   uint `json:"option_id"`
	IsCorrect  bool `json:"is_correct"`
}

// ScoreResult is the full grading outcome for one submission.
type ScoreResult struct {
	Score           int     `json:"score"`
	Total           int     `json:"total"`
	ScorePercentage float64 `json:"score_percentage"`
	Passed          bool    `json:"passed"`
	Reward          int     `json:"reward"`

	Graded         []GradedAnswer `json:"graded"`
	CorrectOptions map[uint]uint  `json:"correct_options"`
}

// Score grades answers against the key. Duplicate answers for the same
// question collapse to the last occurrence, answers with an empty option or
// an unknown question are dropped rather than failing the submission.
// Total is the key's question count, not the number answered.
func (e *ScoringEngine) Score(correct map[uint]uint, answers []AnswerSubmission) *ScoreResult {
	accepted := dedupeAnswers(correct, answers)

	result := &ScoreResult{
		Total:          len(correct),
		Graded:         make([]GradedAnswer, 0, len(accepted)),
		CorrectOptions: make(map[uint]uint, len(correct)),
	}
	for questionID, optionID := range correct {
		result.CorrectOptions[questionID] = optionID
	}

	for _, answer := range accepted {
		isCorrect := correct[answer.QuestionID] != 0 && answer.OptionID == correct[answer.QuestionID]
		if isCorrect {
			result.Score++
		}
		result.Graded = append(result.Graded, GradedAnswer{
			QuestionID: answer.QuestionID,
			OptionID:   answer.OptionID,
			IsCorrect:  isCorrect,
		})
	}

	if result.Total > 0 {
		result.ScorePercentage = float64(result.Score) / float64(result.Total)
	}
	result.Passed = result.Total > 0 && result.ScorePercentage >= e.passThreshold
	if result.Passed {
		result.Reward = result.Score * e.rewardPerCorrect
	}
	return result
}

// dedupeAnswers mirrors the client's map semantics: last write per question
// wins, malformed entries are silently discarded.
func dedupeAnswers(correct map[uint]uint, answers []AnswerSubmission) []AnswerSubmission {
	byQuestion := make(map[uint]uint, len(answers))
	order := make([]uint, 0, len(answers))
	for _, answer := range answers {
		if answer.OptionID == 0 {
			continue
		}
		if _, known := correct[answer.QuestionID]; !known {
			continue
		}
		if _, seen := byQuestion[answer.QuestionID]; !seen {
			order = append(order, answer.QuestionID)
		}
		byQuestion[answer.QuestionID] = answer.OptionID
	}

	accepted := make([]AnswerSubmission, 0, len(byQuestion))
	for _, questionID := range order {
		accepted = append(accepted, AnswerSubmission{QuestionID: questionID, OptionID: byQuestion[questionID]})
	}
	return accepted
}
