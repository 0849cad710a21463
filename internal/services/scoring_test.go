package services

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Answer key for a 5-question quiz: question n's correct option is n*10+1.
func fiveQuestionKey() map[uint]uint {
	return map[uint]uint{
		1: 11,
		2: 21,
		3: 31,
		4: 41,
		5: 51,
	}
}

func newEngine() *ScoringEngine {
	return NewScoringEngine(0.70, 10)
}

func TestScoreFourOfFivePasses(t *testing.T) {
	result := newEngine().Score(fiveQuestionKey(), []AnswerSubmission{
		{QuestionID: 1, OptionID: 11},
		{QuestionID: 2, OptionID: 21},
		{QuestionID: 3, OptionID: 31},
		{QuestionID: 4, OptionID: 41},
		{QuestionID: 5, OptionID: 52}, // wrong
	})

	assert.Equal(t, 4, result.Score)
	assert.Equal(t, 5, result.Total)
	assert.InDelta(t, 0.8, result.ScorePercentage, 1e-9)
	assert.True(t, result.Passed)
	assert.Equal(t, 40, result.Reward)
}

func TestScoreThreeOfFiveFailsWithNoReward(t *testing.T) {
	result := newEngine().Score(fiveQuestionKey(), []AnswerSubmission{
		{QuestionID: 1, OptionID: 11},
		{QuestionID: 2, OptionID: 21},
		{QuestionID: 3, OptionID: 31},
		{QuestionID: 4, OptionID: 42},
		{QuestionID: 5, OptionID: 52},
	})

	assert.Equal(t, 3, result.Score)
	assert.InDelta(t, 0.6, result.ScorePercentage, 1e-9)
	assert.False(t, result.Passed)
	assert.Equal(t, 0, result.Reward, "no partial reward on failure")
}

func TestScoreIsOrderIndependent(t *testing.T) {
	answers := []AnswerSubmission{
		{QuestionID: 1, OptionID: 11},
		{QuestionID: 2, OptionID: 22},
		{QuestionID: 3, OptionID: 31},
		{QuestionID: 4, OptionID: 41},
		{QuestionID: 5, OptionID: 51},
	}

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]AnswerSubmission, len(answers))
		copy(shuffled, answers)
		rnd.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		result := newEngine().Score(fiveQuestionKey(), shuffled)
		assert.Equal(t, 4, result.Score)
		assert.Equal(t, 5, result.Total)
	}
}

func TestScoreDuplicatesCollapseToLast(t *testing.T) {
	result := newEngine().Score(fiveQuestionKey(), []AnswerSubmission{
		{QuestionID: 1, OptionID: 12}, // wrong first
		{QuestionID: 1, OptionID: 11}, // corrected
		{QuestionID: 2, OptionID: 21}, // right first
		{QuestionID: 2, OptionID: 22}, // then changed to wrong
	})

	require.Len(t, result.Graded, 2, "duplicates collapse, they do not accumulate")
	assert.Equal(t, 1, result.Score)

	graded := make(map[uint]GradedAnswer, len(result.Graded))
	for _, g := range result.Graded {
		graded[g.QuestionID] = g
	}
	assert.True(t, graded[1].IsCorrect)
	assert.Equal(t, uint(11), graded[1].OptionID)
	assert.False(t, graded[2].IsCorrect)
	assert.Equal(t, uint(22), graded[2].OptionID)
}

func TestScoreDropsMalformedAnswers(t *testing.T) {
	result := newEngine().Score(fiveQuestionKey(), []AnswerSubmission{
		{QuestionID: 1, OptionID: 0},    // no selection
		{QuestionID: 999, OptionID: 11}, // unknown question
		{QuestionID: 2, OptionID: 21},
	})

	assert.Equal(t, 1, result.Score)
	assert.Equal(t, 5, result.Total)
	require.Len(t, result.Graded, 1, "malformed answers are dropped, not fatal")
}

func TestScoreEmptySubmission(t *testing.T) {
	result := newEngine().Score(fiveQuestionKey(), nil)

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, 5, result.Total, "total reflects the quiz, not the answers")
	assert.False(t, result.Passed)
	assert.Equal(t, 0, result.Reward)
}

func TestScoreZeroQuestionQuiz(t *testing.T) {
	result := newEngine().Score(map[uint]uint{}, []AnswerSubmission{{QuestionID: 1, OptionID: 11}})

	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0.0, result.ScorePercentage, "divide-by-zero guard")
	assert.False(t, result.Passed)
}

func TestScoreKeylessQuestionNeverCorrect(t *testing.T) {
	// A question whose key has no correct option (stored as 0) can never be
	// answered correctly, but still counts toward the total.
	key := map[uint]uint{1: 11, 2: 0}
	result := newEngine().Score(key, []AnswerSubmission{
		{QuestionID: 1, OptionID: 11},
		{QuestionID: 2, OptionID: 21},
	})

	assert.Equal(t, 1, result.Score)
	assert.Equal(t, 2, result.Total)
}

func TestScoreExactThresholdPasses(t *testing.T) {
	// 7 of 10 is exactly the 0.70 threshold.
	key := make(map[uint]uint, 10)
	var answers []AnswerSubmission
	for q := uint(1); q <= 10; q++ {
		key[q] = q * 10
		option := q * 10
		if q > 7 {
			option++ // wrong
		}
		answers = append(answers, AnswerSubmission{QuestionID: q, OptionID: option})
	}

	result := newEngine().Score(key, answers)
	assert.Equal(t, 7, result.Score)
	assert.True(t, result.Passed)
	assert.Equal(t, 70, result.Reward)
}
