package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studymate/assessor/internal/model"
)

func sampleQuestions() []model.Question {
	return []model.Question{
		{
			ID:            "q1",
			Kind:          model.KindMultipleChoice,
			Prompt:        "Which letter?",
			Options:       []string{"A", "B", "C"},
			CorrectAnswer: model.IndexAnswer(1),
			Points:        10,
			Difficulty:    model.DifficultyEasy,
		},
		{
			ID:            "q2",
			Kind:          model.KindTrueFalse,
			Prompt:        "The sky is green.",
			CorrectAnswer: model.TextAnswer("true"),
			Points:        5,
			Difficulty:    model.DifficultyMedium,
		},
	}
}

func TestScoreConcreteScenario(t *testing.T) {
	answers := map[string]model.Answer{
		"q1": model.IndexAnswer(1),
		"q2": model.TextAnswer("false"),
	}

	res := Score(sampleQuestions(), answers, 42)

	assert.Equal(t, 10, res.TotalScore)
	assert.Equal(t, 15, res.TotalPossible)
	assert.Equal(t, 67, res.Percentage)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, 2, res.TotalQuestions)
	assert.Equal(t, 42, res.TimeTakenSeconds)
	assert.Equal(t, map[model.Difficulty]model.Tally{
		model.DifficultyEasy:   {Correct: 1, Total: 1},
		model.DifficultyMedium: {Correct: 0, Total: 1},
	}, res.DifficultyBreakdown)
}

func TestScoreDeterministic(t *testing.T) {
	qs := sampleQuestions()
	answers := map[string]model.Answer{"q1": model.IndexAnswer(0), "q2": model.TextAnswer(" TRUE ")}

	first := Score(qs, answers, 7)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Score(qs, answers, 7))
	}
}

func TestScoreEssayExclusion(t *testing.T) {
	qs := []model.Question{
		{ID: "e1", Kind: model.KindEssay, Prompt: "Discuss.", Points: 20, Difficulty: model.DifficultyHard,
			CorrectAnswer: model.TextAnswer("the model answer")},
		{ID: "e2", Kind: model.KindStructured, Prompt: "Derive.", Points: 15},
	}
	answers := map[string]model.Answer{
		"e1": model.TextAnswer("the model answer"),
		"e2": model.TextAnswer("a long derivation"),
	}

	res := Score(qs, answers, 0)

	assert.Zero(t, res.TotalScore)
	assert.Zero(t, res.CorrectCount)
	assert.Zero(t, res.Percentage)
	assert.Equal(t, 35, res.TotalPossible)
	assert.Equal(t, model.Tally{Correct: 0, Total: 1}, res.DifficultyBreakdown[model.DifficultyHard])
	assert.NotContains(t, res.DifficultyBreakdown, model.Difficulty(""))
}

func TestIsCorrect(t *testing.T) {
	mc := model.Question{ID: "m", Kind: model.KindMultipleChoice, Options: []string{"x", "y"},
		CorrectAnswer: model.IndexAnswer(0), Points: 1}
	short := model.Question{ID: "s", Kind: model.KindShortAnswer, CorrectAnswer: model.TextAnswer("paris"), Points: 1}
	blank := model.Question{ID: "b", Kind: model.KindFillBlank, CorrectAnswer: model.TextAnswer("Mitochondria"), Points: 1}
	tf := model.Question{ID: "t", Kind: model.KindTrueFalse, CorrectAnswer: model.TextAnswer("false"), Points: 1}

	tests := []struct {
		name string
		q    model.Question
		a    model.Answer
		want bool
	}{
		{"mc match", mc, model.IndexAnswer(0), true},
		{"mc miss", mc, model.IndexAnswer(1), false},
		{"mc text answer is wrong type", mc, model.TextAnswer("0"), false},
		{"short answer trim and case", short, model.TextAnswer("Paris "), true},
		{"short answer miss", short, model.TextAnswer("Lyon"), false},
		{"short answer index is wrong type", short, model.IndexAnswer(0), false},
		{"fill blank case", blank, model.TextAnswer("  mitochondria"), true},
		{"true false", tf, model.TextAnswer("False"), true},
		{"empty answer", short, model.TextAnswer(""), false},
		{"essay never correct", model.Question{ID: "e", Kind: model.KindEssay, CorrectAnswer: model.TextAnswer("x")}, model.TextAnswer("x"), false},
		{"blank answer against missing key", model.Question{ID: "k", Kind: model.KindShortAnswer}, model.TextAnswer("  "), false},
		{"empty answer against blank key", model.Question{ID: "k", Kind: model.KindFillBlank, CorrectAnswer: model.TextAnswer(" ")}, model.TextAnswer(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCorrect(tt.q, tt.a))
		})
	}
}

func TestScoreBounds(t *testing.T) {
	qs := sampleQuestions()
	cases := []map[string]model.Answer{
		nil,
		{},
		{"q1": model.IndexAnswer(1), "q2": model.TextAnswer("true")},
		{"q1": model.TextAnswer("B"), "q2": model.IndexAnswer(1)},
	}
	for _, answers := range cases {
		res := Score(qs, answers, 0)
		assert.GreaterOrEqual(t, res.TotalScore, 0)
		assert.LessOrEqual(t, res.TotalScore, res.TotalPossible)
		assert.GreaterOrEqual(t, res.Percentage, 0)
		assert.LessOrEqual(t, res.Percentage, 100)
	}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 0, Percentage(0, 15))
	assert.Equal(t, 67, Percentage(10, 15))
	assert.Equal(t, 33, Percentage(5, 15))
	assert.Equal(t, 50, Percentage(1, 2))
	assert.Equal(t, 100, Percentage(15, 15))
}

func TestTimeTaken(t *testing.T) {
	assert.Equal(t, 0, TimeTaken(60, 60))
	assert.Equal(t, 45, TimeTaken(60, 15))
	assert.Equal(t, 60, TimeTaken(60, 0))
	assert.Equal(t, 0, TimeTaken(60, 90))
	assert.Equal(t, 60, TimeTaken(60, -5))
}
