package assessment

import (
	"math"
	"strings"

	"github.com/studymate/assessor/internal/model"
)

// Score grades answers against questions. It has no side effects and is
// deterministic for identical inputs.
func Score(questions []model.Question, answers map[string]model.Answer, timeTakenSeconds int) model.ScoreResult {
	res := model.ScoreResult{
		TotalQuestions:      len(questions),
		DifficultyBreakdown: make(map[model.Difficulty]model.Tally),
		TimeTakenSeconds:    timeTakenSeconds,
	}

	for _, q := range questions {
		res.TotalPossible += q.Points

		a, answered := answers[q.ID]
		correct := answered && IsCorrect(q, a)
		if correct {
			res.TotalScore += q.Points
			res.CorrectCount++
		}

		if q.Difficulty != "" {
			tally := res.DifficultyBreakdown[q.Difficulty]
			tally.Total++
			if correct {
				tally.Correct++
			}
			res.DifficultyBreakdown[q.Difficulty] = tally
		}
	}

	res.Percentage = Percentage(res.TotalScore, res.TotalPossible)
	return res
}

// IsCorrect judges a single answer. Essay and structured questions are never
// correct; mismatched answer types are incorrect rather than an error. A text
// question without a key matches nothing.
func IsCorrect(q model.Question, a model.Answer) bool {
	if !q.Kind.AutoScored() {
		return false
	}
	if q.Kind == model.KindMultipleChoice {
		return a.IsIndex && q.CorrectAnswer.IsIndex && a.Index == q.CorrectAnswer.Index
	}
	if a.IsIndex || q.CorrectAnswer.IsIndex {
		return false
	}
	want := normalize(q.CorrectAnswer.Text)
	return want != "" && normalize(a.Text) == want
}

// Percentage returns round(100*score/possible), or 0 when nothing was possible.
func Percentage(score, possible int) int {
	if possible == 0 {
		return 0
	}
	return int(math.Round(100 * float64(score) / float64(possible)))
}

// TimeTaken derives elapsed seconds from the remaining time, clamped to the budget.
func TimeTaken(budgetSeconds, remainingSeconds int) int {
	taken := budgetSeconds - remainingSeconds
	if taken < 0 {
		return 0
	}
	if taken > budgetSeconds {
		return budgetSeconds
	}
	return taken
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
