package store

import (
	"context"
	"fmt"
	"time"

	"github.com/studymate/assessor/internal/model"
)

// ExportResults builds an export of all persisted results matching f.
func (s *Store) ExportResults(ctx context.Context, f model.ResultFilter) (model.ResultExport, error) {
	records, err := s.ListResults(ctx, f)
	if err != nil {
		return model.ResultExport{}, fmt.Errorf("list results: %w", err)
	}

	export := model.ResultExport{
		ExportedAt: time.Now().UTC(),
		Mode:       f.Mode,
		SubjectID:  f.SubjectID,
		Count:      len(records),
		Summary:    model.ExportSummary{Breakdown: make(map[model.Difficulty]model.Tally)},
		Results:    make([]model.AttemptResult, 0, len(records)),
	}

	var pctSum, timeSum int
	for _, rec := range records {
		r := rec.Result
		pctSum += r.Percentage
		timeSum += r.TimeTakenSeconds
		for d, t := range r.DifficultyBreakdown {
			agg := export.Summary.Breakdown[d]
			agg.Correct += t.Correct
			agg.Total += t.Total
			export.Summary.Breakdown[d] = agg
		}

		export.Results = append(export.Results, model.AttemptResult{
			SessionID:        rec.SessionID,
			Mode:             rec.Mode,
			SubjectID:        deref(rec.SubjectID),
			UnitID:           deref(rec.UnitID),
			StartedAt:        rec.StartedAt,
			SubmittedAt:      rec.SubmittedAt,
			TotalScore:       r.TotalScore,
			TotalPossible:    r.TotalPossible,
			Percentage:       r.Percentage,
			CorrectCount:     r.CorrectCount,
			TotalQuestions:   r.TotalQuestions,
			TimeTakenSeconds: r.TimeTakenSeconds,
			Breakdown:        r.DifficultyBreakdown,
			Answers:          rec.Answers,
		})
	}

	if n := len(records); n > 0 {
		export.Summary.AveragePercentage = float64(pctSum) / float64(n)
		export.Summary.AverageTimeTaken = float64(timeSum) / float64(n)
	}
	return export, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
