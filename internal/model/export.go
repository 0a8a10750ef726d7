package model

import "time"

// ResultExport is the top-level JSON structure for result export.
type ResultExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Mode       Mode            `json:"mode,omitempty"`
	SubjectID  string          `json:"subject_id,omitempty"`
	Count      int             `json:"count"`
	Summary    ExportSummary   `json:"summary"`
	Results    []AttemptResult `json:"results"`
}

// ExportSummary aggregates the exported attempts.
type ExportSummary struct {
	AveragePercentage float64              `json:"average_percentage"`
	AverageTimeTaken  float64              `json:"average_time_taken_seconds"`
	Breakdown         map[Difficulty]Tally `json:"difficulty_breakdown"`
}

// AttemptResult holds one persisted attempt for export.
type AttemptResult struct {
	SessionID        string               `json:"session_id"`
	Mode             Mode                 `json:"mode"`
	SubjectID        string               `json:"subject_id,omitempty"`
	UnitID           string               `json:"unit_id,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	SubmittedAt      time.Time            `json:"submitted_at"`
	TotalScore       int                  `json:"total_score"`
	TotalPossible    int                  `json:"total_possible"`
	Percentage       int                  `json:"percentage"`
	CorrectCount     int                  `json:"correct_count"`
	TotalQuestions   int                  `json:"total_questions"`
	TimeTakenSeconds int                  `json:"time_taken_seconds"`
	Breakdown        map[Difficulty]Tally `json:"difficulty_breakdown"`
	Answers          map[string]Answer    `json:"answers"`
}
