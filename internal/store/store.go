package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/studymate/assessor/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway, and a single connection keeps
	// ":memory:" databases from splitting across the pool.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bank_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL DEFAULT '""',
		points INTEGER NOT NULL DEFAULT 1,
		difficulty TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_bank_questions_subject ON bank_questions(subject, difficulty, kind);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL,
		subject_id TEXT,
		unit_id TEXT,
		total_score INTEGER NOT NULL,
		total_possible INTEGER NOT NULL,
		percentage INTEGER NOT NULL,
		correct_count INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		time_taken_seconds INTEGER NOT NULL,
		breakdown TEXT NOT NULL DEFAULT '{}',
		answers TEXT NOT NULL DEFAULT '{}',
		started_at DATETIME NOT NULL,
		submitted_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_subject ON results(subject_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertBankQuestion(ex execer, q model.BankQuestion) (int64, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return 0, err
	}
	correct, err := json.Marshal(q.CorrectAnswer)
	if err != nil {
		return 0, err
	}
	res, err := ex.Exec(
		`INSERT INTO bank_questions (subject, unit, year, kind, prompt, options, correct_answer, points, difficulty, topic, explanation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Subject, q.Unit, q.Year, q.Kind, q.Prompt, string(options), string(correct), q.Points, q.Difficulty, q.Topic, q.Explanation,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportBankFile stores the questions of one file and records its content
// hash in a single transaction. A path that was already imported is an error
// and leaves the bank untouched.
func (s *Store) ImportBankFile(path, hash string, questions []model.BankQuestion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, q := range questions {
		if _, err := insertBankQuestion(tx, q); err != nil {
			return fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)`,
		path, hash, time.Now(),
	); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return tx.Commit()
}

const bankColumns = `id, subject, unit, year, kind, prompt, options, correct_answer, points, difficulty, topic, explanation`

// ListBankQuestions returns question-bank entries matching the filter.
// Empty filter fields mean no filtering on that field.
func (s *Store) ListBankQuestions(f model.BankFilter) ([]model.BankQuestion, error) {
	query := `SELECT ` + bankColumns + ` FROM bank_questions WHERE 1=1`
	var args []any
	if f.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, f.Subject)
	}
	if f.Unit != "" {
		query += ` AND unit = ?`
		args = append(args, f.Unit)
	}
	if f.Difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, f.Difficulty)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.BankQuestion
	for rows.Next() {
		q, err := scanBankQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// BankQuestionCount returns the number of question-bank entries.
func (s *Store) BankQuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bank_questions`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBankQuestion(sc scanner) (model.BankQuestion, error) {
	var q model.BankQuestion
	var options, correct string
	err := sc.Scan(&q.ID, &q.Subject, &q.Unit, &q.Year, &q.Kind, &q.Prompt, &options, &correct,
		&q.Points, &q.Difficulty, &q.Topic, &q.Explanation)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options of bank question %d: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(correct), &q.CorrectAnswer); err != nil {
		return q, fmt.Errorf("decode answer of bank question %d: %w", q.ID, err)
	}
	if len(q.Options) == 0 {
		q.Options = nil
	}
	q.Question.ID = fmt.Sprintf("b%d", q.ID)
	return q, nil
}

// GetImportedFileHash returns the content hash recorded for path, or "" if never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SaveResult persists a submitted attempt.
func (s *Store) SaveResult(ctx context.Context, rec model.ResultRecord) (int64, error) {
	breakdown, err := json.Marshal(rec.Result.DifficultyBreakdown)
	if err != nil {
		return 0, fmt.Errorf("encode breakdown: %w", err)
	}
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return 0, fmt.Errorf("encode answers: %w", err)
	}
	r := rec.Result
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (session_id, mode, subject_id, unit_id, total_score, total_possible, percentage,
		  correct_count, total_questions, time_taken_seconds, breakdown, answers, started_at, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Mode, nullString(rec.SubjectID), nullString(rec.UnitID), r.TotalScore, r.TotalPossible, r.Percentage,
		r.CorrectCount, r.TotalQuestions, r.TimeTakenSeconds, string(breakdown), string(answers),
		rec.StartedAt, rec.SubmittedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

const resultColumns = `id, session_id, mode, subject_id, unit_id, total_score, total_possible, percentage,
	correct_count, total_questions, time_taken_seconds, breakdown, answers, started_at, submitted_at`

// GetResult returns a persisted result by ID, or nil if it does not exist.
func (s *Store) GetResult(ctx context.Context, id int64) (*model.ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id = ?`, id)
	rec, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetResultBySession returns the persisted result of a session, or nil if none exists.
func (s *Store) GetResultBySession(ctx context.Context, sessionID string) (*model.ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE session_id = ?`, sessionID)
	rec, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListResults returns persisted results, newest first.
func (s *Store) ListResults(ctx context.Context, f model.ResultFilter) ([]model.ResultRecord, error) {
	var where []string
	var args []any
	if f.Mode != "" {
		where = append(where, `mode = ?`)
		args = append(args, f.Mode)
	}
	if f.SubjectID != "" {
		where = append(where, `subject_id = ?`)
		args = append(args, f.SubjectID)
	}
	query := `SELECT ` + resultColumns + ` FROM results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func scanResult(sc scanner) (model.ResultRecord, error) {
	var rec model.ResultRecord
	var breakdown, answers string
	var subjectID, unitID sql.NullString
	r := &rec.Result
	err := sc.Scan(&rec.ID, &rec.SessionID, &rec.Mode, &subjectID, &unitID, &r.TotalScore, &r.TotalPossible,
		&r.Percentage, &r.CorrectCount, &r.TotalQuestions, &r.TimeTakenSeconds, &breakdown, &answers,
		&rec.StartedAt, &rec.SubmittedAt)
	if err != nil {
		return rec, err
	}
	if subjectID.Valid {
		rec.SubjectID = &subjectID.String
	}
	if unitID.Valid {
		rec.UnitID = &unitID.String
	}
	if err := json.Unmarshal([]byte(breakdown), &r.DifficultyBreakdown); err != nil {
		return rec, fmt.Errorf("decode breakdown of result %d: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &rec.Answers); err != nil {
		return rec, fmt.Errorf("decode answers of result %d: %w", rec.ID, err)
	}
	return rec, nil
}
