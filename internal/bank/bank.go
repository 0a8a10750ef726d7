// Package bank imports previous-year question files into the store.
package bank

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/studymate/assessor/internal/model"
)

// Store is the persistence the importer needs.
type Store interface {
	GetImportedFileHash(path string) (string, error)
	ImportBankFile(path, hash string, questions []model.BankQuestion) error
}

// Import loads each JSON file of QuestionImport entries once. A file whose
// content changed since it was imported is skipped with a warning so that
// stored results keep referring to the questions they were taken on.
// It returns the number of questions inserted.
func Import(db Store, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return total, fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping", "path", path)
			continue
		}

		questions, err := Parse(data)
		if err != nil {
			return total, fmt.Errorf("parse %s: %w", path, err)
		}

		if err := db.ImportBankFile(path, hash, questions); err != nil {
			return total, fmt.Errorf("import %s: %w", path, err)
		}
		total += len(questions)
		slog.Info("imported questions", "path", path, "count", len(questions))
	}
	return total, nil
}

// Parse decodes and validates a question file.
func Parse(data []byte) ([]model.BankQuestion, error) {
	var entries []model.QuestionImport
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	questions := make([]model.BankQuestion, 0, len(entries))
	for i, qi := range entries {
		points := qi.Points
		if points == 0 {
			points = 1
		}
		q := model.BankQuestion{
			Subject: qi.Subject,
			Unit:    qi.Unit,
			Year:    qi.Year,
			Question: model.Question{
				ID:            fmt.Sprintf("entry-%d", i+1),
				Kind:          qi.Kind,
				Prompt:        qi.Prompt,
				Options:       qi.Options,
				CorrectAnswer: qi.CorrectAnswer,
				Points:        points,
				Difficulty:    qi.Difficulty,
				Topic:         qi.Topic,
				Explanation:   qi.Explanation,
			},
		}
		if err := q.Question.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if q.Difficulty != "" && !q.Difficulty.IsValid() {
			return nil, fmt.Errorf("entry %d: unknown difficulty %q", i+1, q.Difficulty)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
