package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/studymate/assessor/internal/model"
)

// MaxSourceRunes caps how much study material is sent to the model.
const MaxSourceRunes = 20000

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studyMaterialRegex      = regexp.MustCompile(`(?i)</?\s*study-material\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[model.Mode]*template.Template
)

// GenerateData holds template data for question-generation prompts.
type GenerateData struct {
	SourceText       string
	Count            int
	Difficulty       model.Difficulty
	Kind             model.Kind
	TimeLimitMinutes int
}

// Load parses the generation templates from fsys, or from the embedded
// templates when fsys is nil. Templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = templateFS
		}
		templates = make(map[model.Mode]*template.Template)

		for _, m := range []model.Mode{model.ModeQuiz, model.ModeExam} {
			file := "templates/generate_" + string(m) + ".txt"

			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}

			tmpl, err := template.New(string(m)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[m] = tmpl
		}
	})
	return loadErr
}

// BuildGeneratePrompt renders the generation prompt for req.Mode.
// An empty mode renders the quiz template.
func BuildGeneratePrompt(req model.GenerateRequest) (string, error) {
	if err := Load(nil); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeQuiz
	}
	tmpl, ok := templates[mode]
	if !ok {
		return "", errors.New("invalid prompt mode: " + string(mode))
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = model.DifficultyMedium
	}

	data := GenerateData{
		SourceText:       SanitizeSource(req.SourceText),
		Count:            req.Count,
		Difficulty:       difficulty,
		Kind:             req.Kind,
		TimeLimitMinutes: req.TimeLimitMinutes,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeSource strips delimiter tags a student could use to escape the
// study-material block and truncates overly long input.
func SanitizeSource(source string) string {
	source = studyMaterialRegex.ReplaceAllString(source, "")
	source = systemInstructionsRegex.ReplaceAllString(source, "")
	source = strings.TrimSpace(source)

	if source == "" {
		return "[No study material provided]"
	}

	if utf8.RuneCountInString(source) > MaxSourceRunes {
		runes := []rune(source)
		source = string(runes[:MaxSourceRunes]) + "\n\n[Material truncated due to length]"
	}
	return source
}
