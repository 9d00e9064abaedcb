// Package study holds the study material types and the quiz scoring rules.
package study

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Language selects the response language of generated content
type Language string

const (
	Portuguese Language = "pt"
	English    Language = "en"
)

// ParseLanguage maps a request value to a Language, defaulting to Portuguese
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "en-us", "english":
		return English
	default:
		return Portuguese
	}
}

// File is one uploaded document or photo
type File struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Content is the material a study request works on
type Content struct {
	Files    []File   `json:"files"`
	Text     string   `json:"text,omitempty"`
	Language Language `json:"language"`
}

// Empty reports whether there is nothing to study
func (c Content) Empty() bool {
	return len(c.Files) == 0 && strings.TrimSpace(c.Text) == ""
}

// FileNames lists the uploaded file names
func (c Content) FileNames() []string {
	names := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		names = append(names, f.Name)
	}
	return names
}

// Analysis is the first pass over new material
type Analysis struct {
	IsStudyMaterial bool     `json:"isStudyMaterial"`
	Topic           string   `json:"topic"`
	Description     string   `json:"description"`
	Language        Language `json:"language"`
	Suggestion      string   `json:"suggestion"`
}

// QuizQuestion is one multiple choice question
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

// Flashcard is a front/back memorization card
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

const (
	QuizQuestions = 5
	QuizOptions   = 4
	FlashcardsPer = 6
)

var (
	ErrEmptyQuiz     = errors.New("quiz has no questions")
	ErrAnswerCount   = errors.New("answer count does not match question count")
	ErrEmptyContent  = errors.New("no files or text to study")
	ErrInvalidBase64 = errors.New("invalid base64 data")
)

// ValidateQuiz checks the shape the model was asked to produce
func ValidateQuiz(questions []QuizQuestion) error {
	if len(questions) == 0 {
		return ErrEmptyQuiz
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("question %d: empty text", i+1)
		}
		if len(q.Options) != QuizOptions {
			return fmt.Errorf("question %d: %d options, want %d", i+1, len(q.Options), QuizOptions)
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= QuizOptions {
			return fmt.Errorf("question %d: correct answer %d out of range", i+1, q.CorrectAnswer)
		}
	}
	return nil
}

// Score grades answers on a 0-10 scale. answers[i] is the chosen option for question i.
func Score(questions []QuizQuestion, answers []int) (float64, error) {
	if len(questions) == 0 {
		return 0, ErrEmptyQuiz
	}
	if len(answers) != len(questions) {
		return 0, ErrAnswerCount
	}
	correct := 0
	for i, q := range questions {
		if answers[i] == q.CorrectAnswer {
			correct++
		}
	}
	return float64(correct) / float64(len(questions)) * 10, nil
}

// Feedback returns the result band for a score
func Feedback(score float64, lang Language) string {
	pt := lang != English
	switch {
	case score >= 9:
		if pt {
			return "Excelente! Você domina o assunto."
		}
		return "Excellent! You master the subject."
	case score >= 7:
		if pt {
			return "Muito bom! Revise os pontos que errou."
		}
		return "Very good! Review the points you missed."
	case score >= 5:
		if pt {
			return "Bom começo, mas ainda dá para melhorar."
		}
		return "Good start, but there is room to improve."
	default:
		if pt {
			return "Vale a pena revisar o material antes de tentar de novo."
		}
		return "Review the material before trying again."
	}
}

// DecodeDataURL accepts plain base64 or a data URL and returns the bytes and
// the MIME type it declares, if any.
func DecodeDataURL(s string) ([]byte, string, error) {
	mime := ""
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", ErrInvalidBase64
		}
		mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return data, mime, nil
}
