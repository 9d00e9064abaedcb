package study

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/room4-2/studytutor/store"
)

var (
	ErrQuizNotFound  = errors.New("quiz not found")
	ErrQuizCompleted = errors.New("quiz already completed")
)

// Generator produces study content from material
type Generator interface {
	Analyze(ctx context.Context, c Content) (Analysis, error)
	Summarize(ctx context.Context, c Content) (string, error)
	Quiz(ctx context.Context, c Content) ([]QuizQuestion, error)
	Flashcards(ctx context.Context, c Content) ([]Flashcard, error)
	Explain(ctx context.Context, c Content) (string, error)
}

// Wallet charges and refunds study costs
type Wallet interface {
	Debit(ctx context.Context, email string, cost int, reason string) (int, error)
	Refund(ctx context.Context, email string, cost int, reason string) (int, error)
	Credit(ctx context.Context, email string, points int, reason string) (int, error)
}

// Service runs study operations for a user
type Service struct {
	gen     Generator
	wallet  Wallet
	history store.HistoryStore
	cost    int
	reward  int

	mu      sync.Mutex
	quizzes map[string]*issuedQuiz
}

// issuedQuiz is a generated quiz kept server side for grading
type issuedQuiz struct {
	email     string
	questions []QuizQuestion
	issued    time.Time
	completed bool
}

// Quiz is a generated quiz handed to the user. Completion refers to it by ID.
type Quiz struct {
	ID        string         `json:"id"`
	Questions []QuizQuestion `json:"questions"`
}

// NewService wires a study service. cost is charged per generation call and
// reward is credited when a quiz is completed.
func NewService(gen Generator, wallet Wallet, history store.HistoryStore, cost, reward int) *Service {
	return &Service{
		gen:     gen,
		wallet:  wallet,
		history: history,
		cost:    cost,
		reward:  reward,
		quizzes: make(map[string]*issuedQuiz),
	}
}

// Cost returns the points charged per generation call
func (s *Service) Cost() int {
	return s.cost
}

// Analyze identifies the material and records it in the user's history
func (s *Service) Analyze(ctx context.Context, email string, c Content) (Analysis, error) {
	if c.Empty() {
		return Analysis{}, ErrEmptyContent
	}
	a, err := s.gen.Analyze(ctx, c)
	if err != nil {
		return Analysis{}, err
	}
	if a.Language == "" {
		a.Language = c.Language
	}
	if !a.IsStudyMaterial {
		log.Printf("⚠️ Material from %s is not study material", email)
		return a, nil
	}

	raw, err := json.Marshal(a)
	if err != nil {
		return a, fmt.Errorf("encode analysis: %w", err)
	}
	entry := store.HistoryEntry{
		Email:       email,
		Date:        time.Now(),
		Topic:       a.Topic,
		Description: a.Description,
		Text:        c.Text,
		Files:       c.FileNames(),
		Analysis:    raw,
	}
	if err := s.history.SaveLatest(ctx, email, []store.HistoryEntry{entry}); err != nil {
		log.Printf("⚠️ Failed to save history for %s: %v", email, err)
	}
	return a, nil
}

// charge debits the cost, runs fn and refunds if fn fails
func (s *Service) charge(ctx context.Context, email, op string, fn func() error) error {
	if s.cost > 0 {
		if _, err := s.wallet.Debit(ctx, email, s.cost, op); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		if s.cost > 0 {
			if _, rerr := s.wallet.Refund(context.WithoutCancel(ctx), email, s.cost, op); rerr != nil {
				log.Printf("❌ Refund of %d IP to %s failed: %v", s.cost, email, rerr)
			}
		}
		return err
	}
	return nil
}

// Summary generates a markdown summary
func (s *Service) Summary(ctx context.Context, email string, c Content) (string, error) {
	var out string
	err := s.charge(ctx, email, "summary", func() (err error) {
		out, err = s.gen.Summarize(ctx, c)
		return err
	})
	return out, err
}

// Quiz generates a validated multiple choice quiz and keeps it for grading
func (s *Service) Quiz(ctx context.Context, email string, c Content) (Quiz, error) {
	var out []QuizQuestion
	err := s.charge(ctx, email, "quiz", func() error {
		q, err := s.gen.Quiz(ctx, c)
		if err != nil {
			return err
		}
		if err := ValidateQuiz(q); err != nil {
			return fmt.Errorf("invalid quiz from model: %w", err)
		}
		out = q
		return nil
	})
	if err != nil {
		return Quiz{}, err
	}

	quiz := Quiz{ID: uuid.New().String(), Questions: out}
	s.mu.Lock()
	s.quizzes[quiz.ID] = &issuedQuiz{email: email, questions: out, issued: time.Now()}
	s.mu.Unlock()
	return quiz, nil
}

// Flashcards generates memorization cards
func (s *Service) Flashcards(ctx context.Context, email string, c Content) ([]Flashcard, error) {
	var out []Flashcard
	err := s.charge(ctx, email, "flashcards", func() (err error) {
		out, err = s.gen.Flashcards(ctx, c)
		return err
	})
	return out, err
}

// Explain generates a simple explanation with everyday analogies
func (s *Service) Explain(ctx context.Context, email string, c Content) (string, error) {
	var out string
	err := s.charge(ctx, email, "explain", func() (err error) {
		out, err = s.gen.Explain(ctx, c)
		return err
	})
	return out, err
}

// Result is a graded quiz attempt
type Result struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	Balance  int     `json:"balance,omitempty"`
}

// Complete grades answers against the stored quiz and credits the reward
// once per quiz. Later completions of the same quiz return ErrQuizCompleted.
func (s *Service) Complete(ctx context.Context, email, quizID string, answers []int, lang Language) (Result, error) {
	s.mu.Lock()
	q, ok := s.quizzes[quizID]
	if !ok || q.email != email {
		s.mu.Unlock()
		return Result{}, ErrQuizNotFound
	}
	if q.completed {
		s.mu.Unlock()
		return Result{}, ErrQuizCompleted
	}
	score, err := Score(q.questions, answers)
	if err != nil {
		s.mu.Unlock()
		return Result{}, err
	}
	q.completed = true
	s.mu.Unlock()

	res := Result{Score: score, Feedback: Feedback(score, lang)}
	if s.reward > 0 {
		bal, err := s.wallet.Credit(ctx, email, s.reward, "study completed")
		if err != nil {
			s.mu.Lock()
			q.completed = false
			s.mu.Unlock()
			return res, err
		}
		res.Balance = bal
	}
	return res, nil
}

// Purge drops quizzes issued more than maxAge ago and returns how many were removed
func (s *Service) Purge(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, q := range s.quizzes {
		if q.issued.Before(cutoff) {
			delete(s.quizzes, id)
			n++
		}
	}
	return n
}

// History returns the user's past analyses, newest first
func (s *Service) History(ctx context.Context, email string) ([]store.HistoryEntry, error) {
	return s.history.GetByUser(ctx, email)
}
