package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/room4-2/studytutor/failure"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	ErrTurnInFlight = errors.New("a message is already being answered")
	ErrEmptyMessage = errors.New("message is empty")
)

// ChatMessage is one entry of the text session log
type ChatMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
	// Error marks a local failure notice; it is never sent to the model
	Error bool `json:"error,omitempty"`
}

// Chatter answers one text turn with the lesson as grounding
type Chatter interface {
	ChatTurn(ctx context.Context, lesson LessonConfig, history []ChatMessage, text string) (string, error)
}

// TextSession is a turn-based chat used when voice is unavailable
type TextSession struct {
	lesson LessonConfig
	chat   Chatter

	mu       sync.Mutex
	messages []ChatMessage
	pending  bool
}

// NewTextSession creates a session seeded with a greeting
func NewTextSession(lesson LessonConfig, chat Chatter) *TextSession {
	return &TextSession{
		lesson:   lesson,
		chat:     chat,
		messages: []ChatMessage{{Role: RoleModel, Text: Greeting(lesson)}},
	}
}

// Messages returns a copy of the log
func (s *TextSession) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages...)
}

// Pending reports whether a turn is waiting for an answer
func (s *TextSession) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Send submits a user turn and waits for the answer. A second Send while one
// is pending is rejected. A failed turn leaves a visible error in the log and
// the session usable.
func (s *TextSession) Send(ctx context.Context, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return ChatMessage{}, ErrTurnInFlight
	}
	s.pending = true
	history := make([]ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if !m.Error {
			history = append(history, m)
		}
	}
	s.messages = append(s.messages, ChatMessage{Role: RoleUser, Text: text})
	s.mu.Unlock()

	reply, err := s.chat.ChatTurn(ctx, s.lesson, history, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false

	if err != nil {
		msg := ChatMessage{Role: RoleModel, Text: turnFailedMessage(s.lesson), Error: true}
		s.messages = append(s.messages, msg)
		return msg, asKind(failure.TransientService, "tutor.ChatTurn", err)
	}
	msg := ChatMessage{Role: RoleModel, Text: reply}
	s.messages = append(s.messages, msg)
	return msg, nil
}
