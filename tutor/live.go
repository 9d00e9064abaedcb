package tutor

import (
	"context"

	"github.com/room4-2/studytutor/functions"
	"github.com/room4-2/studytutor/gemini"
)

// LiveDialer opens Gemini Live sessions
type LiveDialer struct {
	APIKey string
	Model  string
	Voice  string
}

// Dial connects a Live session configured for the lesson
func (d LiveDialer) Dial(ctx context.Context, lesson LessonConfig) (Conn, error) {
	proxy, err := gemini.NewProxy(ctx, d.APIKey)
	if err != nil {
		return nil, err
	}
	proxy.OnToolCall = functions.Lesson{Topic: lesson.Topic, Context: lesson.Context}.Handle

	err = proxy.Setup(ctx, gemini.LiveConfig{
		Model:        d.Model,
		Voice:        d.Voice,
		SystemPrompt: SystemPrompt(lesson),
		Tools:        functions.Tools(),
	})
	if err != nil {
		proxy.Close()
		return nil, err
	}

	proxy.StartReceiving()
	return proxy, nil
}

// GeminiChatter answers text turns with the content model
type GeminiChatter struct {
	Client *gemini.Client
}

// ChatTurn implements Chatter
func (c GeminiChatter) ChatTurn(ctx context.Context, lesson LessonConfig, history []ChatMessage, text string) (string, error) {
	turns := make([]gemini.Turn, 0, len(history))
	for _, m := range history {
		// the model expects the conversation to open with a user turn
		if len(turns) == 0 && m.Role != RoleUser {
			continue
		}
		turns = append(turns, gemini.Turn{Role: m.Role, Text: m.Text})
	}
	return c.Client.ChatTurn(ctx, SystemPrompt(lesson), turns, text)
}
