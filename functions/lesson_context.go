package functions

import "google.golang.org/genai"

const GetLessonContextName = "GetLessonContext"

// GetLessonContextFunctionDeclaration returns the function declaration for Gemini
func GetLessonContextFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        GetLessonContextName,
		Description: "Get the study material of the current lesson: its topic and the full summary the student is studying",
	}
}

// Lesson is the grounding material a tutor session serves
type Lesson struct {
	Topic   string
	Context string
}

// Tools returns the tool set exposed to a Live session for a lesson
func Tools() []*genai.Tool {
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{GetLessonContextFunctionDeclaration()},
	}}
}

// Handle answers a function call for the lesson. It returns nil for unknown functions.
func (l Lesson) Handle(call *genai.FunctionCall) map[string]any {
	switch call.Name {
	case GetLessonContextName:
		return map[string]any{
			"topic":   l.Topic,
			"context": l.Context,
		}
	default:
		return nil
	}
}
