package tutor

import (
	"fmt"

	"github.com/room4-2/studytutor/functions"
	"github.com/room4-2/studytutor/study"
)

// LessonConfig is what one tutor session teaches
type LessonConfig struct {
	Topic    string
	Context  string
	Language study.Language
}

func (l LessonConfig) english() bool {
	return l.Language == study.English
}

// SystemPrompt builds the tutor instruction for a lesson
func SystemPrompt(l LessonConfig) string {
	if l.english() {
		return fmt.Sprintf(`You are an expert tutor. Respond in English. The lesson topic is: %s.
Study material context: %s.
Your task is to explain this material clearly and interactively.
The student can talk to you to ask questions. Be concise and encouraging.
Call %s whenever you need the full material again.`, l.Topic, l.Context, functions.GetLessonContextName)
	}
	return fmt.Sprintf(`Você é um tutor especialista. Responda em Português do Brasil. O tema da aula é: %s.
Contexto do material de estudo: %s.
Sua tarefa é explicar este material de forma clara e interativa.
O usuário pode falar com você para tirar dúvidas. Seja conciso e encorajador.
Chame %s sempre que precisar consultar o material completo.`, l.Topic, l.Context, functions.GetLessonContextName)
}

// Greeting is the first model message of a text session
func Greeting(l LessonConfig) string {
	if l.english() {
		return fmt.Sprintf("Hi! I'm your tutor for %s. Voice isn't available right now, so let's chat here. What would you like to understand better?", l.Topic)
	}
	return fmt.Sprintf("Olá! Sou seu tutor de %s. A voz não está disponível agora, então vamos conversar por aqui. O que você gostaria de entender melhor?", l.Topic)
}

func turnFailedMessage(l LessonConfig) string {
	if l.english() {
		return "Sorry, I couldn't answer that right now. Please try again."
	}
	return "Desculpe, não consegui responder agora. Tente novamente."
}
