package gemini

import (
	"fmt"
	"strings"

	"github.com/room4-2/studytutor/study"
)

// LanguageInstruction pins the response language
func LanguageInstruction(lang study.Language) string {
	if lang == study.English {
		return "Always respond in English."
	}
	return "Responda sempre em Português do Brasil."
}

const extraTextPrefix = "CONTEÚDO ADICIONAL/TEXTO:\n"

func analysisPrompt(lang study.Language) string {
	return fmt.Sprintf(`Analise este material de estudo e determine o tópico principal e uma descrição curta e convidativa.
Se o material não for relacionado a estudos acadêmicos ou aprendizado, defina isStudyMaterial como false.

Retorne EXCLUSIVAMENTE um JSON:
{
  "isStudyMaterial": true,
  "topic": "Nome do Assunto",
  "description": "Explicação breve do que foi identificado",
  "language": "%s",
  "suggestion": "Uma dica de como estudar este material específico"
}
%s`, lang, LanguageInstruction(lang))
}

func summaryPrompt(lang study.Language) string {
	return `Gere um resumo didático, organizado e completo sobre este material.
Use formatação Markdown (títulos ##, negrito **, listas -).
Foque nos conceitos chave e fórmulas, se houver.
` + LanguageInstruction(lang)
}

func quizPrompt(lang study.Language) string {
	return fmt.Sprintf(`Gere um simulado com %d questões de múltipla escolha baseadas neste conteúdo.
Cada questão deve ter %d opções, o índice da opção correta (0 a %d) e uma explicação do porquê a resposta está correta.
%s`, study.QuizQuestions, study.QuizOptions, study.QuizOptions-1, LanguageInstruction(lang))
}

func flashcardsPrompt(lang study.Language) string {
	return fmt.Sprintf(`Crie %d flashcards (pergunta/frente e resposta/verso) para memorização rápida deste conteúdo.
Seja conciso nas respostas.
%s`, study.FlashcardsPer, LanguageInstruction(lang))
}

func explainPrompt(lang study.Language) string {
	return `Explique este conteúdo como se eu tivesse 5 anos de idade (ELI5).
Use analogias simples do dia a dia.
` + LanguageInstruction(lang)
}

// receiptPrompt asks the model to check a PIX receipt. amount is formatted as "10.00".
func receiptPrompt(amount string, recipients []string) string {
	quoted := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			quoted = append(quoted, fmt.Sprintf("%q", r))
		}
	}
	return fmt.Sprintf(`Analise este comprovante de PIX.
Verifique estritamente:
1. O valor é R$ %s?
2. A chave ou conta de destino é relacionada a %s?
3. O status da transação é "Concluído", "Sucesso", "Efetivado" ou similar?
4. A data é de hoje (ou muito recente)?

Retorne EXCLUSIVAMENTE um JSON:
{
  "verified": boolean,
  "reason": "Explicação curta do porquê foi ou não verificado"
}`, amount, strings.Join(quoted, " ou "))
}
