package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/room4-2/studytutor/study"
)

var (
	studyText string
	studyLang string
)

func init() {
	cmd := &cobra.Command{
		Use:       "study <analyze|summary|quiz|flashcards|explain> [file...]",
		Short:     "Run one study generation over local files",
		Long:      "Sends the files and --text to the content model and prints the result. Points are not charged.",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"analyze", "summary", "quiz", "flashcards", "explain"},
		RunE:      runStudy,
	}
	cmd.Flags().StringVarP(&studyText, "text", "t", "", "Material typed inline")
	cmd.Flags().StringVarP(&studyLang, "lang", "l", "pt", "Output language: pt or en")

	RootCmd.AddCommand(cmd)
}

// readContent loads files as study material
func readContent(paths []string, text, lang string) (study.Content, error) {
	c := study.Content{Text: strings.TrimSpace(text), Language: study.ParseLanguage(lang)}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return study.Content{}, fmt.Errorf("read %s: %w", p, err)
		}
		mt := mime.TypeByExtension(filepath.Ext(p))
		if mt == "" {
			mt = "text/plain"
		}
		c.Files = append(c.Files, study.File{Name: filepath.Base(p), MIMEType: mt, Data: data})
	}
	if c.Empty() {
		return study.Content{}, study.ErrEmptyContent
	}
	return c, nil
}

func generate(ctx context.Context, gen study.Generator, op string, c study.Content) (any, error) {
	switch op {
	case "analyze":
		return gen.Analyze(ctx, c)
	case "summary":
		text, err := gen.Summarize(ctx, c)
		return map[string]string{"summary": text}, err
	case "quiz":
		questions, err := gen.Quiz(ctx, c)
		if err == nil {
			err = study.ValidateQuiz(questions)
		}
		return map[string]any{"questions": questions}, err
	case "flashcards":
		cards, err := gen.Flashcards(ctx, c)
		return map[string]any{"flashcards": cards}, err
	case "explain":
		text, err := gen.Explain(ctx, c)
		return map[string]string{"explanation": text}, err
	}
	return nil, fmt.Errorf("unknown study operation %q", op)
}

func runStudy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	content, err := readContent(args[1:], studyText, studyLang)
	if err != nil {
		return err
	}

	result, err := generate(cmd.Context(), newClient(cfg), args[0], content)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
