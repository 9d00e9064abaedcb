// Package cli implements the studytutor command line: a local voice tutor on
// the sound card plus payment and study tools that share the server config.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/gemini"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "studytutor",
	Short:        "Study assistant tools",
	Long:         "Talk to the live tutor from this machine, build PIX payloads and check receipts or study material against the model.",
	SilenceUsage: true,
}

// loadConfig is replaced in tests
var loadConfig = config.LoadConfig

func newClient(cfg *config.Config) *gemini.Client {
	return gemini.NewClient(gemini.ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.ContentModel,
		Recipients: cfg.Recipients(),
	})
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
