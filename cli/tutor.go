package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/device"
	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/gemini"
	"github.com/room4-2/studytutor/study"
	"github.com/room4-2/studytutor/tutor"
)

var (
	lessonContext string
	lessonLang    string
	textOnly      bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "tutor <topic>",
		Short: "Start a live tutoring session on this machine's microphone and speaker",
		Long: `Starts a voice lesson on the default sound devices. When voice fails the
error and its recovery options are printed; type /text to continue in chat.

Commands: /voice /text /mute /unmute /reset /quit. Any other line is sent as a
chat message while in text mode.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTutor,
	}
	cmd.Flags().StringVarP(&lessonContext, "context", "c", "", "Material the lesson should stay grounded on")
	cmd.Flags().StringVarP(&lessonLang, "lang", "l", "pt", "Lesson language: pt or en")
	cmd.Flags().BoolVar(&textOnly, "text", false, "Skip voice and start in text chat")

	RootCmd.AddCommand(cmd)
}

// localController wires a controller to the local sound card
func localController(cfg *config.Config, client *gemini.Client, lesson tutor.LessonConfig, out io.Writer) *tutor.Controller {
	return tutor.NewController(tutor.ControllerConfig{
		Lesson:        lesson,
		HasCredential: client.HasCredential,
		Dialer:        tutor.LiveDialer{APIKey: cfg.GeminiAPIKey, Model: cfg.LiveModel, Voice: cfg.VoiceName},
		Chatter:       tutor.GeminiChatter{Client: client},
		NewMicrophone: func() (tutor.Microphone, error) {
			return device.NewMicrophone(cfg.MaxBufferSize), nil
		},
		NewOutput: func() (tutor.Output, error) {
			speaker, err := device.NewSpeaker()
			if err != nil {
				return nil, err
			}
			return speaker, nil
		},
		MicTimeout: cfg.MicTimeout,
		OnText: func(text string) {
			fmt.Fprint(out, text)
		},
	})
}

func runTutor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lesson := tutor.LessonConfig{
		Topic:    strings.Join(args, " "),
		Context:  lessonContext,
		Language: study.ParseLanguage(lessonLang),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	ctrl := localController(cfg, newClient(cfg), lesson, out)
	defer ctrl.Close()

	changes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go printStates(out, ctrl, changes)

	if textOnly {
		if err := ctrl.StartText(); err != nil {
			return err
		}
	} else {
		go ctrl.StartVoice(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, out, ctrl, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handleLine runs one line of user input and reports whether to quit
func handleLine(ctx context.Context, out io.Writer, ctrl *tutor.Controller, line string) bool {
	var err error
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/voice":
		go ctrl.StartVoice(ctx)
	case "/text":
		if ctrl.State() == tutor.StateError {
			err = ctrl.FallbackToText()
		} else {
			err = ctrl.StartText()
		}
	case "/mute":
		err = ctrl.SetMuted(true)
	case "/unmute":
		err = ctrl.SetMuted(false)
	case "/reset":
		err = ctrl.Reset()
	default:
		var reply tutor.ChatMessage
		reply, err = ctrl.SendText(ctx, line)
		if err == nil || reply.Error {
			fmt.Fprintf(out, "tutor> %s\n", reply.Text)
		}
		if reply.Error {
			return false
		}
	}
	if err != nil {
		if errors.Is(err, tutor.ErrNotTextMode) {
			fmt.Fprintln(out, "not in text mode, type /text first")
		} else {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return false
}

func printStates(out io.Writer, ctrl *tutor.Controller, changes <-chan tutor.StateChange) {
	for change := range changes {
		switch change.To {
		case tutor.StateActiveVoice:
			fmt.Fprintln(out, "🎙️ Voice lesson started, speak when ready")
		case tutor.StateActiveText:
			for _, m := range ctrl.Messages() {
				fmt.Fprintf(out, "%s> %s\n", roleLabel(m.Role), m.Text)
			}
		case tutor.StateError:
			fmt.Fprintf(out, "❌ %s: %s\n", failure.Code(failure.KindOf(change.Cause)), describe(change.Cause))
			fmt.Fprintf(out, "   options: %v\n", ctrl.Recoveries())
		default:
			fmt.Fprintf(out, "[%s]\n", change.To)
		}
	}
}

func describe(err error) string {
	if reason := failure.ReasonOf(err); reason != "" {
		return reason
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func roleLabel(role string) string {
	if role == tutor.RoleUser {
		return "you"
	}
	return "tutor"
}
