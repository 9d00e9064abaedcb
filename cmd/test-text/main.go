package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/room4-2/studytutor/functions"
	"github.com/room4-2/studytutor/gemini"
	"github.com/room4-2/studytutor/study"
	"github.com/room4-2/studytutor/tutor"
)

func main() {
	topic := flag.String("topic", "Fotossíntese", "Lesson topic")
	question := flag.String("ask", "Me explique o tema em uma frase.", "Text turn to send")
	flag.Parse()

	_ = godotenv.Load()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	proxy, err := gemini.NewProxy(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to create proxy: %v", err)
	}
	defer proxy.Close()

	lesson := tutor.LessonConfig{Topic: *topic, Language: study.Portuguese}
	proxy.OnToolCall = functions.Lesson{Topic: lesson.Topic}.Handle

	err = proxy.Setup(ctx, gemini.LiveConfig{
		Model:        os.Getenv("LIVE_MODEL"),
		SystemPrompt: tutor.SystemPrompt(lesson),
		Tools:        functions.Tools(),
	})
	if err != nil {
		log.Fatalf("Failed to setup: %v", err)
	}

	// Start receiving
	proxy.StartReceiving()

	// Send a text message
	if err := proxy.SendText(*question); err != nil {
		log.Fatalf("Failed to send text: %v", err)
	}

	// Wait for response
	log.Println("Waiting for response...")
	audioBytes := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("⏰ Timeout after %d audio bytes", audioBytes)
			return
		case ev, ok := <-proxy.Events():
			if !ok {
				log.Printf("Connection ended: %v", proxy.Err())
				return
			}
			switch ev.Kind {
			case gemini.EventAudio:
				audioBytes += len(ev.Audio)
			case gemini.EventText:
				log.Printf("💬 Received text: %s", ev.Text)
			case gemini.EventInterrupted:
				log.Println("✋ Interrupted")
			case gemini.EventTurnComplete:
				log.Printf("✅ Turn complete, %d audio bytes", audioBytes)
				return
			}
		}
	}
}
