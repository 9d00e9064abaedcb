package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/device"
	"github.com/room4-2/studytutor/messages"
	"github.com/room4-2/studytutor/tutor"
)

// serverMessage keeps the payload raw until the type is known
type serverMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func send(conn *websocket.Conn, msgType string, payload any) error {
	raw, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := sonic.ConfigStd.Marshal(messages.ClientMessage{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws/tutor", "Tutor WebSocket URL")
	topic := flag.String("topic", "Fotossíntese", "Lesson topic")
	lang := flag.String("lang", "pt", "Lesson language")
	audioFile := flag.String("file", "examples/user.pcm", "Audio file to send (16kHz PCM or WAV)")
	flag.Parse()

	u, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	q := u.Query()
	q.Set("topic", *topic)
	q.Set("language", *lang)
	u.RawQuery = q.Encode()

	log.Printf("🔌 Connecting to %s...", u)

	// Connect to server
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("✅ Connected!")

	// Setup audio output on the local sound card
	speaker, err := device.NewSpeaker()
	if err != nil {
		log.Fatalf("Failed to open speaker: %v", err)
	}
	defer speaker.Close()
	scheduler := tutor.NewScheduler(speaker)

	// Handle interrupt
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	voiceReady := make(chan struct{}, 1)

	// Read responses from server
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}

			var msg serverMessage
			if err := sonic.ConfigStd.Unmarshal(message, &msg); err != nil {
				log.Println("Parse error:", err)
				continue
			}

			switch msg.Type {
			case messages.TypeAudio:
				var payload messages.AudioResponsePayload
				sonic.ConfigStd.Unmarshal(msg.Payload, &payload)
				pcm := audio.DecodeFromTransport(payload.Data)
				entry := scheduler.Schedule(audio.PCM16ToFloat(pcm, audio.OutputSampleRate, 1))
				log.Printf("🔊 Playing %v of audio at %v", entry.Duration, entry.Start)

			case messages.TypeInterrupt:
				log.Println("✋ Interrupted")
				scheduler.Interrupt()

			case messages.TypeText:
				var payload messages.TextResponsePayload
				sonic.ConfigStd.Unmarshal(msg.Payload, &payload)
				fmt.Printf("📝 %s\n", payload.Text)

			case messages.TypeChat:
				var payload messages.ChatPayload
				sonic.ConfigStd.Unmarshal(msg.Payload, &payload)
				fmt.Printf("💬 %s: %s\n", payload.Role, payload.Text)

			case messages.TypeState:
				var payload messages.StatePayload
				sonic.ConfigStd.Unmarshal(msg.Payload, &payload)
				log.Printf("📊 State: %s -> %s %s %s", payload.From, payload.State, payload.Code, payload.Reason)
				if payload.State == string(tutor.StateActiveVoice) {
					select {
					case voiceReady <- struct{}{}:
					default:
					}
				}

			case messages.TypeStatus:
				var payload messages.StatusPayload
				sonic.ConfigStd.Unmarshal(msg.Payload, &payload)
				log.Printf("📊 Status: %s %s", payload.Status, payload.Message)

			case messages.TypeError:
				log.Printf("❌ Error: %s", string(msg.Payload))
			}
		}
	}()

	if err := send(conn, messages.TypeClientControl, messages.ControlPayload{Action: messages.ActionStartVoice}); err != nil {
		log.Fatalf("Failed to start voice: %v", err)
	}

	select {
	case <-voiceReady:
	case <-done:
		log.Fatal("Connection closed before voice started")
	case <-time.After(15 * time.Second):
		log.Fatal("⏰ Timeout waiting for voice session")
	}

	// Load and send audio file
	log.Printf("📤 Sending audio file: %s", *audioFile)

	audioData, err := loadAudioFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	// Send audio in chunks (simulating real-time streaming)
	chunkSize := 3200 // 100ms at 16kHz
	for i := 0; i < len(audioData); i += chunkSize {
		end := i + chunkSize
		if end > len(audioData) {
			end = len(audioData)
		}
		chunk := audioData[i:end]

		// Send as binary (more efficient)
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			log.Printf("Send error: %v", err)
			break
		}

		log.Printf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, (len(audioData)+chunkSize-1)/chunkSize, len(chunk))

		// Simulate real-time streaming pace
		time.Sleep(100 * time.Millisecond)
	}

	log.Println("✅ Audio sent, waiting for response...")

	// Wait for response or interrupt
	select {
	case <-done:
		log.Println("Connection closed")
	case <-interrupt:
		log.Println("\n👋 Interrupted, closing...")
		send(conn, messages.TypeClientControl, messages.ControlPayload{Action: messages.ActionClose})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(30 * time.Second):
		log.Println("⏰ Timeout waiting for response")
	}
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Check if it's a WAV file (starts with "RIFF")
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		// Skip WAV header (44 bytes for standard WAV)
		log.Println("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}

	// Assume raw PCM
	log.Println("📁 Detected raw PCM file")
	return data, nil
}
