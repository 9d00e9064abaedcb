package gemini

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/failure"
)

const (
	DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice     = "Puck" // Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
)

// EventKind tells what an inbound Live event carries
type EventKind int

const (
	EventAudio EventKind = iota
	EventText
	EventInterrupted
	EventTurnComplete
)

// Event is one inbound message from a Live session
type Event struct {
	Kind  EventKind
	Audio []byte // raw PCM16 at audio.OutputSampleRate
	Text  string
}

// LiveConfig configures one Live session
type LiveConfig struct {
	Model        string
	Voice        string
	SystemPrompt string
	Tools        []*genai.Tool
}

// ToolHandler answers a function call from the model
type ToolHandler func(call *genai.FunctionCall) map[string]any

// Proxy manages the connection to Gemini Live API using the official SDK
type Proxy struct {
	client  *genai.Client
	session *genai.Session

	// OnToolCall answers function calls; the response is sent back automatically
	OnToolCall ToolHandler

	events chan Event
	done   chan struct{}
	err    error

	mu     sync.RWMutex
	closed bool
}

// NewProxy creates the GenAI client for a Live session
func NewProxy(ctx context.Context, apiKey string) (*Proxy, error) {
	if apiKey == "" {
		return nil, failure.New(failure.Authentication, "gemini.NewProxy", failure.ErrMissingCredential)
	}

	// Initialize the Client
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Proxy{
		client: client,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}, nil
}

// Setup establishes the Live session
func (gp *Proxy) Setup(ctx context.Context, cfg LiveConfig) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return fmt.Errorf("proxy is closed")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLiveModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	// Configure the Live Session
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemPrompt},
			},
		},
		Tools: cfg.Tools,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: cfg.Voice,
				},
			},
		},
	}

	session, err := gp.client.Live.Connect(ctx, cfg.Model, config)
	if err != nil {
		return classify("gemini.Live.Connect", failure.Connection, err)
	}

	gp.session = session
	log.Printf("✅ Connected to Gemini Live via SDK (%s)", cfg.Model)
	return nil
}

// Events delivers inbound events in arrival order. It is closed when the
// receive loop ends; Err tells why.
func (gp *Proxy) Events() <-chan Event {
	return gp.events
}

// Err returns the error that ended the receive loop, nil after a clean Close
func (gp *Proxy) Err() error {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.err
}

// StartReceiving begins listening for Gemini responses
func (gp *Proxy) StartReceiving() {
	go func() {
		defer close(gp.events)

		for {
			gp.mu.RLock()
			if gp.closed || gp.session == nil {
				gp.mu.RUnlock()
				return
			}
			session := gp.session
			gp.mu.RUnlock()

			// Receive blocks until a message arrives or error occurs
			resp, err := session.Receive()
			if err != nil {
				gp.mu.Lock()
				if !gp.closed {
					log.Printf("❌ Gemini receive error: %v", err)
					gp.err = failure.New(failure.Connection, "gemini.Receive", err)
				}
				gp.mu.Unlock()
				return
			}

			if !gp.handleResponse(resp) {
				return
			}
		}
	}()
}

func (gp *Proxy) emit(ev Event) bool {
	select {
	case gp.events <- ev:
		return true
	case <-gp.done:
		return false
	}
}

func (gp *Proxy) handleResponse(resp *genai.LiveServerMessage) bool {
	// Handle Tool Calls
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		log.Printf("📥 Received from Gemini: %d function call(s)", len(resp.ToolCall.FunctionCalls))
		gp.answerToolCalls(resp.ToolCall.FunctionCalls)
	}

	sc := resp.ServerContent
	if sc == nil {
		return true
	}

	if sc.Interrupted {
		log.Println("📥 Received from Gemini: interrupted")
		if !gp.emit(Event{Kind: EventInterrupted}) {
			return false
		}
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				if !gp.emit(Event{Kind: EventText, Text: part.Text}) {
					return false
				}
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				if !gp.emit(Event{Kind: EventAudio, Audio: part.InlineData.Data}) {
					return false
				}
			}
		}
	}

	if sc.TurnComplete {
		log.Println("📥 Received from Gemini: turn complete")
		if !gp.emit(Event{Kind: EventTurnComplete}) {
			return false
		}
	}
	return true
}

func (gp *Proxy) answerToolCalls(calls []*genai.FunctionCall) {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		var result map[string]any
		if gp.OnToolCall != nil {
			result = gp.OnToolCall(call)
		}
		if result == nil {
			result = map[string]any{"error": "unknown function " + call.Name}
		}
		responses = append(responses, &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: result,
		})
	}
	if err := gp.SendToolResponse(responses); err != nil {
		log.Printf("❌ Failed to answer tool call: %v", err)
	}
}

func (gp *Proxy) current() (*genai.Session, error) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	if gp.closed || gp.session == nil {
		return nil, fmt.Errorf("proxy is closed or not connected")
	}
	return gp.session, nil
}

// SendAudio forwards one captured frame to Gemini
func (gp *Proxy) SendAudio(frame audio.Frame) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: audio.InputMIMEType,
			Data:     frame.Bytes(),
		},
	})
	if err != nil {
		return failure.New(failure.Connection, "gemini.SendAudio", err)
	}
	return nil
}

// SendText sends a complete user turn as text
func (gp *Proxy) SendText(text string) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	turnComplete := true
	err = session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return failure.New(failure.Connection, "gemini.SendText", err)
	}

	log.Printf("📤 Sent text to Gemini: %s", text)
	return nil
}

// SendToolResponse sends function call responses back to Gemini
func (gp *Proxy) SendToolResponse(responses []*genai.FunctionResponse) error {
	session, err := gp.current()
	if err != nil {
		return err
	}

	err = session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}

	log.Printf("📤 Sent %d tool response(s) to Gemini", len(responses))
	return nil
}

// Close terminates the Gemini connection
func (gp *Proxy) Close() error {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	if gp.closed {
		return nil
	}
	gp.closed = true
	close(gp.done)

	if gp.session != nil {
		return gp.session.Close()
	}
	return nil
}
