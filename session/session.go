package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/messages"
	"github.com/room4-2/studytutor/metrics"
	"github.com/room4-2/studytutor/tutor"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Options are the collaborators every tutor session shares
type Options struct {
	Dialer        tutor.Dialer
	Chatter       tutor.Chatter
	HasCredential func() bool
	MicTimeout    time.Duration
	MaxBufferSize int
	KeepAlive     time.Duration
	Metrics       *metrics.Metrics
	// OnState is called after every transition, e.g. to mirror it elsewhere
	OnState func(id string, change tutor.StateChange)
}

// ClientSession is one browser connected to a tutor controller
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	opts    Options
	metrics *metrics.Metrics

	// Use channels for non-blocking writes
	writeChan chan any

	assembler *audio.FrameAssembler
	sinkMu    sync.Mutex
	onFrame   func(audio.Frame)
	sinkID    uint64

	mu         sync.RWMutex
	lesson     tutor.LessonConfig
	controller *tutor.Controller
	closed     bool
	CloseChan  chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewClientSession creates a session in the pre state for lesson
func NewClientSession(id string, clientConn *websocket.Conn, lesson tutor.LessonConfig, opts Options) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	// Configure WebSocket for better performance
	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 5 * 1024 * 1024
	}

	cs := &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		opts:         opts,
		metrics:      opts.Metrics,
		writeChan:    make(chan any, writeBufferSize),
		assembler:    audio.NewFrameAssembler(audio.InputSampleRate, audio.FrameSamples, opts.MaxBufferSize),
		lesson:       lesson,
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	cs.controller = cs.newController(lesson)
	return cs
}

func (cs *ClientSession) short() string {
	if len(cs.ID) > 8 {
		return cs.ID[:8]
	}
	return cs.ID
}

func (cs *ClientSession) newController(lesson tutor.LessonConfig) *tutor.Controller {
	c := tutor.NewController(tutor.ControllerConfig{
		Lesson:        lesson,
		HasCredential: cs.opts.HasCredential,
		Dialer:        cs.opts.Dialer,
		Chatter:       cs.opts.Chatter,
		NewMicrophone: func() (tutor.Microphone, error) {
			return &remoteMic{cs: cs}, nil
		},
		NewOutput: func() (tutor.Output, error) {
			return newRemoteOutput(cs), nil
		},
		MicTimeout: cs.opts.MicTimeout,
		OnText: func(text string) {
			cs.queueMessage(messages.NewTextMessage(cs.ID, text))
		},
	})
	changes, _ := c.Subscribe()
	go cs.forwardStates(c, changes)
	return c
}

// Controller returns the tutor state machine of this session
func (cs *ClientSession) Controller() *tutor.Controller {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.controller
}

// Lesson returns what this session teaches
func (cs *ClientSession) Lesson() tutor.LessonConfig {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lesson
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, "connected", "Session established"))
	cs.queueMessage(messages.NewStateMessage(cs.ID, stateOf(cs.Controller(), tutor.StateChange{To: tutor.StatePre})))
	go cs.handleClientMessages()
}

// forwardStates relays controller transitions until the controller closes
func (cs *ClientSession) forwardStates(c *tutor.Controller, changes <-chan tutor.StateChange) {
	for change := range changes {
		// a controller replaced by a new lesson only reports its own close
		if cs.Controller() != c {
			continue
		}
		code := ""
		if change.Cause != nil {
			code = failure.Code(failure.KindOf(change.Cause))
		}
		cs.metrics.RecordTransition(string(change.To), code)
		if cs.opts.OnState != nil {
			cs.opts.OnState(cs.ID, change)
		}
		if change.From == tutor.StateActiveVoice {
			cs.recordVoiceStats(c)
		}

		cs.queueMessage(messages.NewStateMessage(cs.ID, stateOf(c, change)))
		if change.To == tutor.StateActiveText {
			for _, m := range c.Messages() {
				cs.queueMessage(messages.NewChatMessage(cs.ID, chatPayload(m)))
			}
		}
	}
}

func (cs *ClientSession) recordVoiceStats(c *tutor.Controller) {
	if vs := c.Voice(); vs != nil {
		st := vs.Stats()
		cs.metrics.RecordFrames(st.Sent, st.Muted, st.Dropped)
	}
}

func stateOf(c *tutor.Controller, change tutor.StateChange) messages.StatePayload {
	p := messages.StatePayload{
		From:  string(change.From),
		State: string(change.To),
		Muted: c.Muted(),
	}
	if change.Cause != nil {
		p.Code = failure.Code(failure.KindOf(change.Cause))
		p.Reason = change.Cause.Error()
		for _, r := range []tutor.Recovery{tutor.RecoverRetryVoice, tutor.RecoverText, tutor.RecoverReset} {
			p.Recoveries = append(p.Recoveries, string(r))
		}
	}
	return p
}

func chatPayload(m tutor.ChatMessage) messages.ChatPayload {
	return messages.ChatPayload{Role: m.Role, Text: m.Text, Error: m.Error}
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	var keepAlive <-chan time.Time
	if cs.opts.KeepAlive > 0 {
		ticker := time.NewTicker(cs.opts.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	defer func() {
		// Send close message before exiting
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case <-keepAlive:
			cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-cs.writeChan:
			if !ok {
				// Channel closed, exit gracefully
				return
			}
			if err := cs.write(msg); err != nil {
				return
			}

			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg, ok := <-cs.writeChan:
					if !ok {
						return
					}
					if err := cs.write(msg); err != nil {
						return
					}
				default:
					// No more messages, continue outer loop
				}
			}
		}
	}
}

func (cs *ClientSession) write(msg any) error {
	data, err := messages.Encode(msg)
	if err != nil {
		log.Printf("❌ [%s] %v", cs.short(), err)
		return nil
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
		cs.LastActivity = time.Now()
	default:
		log.Printf("⚠️ [%s] Write queue full, dropping message", cs.short())
	}
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

// Idle returns how long the session has been silent
func (cs *ClientSession) Idle() time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return time.Since(cs.LastActivity)
}

// setFrameSink installs onFrame as the receiver of client audio and returns
// an id that clearFrameSink needs to remove it again.
func (cs *ClientSession) setFrameSink(onFrame func(audio.Frame)) uint64 {
	cs.sinkMu.Lock()
	defer cs.sinkMu.Unlock()
	cs.sinkID++
	cs.onFrame = onFrame
	cs.assembler.Reset()
	return cs.sinkID
}

// clearFrameSink removes the sink only if it is still the one installed as id
func (cs *ClientSession) clearFrameSink(id uint64) {
	cs.sinkMu.Lock()
	defer cs.sinkMu.Unlock()
	if cs.sinkID != id {
		return
	}
	cs.onFrame = nil
	cs.assembler.Reset()
}

// feedAudio cuts client PCM into frames for the active microphone. Audio
// arriving while no voice session listens is discarded.
func (cs *ClientSession) feedAudio(pcm []byte) {
	cs.sinkMu.Lock()
	defer cs.sinkMu.Unlock()
	if cs.onFrame == nil {
		return
	}
	cs.metrics.RecordAudio("in", len(pcm))
	frames, err := cs.assembler.Append(pcm)
	if err != nil {
		cs.assembler.Reset()
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
			fmt.Sprintf("Audio buffer full (max %d bytes)", cs.assembler.MaxSize())))
		return
	}
	for _, f := range frames {
		cs.onFrame(f)
	}
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	controller := cs.controller
	cs.mu.Unlock()

	cs.cancel()

	// Close the write channel first to stop writePump
	close(cs.writeChan)

	// Signal close (for other goroutines waiting on this)
	close(cs.CloseChan)

	if controller != nil {
		if controller.State() == tutor.StateActiveVoice {
			cs.recordVoiceStats(controller)
		}
		controller.Close()
	}
	cs.setFrameSink(nil)

	// Close client connection - don't write close message as writePump is stopped
	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			messageType, message, err := cs.ClientConn.ReadMessage()
			if err != nil {
				if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("❌ [%s] WebSocket read error: %v", cs.short(), err)
				}
				return
			}
			cs.touch()

			// Binary messages are raw PCM audio
			if messageType == websocket.BinaryMessage {
				cs.feedAudio(message)
				continue
			}

			clientMsg, err := messages.DecodeClient(message)
			if err != nil {
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}
			cs.processClientMessage(clientMsg)
		}
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeClientAudio:
		var payload messages.AudioPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return
		}
		pcm := audio.DecodeFromTransport(payload.Data)
		if len(pcm) == 0 {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return
		}
		cs.feedAudio(pcm)

	case messages.TypeClientText:
		var payload messages.TextPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		go cs.sendText(payload.Text)

	case messages.TypeClientLesson:
		var payload messages.LessonPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid lesson payload"))
			return
		}
		cs.setLesson(payload)

	case messages.TypeClientControl:
		var payload messages.ControlPayload
		if err := messages.DecodePayload(msg, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	c := cs.Controller()
	var err error

	switch payload.Action {
	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, "pong", ""))
	case messages.ActionStartVoice:
		// connecting can block on the dial; transitions are reported as they happen
		go func() {
			if err := c.StartVoice(cs.ctx); err != nil {
				cs.reportControlError(payload.Action, err)
			}
		}()
	case messages.ActionStartText:
		err = c.StartText()
	case messages.ActionFallbackText:
		err = c.FallbackToText()
	case messages.ActionMute:
		err = c.SetMuted(true)
	case messages.ActionUnmute:
		err = c.SetMuted(false)
	case messages.ActionReset:
		err = c.Reset()
	case messages.ActionClose:
		log.Printf("🔌 [%s] Client requested close", cs.short())
		cs.Close()
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}

	if err != nil {
		cs.reportControlError(payload.Action, err)
	}
}

// reportControlError sends errors that did not already surface as a state.
// Failures that moved the controller to error are carried by that state message.
func (cs *ClientSession) reportControlError(action string, err error) {
	switch {
	case errors.Is(err, tutor.ErrInvalidTransition), errors.Is(err, tutor.ErrNotTextMode),
		errors.Is(err, tutor.ErrClosed):
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidState, err.Error()))
	case errors.Is(err, tutor.ErrSuperseded), errors.Is(err, context.Canceled):
	default:
		log.Printf("⚠️ [%s] %s failed: %v", cs.short(), action, err)
	}
}

func (cs *ClientSession) sendText(text string) {
	c := cs.Controller()
	reply, err := c.SendText(cs.ctx, text)
	switch {
	case err == nil:
		cs.queueMessage(messages.NewChatMessage(cs.ID, chatPayload(reply)))
	case errors.Is(err, tutor.ErrEmptyMessage), errors.Is(err, tutor.ErrTurnInFlight):
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
	case reply.Error:
		// the failed turn stays in the log as a visible notice
		cs.queueMessage(messages.NewChatMessage(cs.ID, chatPayload(reply)))
		cs.queueMessage(messages.NewFailureMessage(cs.ID, err))
	default:
		cs.reportControlError("text", err)
	}
}

// setLesson replaces the lesson. Only allowed before any session started.
func (cs *ClientSession) setLesson(p messages.LessonPayload) {
	lesson, err := LessonFrom(p.Topic, p.Context, p.Language)
	if err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
		return
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	old := cs.controller
	if old.State() != tutor.StatePre {
		cs.mu.Unlock()
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidState,
			"lesson can only change before the session starts"))
		return
	}
	cs.lesson = lesson
	cs.controller = cs.newController(lesson)
	cs.mu.Unlock()

	old.Close()
	log.Printf("📚 [%s] Lesson set: %s", cs.short(), lesson.Topic)
	cs.queueMessage(messages.NewStatusMessage(cs.ID, "lesson", lesson.Topic))
}
