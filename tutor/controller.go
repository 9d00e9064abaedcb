// Package tutor runs live tutoring sessions: a voice session streaming to the
// model, a text chat fallback, and the controller that moves between them.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/room4-2/studytutor/failure"
)

// State is the controller state
type State string

const (
	StatePre         State = "pre"
	StateConnecting  State = "connecting"
	StateActiveVoice State = "active-voice"
	StateActiveText  State = "active-text"
	StateError       State = "error"
	StateClosed      State = "closed"
)

// Recovery is an action the user can take from the error state
type Recovery string

const (
	RecoverRetryVoice Recovery = "retry-voice"
	RecoverText       Recovery = "text"
	RecoverReset      Recovery = "reset"
)

var (
	ErrInvalidTransition = errors.New("invalid tutor state transition")
	ErrNotTextMode       = errors.New("tutor is not in text mode")
	ErrClosed            = errors.New("tutor is closed")
	ErrSuperseded        = errors.New("voice start was superseded by reset or close")
)

// StateChange is published on every transition
type StateChange struct {
	From  State
	To    State
	Cause error
}

// ControllerConfig wires a controller
type ControllerConfig struct {
	Lesson        LessonConfig
	HasCredential func() bool
	Dialer        Dialer
	Chatter       Chatter
	// NewMicrophone and NewOutput create the devices of each voice session
	NewMicrophone func() (Microphone, error)
	NewOutput     func() (Output, error)
	MicTimeout    time.Duration
	OnText        func(string)
}

// Controller is the tutor state machine. Voice is only entered through
// connecting and is never re-entered automatically after an error.
type Controller struct {
	cfg ControllerConfig

	mu     sync.Mutex
	state  State
	cause  error
	muted  bool
	gen    uint64
	voice  *VoiceSession
	text   *TextSession
	subs   map[int]chan StateChange
	nextID int
}

// NewController creates a controller in the pre state
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:   cfg,
		state: StatePre,
		subs:  make(map[int]chan StateChange),
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cause returns the failure behind the error state, nil otherwise
func (c *Controller) Cause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Muted reports the mute flag
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Recoveries lists what the user can do from the current state
func (c *Controller) Recoveries() []Recovery {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateError {
		return nil
	}
	return []Recovery{RecoverRetryVoice, RecoverText, RecoverReset}
}

// Voice returns the active voice session, if any
func (c *Controller) Voice() *VoiceSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// Messages returns the text session log
func (c *Controller) Messages() []ChatMessage {
	c.mu.Lock()
	text := c.text
	c.mu.Unlock()
	if text == nil {
		return nil
	}
	return text.Messages()
}

// Subscribe returns a channel of state changes and a func to stop receiving.
// Slow subscribers miss changes rather than block the controller.
func (c *Controller) Subscribe() (<-chan StateChange, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan StateChange, 16)
	if c.state == StateClosed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// setState must be called with mu held
func (c *Controller) setState(to State, cause error) {
	from := c.state
	c.state = to
	c.cause = cause
	if cause != nil {
		log.Printf("⚠️ Tutor %s -> %s: %v", from, to, cause)
	} else {
		log.Printf("🔧 Tutor %s -> %s", from, to)
	}

	change := StateChange{From: from, To: to, Cause: cause}
	for _, ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// detach takes the current sessions out of the controller. The caller closes
// the returned voice session outside the lock. Must be called with mu held.
func (c *Controller) detach() *VoiceSession {
	vs := c.voice
	c.voice = nil
	c.text = nil
	c.gen++
	return vs
}

func closeVoice(vs *VoiceSession) {
	if vs == nil {
		return
	}
	if err := vs.Close(); err != nil {
		log.Printf("⚠️ Error releasing voice session: %v", err)
	}
}

// StartVoice moves pre (or error, as a user retry) to connecting and then to
// active-voice or error. It returns the cause when the attempt fails.
func (c *Controller) StartVoice(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StatePre, StateError:
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: start voice from %s", ErrInvalidTransition, c.state)
	}
	prev := c.detach()

	if c.cfg.HasCredential == nil || !c.cfg.HasCredential() {
		cause := failure.New(failure.Authentication, "tutor.StartVoice", failure.ErrMissingCredential)
		c.setState(StateError, cause)
		c.mu.Unlock()
		closeVoice(prev)
		return cause
	}

	c.setState(StateConnecting, nil)
	gen := c.gen
	muted := c.muted
	c.mu.Unlock()

	// previous devices are released before new ones are opened
	closeVoice(prev)

	vs, err := c.newVoiceSession()
	if err == nil {
		vs.SetMuted(muted)
		c.mu.Lock()
		if c.gen != gen {
			// closed or reset while the devices were being created
			c.mu.Unlock()
			closeVoice(vs)
			return ErrSuperseded
		}
		c.voice = vs
		c.mu.Unlock()
		err = vs.Open(ctx)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		closeVoice(vs)
		return ErrSuperseded
	}
	if err != nil {
		c.voice = nil
		c.setState(StateError, err)
		c.mu.Unlock()
		closeVoice(vs)
		return err
	}
	c.setState(StateActiveVoice, nil)
	c.mu.Unlock()

	go c.watch(gen, vs)
	return nil
}

func (c *Controller) newVoiceSession() (*VoiceSession, error) {
	if c.cfg.NewMicrophone == nil || c.cfg.NewOutput == nil || c.cfg.Dialer == nil {
		return nil, failure.Newf(failure.DeviceUnavailable, "tutor.StartVoice", "voice is not configured")
	}
	mic, err := c.cfg.NewMicrophone()
	if err != nil {
		return nil, asKind(failure.DeviceUnavailable, "tutor.Microphone", err)
	}
	out, err := c.cfg.NewOutput()
	if err != nil {
		mic.Close()
		return nil, asKind(failure.DeviceUnavailable, "tutor.Output", err)
	}
	return NewVoiceSession(c.cfg.Lesson, mic, out, c.cfg.Dialer, VoiceConfig{
		MicTimeout: c.cfg.MicTimeout,
		OnText:     c.cfg.OnText,
	}), nil
}

// watch moves active-voice to error when the session fails on its own
func (c *Controller) watch(gen uint64, vs *VoiceSession) {
	<-vs.Done()
	err := vs.Err()
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateActiveVoice {
		c.mu.Unlock()
		return
	}
	c.voice = nil
	c.setState(StateError, err)
	c.mu.Unlock()

	closeVoice(vs)
}

// StartText moves pre directly to active-text
func (c *Controller) StartText() error {
	return c.enterText(StatePre)
}

// FallbackToText moves error to active-text with a seeded greeting
func (c *Controller) FallbackToText() error {
	return c.enterText(StateError)
}

func (c *Controller) enterText(from State) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: text from %s", ErrInvalidTransition, state)
	}
	if c.cfg.Chatter == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: text chat is not configured", ErrInvalidTransition)
	}
	prev := c.detach()
	c.text = NewTextSession(c.cfg.Lesson, c.cfg.Chatter)
	c.setState(StateActiveText, nil)
	c.mu.Unlock()

	closeVoice(prev)
	return nil
}

// SendText submits a chat turn in active-text
func (c *Controller) SendText(ctx context.Context, text string) (ChatMessage, error) {
	c.mu.Lock()
	ts := c.text
	state := c.state
	c.mu.Unlock()

	if state == StateClosed {
		return ChatMessage{}, ErrClosed
	}
	if state != StateActiveText || ts == nil {
		return ChatMessage{}, ErrNotTextMode
	}
	return ts.Send(ctx, text)
}

// SetMuted sets the mute flag, applied to the current and future voice sessions
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	c.muted = muted
	if c.voice != nil {
		c.voice.SetMuted(muted)
	}
	return nil
}

// Reset discards all session data and returns to pre
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.detach()
	c.muted = false
	c.setState(StatePre, nil)
	c.mu.Unlock()

	closeVoice(prev)
	return nil
}

// Close releases every resource and ends the controller. Safe to call twice.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.detach()
	c.setState(StateClosed, nil)
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	closeVoice(prev)
	return nil
}
