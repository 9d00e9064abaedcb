package tutor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/gemini"
)

const (
	DefaultMicTimeout = 10 * time.Second
	DefaultQueueSize  = 32
)

var ErrSessionClosed = errors.New("tutor session is closed")

// Microphone is an exclusively owned capture device. Start may block until
// the user grants access; ctx bounds only that wait. Frames are delivered
// sequentially until Close.
type Microphone interface {
	Start(ctx context.Context, onFrame func(audio.Frame)) error
	Close() error
}

// Conn is an open realtime connection to the model
type Conn interface {
	SendAudio(frame audio.Frame) error
	Events() <-chan gemini.Event
	Err() error
	Close() error
}

// Dialer opens realtime connections for a lesson
type Dialer interface {
	Dial(ctx context.Context, lesson LessonConfig) (Conn, error)
}

// VoiceConfig tunes a voice session
type VoiceConfig struct {
	MicTimeout time.Duration
	QueueSize  int
	// OnText receives text parts of the model's turns
	OnText func(string)
}

// VoiceStats counts what happened to captured frames
type VoiceStats struct {
	Sent    int64 `json:"sent"`
	Muted   int64 `json:"muted"`
	Dropped int64 `json:"dropped"`
}

// VoiceSession streams microphone audio to the model and plays its answers.
// It owns its microphone, output and connection; Close releases all three.
type VoiceSession struct {
	lesson LessonConfig
	mic    Microphone
	out    Output
	dialer Dialer
	sched  *Scheduler
	cfg    VoiceConfig

	frames    chan audio.Frame
	muted     atomic.Bool
	connected atomic.Bool

	sent    atomic.Int64
	dropped atomic.Int64
	mutedN  atomic.Int64

	runCtx context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    Conn
	micOpen bool
	stopped chan struct{}
	closed  bool

	finishOnce sync.Once
	done       chan struct{}
	err        error
}

// NewVoiceSession creates a session. Nothing is acquired until Open.
func NewVoiceSession(lesson LessonConfig, mic Microphone, out Output, dialer Dialer, cfg VoiceConfig) *VoiceSession {
	if cfg.MicTimeout <= 0 {
		cfg.MicTimeout = DefaultMicTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &VoiceSession{
		lesson: lesson,
		mic:    mic,
		out:    out,
		dialer: dialer,
		sched:  NewScheduler(out),
		cfg:    cfg,
		frames: make(chan audio.Frame, cfg.QueueSize),
		runCtx: runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Scheduler exposes the playback schedule
func (s *VoiceSession) Scheduler() *Scheduler {
	return s.sched
}

// SetMuted toggles the microphone. Frames captured while muted are dropped.
func (s *VoiceSession) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// Muted reports the current mute flag
func (s *VoiceSession) Muted() bool {
	return s.muted.Load()
}

// Stats returns frame counters
func (s *VoiceSession) Stats() VoiceStats {
	return VoiceStats{Sent: s.sent.Load(), Muted: s.mutedN.Load(), Dropped: s.dropped.Load()}
}

// Done is closed when the session ends, by Close or by a failure
func (s *VoiceSession) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the session, nil if it was closed
func (s *VoiceSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Open acquires the microphone within MicTimeout, then dials the model.
// Close may be called concurrently and makes Open return ErrSessionClosed.
func (s *VoiceSession) Open(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(s.runCtx, stop)
	defer unregister()

	if err := s.acquireMic(ctx); err != nil {
		return s.openFailed(err)
	}

	conn, err := s.dialer.Dial(ctx, s.lesson)
	if err != nil {
		return s.openFailed(asKind(failure.Connection, "tutor.Dial", err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(s.runCtx)
	g.Go(func() error { return s.pump(gctx, conn) })
	g.Go(func() error { return s.receive(gctx, conn) })
	go func() {
		err := g.Wait()
		close(stopped)
		s.finish(err)
	}()

	s.connected.Store(true)
	return nil
}

func (s *VoiceSession) openFailed(err error) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return err
}

// acquireMic starts capture, giving up after MicTimeout. A Start call that
// returns after the deadline has its device released.
func (s *VoiceSession) acquireMic(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MicTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- s.mic.Start(ctx, s.onFrame)
	}()

	select {
	case err := <-result:
		if err != nil {
			return asKind(failure.DeviceUnavailable, "tutor.Microphone", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			s.mic.Close()
			return ErrSessionClosed
		}
		s.micOpen = true
		return nil
	case <-ctx.Done():
		go func() {
			if err := <-result; err == nil {
				s.mic.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure.New(failure.DeviceUnavailable, "tutor.Microphone",
				fmt.Errorf("no microphone access after %s", s.cfg.MicTimeout))
		}
		return ctx.Err()
	}
}

// onFrame runs on the capture callback. It never blocks.
func (s *VoiceSession) onFrame(frame audio.Frame) {
	if s.muted.Load() {
		s.mutedN.Add(1)
		return
	}
	if !s.connected.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

// pump sends queued frames in capture order
func (s *VoiceSession) pump(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.frames:
			if err := conn.SendAudio(frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return asKind(failure.Connection, "tutor.SendAudio", err)
			}
			s.sent.Add(1)
		}
	}
}

// receive turns inbound events into playback
func (s *VoiceSession) receive(ctx context.Context, conn Conn) error {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := conn.Err(); err != nil {
					return asKind(failure.Connection, "tutor.Receive", err)
				}
				return failure.Newf(failure.Connection, "tutor.Receive", "connection closed by server")
			}
			s.handle(ev)
		}
	}
}

func (s *VoiceSession) handle(ev gemini.Event) {
	switch ev.Kind {
	case gemini.EventAudio:
		buf := audio.PCM16ToFloat(ev.Audio, audio.OutputSampleRate, 1)
		s.sched.Schedule(buf)
	case gemini.EventInterrupted:
		s.sched.Interrupt()
	case gemini.EventText:
		if s.cfg.OnText != nil {
			s.cfg.OnText(ev.Text)
		}
	}
}

func (s *VoiceSession) finish(err error) {
	s.finishOnce.Do(func() {
		if err != nil {
			log.Printf("❌ Voice session failed: %v", err)
		}
		s.err = err
		s.cancel()
		close(s.done)
	})
}

// Close ends the session and releases the microphone, the output and the
// connection. It is safe from any state and more than once.
func (s *VoiceSession) Close() error {
	s.finish(nil)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	micOpen := s.micOpen
	stopped := s.stopped
	s.mu.Unlock()

	s.connected.Store(false)

	var errs []error
	if micOpen {
		errs = append(errs, s.mic.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	if stopped != nil {
		<-stopped
	}
	s.sched.Interrupt()
	errs = append(errs, s.out.Close())
	return errors.Join(errs...)
}

// asKind classifies err unless it already carries a kind or is a cancellation
func asKind(kind failure.Kind, op string, err error) error {
	if errors.Is(err, context.Canceled) || failure.KindOf(err) != failure.Unknown {
		return err
	}
	return failure.New(kind, op, err)
}
