package tutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/gemini"
	"github.com/room4-2/studytutor/study"
)

var testLesson = LessonConfig{Topic: "Fotossíntese", Context: "Plantas convertem luz em energia.", Language: study.Portuguese}

// fakeOutput is an output device with a manually advanced clock
type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*fakeVoice
	closed bool
}

type fakeVoice struct {
	start, dur time.Duration
	stopped    atomic.Bool
}

func (v *fakeVoice) Stop() { v.stopped.Store(true) }

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
}

func (o *fakeOutput) Play(start time.Duration, buf audio.Buffer) Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{start: start, dur: buf.Duration()}
	o.voices = append(o.voices, v)
	return v
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *fakeOutput) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *fakeOutput) played() []*fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeVoice(nil), o.voices...)
}

// fakeMic delivers frames on demand. gate, when set, blocks Start until
// closed, ignoring ctx like an unanswered permission prompt.
type fakeMic struct {
	startErr error
	gate     chan struct{}

	mu      sync.Mutex
	onFrame func(audio.Frame)
	started bool
	closed  bool
}

func (m *fakeMic) Start(_ context.Context, onFrame func(audio.Frame)) error {
	if m.gate != nil {
		<-m.gate
	}
	if m.startErr != nil {
		return m.startErr
	}
	m.mu.Lock()
	m.onFrame = onFrame
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMic) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *fakeMic) emit(n int16) {
	m.mu.Lock()
	cb := m.onFrame
	m.mu.Unlock()
	if cb != nil {
		cb(frame(n))
	}
}

func frame(n int16) audio.Frame {
	return audio.Frame{SampleRate: audio.InputSampleRate, Channels: 1, Samples: []int16{n, n, n, n}}
}

// fakeConn records sent frames and lets tests push events
type fakeConn struct {
	sent    chan audio.Frame
	events  chan gemini.Event
	sendErr error

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sent:   make(chan audio.Frame, 64),
		events: make(chan gemini.Event, 64),
	}
}

func (c *fakeConn) SendAudio(f audio.Frame) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent <- f
	return nil
}

func (c *fakeConn) Events() <-chan gemini.Event { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

// drop simulates the server going away
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out one connection. gate, when set, holds Dial until closed
// and dialing is closed once Dial is entered.
type fakeDialer struct {
	conn    *fakeConn
	err     error
	gate    chan struct{}
	dialing chan struct{}
	calls   atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, _ LessonConfig) (Conn, error) {
	d.calls.Add(1)
	if d.dialing != nil {
		close(d.dialing)
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// fakeChatter answers with a canned reply; block holds the answer until closed
type fakeChatter struct {
	reply   string
	err     error
	block   chan struct{}
	entered chan struct{}
	history [][]ChatMessage
	mu      sync.Mutex
}

func (c *fakeChatter) ChatTurn(ctx context.Context, _ LessonConfig, history []ChatMessage, _ string) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, history)
	c.mu.Unlock()
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	return c.reply, c.err
}

var errDenied = errors.New("permission denied")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recvFrame(t *testing.T, ch <-chan audio.Frame) audio.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent frame")
		return audio.Frame{}
	}
}

func assertNoFrame(t *testing.T, ch <-chan audio.Frame) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected frame sent: %v", f.Samples[0])
	case <-time.After(30 * time.Millisecond):
	}
}
