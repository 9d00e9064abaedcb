package tutor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/gemini"
)

func openSession(t *testing.T) (*VoiceSession, *fakeMic, *fakeOutput, *fakeConn) {
	t.Helper()
	mic, out, conn := &fakeMic{}, &fakeOutput{}, newFakeConn()
	vs := NewVoiceSession(testLesson, mic, out, &fakeDialer{conn: conn}, VoiceConfig{})
	if err := vs.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { vs.Close() })
	return vs, mic, out, conn
}

func TestFramesAreSentInCaptureOrder(t *testing.T) {
	_, mic, _, conn := openSession(t)

	for i := int16(1); i <= 10; i++ {
		mic.emit(i)
	}
	for i := int16(1); i <= 10; i++ {
		if got := recvFrame(t, conn.sent).Samples[0]; got != i {
			t.Fatalf("frame %d arrived as %d", i, got)
		}
	}
}

func TestMutedFramesAreDroppedNotBuffered(t *testing.T) {
	vs, mic, _, conn := openSession(t)

	vs.SetMuted(true)
	mic.emit(1)
	mic.emit(2)
	assertNoFrame(t, conn.sent)

	vs.SetMuted(false)
	mic.emit(3)
	if got := recvFrame(t, conn.sent).Samples[0]; got != 3 {
		t.Errorf("first frame after unmute = %d, want 3", got)
	}
	assertNoFrame(t, conn.sent)

	if st := vs.Stats(); st.Muted != 2 || st.Sent != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFramesBeforeConnectionAreDropped(t *testing.T) {
	mic, out, conn := &fakeMic{}, &fakeOutput{}, newFakeConn()
	dialer := &fakeDialer{conn: conn, gate: make(chan struct{}), dialing: make(chan struct{})}
	vs := NewVoiceSession(testLesson, mic, out, dialer, VoiceConfig{})
	defer vs.Close()

	opened := make(chan error, 1)
	go func() { opened <- vs.Open(context.Background()) }()

	<-dialer.dialing
	mic.emit(1)
	mic.emit(2)
	close(dialer.gate)
	if err := <-opened; err != nil {
		t.Fatal(err)
	}

	mic.emit(3)
	if got := recvFrame(t, conn.sent).Samples[0]; got != 3 {
		t.Errorf("first sent frame = %d, want 3", got)
	}
	if vs.Stats().Dropped != 2 {
		t.Errorf("dropped = %d", vs.Stats().Dropped)
	}
}

func TestInboundAudioIsScheduledAndInterruptClears(t *testing.T) {
	vs, _, out, conn := openSession(t)

	pcm := make([]byte, 2*2400) // 100ms at 24 kHz
	conn.events <- gemini.Event{Kind: gemini.EventAudio, Audio: pcm}
	conn.events <- gemini.Event{Kind: gemini.EventAudio, Audio: pcm}
	waitFor(t, "two scheduled chunks", func() bool { return len(vs.Scheduler().Live()) == 2 })

	if vs.Scheduler().NextStart() != 200*time.Millisecond {
		t.Errorf("next start = %v", vs.Scheduler().NextStart())
	}

	conn.events <- gemini.Event{Kind: gemini.EventInterrupted}
	waitFor(t, "interrupt", func() bool { return len(vs.Scheduler().Live()) == 0 })
	for _, v := range out.played() {
		if !v.stopped.Load() {
			t.Error("buffer kept playing after interrupt")
		}
	}
}

func TestMicrophoneFailureIsDeviceUnavailable(t *testing.T) {
	dialer := &fakeDialer{conn: newFakeConn()}
	vs := NewVoiceSession(testLesson, &fakeMic{startErr: errDenied}, &fakeOutput{}, dialer, VoiceConfig{})
	defer vs.Close()

	err := vs.Open(context.Background())
	if !errors.Is(err, failure.ErrDeviceUnavailable) || !errors.Is(err, errDenied) {
		t.Fatalf("err = %v", err)
	}
	if dialer.calls.Load() != 0 {
		t.Error("dialed without a microphone")
	}
}

func TestMicrophoneWaitIsBounded(t *testing.T) {
	mic := &fakeMic{gate: make(chan struct{})}
	vs := NewVoiceSession(testLesson, mic, &fakeOutput{}, &fakeDialer{conn: newFakeConn()},
		VoiceConfig{MicTimeout: 20 * time.Millisecond})
	defer vs.Close()

	err := vs.Open(context.Background())
	if !errors.Is(err, failure.ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}

	// the prompt is answered late: the device must not leak
	close(mic.gate)
	waitFor(t, "late microphone release", mic.isClosed)
}

func TestDialFailureIsConnection(t *testing.T) {
	mic := &fakeMic{}
	vs := NewVoiceSession(testLesson, mic, &fakeOutput{}, &fakeDialer{err: errors.New("handshake failed")}, VoiceConfig{})

	err := vs.Open(context.Background())
	if !errors.Is(err, failure.ErrConnection) {
		t.Fatalf("err = %v", err)
	}
	vs.Close()
	if !mic.isClosed() {
		t.Error("microphone not released after failed dial")
	}
}

func TestConnectionDropEndsSession(t *testing.T) {
	vs, _, _, conn := openSession(t)

	conn.drop(errors.New("websocket: close 1011"))
	select {
	case <-vs.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	if !errors.Is(vs.Err(), failure.ErrConnection) {
		t.Errorf("err = %v", vs.Err())
	}
}

func TestSendFailureEndsSession(t *testing.T) {
	mic, conn := &fakeMic{}, newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	vs := NewVoiceSession(testLesson, mic, &fakeOutput{}, &fakeDialer{conn: conn}, VoiceConfig{})
	defer vs.Close()
	if err := vs.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	mic.emit(1)
	<-vs.Done()
	if !errors.Is(vs.Err(), failure.ErrConnection) {
		t.Errorf("err = %v", vs.Err())
	}
}

func TestCloseReleasesEverythingOnce(t *testing.T) {
	vs, mic, out, conn := openSession(t)

	if err := vs.Close(); err != nil {
		t.Fatal(err)
	}
	if !mic.isClosed() || !out.isClosed() || !conn.isClosed() {
		t.Errorf("mic %v out %v conn %v", mic.isClosed(), out.isClosed(), conn.isClosed())
	}
	if vs.Err() != nil {
		t.Errorf("clean close reported %v", vs.Err())
	}
	if err := vs.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestCloseDuringOpen(t *testing.T) {
	mic, out := &fakeMic{gate: make(chan struct{})}, &fakeOutput{}
	vs := NewVoiceSession(testLesson, mic, out, &fakeDialer{conn: newFakeConn()}, VoiceConfig{})

	opened := make(chan error, 1)
	go func() { opened <- vs.Open(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	vs.Close()
	if err := <-opened; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("open err = %v", err)
	}

	close(mic.gate)
	waitFor(t, "microphone release", mic.isClosed)
	if !out.isClosed() {
		t.Error("output not released")
	}
}

func TestDecodedChunkDuration(t *testing.T) {
	buf := audio.PCM16ToFloat(make([]byte, 4800), audio.OutputSampleRate, 1)
	if buf.Duration() != 100*time.Millisecond {
		t.Errorf("duration = %v", buf.Duration())
	}
}
