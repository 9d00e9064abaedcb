package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/config"
	"github.com/room4-2/studytutor/gemini"
	"github.com/room4-2/studytutor/tutor"
)

type liveConn struct {
	sent   chan audio.Frame
	events chan gemini.Event
	once   sync.Once
}

func newLiveConn() *liveConn {
	return &liveConn{sent: make(chan audio.Frame, 16), events: make(chan gemini.Event, 16)}
}

func (c *liveConn) SendAudio(f audio.Frame) error {
	c.sent <- f
	return nil
}

func (c *liveConn) Events() <-chan gemini.Event { return c.events }
func (c *liveConn) Err() error                  { return nil }

func (c *liveConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

type liveDialer struct {
	conn *liveConn
}

func (d liveDialer) Dial(context.Context, tutor.LessonConfig) (tutor.Conn, error) {
	return d.conn, nil
}

type echoChatter struct{}

func (echoChatter) ChatTurn(_ context.Context, _ tutor.LessonConfig, _ []tutor.ChatMessage, text string) (string, error) {
	return "echo: " + text, nil
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type statePayload struct {
	State      string   `json:"state"`
	Code       string   `json:"code"`
	Recoveries []string `json:"recoveries"`
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	sm   *Manager
}

func newTestClient(t *testing.T, opts Options) *testClient {
	t.Helper()
	cfg := &config.Config{MaxSessions: 4, SessionTimeout: time.Minute, MaxBufferSize: 64 * 1024}
	sm := NewManager(cfg, opts)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		lesson, _ := LessonFrom("Fotossíntese", "luz e clorofila", "pt")
		cs, err := sm.CreateSession(r.Context(), conn, lesson)
		if err != nil {
			conn.Close()
			return
		}
		cs.Start()
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(sm.Shutdown)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, sm: sm}
}

func (c *testClient) send(msgType string, payload any) {
	c.t.Helper()
	raw, _ := json.Marshal(payload)
	if err := c.conn.WriteJSON(map[string]any{"type": msgType, "payload": json.RawMessage(raw)}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) control(action string) {
	c.send("control", map[string]string{"action": action})
}

// next reads until a message of type want arrives
func (c *testClient) next(want string) wireMessage {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

// nextState reads until the given state is reported
func (c *testClient) nextState(want string) statePayload {
	c.t.Helper()
	for {
		var p statePayload
		json.Unmarshal(c.next("state").Payload, &p)
		if p.State == want {
			return p
		}
	}
}

func TestSessionStartsInPre(t *testing.T) {
	c := newTestClient(t, Options{})
	c.next("status")
	c.nextState("pre")
	if n := c.sm.GetActiveSessionCount(); n != 1 {
		t.Errorf("sessions = %d", n)
	}
}

func TestSessionVoiceWithoutCredentialReportsAuthentication(t *testing.T) {
	c := newTestClient(t, Options{HasCredential: func() bool { return false }})
	c.nextState("pre")
	c.control("start_voice")

	p := c.nextState("error")
	if p.Code != "AUTHENTICATION_ERROR" {
		t.Errorf("code = %q", p.Code)
	}
	if len(p.Recoveries) != 3 {
		t.Errorf("recoveries = %v", p.Recoveries)
	}

	c.control("fallback_text")
	c.nextState("active-text")
	var greeting struct{ Role, Text string }
	json.Unmarshal(c.next("chat").Payload, &greeting)
	if greeting.Role != tutor.RoleModel || !strings.Contains(greeting.Text, "Fotossíntese") {
		t.Errorf("greeting = %+v", greeting)
	}
}

func TestSessionTextChat(t *testing.T) {
	c := newTestClient(t, Options{Chatter: echoChatter{}})
	c.nextState("pre")
	c.control("start_text")
	c.nextState("active-text")
	c.next("chat") // greeting

	c.send("text", map[string]string{"text": "o que é clorofila?"})
	var reply struct{ Role, Text string }
	json.Unmarshal(c.next("chat").Payload, &reply)
	if reply.Text != "echo: o que é clorofila?" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestSessionVoiceRelaysAudio(t *testing.T) {
	conn := newLiveConn()
	c := newTestClient(t, Options{
		HasCredential: func() bool { return true },
		Dialer:        liveDialer{conn: conn},
	})
	c.nextState("pre")
	c.control("start_voice")
	c.nextState("active-voice")

	// one full frame of client audio
	pcm := make([]byte, audio.FrameSamples*2)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-conn.sent:
		if len(f.Samples) != audio.FrameSamples {
			t.Errorf("frame samples = %d", len(f.Samples))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("frame never reached the model")
	}

	// one second of audio, still playing when the interruption arrives
	samples := make([]int16, 24000)
	for i := range samples {
		samples[i] = []int16{32767, 1000, 1, -1, -32768}[i%5]
	}
	model := audio.Int16ToBytes(samples)
	conn.events <- gemini.Event{Kind: gemini.EventAudio, Audio: model}
	var out struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	}
	json.Unmarshal(c.next("audio").Payload, &out)
	if out.MimeType != audio.OutputMIMEType {
		t.Errorf("mime type = %s", out.MimeType)
	}
	if got := audio.DecodeFromTransport(out.Data); !bytes.Equal(got, model) {
		t.Errorf("audio forwarded with %d bytes, not the model's %d bytes verbatim", len(got), len(model))
	}

	conn.events <- gemini.Event{Kind: gemini.EventInterrupted}
	c.next("interrupt")

	c.control("reset")
	c.nextState("pre")
}

func TestSessionLessonOnlyBeforeStart(t *testing.T) {
	c := newTestClient(t, Options{Chatter: echoChatter{}})
	c.nextState("pre")

	c.send("lesson", map[string]string{"topic": "Mitose", "language": "en"})
	var status struct{ Status, Message string }
	json.Unmarshal(c.next("status").Payload, &status)
	for status.Status != "lesson" {
		json.Unmarshal(c.next("status").Payload, &status)
	}
	if status.Message != "Mitose" {
		t.Errorf("lesson = %q", status.Message)
	}

	c.control("start_text")
	c.nextState("active-text")
	var greeting struct{ Text string }
	json.Unmarshal(c.next("chat").Payload, &greeting)
	if !strings.Contains(greeting.Text, "Mitose") {
		t.Errorf("greeting = %q", greeting.Text)
	}

	c.send("lesson", map[string]string{"topic": "Meiose"})
	var e struct{ Code string }
	json.Unmarshal(c.next("error").Payload, &e)
	if e.Code != "INVALID_STATE" {
		t.Errorf("code = %q", e.Code)
	}
}

func TestSessionInvalidMessages(t *testing.T) {
	c := newTestClient(t, Options{})
	c.nextState("pre")

	c.conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	var e struct{ Code string }
	json.Unmarshal(c.next("error").Payload, &e)
	if e.Code != "INVALID_MESSAGE" {
		t.Errorf("code = %q", e.Code)
	}

	c.control("fallback_text")
	json.Unmarshal(c.next("error").Payload, &e)
	if e.Code != "INVALID_STATE" {
		t.Errorf("code = %q", e.Code)
	}
}

func TestManagerMaxSessions(t *testing.T) {
	cfg := &config.Config{MaxSessions: 0, SessionTimeout: time.Minute}
	sm := NewManager(cfg, Options{})
	if _, err := sm.CreateSession(context.Background(), nil, tutor.LessonConfig{}); err != ErrTooManySessions {
		t.Errorf("err = %v", err)
	}
}

func TestLessonFrom(t *testing.T) {
	if _, err := LessonFrom("  ", "", ""); err == nil {
		t.Error("expected error for empty topic")
	}
	l, err := LessonFrom(" Mitose ", "", "EN")
	if err != nil || l.Topic != "Mitose" || l.Language != "en" {
		t.Errorf("lesson = %+v, %v", l, err)
	}
}

func TestStaleMicCloseKeepsNewSink(t *testing.T) {
	cs := &ClientSession{assembler: audio.NewFrameAssembler(audio.InputSampleRate, audio.FrameSamples, 64*1024)}
	ctx := context.Background()

	var oldFrames, newFrames int
	old := &remoteMic{cs: cs}
	if err := old.Start(ctx, func(audio.Frame) { oldFrames++ }); err != nil {
		t.Fatal(err)
	}
	retry := &remoteMic{cs: cs}
	if err := retry.Start(ctx, func(audio.Frame) { newFrames++ }); err != nil {
		t.Fatal(err)
	}

	// the failed session releases its microphone after the retry started
	old.Close()
	cs.feedAudio(make([]byte, audio.FrameSamples*2))
	if newFrames != 1 || oldFrames != 0 {
		t.Fatalf("frames old=%d new=%d", oldFrames, newFrames)
	}

	retry.Close()
	cs.feedAudio(make([]byte, audio.FrameSamples*2))
	if newFrames != 1 {
		t.Errorf("frames delivered after close: %d", newFrames)
	}
}
