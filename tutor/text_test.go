package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/room4-2/studytutor/failure"
	"github.com/room4-2/studytutor/study"
)

func TestTextSessionSeedsLocalizedGreeting(t *testing.T) {
	pt := NewTextSession(testLesson, &fakeChatter{}).Messages()
	en := NewTextSession(LessonConfig{Topic: "Photosynthesis", Language: study.English}, &fakeChatter{}).Messages()

	if len(pt) != 1 || pt[0].Role != RoleModel || pt[0].Text != Greeting(testLesson) {
		t.Errorf("pt log = %+v", pt)
	}
	if len(en) != 1 || en[0].Text == pt[0].Text {
		t.Errorf("en log = %+v", en)
	}
}

func TestTextSessionTurn(t *testing.T) {
	chat := &fakeChatter{reply: "A clorofila absorve luz."}
	s := NewTextSession(testLesson, chat)

	msg, err := s.Send(context.Background(), "  O que é clorofila?  ")
	if err != nil || msg.Text != chat.reply {
		t.Fatalf("send = %+v, %v", msg, err)
	}

	log := s.Messages()
	if len(log) != 3 || log[1].Role != RoleUser || log[1].Text != "O que é clorofila?" || log[2].Role != RoleModel {
		t.Errorf("log = %+v", log)
	}
	if len(chat.history[0]) != 1 {
		t.Errorf("history sent = %+v", chat.history[0])
	}

	if _, err := s.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank err = %v", err)
	}
}

func TestTextSessionRejectsConcurrentTurn(t *testing.T) {
	chat := &fakeChatter{reply: "ok", block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewTextSession(testLesson, chat)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "primeira")
		done <- err
	}()
	<-chat.entered

	if _, err := s.Send(context.Background(), "segunda"); !errors.Is(err, ErrTurnInFlight) {
		t.Errorf("second send err = %v", err)
	}
	close(chat.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// only the first turn reached the log
	if n := len(s.Messages()); n != 3 {
		t.Errorf("log length = %d", n)
	}
}

func TestTextSessionFailureIsVisibleAndRecoverable(t *testing.T) {
	chat := &fakeChatter{err: errors.New("503 overloaded")}
	s := NewTextSession(testLesson, chat)

	msg, err := s.Send(context.Background(), "oi")
	if !errors.Is(err, failure.ErrTransientService) {
		t.Fatalf("err = %v", err)
	}
	if !msg.Error || msg.Role != RoleModel {
		t.Errorf("error message = %+v", msg)
	}

	chat.err = nil
	chat.reply = "Voltei!"
	if _, err := s.Send(context.Background(), "oi de novo"); err != nil {
		t.Fatalf("session unusable after failure: %v", err)
	}
	// the failure notice is not part of the model's history
	for _, m := range chat.history[1] {
		if m.Error {
			t.Error("error notice sent to the model")
		}
	}
}
