package tutor

import (
	"sync"
	"time"

	"github.com/room4-2/studytutor/audio"
)

// Clock is the output device's playback clock
type Clock interface {
	Now() time.Duration
}

// Voice is one buffer handed to the output device
type Voice interface {
	Stop()
}

// Output plays buffers at positions of its own clock
type Output interface {
	Clock
	Play(start time.Duration, buf audio.Buffer) Voice
	Close() error
}

// PlaybackEntry is a scheduled buffer
type PlaybackEntry struct {
	Start    time.Duration
	Duration time.Duration
	voice    Voice
}

// End is when the entry stops producing audio
func (e PlaybackEntry) End() time.Duration {
	return e.Start + e.Duration
}

// Scheduler queues inbound audio back to back on the output clock. Each new
// buffer starts at max(now, end of the last scheduled buffer), so chunks
// arriving at irregular intervals play without gaps and never overlap.
type Scheduler struct {
	out Output

	mu        sync.Mutex
	nextStart time.Duration
	live      []PlaybackEntry
}

// NewScheduler creates a scheduler over out
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{out: out, nextStart: out.Now()}
}

// Schedule appends buf after everything already queued
func (s *Scheduler) Schedule(buf audio.Buffer) PlaybackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.Now()
	s.reap(now)

	start := max(now, s.nextStart)
	entry := PlaybackEntry{Start: start, Duration: buf.Duration()}
	if entry.Duration == 0 {
		return entry
	}
	entry.voice = s.out.Play(start, buf)
	s.nextStart = entry.End()
	s.live = append(s.live, entry)
	return entry
}

// Interrupt stops every queued or playing buffer and rewinds the schedule to now
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.live {
		if e.voice != nil {
			e.voice.Stop()
		}
	}
	s.live = nil
	s.nextStart = s.out.Now()
}

// NextStart is where the next buffer would be placed if the clock stood still
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Live returns the entries that have not finished playing
func (s *Scheduler) Live() []PlaybackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(s.out.Now())
	return append([]PlaybackEntry(nil), s.live...)
}

// reap drops entries that finished playing
func (s *Scheduler) reap(now time.Duration) {
	n := 0
	for _, e := range s.live {
		if e.End() > now {
			s.live[n] = e
			n++
		}
	}
	clear(s.live[n:])
	s.live = s.live[:n]
}
