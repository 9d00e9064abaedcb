package audio

import (
	"encoding/binary"
	"sync"
	"time"
)

// Timeline is a mono PCM16 output track addressed by absolute sample index.
// Writers place audio at a position, a pull-based player drains it through Read
// and hears silence wherever nothing is placed.
type Timeline struct {
	sampleRate int

	mu     sync.Mutex
	played int64   // samples handed to the player so far
	track  []int16 // unplayed samples starting at index played
}

// NewTimeline creates an empty timeline at the given rate
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{sampleRate: sampleRate}
}

// SampleRate returns the timeline rate
func (t *Timeline) SampleRate() int {
	return t.sampleRate
}

// Position returns the number of samples already read by the player
func (t *Timeline) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.played
}

// Elapsed returns Position as a duration
func (t *Timeline) Elapsed() time.Duration {
	return t.SampleToDuration(t.Position())
}

// DurationToSample converts a timeline offset into a sample index, rounding
// to the nearest sample so it inverts SampleToDuration exactly
func (t *Timeline) DurationToSample(d time.Duration) int64 {
	return (int64(d)*int64(t.sampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// SampleToDuration converts a sample index into a timeline offset
func (t *Timeline) SampleToDuration(n int64) time.Duration {
	if t.sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(t.sampleRate)
}

// Write places samples starting at absolute index at, overwriting what is there.
// The part that falls before the play cursor is discarded.
func (t *Timeline) Write(at int64, samples []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at < t.played {
		skip := t.played - at
		if skip >= int64(len(samples)) {
			return
		}
		samples = samples[skip:]
		at = t.played
	}

	off := int(at - t.played)
	if need := off + len(samples); need > len(t.track) {
		t.track = append(t.track, make([]int16, need-len(t.track))...)
	}
	copy(t.track[off:], samples)
}

// Silence zeroes the unplayed part of [from, to)
func (t *Timeline) Silence(from, to int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if from < t.played {
		from = t.played
	}
	end := t.played + int64(len(t.track))
	if to > end {
		to = end
	}
	for i := from; i < to; i++ {
		t.track[i-t.played] = 0
	}

	// Trim trailing silence so an idle track does not keep growing
	n := len(t.track)
	for n > 0 && t.track[n-1] == 0 {
		n--
	}
	t.track = t.track[:n]
}

// Queued returns the number of unplayed samples on the track
func (t *Timeline) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.track)
}

// Read implements io.Reader for the player. It never blocks and always fills p
// (rounded down to whole samples), padding with silence.
func (t *Timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p) / 2
	for i := 0; i < n; i++ {
		var s int16
		if i < len(t.track) {
			s = t.track[i]
		}
		binary.LittleEndian.PutUint16(p[i*2:], uint16(s))
	}

	if n >= len(t.track) {
		t.track = t.track[:0]
	} else {
		t.track = t.track[n:]
	}
	t.played += int64(n)
	return n * 2, nil
}
