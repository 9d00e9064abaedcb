package audio

import (
	"testing"
	"time"
)

func readSamples(t *testing.T, tl *Timeline, n int) []int16 {
	t.Helper()
	p := make([]byte, n*2)
	got, err := tl.Read(p)
	if err != nil || got != len(p) {
		t.Fatalf("read = %d, %v", got, err)
	}
	return BytesToInt16(p)
}

func TestTimelineWriteAndRead(t *testing.T) {
	tl := NewTimeline(10)
	tl.Write(2, []int16{5, 6})

	got := readSamples(t, tl, 5)
	want := []int16{0, 0, 5, 6, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if tl.Position() != 5 {
		t.Errorf("position = %d", tl.Position())
	}
}

func TestTimelineWriteBeforeCursorIsClipped(t *testing.T) {
	tl := NewTimeline(10)
	readSamples(t, tl, 3)

	tl.Write(1, []int16{1, 2, 3, 4})
	got := readSamples(t, tl, 2)
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("got %v, want [3 4]", got)
	}
}

func TestTimelineSilence(t *testing.T) {
	tl := NewTimeline(10)
	tl.Write(0, []int16{1, 2, 3, 4})
	tl.Silence(2, 4)

	if q := tl.Queued(); q != 2 {
		t.Errorf("queued = %d, want 2 after trimming", q)
	}
	got := readSamples(t, tl, 4)
	if got[2] != 0 || got[3] != 0 || got[1] != 2 {
		t.Errorf("got %v", got)
	}
}

func TestTimelineDurationConversion(t *testing.T) {
	tl := NewTimeline(OutputSampleRate)
	if n := tl.DurationToSample(500 * time.Millisecond); n != 12000 {
		t.Errorf("samples = %d", n)
	}
	if d := tl.SampleToDuration(24000); d != time.Second {
		t.Errorf("duration = %v", d)
	}
	for _, n := range []int64{1, 7, 1001, 4097} {
		if got := tl.DurationToSample(tl.SampleToDuration(n)); got != n {
			t.Errorf("round trip %d -> %d", n, got)
		}
	}
}
