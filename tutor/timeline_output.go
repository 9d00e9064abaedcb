package tutor

import (
	"io"
	"time"

	"github.com/room4-2/studytutor/audio"
)

// TimelineOutput is an Output over an audio.Timeline drained by a pull-based
// player. The clock is the amount of audio the player has consumed.
type TimelineOutput struct {
	tl     *audio.Timeline
	closer io.Closer
}

// NewTimelineOutput wraps tl. closer, if non-nil, stops the player on Close.
func NewTimelineOutput(tl *audio.Timeline, closer io.Closer) *TimelineOutput {
	return &TimelineOutput{tl: tl, closer: closer}
}

// Now implements Clock
func (o *TimelineOutput) Now() time.Duration {
	return o.tl.Elapsed()
}

type timelineVoice struct {
	tl       *audio.Timeline
	from, to int64
}

func (v timelineVoice) Stop() {
	v.tl.Silence(v.from, v.to)
}

// Play writes the first channel of buf onto the timeline at start
func (o *TimelineOutput) Play(start time.Duration, buf audio.Buffer) Voice {
	if len(buf.Channels) == 0 {
		return timelineVoice{tl: o.tl}
	}
	samples := buf.Mono16()
	at := o.tl.DurationToSample(start)
	o.tl.Write(at, samples)
	return timelineVoice{tl: o.tl, from: at, to: at + int64(len(samples))}
}

// Close stops the player
func (o *TimelineOutput) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}
