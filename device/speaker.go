package device

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/tutor"
)

// oto allows a single context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func speakerContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		// At 24kHz mono 16-bit: 4800 bytes = 100ms of audio
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.OutputSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   4800,
		})
		if err != nil {
			otoErr = fmt.Errorf("failed to init speaker: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

type playerCloser struct {
	player *oto.Player
}

func (p playerCloser) Close() error {
	p.player.Pause()
	return p.player.Close()
}

// NewSpeaker starts a player draining a fresh timeline. The returned output's
// clock advances as the sound card consumes audio.
func NewSpeaker() (*tutor.TimelineOutput, error) {
	ctx, err := speakerContext()
	if err != nil {
		return nil, err
	}
	tl := audio.NewTimeline(audio.OutputSampleRate)
	player := ctx.NewPlayer(tl)
	player.Play()
	return tutor.NewTimelineOutput(tl, playerCloser{player: player}), nil
}
