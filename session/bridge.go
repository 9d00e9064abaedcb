package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/studytutor/audio"
	"github.com/room4-2/studytutor/messages"
	"github.com/room4-2/studytutor/tutor"
)

// remoteMic is the browser's microphone. The client only streams after the
// user granted access, so Start returns at once and frames flow as they arrive.
type remoteMic struct {
	cs   *ClientSession
	sink atomic.Uint64
}

func (m *remoteMic) Start(ctx context.Context, onFrame func(audio.Frame)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.cs.IsClosed() {
		return tutor.ErrSessionClosed
	}
	m.sink.Store(m.cs.setFrameSink(onFrame))
	return nil
}

// Close detaches this microphone's sink. A newer session's sink stays in place.
func (m *remoteMic) Close() error {
	if id := m.sink.Load(); id != 0 {
		m.cs.clearFrameSink(id)
	}
	return nil
}

// remoteOutput forwards scheduled buffers to the client, which plays them in
// arrival order. Its clock is wall time since the voice session started.
type remoteOutput struct {
	cs      *ClientSession
	started time.Time

	mu    sync.Mutex
	epoch uint64
}

func newRemoteOutput(cs *ClientSession) *remoteOutput {
	return &remoteOutput{cs: cs, started: time.Now()}
}

func (o *remoteOutput) Now() time.Duration {
	return time.Since(o.started)
}

func (o *remoteOutput) Play(_ time.Duration, buf audio.Buffer) tutor.Voice {
	o.mu.Lock()
	epoch := o.epoch
	o.mu.Unlock()

	if len(buf.Channels) == 0 {
		return remoteVoice{out: o, epoch: epoch}
	}
	pcm := audio.Int16ToBytes(buf.Mono16())
	o.cs.metrics.RecordAudio("out", len(pcm))
	o.cs.queueMessage(messages.NewAudioMessage(o.cs.ID, audio.EncodeToTransport(pcm)))
	return remoteVoice{out: o, epoch: epoch}
}

// interrupt tells the client to drop its queue once per batch of stopped voices
func (o *remoteOutput) interrupt(epoch uint64) {
	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	o.epoch++
	o.mu.Unlock()
	o.cs.queueMessage(messages.NewInterruptMessage(o.cs.ID))
}

func (o *remoteOutput) Close() error {
	return nil
}

type remoteVoice struct {
	out   *remoteOutput
	epoch uint64
}

func (v remoteVoice) Stop() {
	v.out.interrupt(v.epoch)
}
