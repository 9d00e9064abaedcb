package audio

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when the assembler exceeds its maximum size
var ErrBufferFull = errors.New("audio buffer full")

// FrameAssembler accumulates capture callback bytes and cuts them into
// fixed-size frames in arrival order
type FrameAssembler struct {
	sampleRate int
	frameBytes int
	maxSize    int

	pending []byte
	mu      sync.Mutex
}

// NewFrameAssembler creates an assembler emitting mono frames of frameSamples samples.
// maxSize bounds the pending bytes held between callbacks.
func NewFrameAssembler(sampleRate, frameSamples, maxSize int) *FrameAssembler {
	return &FrameAssembler{
		sampleRate: sampleRate,
		frameBytes: frameSamples * 2,
		maxSize:    maxSize,
		pending:    make([]byte, 0, frameSamples*2),
	}
}

// MaxSize returns the maximum pending size in bytes
func (fa *FrameAssembler) MaxSize() int {
	return fa.maxSize
}

// Append adds captured bytes and returns every frame completed by them.
// Returns ErrBufferFull if the chunk would push pending data past maxSize.
func (fa *FrameAssembler) Append(chunk []byte) ([]Frame, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if len(fa.pending)+len(chunk) > fa.maxSize {
		return nil, ErrBufferFull
	}
	fa.pending = append(fa.pending, chunk...)

	var frames []Frame
	for len(fa.pending) >= fa.frameBytes {
		frames = append(frames, Frame{
			SampleRate: fa.sampleRate,
			Channels:   1,
			Samples:    BytesToInt16(fa.pending[:fa.frameBytes]),
		})
		fa.pending = fa.pending[fa.frameBytes:]
	}

	// Compact so the backing array does not grow without bound
	if len(fa.pending) == 0 {
		fa.pending = fa.pending[:0:0]
	}
	return frames, nil
}

// Reset drops any partial frame
func (fa *FrameAssembler) Reset() {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.pending = nil
}

// Pending returns the number of bytes waiting for a full frame
func (fa *FrameAssembler) Pending() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return len(fa.pending)
}
