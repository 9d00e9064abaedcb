// Package device binds the tutor to the local sound card: malgo captures the
// microphone and oto plays the model's voice.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/room4-2/studytutor/audio"
)

// Microphone captures mono PCM16 at audio.InputSampleRate and hands out
// fixed audio.FrameSamples frames.
type Microphone struct {
	assembler *audio.FrameAssembler

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	closed bool
}

// NewMicrophone creates an idle microphone. maxBuffer bounds the bytes held
// between capture callbacks.
func NewMicrophone(maxBuffer int) *Microphone {
	return &Microphone{
		assembler: audio.NewFrameAssembler(audio.InputSampleRate, audio.FrameSamples, maxBuffer),
	}
}

// Start opens the default capture device
func (m *Microphone) Start(ctx context.Context, onFrame func(audio.Frame)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("microphone is closed")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = audio.InputSampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			frames, err := m.assembler.Append(pInputSamples)
			if err != nil {
				log.Printf("⚠️ Microphone buffer full, dropping %d bytes", len(pInputSamples))
				m.assembler.Reset()
				return
			}
			for _, f := range frames {
				onFrame(f)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("failed to start microphone: %w", err)
	}

	m.ctx = mctx
	m.device = device
	log.Printf("🎤 Microphone started (%d Hz)", audio.InputSampleRate)
	return nil
}

// Close stops capture and releases the device
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.device != nil {
		err = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		err = errors.Join(err, m.ctx.Uninit())
		m.ctx.Free()
		m.ctx = nil
	}
	m.assembler.Reset()
	return err
}
