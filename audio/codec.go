package audio

import (
	"encoding/base64"
	"encoding/binary"
	"time"
)

const (
	InputSampleRate  = 16000 // microphone -> Gemini
	OutputSampleRate = 24000 // Gemini -> speaker
	FrameSamples     = 4096

	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// Frame is one captured chunk of PCM16 samples
type Frame struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Bytes returns the frame as little-endian PCM16
func (f Frame) Bytes() []byte {
	return Int16ToBytes(f.Samples)
}

// Buffer holds de-interleaved float samples, one slice per channel.
// PCM keeps the interleaved PCM16 source when the buffer was decoded from one.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
	PCM        []byte
}

// Frames returns the number of sample frames per channel
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Mono16 returns the first channel as PCM16. A mono buffer decoded from PCM
// returns its source samples unchanged.
func (b Buffer) Mono16() []int16 {
	if len(b.Channels) == 1 && len(b.PCM) == 2*b.Frames() {
		return BytesToInt16(b.PCM)
	}
	if len(b.Channels) == 0 {
		return nil
	}
	return FloatToPCM16(b.Channels[0])
}

// EncodeToTransport base64-encodes raw PCM bytes for the wire
func EncodeToTransport(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFromTransport decodes a transport string. Malformed input yields an
// empty buffer so a corrupt chunk never stops playback.
func DecodeFromTransport(text string) []byte {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return []byte{}
	}
	return data
}

// PCM16ToFloat converts interleaved little-endian PCM16 into a float buffer.
// Samples are ordered frame-major, channel-minor. A trailing partial frame is ignored.
func PCM16ToFloat(data []byte, sampleRate, channels int) Buffer {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / (2 * channels)
	out := Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
		PCM:        data[:frames*2*channels],
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			out.Channels[ch][i] = float32(sample) / 32768
		}
	}
	return out
}

// FloatToPCM16 converts normalized float samples back to PCM16, clamping to [-1, 1]
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToBytes serializes samples as little-endian bytes
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 parses little-endian PCM16. An odd trailing byte is dropped.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
