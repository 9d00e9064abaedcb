package audio

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestTransportRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x01, 0x80},
		{0xff, 0x7f, 0x00, 0x80, 0x34, 0x12},
		bytes.Repeat([]byte{0xab, 0xcd}, FrameSamples),
	}
	for _, b := range cases {
		got := DecodeFromTransport(EncodeToTransport(b))
		if !bytes.Equal(got, b) {
			t.Errorf("round trip of %d bytes mismatched", len(b))
		}
	}
}

func TestDecodeFromTransportMalformed(t *testing.T) {
	for _, in := range []string{"%%%", "abc", "not base64!"} {
		got := DecodeFromTransport(in)
		if got == nil || len(got) != 0 {
			t.Errorf("DecodeFromTransport(%q) = %v, want empty non-nil", in, got)
		}
	}
}

func TestPCM16ToFloatScaling(t *testing.T) {
	data := Int16ToBytes([]int16{0, 16384, -16384, -32768, 32767})
	buf := PCM16ToFloat(data, OutputSampleRate, 1)

	want := []float32{0, 0.5, -0.5, -1, 32767.0 / 32768}
	if buf.Frames() != len(want) {
		t.Fatalf("frames = %d, want %d", buf.Frames(), len(want))
	}
	for i, w := range want {
		if buf.Channels[0][i] != w {
			t.Errorf("sample %d = %v, want %v", i, buf.Channels[0][i], w)
		}
	}
}

func TestMono16KeepsSourceSamples(t *testing.T) {
	src := []int16{32767, 16383, 1, 0, -1, -32768}
	buf := PCM16ToFloat(Int16ToBytes(src), OutputSampleRate, 1)
	got := buf.Mono16()
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], src[i])
		}
	}

	stereo := PCM16ToFloat(Int16ToBytes([]int16{16384, -16384, 32767, 0}), OutputSampleRate, 2)
	if got := stereo.Mono16(); len(got) != 2 || got[0] != 16383 || got[1] != 32766 {
		t.Errorf("stereo first channel = %v", got)
	}
	if got := (Buffer{}).Mono16(); got != nil {
		t.Errorf("empty buffer = %v", got)
	}
}

func TestPCM16ToFloatDeinterleaves(t *testing.T) {
	// frame0: L=100 R=-100, frame1: L=200 R=-200
	data := Int16ToBytes([]int16{100, -100, 200, -200})
	buf := PCM16ToFloat(data, 48000, 2)

	if len(buf.Channels) != 2 || buf.Frames() != 2 {
		t.Fatalf("got %d channels x %d frames", len(buf.Channels), buf.Frames())
	}
	if buf.Channels[0][1] != 200.0/32768 || buf.Channels[1][1] != -200.0/32768 {
		t.Errorf("unexpected channel layout: %v", buf.Channels)
	}
}

func TestPCM16ToFloatIgnoresPartialFrame(t *testing.T) {
	buf := PCM16ToFloat([]byte{1, 0, 2}, InputSampleRate, 1)
	if buf.Frames() != 1 {
		t.Errorf("frames = %d, want 1", buf.Frames())
	}
}

func TestFloatRoundTripWithinOneStep(t *testing.T) {
	samples := []int16{math.MinInt16, -32767, -12345, -1, 0, 1, 12345, 32766, math.MaxInt16}
	for s := int32(math.MinInt16); s <= math.MaxInt16; s += 257 {
		samples = append(samples, int16(s))
	}

	buf := PCM16ToFloat(Int16ToBytes(samples), InputSampleRate, 1)
	back := FloatToPCM16(buf.Channels[0])

	for i, s := range samples {
		diff := int32(back[i]) - int32(s)
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: %d -> %d", i, s, back[i])
		}
	}
}

func TestFloatToPCM16Clamps(t *testing.T) {
	got := FloatToPCM16([]float32{2, -2, 1, -1})
	want := []int16{32767, -32768, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBufferDuration(t *testing.T) {
	buf := PCM16ToFloat(make([]byte, OutputSampleRate*2), OutputSampleRate, 1)
	if d := buf.Duration(); d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}
	if d := (Buffer{}).Duration(); d != 0 {
		t.Errorf("empty duration = %v", d)
	}
}
