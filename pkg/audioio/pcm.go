package audioio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError reports a malformed inbound audio payload.
type DecodeError struct {
	Reason string
	Size   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audioio: decode %d bytes: %s", e.Size, e.Reason)
}

// FloatToInt16 converts a sample in [-1, 1] to 16-bit PCM by scaling with
// 32768 and truncating toward zero. Values outside the int16 range clip.
func FloatToInt16(s float32) int16 {
	v := float64(s) * 32768
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat converts a PCM sample to [-1, 1).
func Int16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// ToPCM16 packs float samples as little-endian 16-bit PCM.
func ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(s)))
	}
	return out
}

// FromPCM16 decodes little-endian mono 16-bit PCM into a Buffer.
func FromPCM16(data []byte, sampleRate int) (Buffer, error) {
	if len(data)%2 != 0 {
		return Buffer{}, &DecodeError{Reason: "odd byte count for 16-bit samples", Size: len(data)}
	}
	if sampleRate <= 0 {
		return Buffer{}, &DecodeError{Reason: "sample rate must be positive", Size: len(data)}
	}
	pcm := BytesToSamples(data)
	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = Int16ToFloat(v)
	}
	return Buffer{Samples: samples, SampleRate: sampleRate, Channels: 1}, nil
}

// Float32LE decodes little-endian IEEE float samples, the layout ffmpeg
// writes for -f f32le and browsers send from a Float32Array.
func Float32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, &DecodeError{Reason: "byte count not a multiple of 4", Size: len(data)}
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
