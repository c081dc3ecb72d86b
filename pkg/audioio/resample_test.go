package audioio

import (
	"math"
	"testing"
)

func TestResample_SameRate(t *testing.T) {
	samples := []float32{0.1, 0.2, 0.3}
	result := Resample(samples, 16000, 16000)
	if len(result) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(result))
	}
	for i, s := range samples {
		if result[i] != s {
			t.Errorf("Sample %d: expected %v, got %v", i, s, result[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	// 48kHz -> 16kHz (3:1 ratio)
	samples := make([]float32, 960)
	for i := range samples {
		samples[i] = float32(i) / 960
	}
	if got := len(Resample(samples, 48000, 16000)); got != 320 {
		t.Errorf("Expected 320 samples, got %d", got)
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16kHz -> 24kHz (2:3 ratio)
	samples := make([]float32, 320)
	result := Resample(samples, 16000, 24000)
	if len(result) != 480 {
		t.Errorf("Expected 480 samples, got %d", len(result))
	}
}

func TestResample_Interpolates(t *testing.T) {
	result := Resample([]float32{0, 1}, 8000, 16000)
	if len(result) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(result))
	}
	if math.Abs(float64(result[1])-0.5) > 1e-6 {
		t.Errorf("midpoint = %v, want 0.5", result[1])
	}
}

func TestResample_Empty(t *testing.T) {
	if len(Resample(nil, 24000, 48000)) != 0 {
		t.Error("Expected empty result for nil input")
	}
}

func TestCalculateRMS(t *testing.T) {
	if CalculateRMS(nil) != 0 {
		t.Error("Expected 0 for empty input")
	}
	if got := CalculateRMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func BenchmarkResample_48to16(b *testing.B) {
	samples := make([]float32, 4800)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Resample(samples, 48000, 16000)
	}
}
