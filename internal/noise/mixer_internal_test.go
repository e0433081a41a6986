package noise

import (
	"math"
	"testing"
)

func TestAlignLength_TilesShortNoise(t *testing.T) {
	t.Parallel()

	noiseData := make([]float64, 300)
	for i := range noiseData {
		noiseData[i] = float64(i % 10)
	}

	aligned := alignLength(noiseData, 1000)
	if len(aligned) != 1000 {
		t.Fatalf("Expected aligned length 1000, got %d", len(aligned))
	}

	// Tiling repeats the source buffer verbatim.
	for i := range aligned {
		expected := noiseData[i%300]
		if aligned[i] != expected {
			t.Fatalf("Tiling broken at index %d: expected %v, got %v", i, expected, aligned[i])
		}
	}
}

func TestAlignLength_SlicesLongNoise(t *testing.T) {
	t.Parallel()

	noiseData := make([]float64, 5000)
	for i := range noiseData {
		noiseData[i] = float64(i)
	}

	for range 50 {
		aligned := alignLength(noiseData, 1000)
		if len(aligned) != 1000 {
			t.Fatalf("Expected slice length 1000, got %d", len(aligned))
		}

		start := int(aligned[0])
		if start < 0 || start > 4000 {
			t.Fatalf("Slice start %d outside valid range [0, 4000]", start)
		}

		// The slice must be contiguous.
		if aligned[999] != float64(start+999) {
			t.Fatalf("Slice not contiguous: start %d, last %v", start, aligned[999])
		}
	}
}

func TestAlignLength_ExactMatch(t *testing.T) {
	t.Parallel()

	noiseData := []float64{0.1, 0.2, 0.3}

	aligned := alignLength(noiseData, 3)
	if len(aligned) != 3 {
		t.Fatalf("Expected length 3, got %d", len(aligned))
	}
}

func TestApplySNR_ZeroNoiseLeavesSignalUnchanged(t *testing.T) {
	t.Parallel()

	signal := []float64{0.5, -0.25, 0.75, -0.1}
	silence := make([]float64, len(signal))

	mixed := applySNR(signal, silence, 10)

	for i := range signal {
		if mixed[i] != signal[i] {
			t.Fatalf("Expected sample %d unchanged (%v), got %v", i, signal[i], mixed[i])
		}
	}
}

func TestApplySNR_AchievesRequestedRatio(t *testing.T) {
	t.Parallel()

	signal := make([]float64, 4096)
	noiseData := make([]float64, 4096)

	for i := range signal {
		signal[i] = 0.5 * math.Sin(float64(i)/10)
		noiseData[i] = 0.3 * math.Sin(float64(i)/3)
	}

	snrDB := 10.0
	mixed := applySNR(signal, noiseData, snrDB)

	// Recover the scaled noise and verify the power ratio.
	scaled := make([]float64, len(signal))
	for i := range signal {
		scaled[i] = mixed[i] - signal[i]
	}

	achieved := 10 * math.Log10(meanSquare(signal)/meanSquare(scaled))
	if math.Abs(achieved-snrDB) > 0.1 {
		t.Errorf("Expected SNR close to %.1f dB, achieved %.2f dB", snrDB, achieved)
	}
}

func TestApplySNR_PeakNormalizesOnlyWhenClipping(t *testing.T) {
	t.Parallel()

	// Loud signal plus loud noise exceeds 1.0 and must be normalized.
	signal := []float64{0.9, -0.9, 0.9, -0.9}
	noiseData := []float64{0.9, -0.9, 0.9, -0.9}

	mixed := applySNR(signal, noiseData, 0)

	peak := 0.0
	for _, sample := range mixed {
		if math.Abs(sample) > peak {
			peak = math.Abs(sample)
		}
	}

	if peak > 1.0+1e-9 {
		t.Errorf("Expected peak within 1.0 after normalization, got %v", peak)
	}

	// Quiet mix stays untouched.
	quietSignal := []float64{0.1, -0.1}
	quietNoise := []float64{0.0, 0.0}

	quietMix := applySNR(quietSignal, quietNoise, 20)
	if quietMix[0] != 0.1 || quietMix[1] != -0.1 {
		t.Errorf("Expected quiet mix unchanged, got %v", quietMix)
	}
}

func TestResample_HalvesLengthWhenDownsampling(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = float64(i)
	}

	resampled := Resample(samples, 44100, 22050)

	if len(resampled) != 500 {
		t.Errorf("Expected 500 samples after 2:1 downsampling, got %d", len(resampled))
	}
}

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	samples := []float64{0.1, 0.2, 0.3}

	resampled := Resample(samples, 16000, 16000)
	if len(resampled) != 3 || resampled[0] != 0.1 {
		t.Errorf("Expected identity resample, got %v", resampled)
	}
}
