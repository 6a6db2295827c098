package marketdata

import (
	"testing"
	"time"
)

func barAt(offset time.Duration, vol, rng float64) Bar {
	return Bar{Timestamp: base.Add(offset), Open: 10, High: 10 + rng, Low: 10, Close: 10, Volume: vol}
}

func TestMediansWindowFilter(t *testing.T) {
	var bars []Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, barAt(time.Duration(i)*time.Second, float64(i+1), 0.1))
	}
	// 5s window from the newest bar keeps volumes 5..10
	medVol, _ := CalculateMedians(bars, 5, 1.0, 0.001)
	if medVol != 7.5 {
		t.Fatalf("medVol = %v, want 7.5", medVol)
	}
}

func TestMediansFallbackOnSparseWindow(t *testing.T) {
	// Bars a minute apart: the 5s window holds only the newest bar,
	// fewer than 5, so the raw-bar fallback kicks in.
	var bars []Bar
	for i := 0; i < 3; i++ {
		bars = append(bars, barAt(time.Duration(i)*time.Minute, float64(10*(i+1)), 1.0))
	}
	medVol, medRange := CalculateMedians(bars, 5, 1.0, 0.001)
	if medVol != 20 {
		t.Fatalf("medVol = %v, want 20", medVol)
	}
	if medRange != 1.0 {
		t.Fatalf("medRange = %v, want 1.0", medRange)
	}
}

func TestMediansEvenCount(t *testing.T) {
	var bars []Bar
	for i := 0; i < 6; i++ {
		bars = append(bars, barAt(time.Duration(i)*time.Second, float64(i+1), 0.1))
	}
	medVol, _ := CalculateMedians(bars, 120, 1.0, 0.001)
	if medVol != 3.5 {
		t.Fatalf("medVol = %v, want 3.5", medVol)
	}
}

func TestMediansFloors(t *testing.T) {
	var bars []Bar
	for i := 0; i < 6; i++ {
		bars = append(bars, barAt(time.Duration(i)*time.Second, 0, 0))
	}
	medVol, medRange := CalculateMedians(bars, 120, 1.0, 0.001)
	if medVol != 1.0 || medRange != 0.001 {
		t.Fatalf("got (%v, %v), want floors (1.0, 0.001)", medVol, medRange)
	}
	medVol, medRange = CalculateMedians(nil, 120, 1.0, 0.001)
	if medVol != 1.0 || medRange != 0.001 {
		t.Fatalf("empty bars: got (%v, %v), want floors", medVol, medRange)
	}
}
