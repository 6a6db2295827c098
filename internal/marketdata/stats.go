package marketdata

import (
	"sort"
	"time"
)

// CalculateMedians returns the median volume and median range (high-low)
// over the bars within windowSecs of the newest bar. If fewer than 5 bars
// fall inside the window it falls back to the most recent 10 raw bars so the
// strategy has a usable sample right after startup. Both medians are floored
// so downstream ratio checks never divide by zero.
func CalculateMedians(bars []Bar, windowSecs int, volFloor, rangeFloor float64) (medVol, medRange float64) {
	if len(bars) == 0 {
		return volFloor, rangeFloor
	}

	newest := bars[len(bars)-1].Timestamp
	cutoff := newest.Add(-time.Duration(windowSecs) * time.Second)

	sample := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Timestamp.Before(cutoff) {
			sample = append(sample, b)
		}
	}
	if len(sample) < 5 {
		n := len(bars)
		if n > 10 {
			n = 10
		}
		sample = bars[len(bars)-n:]
	}

	vols := make([]float64, len(sample))
	ranges := make([]float64, len(sample))
	for i, b := range sample {
		vols[i] = b.Volume
		ranges[i] = b.Range()
	}

	medVol = median(vols)
	medRange = median(ranges)
	if medVol < volFloor {
		medVol = volFloor
	}
	if medRange < rangeFloor {
		medRange = rangeFloor
	}
	return medVol, medRange
}

// median of an even-count set is the mean of the two middle values.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
