package marketdata

import "time"

// Aggregator builds fixed-width bars from a stream of ticks. A bar is
// closed exactly when a tick lands in a later bucket; empty buckets are
// skipped rather than back-filled, matching historical-data behavior.
type Aggregator struct {
	width    time.Duration
	capacity int

	bars []Bar

	// open accumulator
	bucketStart time.Time
	open        float64
	high        float64
	low         float64
	close       float64
	volume      float64
	vwap        float64
	active      bool
}

// NewAggregator creates an aggregator for the given bucket width holding at
// most capacity closed bars (oldest evicted on overflow).
func NewAggregator(width time.Duration, capacity int) *Aggregator {
	return &Aggregator{width: width, capacity: capacity}
}

// Add folds one tick into the accumulator. It returns the newly closed bar
// and true when the tick advanced the bucket boundary.
func (a *Aggregator) Add(t Tick) (Bar, bool) {
	bucket := BucketStart(t.Timestamp, a.width)

	var closed Bar
	var didClose bool
	if a.active && bucket.After(a.bucketStart) {
		closed = a.closeBar()
		didClose = true
	}

	if !a.active {
		a.active = true
		a.bucketStart = bucket
		a.open = t.Price
		a.high = t.Price
		a.low = t.Price
	}
	if t.Price > a.high {
		a.high = t.Price
	}
	if t.Price < a.low {
		a.low = t.Price
	}
	a.close = t.Price
	a.volume += float64(t.Size)
	a.vwap = t.VWAP

	return closed, didClose
}

// Seed appends a pre-built bar (historical warm-up) without touching the
// open accumulator.
func (a *Aggregator) Seed(b Bar) {
	a.append(b)
}

func (a *Aggregator) closeBar() Bar {
	b := Bar{
		Timestamp: a.bucketStart,
		Open:      a.open,
		High:      a.high,
		Low:       a.low,
		Close:     a.close,
		Volume:    a.volume,
		VWAP:      a.vwap,
	}
	a.append(b)
	a.active = false
	a.volume = 0
	return b
}

func (a *Aggregator) append(b Bar) {
	a.bars = append(a.bars, b)
	if len(a.bars) > a.capacity {
		a.bars = a.bars[len(a.bars)-a.capacity:]
	}
}

// Bars returns the closed bars, oldest first. The returned slice is the
// internal window; callers must not mutate it.
func (a *Aggregator) Bars() []Bar {
	return a.bars
}

// Len reports the number of closed bars in the window.
func (a *Aggregator) Len() int {
	return len(a.bars)
}
