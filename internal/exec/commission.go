package exec

// Commission prices one order leg. Stocks at or above a dollar pay a
// per-share rate, sub-dollar stocks pay a percentage of notional, and
// both tiers are floored at the configured per-order minimum.
func Commission(price float64, shares int64, cfg Config) float64 {
	if shares <= 0 {
		return 0
	}
	var c float64
	if price < 1.0 {
		c = price * float64(shares) * cfg.CommissionPercentLow
	} else {
		c = float64(shares) * cfg.CommissionPerShare
	}
	if c < cfg.CommissionMin {
		c = cfg.CommissionMin
	}
	return c
}
