package strategy

// TimeWindow is an inclusive time-of-day interval in "HH:MM:SS" form.
type TimeWindow struct {
	Start string
	End   string
}

// Params is the immutable parameter set for the shock/confirm strategy.
// It is built once at startup and passed by value; nothing mutates it
// afterwards, which keeps every check a pure function of (snapshot, params).
type Params struct {
	Windows []TimeWindow

	// Layer A: shock detector
	ShockRet1s     float64
	ShockVolMult1s float64
	ShockRet2s     float64
	ShockVolMult2s float64

	// Layer B: continuation confirm
	ConfirmRet5s     float64
	ConfirmVolMult5s float64
	RangeMult5s      float64
	VWAPMinRatio     float64 // 0 disables the VWAP sanity clause

	// No-instant-fade filter
	NoFadeFrac float64

	// Execution safety gate
	MaxSpreadPct  float64
	SpreadRelMult float64
	QuoteStaleMs  int

	// Exit rules
	StopPct       float64
	StopRangeMult float64
	TPRMult       float64
	FailRet1s     float64
	TimeStopSecs  int
	MinPnLRAtTime float64

	// Rolling statistics
	MedianWindowSecs int
	MedianVolFloor   float64
	MedianRangeFloor float64

	ArmTimeoutSecs float64
}

// ExitReason identifies which exit rule fired.
type ExitReason string

const (
	ExitHardStop   ExitReason = "HARD_STOP"
	ExitWeakness   ExitReason = "WEAKNESS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitTimeStop   ExitReason = "TIME_STOP"
	ExitEOD        ExitReason = "EOD"
)
