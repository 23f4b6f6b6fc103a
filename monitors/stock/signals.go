package stock

import (
	"fmt"
	"time"

	"github.com/yu320/NBot/watch"
)

// Bar is one daily candle.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Snapshot is the recent daily history of one ticker.
type Snapshot struct {
	Ticker string
	Bars   []Bar
}

// Last returns the latest bar, or the zero Bar.
func (s Snapshot) Last() Bar {
	if len(s.Bars) == 0 {
		return Bar{}
	}
	return s.Bars[len(s.Bars)-1]
}

// Signal is one detected condition with a human-readable explanation.
type Signal struct {
	Kind   string
	Title  string
	Detail string
}

// Rules holds the signal thresholds. Zero fields take the defaults.
type Rules struct {
	// Proximity is the fraction of MA20 counted as "near". Default: 0.01.
	Proximity     float64
	RSIOverbought float64 // Default: 70.
	RSIOversold   float64 // Default: 30.
	// VolumeFactor is the multiple of the 20-day mean volume that counts
	// as a spike. Default: 2.
	VolumeFactor float64
}

// MinBars is the history required before any signal is computed.
const MinBars = 20

const (
	maPeriod  = 20
	rsiPeriod = 14
)

func (r Rules) withDefaults() Rules {
	if r.Proximity <= 0 {
		r.Proximity = 0.01
	}
	if r.RSIOverbought <= 0 {
		r.RSIOverbought = 70
	}
	if r.RSIOversold <= 0 {
		r.RSIOversold = 30
	}
	if r.VolumeFactor <= 0 {
		r.VolumeFactor = 2
	}
	return r
}

// Classify returns the set of active signal kinds.
func (r Rules) Classify(s Snapshot) watch.State {
	sigs := r.Analyze(s.Bars)
	kinds := make([]string, len(sigs))
	for i, sig := range sigs {
		kinds[i] = sig.Kind
	}
	return watch.StateOf(kinds...)
}

// Analyze evaluates every rule on the latest bar.
func (r Rules) Analyze(bars []Bar) []Signal {
	if len(bars) < MinBars {
		return nil
	}
	r = r.withDefaults()
	n := len(bars)
	last := bars[n-1]
	ma, _ := MA(bars, n-1, maPeriod)

	var out []Signal
	switch {
	case last.Low <= ma && ma <= last.High:
		out = append(out, Signal{TouchMA20, "Candle touched MA20",
			fmt.Sprintf("Candle (H:%.2f L:%.2f) touched MA20 (%.2f).", last.High, last.Low, ma)})
	case last.High < ma && last.High >= ma*(1-r.Proximity):
		out = append(out, Signal{NearMA20Below, "Rising towards MA20",
			fmt.Sprintf("High (%.2f) is close to MA20 (%.2f), %.2f away.", last.High, ma, ma-last.High)})
	case last.Low > ma && last.Low <= ma*(1+r.Proximity):
		out = append(out, Signal{NearMA20Above, "Falling towards MA20",
			fmt.Sprintf("Low (%.2f) is close to MA20 (%.2f), %.2f away.", last.Low, ma, last.Low-ma)})
	}

	if prevMA, ok := MA(bars, n-2, maPeriod); ok {
		prev := bars[n-2]
		switch {
		case last.Close > ma && prev.Close < prevMA:
			out = append(out, Signal{GoldenCross, "🟡 Golden cross (closed above MA20)",
				fmt.Sprintf("Close (%.2f) moved above MA20 (%.2f).", last.Close, ma)})
		case last.Close < ma && prev.Close > prevMA:
			out = append(out, Signal{DeathCross, "⚫ Death cross (closed below MA20)",
				fmt.Sprintf("Close (%.2f) fell below MA20 (%.2f).", last.Close, ma)})
		}
	}

	if rsi, ok := RSI(bars, rsiPeriod); ok {
		switch {
		case rsi >= r.RSIOverbought:
			out = append(out, Signal{RSIOverbought, "RSI overbought",
				fmt.Sprintf("RSI14 is %.1f (≥ %.0f).", rsi, r.RSIOverbought)})
		case rsi <= r.RSIOversold:
			out = append(out, Signal{RSIOversold, "RSI oversold",
				fmt.Sprintf("RSI14 is %.1f (≤ %.0f).", rsi, r.RSIOversold)})
		}
	}

	if n > maPeriod {
		var sum float64
		for _, b := range bars[n-1-maPeriod : n-1] {
			sum += b.Volume
		}
		mean := sum / maPeriod
		if mean > 0 && last.Volume > r.VolumeFactor*mean {
			out = append(out, Signal{VolumeSpike, "Volume spike",
				fmt.Sprintf("Volume %.0f is %.1f× the 20-day mean (%.0f).", last.Volume, last.Volume/mean, mean)})
		}
	}
	return out
}

// MA returns the simple moving average of closes over the period ending
// at index end. ok is false when there is not enough history.
func MA(bars []Bar, end, period int) (float64, bool) {
	if end < period-1 || end >= len(bars) {
		return 0, false
	}
	var sum float64
	for _, b := range bars[end-period+1 : end+1] {
		sum += b.Close
	}
	return sum / float64(period), true
}

// RSI returns Wilder's relative strength index of the closes at the last
// bar. It needs period+1 bars.
func RSI(bars []Bar, period int) (float64, bool) {
	if len(bars) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := bars[i].Close - bars[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(period), loss/float64(period)
	for i := period + 1; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
