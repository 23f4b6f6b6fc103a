// Package stock raises technical signals (MA20 touches and crosses, RSI
// extremes, volume spikes) for a list of tickers once per trading day.
package stock

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/yu320/NBot/watch"
)

// Domain is the registry and scheduler name of this monitor.
const Domain = "stock"

// Signal kinds.
const (
	TouchMA20     = "TOUCH_MA20"
	NearMA20Below = "NEAR_MA20_BELOW"
	NearMA20Above = "NEAR_MA20_ABOVE"
	GoldenCross   = "GOLDEN_CROSS"
	DeathCross    = "DEATH_CROSS"
	RSIOverbought = "RSI_OVERBOUGHT"
	RSIOversold   = "RSI_OVERSOLD"
	VolumeSpike   = "VOLUME_SPIKE"
)

// DefaultTickers seeds a missing stock_list.json.
var DefaultTickers = []string{"2330.TW", "AAPL"}

// Entry is one ticker as stored in stock_list.json. ActiveSignals is nil
// until the ticker has been analysed once.
type Entry struct {
	Ticker        string   `json:"ticker"`
	AddedBy       string   `json:"added_by,omitempty"`
	ActiveSignals []string `json:"active_signals"`
}

// UnmarshalJSON accepts the legacy layout where the file is a bare array
// of ticker strings.
func (e *Entry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = Entry{Ticker: NormalizeTicker(s)}
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Entry(p)
	e.Ticker = NormalizeTicker(e.Ticker)
	return nil
}

func (e Entry) Key() string { return e.Ticker }
func (e Entry) Title() string { return e.Ticker }

func (e Entry) Status() watch.State {
	if e.ActiveSignals == nil {
		return watch.Unset()
	}
	return watch.StateOf(e.ActiveSignals...)
}

func (e Entry) WithStatus(s watch.State) Entry {
	e.ActiveSignals = s.Kinds()
	if e.ActiveSignals == nil && s.IsSet() {
		e.ActiveSignals = []string{}
	}
	return e
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Seed returns the default entries.
func Seed() []Entry {
	out := make([]Entry, len(DefaultTickers))
	for i, t := range DefaultTickers {
		out[i] = Entry{Ticker: t}
	}
	return out
}
