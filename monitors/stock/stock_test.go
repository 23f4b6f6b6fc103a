package stock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/bot/bottest"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

var day0 = time.Date(2026, 7, 1, 5, 0, 0, 0, time.UTC)

// flat returns n bars closing at 100 with a ±1 range and volume 1000.
func flat(n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{Time: day0.AddDate(0, 0, i), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000}
	}
	return bars
}

func chartJSON(bars []Bar) []byte {
	ts := make([]int64, len(bars))
	cols := map[string][]any{}
	for i, b := range bars {
		ts[i] = b.Time.Unix()
		cols["open"] = append(cols["open"], b.Open)
		cols["high"] = append(cols["high"], b.High)
		cols["low"] = append(cols["low"], b.Low)
		cols["close"] = append(cols["close"], b.Close)
		cols["volume"] = append(cols["volume"], b.Volume)
	}
	out, _ := json.Marshal(map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"timestamp":  ts,
				"indicators": map[string]any{"quote": []any{cols}},
			}},
			"error": nil,
		},
	})
	return out
}

type yahoo struct {
	srv    *httptest.Server
	mu     sync.Mutex
	bars   map[string][]Bar
	ranges []string
}

func newYahoo(t *testing.T) *yahoo {
	t.Helper()
	y := &yahoo{bars: map[string][]Bar{}}
	y.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ticker := strings.TrimPrefix(r.URL.Path, "/v8/finance/chart/")
		y.mu.Lock()
		bars, ok := y.bars[ticker]
		y.ranges = append(y.ranges, r.URL.Query().Get("range"))
		y.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
			return
		}
		w.Write(chartJSON(bars))
	}))
	t.Cleanup(y.srv.Close)
	return y
}

func (y *yahoo) set(ticker string, bars []Bar) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.bars[ticker] = bars
}

// rangeAt returns the range of the i-th request; negative i counts from
// the end.
func (y *yahoo) rangeAt(i int) string {
	y.mu.Lock()
	defer y.mu.Unlock()
	if i < 0 {
		i += len(y.ranges)
	}
	return y.ranges[i]
}

func (y *yahoo) fetcher() *Fetcher {
	return NewFetcher(FetcherConfig{BaseURL: y.srv.URL + "/v8/finance/chart"})
}

type capture struct {
	mu   sync.Mutex
	msgs []channels.Message
}

func (c *capture) Send(_ context.Context, m channels.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *capture) all() []channels.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channels.Message(nil), c.msgs...)
}

func TestParseChartDropsIncompleteBars(t *testing.T) {
	body := []byte(`{"chart":{"result":[{"timestamp":[1,2,3],"indicators":{"quote":[{
		"open":[1,null,3],"high":[2,2,4],"low":[0.5,1,2],"close":[1.5,1.5,3.5],"volume":[10,20,30]}]}}],"error":null}}`)
	bars, err := ParseChart(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || bars[1].Close != 3.5 || bars[1].Volume != 30 {
		t.Fatalf("bars = %+v", bars)
	}
}

func TestParseChartErrors(t *testing.T) {
	if _, err := ParseChart([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"x"}}}`)); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v", err)
	}
	if _, err := ParseChart([]byte(`{"chart":{"result":[],"error":null}}`)); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v", err)
	}
	if _, err := ParseChart([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMAAndRSI(t *testing.T) {
	bars := flat(20)
	if ma, ok := MA(bars, 19, 20); !ok || ma != 100 {
		t.Fatalf("ma = %v ok = %v", ma, ok)
	}
	if _, ok := MA(bars, 18, 20); ok {
		t.Fatal("MA needs a full window")
	}

	if rsi, ok := RSI(bars, 14); !ok || rsi != 50 {
		t.Fatalf("flat rsi = %v", rsi)
	}
	up := flat(20)
	for i := range up {
		up[i].Close = float64(100 + i)
	}
	if rsi, _ := RSI(up, 14); rsi != 100 {
		t.Fatalf("rising rsi = %v", rsi)
	}
	down := flat(20)
	for i := range down {
		down[i].Close = float64(200 - i)
	}
	if rsi, _ := RSI(down, 14); rsi != 0 {
		t.Fatalf("falling rsi = %v", rsi)
	}
	if _, ok := RSI(flat(14), 14); ok {
		t.Fatal("RSI needs period+1 bars")
	}
}

func TestAnalyzeNeedsTwentyBars(t *testing.T) {
	if sigs := (Rules{}).Analyze(flat(19)); sigs != nil {
		t.Fatalf("signals = %+v", sigs)
	}
	if s := (Rules{}).Classify(Snapshot{Bars: flat(5)}); !s.IsSet() || len(s.Kinds()) != 0 {
		t.Fatalf("state = %v, want observed empty set", s)
	}
}

func TestAnalyzeTouch(t *testing.T) {
	s := (Rules{}).Classify(Snapshot{Bars: flat(20)})
	if s.String() != TouchMA20 {
		t.Fatalf("state = %v", s)
	}
}

func TestAnalyzeNearBelow(t *testing.T) {
	bars := flat(20)
	bars[19] = Bar{Time: bars[19].Time, High: 99.5, Low: 98, Close: 99, Volume: 1000}
	s := (Rules{}).Classify(Snapshot{Bars: bars})
	if !s.Has(NearMA20Below) || s.Has(TouchMA20) || s.Has(NearMA20Above) {
		t.Fatalf("state = %v", s)
	}
}

func TestAnalyzeNearAbove(t *testing.T) {
	bars := flat(20)
	bars[19] = Bar{Time: bars[19].Time, High: 102, Low: 100.5, Close: 101, Volume: 1000}
	s := (Rules{}).Classify(Snapshot{Bars: bars})
	if !s.Has(NearMA20Above) || s.Has(TouchMA20) {
		t.Fatalf("state = %v", s)
	}
}

// trend returns 30 bars whose closes alternate between moving up by up and
// down by down.
func trend(up, down float64) []Bar {
	bars := flat(30)
	c := 100.0
	for i := range bars {
		if i > 0 {
			if i%2 == 1 {
				c += up
			} else {
				c -= down
			}
		}
		bars[i].Close, bars[i].High, bars[i].Low = c, c+1, c-1
	}
	return bars
}

func TestAnalyzeRSIBands(t *testing.T) {
	rising := flat(30)
	falling := flat(30)
	for i := range rising {
		rising[i].Close, rising[i].High, rising[i].Low = float64(100+i), float64(101+i), float64(99+i)
		falling[i].Close, falling[i].High, falling[i].Low = float64(200-i), float64(201-i), float64(199-i)
	}
	if s := (Rules{}).Classify(Snapshot{Bars: rising}); !s.Has(RSIOverbought) || s.Has(RSIOversold) {
		t.Fatalf("rising = %v", s)
	}
	if s := (Rules{}).Classify(Snapshot{Bars: falling}); !s.Has(RSIOversold) || s.Has(RSIOverbought) {
		t.Fatalf("falling = %v", s)
	}

	// Choppy series settle near RSI 69 and 36: inside the default bands.
	mostlyUp, mostlyDown := trend(2, 1), trend(1, 2)
	if s := (Rules{}).Classify(Snapshot{Bars: mostlyUp}); s.Has(RSIOverbought) {
		t.Fatalf("mostly up, default bands = %v", s)
	}
	if s := (Rules{}).Classify(Snapshot{Bars: mostlyDown}); s.Has(RSIOversold) {
		t.Fatalf("mostly down, default bands = %v", s)
	}
	tight := Rules{RSIOverbought: 65, RSIOversold: 40}
	if s := tight.Classify(Snapshot{Bars: mostlyUp}); !s.Has(RSIOverbought) {
		t.Fatalf("mostly up, overbought 65 = %v", s)
	}
	if s := tight.Classify(Snapshot{Bars: mostlyDown}); !s.Has(RSIOversold) {
		t.Fatalf("mostly down, oversold 40 = %v", s)
	}
}

func TestAnalyzeCrosses(t *testing.T) {
	bars := flat(22)
	bars[20].Close = 99
	bars[21] = Bar{Time: bars[21].Time, High: 111, Low: 109, Close: 110, Volume: 1000}
	s := (Rules{}).Classify(Snapshot{Bars: bars})
	if !s.Has(GoldenCross) || s.Has(DeathCross) {
		t.Fatalf("golden state = %v", s)
	}

	bars = flat(22)
	bars[20].Close = 101
	bars[21] = Bar{Time: bars[21].Time, High: 91, Low: 89, Close: 90, Volume: 1000}
	s = (Rules{}).Classify(Snapshot{Bars: bars})
	if !s.Has(DeathCross) || s.Has(GoldenCross) {
		t.Fatalf("death state = %v", s)
	}
}

func TestAnalyzeVolumeSpike(t *testing.T) {
	bars := flat(21)
	bars[20].Volume = 2000
	if s := (Rules{}).Classify(Snapshot{Bars: bars}); s.Has(VolumeSpike) {
		t.Fatal("exactly twice the mean is not a spike")
	}
	bars[20].Volume = 2500
	if s := (Rules{}).Classify(Snapshot{Bars: bars}); !s.Has(VolumeSpike) {
		t.Fatalf("state = %v", s)
	}
	if s := (Rules{VolumeFactor: 3}).Classify(Snapshot{Bars: bars}); s.Has(VolumeSpike) {
		t.Fatal("custom factor ignored")
	}
}

func TestRegistryAcceptsLegacyStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock_list.json")
	if err := os.WriteFile(path, []byte(`["2330.tw", " aapl ", {"ticker": "msft", "active_signals": []}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := registry.New[Entry](path)
	entries, err := reg.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Ticker != "2330.TW" || entries[1].Ticker != "AAPL" || entries[2].Ticker != "MSFT" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Status().IsSet() {
		t.Fatal("legacy entries must be unset")
	}
	if s := entries[2].Status(); !s.IsSet() || s.String() != "none" {
		t.Fatalf("msft state = %v", s)
	}

	// Rewritten in the object layout, keeping the empty set.
	if err := reg.Save(entries); err != nil {
		t.Fatal(err)
	}
	entries, _ = reg.Load()
	if entries[2].Status().String() != "none" || entries[0].Status().IsSet() {
		t.Fatalf("after rewrite = %+v", entries)
	}
}

func TestRegistrySeed(t *testing.T) {
	reg := registry.New[Entry](filepath.Join(t.TempDir(), "stock_list.json"), registry.WithSeed(Seed()...))
	entries, err := reg.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Ticker != "2330.TW" || entries[1].Ticker != "AAPL" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestWithStatusKeepsEmptySet(t *testing.T) {
	e := Entry{Ticker: "AAPL"}.WithStatus(watch.StateOf())
	if e.ActiveSignals == nil || !e.Status().IsSet() {
		t.Fatalf("entry = %+v", e)
	}
}

func newEngine(t *testing.T, y *yahoo, sink channels.Sink, seed ...Entry) (*registry.Registry[Entry], *watch.Engine[Entry, Snapshot]) {
	t.Helper()
	reg := registry.New[Entry](filepath.Join(t.TempDir(), "stock_list.json"))
	if len(seed) > 0 {
		if err := reg.Save(seed); err != nil {
			t.Fatal(err)
		}
	}
	rules := Rules{}
	n := &Notifier{Sink: sink, ChannelID: "stocks", RoleID: "r9", Rules: rules}
	eng := watch.New(Domain, reg, watch.Funcs[Entry, Snapshot]{
		Fetch:    y.fetcher().Fetch,
		Classify: rules.Classify,
		Notify:   n.Notify,
	}, watch.Options{})
	return reg, eng
}

func TestSignalSetDiff(t *testing.T) {
	y := newYahoo(t)
	y.set("AAPL", flat(20))
	sink := &capture{}
	reg, eng := newEngine(t, y, sink, Entry{Ticker: "AAPL"})

	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := sink.all()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if msgs[0].ChannelID != "stocks" || !strings.Contains(msgs[0].Content, "<@&r9>") {
		t.Fatalf("message = %+v", msgs[0])
	}
	if f := msgs[0].Embed.Fields; len(f) != 1 || !strings.Contains(f[0].Name, "touched MA20") {
		t.Fatalf("fields = %+v", f)
	}
	if r := y.rangeAt(0); r != RangeAnalysis {
		t.Fatalf("range = %q", r)
	}

	// Unchanged set: silent.
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.all()) != 1 {
		t.Fatal("unchanged signals re-announced")
	}

	// The touch clears.
	bars := flat(20)
	bars[19] = Bar{Time: bars[19].Time, High: 130, Low: 120, Close: 125, Volume: 1000}
	y.set("AAPL", bars)
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs = sink.all()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	last := msgs[1].Embed.Fields[len(msgs[1].Embed.Fields)-1]
	if last.Name != "Cleared" || !strings.Contains(last.Value, TouchMA20) {
		t.Fatalf("fields = %+v", msgs[1].Embed.Fields)
	}
	e, _ := reg.Get("AAPL")
	if e.Status().Has(TouchMA20) {
		t.Fatalf("persisted = %+v", e)
	}
}

func TestFirstReadingWithoutSignalsIsSilent(t *testing.T) {
	y := newYahoo(t)
	y.set("AAPL", flat(10))
	sink := &capture{}
	reg, eng := newEngine(t, y, sink, Entry{Ticker: "AAPL"})

	rep, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Saved || len(sink.all()) != 0 {
		t.Fatalf("report = %+v messages = %d", rep, len(sink.all()))
	}
	if e, _ := reg.Get("AAPL"); !e.Status().IsSet() {
		t.Fatal("observed empty set not persisted")
	}
}

func runCommand(t *testing.T, f *bottest.Fake, cmds *Commands, content string) {
	t.Helper()
	r := bot.NewRouter("!", nil)
	r.Handle(cmds.Command())
	r.Dispatch(&bot.Context{
		Ctx: context.Background(),
		API: f,
		Message: &discordgo.Message{
			ID: "m", ChannelID: "cmd", GuildID: "g1", Content: content,
			Author: &discordgo.User{ID: "u1", Username: "amy"},
		},
		Tasks: bot.NewTasks(context.Background(), nil),
	})
}

func TestAddValidatesTicker(t *testing.T) {
	y := newYahoo(t)
	y.set("TSLA", flat(5))
	reg, eng := newEngine(t, y, &capture{})
	f := bottest.New()
	cmds := &Commands{Registry: reg, Engine: eng, Fetcher: y.fetcher()}

	runCommand(t, f, cmds, "!stock add tsla")
	e, err := reg.Get("TSLA")
	if err != nil {
		t.Fatal(err)
	}
	if e.AddedBy != "amy" || e.Status().IsSet() {
		t.Fatalf("entry = %+v", e)
	}
	if r := y.rangeAt(-1); r != RangeValidate {
		t.Fatalf("range = %q", r)
	}

	runCommand(t, f, cmds, "!股票 add NOPE")
	if got := f.LastSent().Content; !strings.Contains(got, "not a valid ticker") {
		t.Fatalf("reply = %q", got)
	}
	if _, err := reg.Get("NOPE"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatal("invalid ticker stored")
	}

	runCommand(t, f, cmds, "!stock remove Tsla")
	if _, err := reg.Get("TSLA"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatal("ticker not removed")
	}
}

func TestCheckAllTickers(t *testing.T) {
	y := newYahoo(t)
	y.set("AAPL", flat(20))
	y.set("2330.TW", flat(10))
	reg, eng := newEngine(t, y, &capture{}, Entry{Ticker: "AAPL"}, Entry{Ticker: "2330.TW"})
	f := bottest.New()
	runCommand(t, f, &Commands{Registry: reg, Engine: eng, Fetcher: y.fetcher()}, "!stock check")

	got := f.LastSent().Content
	if !strings.Contains(got, "`AAPL` TOUCH_MA20") || !strings.Contains(got, "`2330.TW` no signals") {
		t.Fatalf("reply = %q", got)
	}
}
