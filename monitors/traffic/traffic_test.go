package traffic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/bot/bottest"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// 2026-10-18 04:00 in Taipei, still the 17th in UTC.
var fixedNow = time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)

func page(total string) string {
	return fmt.Sprintf(`<html><body><p>Current Time: 2026-10-18 04:00:00</p>
<table width="95%%"><tr><th>y</th></tr>
<tr><td>2026</td><td>10</td><td>18</td><td></td><td></td><td></td><td></td><td>%s</td><td></td></tr>
</table></body></html>`, total)
}

type netflow struct {
	srv   *httptest.Server
	total atomic.Value // string
	forms chan url.Values
}

func newNetflow(t *testing.T, total string) *netflow {
	t.Helper()
	n := &netflow{forms: make(chan url.Values, 16)}
	n.total.Store(total)
	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		r.ParseForm()
		select {
		case n.forms <- r.PostForm:
		default:
		}
		fmt.Fprint(w, page(n.total.Load().(string)))
	}))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *netflow) fetcher() *Fetcher {
	return NewFetcher(FetcherConfig{URL: n.srv.URL, Now: func() time.Time { return fixedNow }})
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

func newEngine(t *testing.T, n *netflow, sink channels.Sink, seed ...Entry) (*registry.Registry[Entry], *watch.Engine[Entry, Snapshot]) {
	t.Helper()
	reg := registry.New[Entry](filepath.Join(t.TempDir(), "ip_monitor_list.json"))
	if len(seed) > 0 {
		if err := reg.Save(seed); err != nil {
			t.Fatal(err)
		}
	}
	rules := Rules{Threshold: 10.0}
	notifier := &Notifier{Sink: sink, ChannelID: "traffic", Rules: rules}
	eng := watch.New(Domain, reg, watch.Funcs[Entry, Snapshot]{
		Fetch:    n.fetcher().Fetch,
		Classify: rules.Classify,
		Notify:   notifier.Notify,
	}, watch.Options{})
	return reg, eng
}

func TestParsePageFixture(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "netflow.html"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	snap, err := ParsePage(f, time.Date(2026, 10, 18, 12, 0, 0, 0, Taipei()))
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalGB != 12.5 || snap.Updated != "2026-10-18 14:05:09" {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestParsePageFallsBackToFirstTable(t *testing.T) {
	html := `<table><tr><th>h</th></tr><tr><td>2026</td><td>1</td><td>5</td><td></td><td></td><td></td><td></td><td>0.75</td><td></td></tr></table>`
	snap, err := ParsePage(strings.NewReader(html), time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalGB != 0.75 || snap.Updated != "N/A" {
		t.Fatalf("snap = %+v", snap)
	}
}

func TestParsePageErrors(t *testing.T) {
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if _, err := ParsePage(strings.NewReader(page("1.0")), day); !errors.Is(err, ErrNoRowToday) {
		t.Fatalf("other day err = %v", err)
	}
	if _, err := ParsePage(strings.NewReader("<p>down</p>"), day); !errors.Is(err, ErrTableMissing) {
		t.Fatalf("no table err = %v", err)
	}
	day = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	if _, err := ParsePage(strings.NewReader(page("n/a")), day); !errors.Is(err, ErrBadTotal) {
		t.Fatalf("bad total err = %v", err)
	}
}

func TestQueryUsesTaipeiDate(t *testing.T) {
	n := newNetflow(t, "2.0")
	snap, err := n.fetcher().Query(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if snap.IP != "1.2.3.4" || snap.TotalGB != 2.0 {
		t.Fatalf("snap = %+v", snap)
	}
	form := <-n.forms
	if form.Get("action") != "ShowIP" || form.Get("IP") != "1.2.3.4" || form.Get("submit") != "查詢" {
		t.Fatalf("form = %v", form)
	}
	if form.Get("year") != "2026" || form.Get("month") != "10" || form.Get("day") != "18" {
		t.Fatalf("date = %s-%s-%s", form.Get("year"), form.Get("month"), form.Get("day"))
	}
}

func TestClassifyThreshold(t *testing.T) {
	r := Rules{Threshold: 10}
	if r.Classify(Snapshot{TotalGB: 10}).Value() != OK {
		t.Fatal("the limit itself is not over")
	}
	if r.Classify(Snapshot{TotalGB: 10.01}).Value() != OverLimit {
		t.Fatal("above the limit must be OVER_LIMIT")
	}
	if (Rules{}).Classify(Snapshot{TotalGB: 10.5}).Value() != OverLimit {
		t.Fatal("zero threshold should default to 10 GB")
	}
}

func TestParseIP(t *testing.T) {
	if ip, err := ParseIP("140.125.203.233"); err != nil || ip != "140.125.203.233" {
		t.Fatalf("ip = %q err = %v", ip, err)
	}
	if _, err := ParseIP("140.125.203"); !errors.Is(err, ErrBadIP) {
		t.Fatalf("err = %v", err)
	}
}

func TestScenarioOKToOverLimit(t *testing.T) {
	n := newNetflow(t, "12.5")
	sink := &capture{}
	reg, eng := newEngine(t, n, sink, Entry{IP: "1.2.3.4", UserID: "7", LastStatus: OK})

	rep, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Changed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	msgs := sink.all()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	m := msgs[0]
	if m.ChannelID != "traffic" || m.Embed.Color != channels.ColorRed {
		t.Fatalf("message = %+v", m)
	}
	if !strings.Contains(m.Embed.Description, "12.5 GB") || !strings.Contains(m.Embed.Description, "10 GB") {
		t.Fatalf("description = %q", m.Embed.Description)
	}
	if m.Embed.Footer != "Page updated: 2026-10-18 04:00:00" {
		t.Fatalf("footer = %q", m.Embed.Footer)
	}
	if e, _ := reg.Get("1.2.3.4"); e.LastStatus != OverLimit {
		t.Fatalf("persisted = %+v", e)
	}

	// Back under the limit.
	n.total.Store("9.0")
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs = sink.all()
	if len(msgs) != 2 || msgs[1].Embed.Color != channels.ColorLime {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestFetchFailureSavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "ip_monitor_list.json")
	reg := registry.New[Entry](path)
	if err := reg.Save([]Entry{{IP: "1.2.3.4", LastStatus: OK}}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.Stat(path)

	sink := &capture{}
	eng := watch.New(Domain, reg, watch.Funcs[Entry, Snapshot]{
		Fetch:    NewFetcher(FetcherConfig{URL: srv.URL}).Fetch,
		Classify: Rules{}.Classify,
		Notify:   (&Notifier{Sink: sink}).Notify,
	}, watch.Options{})
	rep, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.FetchErrors != 1 || rep.Saved || len(sink.all()) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	after, _ := os.Stat(path)
	if !after.ModTime().Equal(before.ModTime()) {
		t.Fatal("registry rewritten after a failed fetch")
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

func TestAddCommandStoresUnset(t *testing.T) {
	n := newNetflow(t, "12.5")
	reg, eng := newEngine(t, n, &capture{})
	f := bottest.New()
	f.Perms["u1"] = discordgo.PermissionAdministrator
	cmds := &Commands{Registry: reg, Engine: eng, Fetcher: n.fetcher(), Rules: Rules{Threshold: 10}}

	runCommand(t, f, cmds, "!ipmonitor add 1.2.3.4")
	e, err := reg.Get("1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status().IsSet() || e.UserID != "u1" || e.SetBy != "amy" {
		t.Fatalf("entry = %+v", e)
	}
	if got := f.LastSent().Content; !strings.Contains(got, "12.5 GB") || !strings.Contains(got, "over limit") {
		t.Fatalf("reply = %q", got)
	}

	runCommand(t, f, cmds, "!ipmonitor add 999.1.1.1")
	if got := f.LastSent().Content; !strings.Contains(got, "not a valid IP") {
		t.Fatalf("reply = %q", got)
	}
}

func TestAddCommandFetchFailure(t *testing.T) {
	n := newNetflow(t, "oops")
	reg, eng := newEngine(t, n, &capture{})
	f := bottest.New()
	f.Perms["u1"] = discordgo.PermissionAdministrator
	runCommand(t, f, &Commands{Registry: reg, Engine: eng, Fetcher: n.fetcher()}, "!ipmonitor add 1.2.3.4")

	if got := f.LastSent().Content; !strings.Contains(got, "Could not read") {
		t.Fatalf("reply = %q", got)
	}
	if entries, _ := reg.Load(); len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRemoveNeedsAdministrator(t *testing.T) {
	n := newNetflow(t, "1")
	reg, eng := newEngine(t, n, &capture{}, Entry{IP: "1.2.3.4"})
	f := bottest.New()
	f.Perms["u1"] = discordgo.PermissionManageRoles
	cmds := &Commands{Registry: reg, Engine: eng, Fetcher: n.fetcher()}

	runCommand(t, f, cmds, "!ipmonitor remove 1.2.3.4")
	if got := f.LastSent().Content; !strings.Contains(got, "Administrator") {
		t.Fatalf("reply = %q", got)
	}

	f.Perms["u1"] = discordgo.PermissionAdministrator
	runCommand(t, f, cmds, "!ip監測 remove 1.2.3.4")
	if _, err := reg.Get("1.2.3.4"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
