package traffic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/yu320/NBot/fetch"
)

// DefaultURL is the netflow query endpoint.
const DefaultURL = "https://netflow.yuntech.edu.tw/netflow.pl"

var updatedRe = regexp.MustCompile(`Current Time: (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`)

// FetcherConfig configures the netflow scraper.
type FetcherConfig struct {
	URL     string
	Timeout time.Duration // Default: 60s.
	// Insecure skips TLS verification.
	Insecure bool
	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// Fetcher reads daily totals from the netflow page.
type Fetcher struct {
	cfg  FetcherConfig
	http *fetch.Fetcher
	loc  *time.Location
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Fetcher{
		cfg:  cfg,
		http: fetch.New(fetch.Config{Timeout: cfg.Timeout, InsecureSkipVerify: cfg.Insecure}),
		loc:  Taipei(),
	}
}

// Taipei returns the campus time zone. Hosts without tzdata get a fixed
// UTC+8 zone, which is exact since Taiwan has no DST.
func Taipei() *time.Location {
	if loc, err := time.LoadLocation("Asia/Taipei"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}

// Fetch reads today's total for the entry's IP.
func (f *Fetcher) Fetch(ctx context.Context, e Entry) (Snapshot, error) {
	return f.Query(ctx, e.IP)
}

// Query reads today's total for ip.
func (f *Fetcher) Query(ctx context.Context, ip string) (Snapshot, error) {
	today := f.cfg.Now().In(f.loc)
	form := url.Values{
		"action": {"ShowIP"},
		"IP":     {ip},
		"year":   {strconv.Itoa(today.Year())},
		"month":  {strconv.Itoa(int(today.Month()))},
		"day":    {strconv.Itoa(today.Day())},
		"submit": {"查詢"},
	}
	body, err := f.http.PostForm(ctx, f.cfg.URL, form, "")
	if err != nil {
		return Snapshot{}, fmt.Errorf("traffic: query %s: %w", ip, err)
	}
	snap, err := ParsePage(bytes.NewReader(body), today)
	if err != nil {
		return Snapshot{}, fmt.Errorf("traffic: %s: %w", ip, err)
	}
	snap.IP = ip
	return snap, nil
}

// ParsePage extracts the total for day from a netflow result page.
func ParsePage(r io.Reader, day time.Time) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse: %w", err)
	}
	snap := Snapshot{Updated: "N/A"}
	if m := updatedRe.FindStringSubmatch(doc.Text()); m != nil {
		snap.Updated = m[1]
	}

	table := doc.Find(`table[width="95%"]`).First()
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}
	if table.Length() == 0 {
		return Snapshot{}, ErrTableMissing
	}

	want := [3]string{strconv.Itoa(day.Year()), strconv.Itoa(int(day.Month())), strconv.Itoa(day.Day())}
	var (
		total string
		found bool
	)
	table.Find("tr").Slice(1, goquery.ToEnd).EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 9 {
			return true
		}
		for i, w := range want {
			if cellText(cells.Eq(i)) != w {
				return true
			}
		}
		total, found = cellText(cells.Eq(7)), true
		return false
	})
	if !found {
		return Snapshot{}, ErrNoRowToday
	}
	gb, err := strconv.ParseFloat(total, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrBadTotal, total)
	}
	snap.TotalGB = gb
	return snap, nil
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(strings.ReplaceAll(s.Text(), "\u00a0", ""))
}
