package enrollment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/yu320/NBot/fetch"
)

// DefaultURL is the course query page.
const DefaultURL = "https://webapp.yuntech.edu.tw/WebNewCAS/Course/QueryCour.aspx"

// toolkitField is the AJAX toolkit hidden field as rendered. The portal
// expects it back under a half-mangled name.
const (
	toolkitField     = "ctl00$MainContent$ToolkitScriptManager1$HiddenField"
	toolkitPostField = "ctl00_MainContent_ToolkitScriptManager1$HiddenField"
	defaultToolkit   = ";;AjaxControlToolkit, Version=4.1.60919.0, Culture=neutral, PublicKeyToken=28f01b0e84b6d53e:zh-TW:ab75ae50-1505-49da-acca-8b96b908cb1a:475a4ef5:effe2a26:7e63a579:5546a2b:d2e10b12:37e2e5c9:1d3ed089:751cdd15:dfad98a5:497ef277:a43b07eb:3cf12cf1"
)

const resultTable = "#ctl00_MainContent_Course_GridView"

var digits = regexp.MustCompile(`\d+`)

// FetcherConfig configures the portal scraper.
type FetcherConfig struct {
	URL string
	// GetTimeout bounds the form-state GET. Default: 10s.
	GetTimeout time.Duration
	// PostTimeout bounds the query POST. Default: 15s.
	PostTimeout time.Duration
	// Insecure skips TLS verification; the portal's chain is incomplete.
	Insecure bool
	// Browser, when set, submits the form in headless Chrome instead.
	Browser *fetch.Browser
	Logger  *slog.Logger
}

func (c *FetcherConfig) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.GetTimeout <= 0 {
		c.GetTimeout = 10 * time.Second
	}
	if c.PostTimeout <= 0 {
		c.PostTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher reads course enrolment from the portal.
type Fetcher struct {
	cfg  FetcherConfig
	http *fetch.Fetcher
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	cfg.defaults()
	return &Fetcher{
		cfg: cfg,
		http: fetch.New(fetch.Config{
			Timeout:            max(cfg.GetTimeout, cfg.PostTimeout),
			InsecureSkipVerify: cfg.Insecure,
		}),
	}
}

// Fetch reads the entry's course for its semester.
func (f *Fetcher) Fetch(ctx context.Context, e Entry) (Snapshot, error) {
	return f.Query(ctx, e.CourseID, e.AcadSeme)
}

// Query runs one portal query.
func (f *Fetcher) Query(ctx context.Context, courseID, semester string) (Snapshot, error) {
	var (
		page []byte
		err  error
	)
	if f.cfg.Browser != nil {
		page, err = f.queryBrowser(ctx, courseID, semester)
	} else {
		page, err = f.queryHTTP(ctx, courseID, semester)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return ParseResult(bytes.NewReader(page), courseID, f.cfg.URL)
}

func (f *Fetcher) queryHTTP(ctx context.Context, courseID, semester string) ([]byte, error) {
	getCtx, cancel := context.WithTimeout(ctx, f.cfg.GetTimeout)
	defer cancel()
	page, err := f.http.Get(getCtx, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("enrollment: load form: %w", err)
	}
	state := HiddenFields(bytes.NewReader(page))
	if state["__VIEWSTATE"] == "" || state["__EVENTVALIDATION"] == "" {
		return nil, ErrNoFormState
	}

	postCtx, cancel := context.WithTimeout(ctx, f.cfg.PostTimeout)
	defer cancel()
	body, err := f.http.PostForm(postCtx, f.cfg.URL, QueryForm(state, courseID, semester), f.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("enrollment: query %s: %w", courseID, err)
	}
	return body, nil
}

func (f *Fetcher) queryBrowser(ctx context.Context, courseID, semester string) ([]byte, error) {
	page, err := f.cfg.Browser.SubmitForm(ctx, f.cfg.URL, []fetch.FormField{
		{Selector: "#ctl00_MainContent_AcadSeme", Value: semester},
		{Selector: "#ctl00_MainContent_CurrentSubj", Value: courseID},
	}, "#ctl00_MainContent_Submit")
	if err != nil {
		return nil, fmt.Errorf("enrollment: browser query %s: %w", courseID, err)
	}
	return []byte(page), nil
}

// HiddenFields collects the name/value pairs of every hidden input.
func HiddenFields(r io.Reader) map[string]string {
	out := make(map[string]string)
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			var typ, key, val string
			for {
				k, v, more := z.TagAttr()
				switch string(k) {
				case "type":
					typ = strings.ToLower(string(v))
				case "name":
					key = string(v)
				case "value":
					val = string(v)
				}
				if !more {
					break
				}
			}
			if typ == "hidden" && key != "" && val != "" {
				out[key] = val
			}
		}
	}
}

// QueryForm builds the postback for one course.
func QueryForm(state map[string]string, courseID, semester string) url.Values {
	toolkit := state[toolkitField]
	if toolkit == "" {
		toolkit = defaultToolkit
	}
	return url.Values{
		toolkitPostField:       {toolkit},
		"__LASTFOCUS":          {""},
		"__EVENTTARGET":        {""},
		"__EVENTARGUMENT":      {""},
		"__VIEWSTATE":          {state["__VIEWSTATE"]},
		"__VIEWSTATEGENERATOR": {state["__VIEWSTATEGENERATOR"]},
		"__VIEWSTATEENCRYPTED": {""},
		"__EVENTVALIDATION":    {state["__EVENTVALIDATION"]},

		"ctl00$MainContent$AcadSeme":    {semester},
		"ctl00$MainContent$College":     {""},
		"ctl00$MainContent$DeptCode":    {""},
		"ctl00$MainContent$CurrentSubj": {courseID},
		"ctl00$MainContent$TextBoxWatermarkExtender3_ClientState": {""},
		"ctl00$MainContent$SubjName":                              {""},
		"ctl00$MainContent$TextBoxWatermarkExtender1_ClientState": {""},
		"ctl00$MainContent$Instructor":                            {""},
		"ctl00$MainContent$TextBoxWatermarkExtender2_ClientState": {""},
		"ctl00$MainContent$Submit":                                {"執行查詢"},
	}
}

// ParseResult finds courseID in the result grid. baseURL resolves links in
// the course-name cell.
func ParseResult(r io.Reader, courseID, baseURL string) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("enrollment: parse: %w", err)
	}
	table := doc.Find(resultTable)
	if table.Length() == 0 {
		return Snapshot{}, ErrTableMissing
	}

	var row *goquery.Selection
	table.Find("tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return true
		}
		if stripSpace(cells.First().Text()) == courseID {
			row = cells
			return false
		}
		return true
	})
	if row == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
	}
	if row.Length() <= 10 {
		return Snapshot{}, fmt.Errorf("%w: %d cells", ErrBadRow, row.Length())
	}

	current, err := strconv.Atoi(strings.TrimSpace(row.Eq(9).Text()))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: enrolled %q", ErrBadRow, row.Eq(9).Text())
	}
	maxSeats := DefaultMax
	if m := digits.FindString(row.Eq(10).Text()); m != "" {
		maxSeats, _ = strconv.Atoi(m)
	}

	snap := Snapshot{CourseID: courseID, Current: current, Max: maxSeats}
	if cell, err := row.Eq(2).Html(); err == nil {
		snap.Name = fetch.Markdown(cell, domainOf(baseURL))
	}
	return snap, nil
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
