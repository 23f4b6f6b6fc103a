package fetch

import (
	"html"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	linkPolicy   = sync.OnceValue(func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowStandardURLs()
		p.AllowAttrs("href").OnElements("a")
		p.AllowElements("b", "strong", "i", "em", "br")
		return p
	})
	mdConverter = sync.OnceValue(func() *converter.Converter {
		return converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
	})
)

// CleanText strips every tag from a scraped fragment, unescapes entities
// (including &nbsp;) and collapses whitespace.
func CleanText(fragment string) string {
	s := html.UnescapeString(strictPolicy.Sanitize(fragment))
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// Markdown renders a scraped fragment as chat markdown. Only links and
// basic emphasis survive; anything else is reduced to text. domain resolves
// relative links. It falls back to CleanText when conversion fails.
func Markdown(fragment, domain string) string {
	safe := linkPolicy().Sanitize(fragment)
	var opts []converter.ConvertOptionFunc
	if domain != "" {
		opts = append(opts, converter.WithDomain(domain))
	}
	md, err := mdConverter().ConvertString(safe, opts...)
	if err != nil || strings.TrimSpace(md) == "" {
		return CleanText(fragment)
	}
	return strings.Join(strings.Fields(md), " ")
}
