package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	ImageSelector  = `body img[alt*="UTC"]`
	PrefixSelector = `body main p`
)

var (
	reModel = regexp.MustCompile(`(?i)(AIFS|GraphCast)`)
	reSpace = regexp.MustCompile(`\s`)
)

// Image is one chart discovered on the page.
type Image struct {
	Src   string
	Alt   string
	Index int
}

// Document is a parsed page plus the URL its relative links resolve against.
type Document struct {
	doc  *goquery.Document
	base string
}

// Parse reads HTML from r. base may be empty.
func Parse(r io.Reader, base string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	return &Document{doc: doc, base: base}, nil
}

// Load fetches target and parses it.
func Load(ctx context.Context, c *http.Client, target string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching page: unexpected status code: %d", resp.StatusCode)
	}

	return Parse(resp.Body, target)
}

// Open parses a saved HTML file. When base is empty, relative image
// sources resolve against the file's own directory.
func Open(path, base string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	if base == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		base = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}

	return Parse(f, base)
}

// Base returns the URL relative sources resolve against.
func (d *Document) Base() string { return d.base }

// Discover returns every image whose alt text contains "UTC", in
// document order.
func (d *Document) Discover() []Image {
	var out []Image

	d.doc.Find(ImageSelector).Each(func(_ int, img *goquery.Selection) {
		alt, _ := img.Attr("alt")
		src := source(img)
		if src != "" {
			src = resolve(d.base, src)
		}

		out = append(out, Image{
			Src:   src,
			Alt:   alt,
			Index: len(out),
		})
	})

	return out
}

// Prefix looks for a model name in the first paragraph of the main
// region. The match keeps the page's own casing. The second return value
// explains an empty prefix.
func (d *Document) Prefix() (string, string) {
	p := d.doc.Find(PrefixSelector).First()
	if p.Length() == 0 {
		return "", "no <p> element found within <body><main>"
	}

	text := p.Text()
	if strings.TrimSpace(text) == "" {
		return "", "the first <p> within <main> is empty"
	}

	m := reModel.FindStringSubmatch(text)
	if m == nil {
		return "", "could not find 'AIFS' or 'GraphCast' in the first <p> within <main>"
	}

	return reSpace.ReplaceAllString(m[1], ""), ""
}

// source mirrors img.src, falling back to the usual lazy-load attributes
// when src is absent.
func source(img *goquery.Selection) string {
	for _, k := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
		if v, ok := img.Attr(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	return ""
}

func resolve(base, raw string) string {
	if len(raw) > 5 && strings.EqualFold(raw[:5], "data:") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return raw
	}

	if u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(base)
	if err != nil || b == nil || base == "" {
		return raw
	}

	return b.ResolveReference(u).String()
}
