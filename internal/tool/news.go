package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultNewsURL = "https://news.sjtu.edu.cn/jdyw/index.html"

// NewsTool scrapes the campus news index and renders a markdown digest.
type NewsTool struct {
	pageURL string
}

// NewNewsTool creates the sjtu_news tool.
func NewNewsTool() *NewsTool {
	return &NewsTool{pageURL: defaultNewsURL}
}

func (t *NewsTool) Name() string { return "sjtu_news" }

func (t *NewsTool) Description() string {
	return "Fetches the latest headlines from the SJTU news site."
}

func (t *NewsTool) RequiresLogin() bool { return false }

func (t *NewsTool) Parameters() json.RawMessage { return noParams }

func (t *NewsTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	doc, base, err := fetchDocument(ctx, tc.HTTPClient(), t.pageURL)
	if err != nil {
		return Errorf("failed to fetch news index: %v", err), nil
	}

	var items []string
	doc.Find("div.list-card-h li.item").Each(func(_ int, sel *goquery.Selection) {
		card := sel.Find("a.card")
		if card.Length() == 0 {
			return
		}

		title := strings.TrimSpace(card.Find("p.dot").First().Text())
		if title == "" {
			return
		}

		link := ""
		if href, ok := card.Attr("href"); ok {
			link = resolveRef(base, href)
		}
		detail := strings.TrimSpace(card.Find("div.des.dot").First().Text())
		published := strings.TrimSpace(card.Find("div.time span").First().Text())
		source := strings.TrimSpace(card.Find("div.time div.source p").First().Text())

		entry := fmt.Sprintf("- [%s](%s)", title, link)
		if detail != "" {
			entry += "\n  " + detail
		}
		if published != "" || source != "" {
			entry += "\n  " + strings.TrimSpace(published+" "+source)
		}
		items = append(items, entry)
	})

	if len(items) == 0 {
		return Errorf("no news entries found at %s", t.pageURL), nil
	}
	return Ok(strings.Join(items, "\n\n")), nil
}

// fetchDocument GETs a page and parses it, returning the document and the
// final URL for resolving relative links.
func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return doc, resp.Request.URL, nil
}

// resolveRef resolves a possibly relative href against the page URL.
func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"
