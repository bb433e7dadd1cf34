package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultJwcNewsURL = "https://jwc.sjtu.edu.cn/xwtg/tztg.htm"

// JwcNewsTool scrapes the academic affairs office notice board.
type JwcNewsTool struct {
	pageURL string
}

// NewJwcNewsTool creates the jwc_news tool.
func NewJwcNewsTool() *JwcNewsTool {
	return &JwcNewsTool{pageURL: defaultJwcNewsURL}
}

func (t *JwcNewsTool) Name() string { return "jwc_news" }

func (t *JwcNewsTool) Description() string {
	return "Fetches student notices from the academic affairs office."
}

func (t *JwcNewsTool) RequiresLogin() bool { return false }

func (t *JwcNewsTool) Parameters() json.RawMessage { return noParams }

func (t *JwcNewsTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	doc, base, err := fetchDocument(ctx, tc.HTTPClient(), t.pageURL)
	if err != nil {
		return Errorf("failed to fetch notice board: %v", err), nil
	}

	var items []string
	doc.Find("li.clearfix").Each(func(_ int, sel *goquery.Selection) {
		body := sel.Find("div.wz")
		title := strings.TrimSpace(body.Find("h2").First().Text())
		if title == "" {
			return
		}

		link := ""
		if href, ok := body.Find("a").First().Attr("href"); ok {
			link = resolveRef(base, href)
		}
		summary := strings.TrimSpace(body.Find("p").First().Text())

		entry := fmt.Sprintf("- [%s](%s)", title, link)
		if summary != "" {
			entry += "\n  " + summary
		}
		if date := noticeDate(sel); date != "" {
			entry += "\n  " + date
		}
		items = append(items, entry)
	})

	if len(items) == 0 {
		return Errorf("no notices found at %s", t.pageURL), nil
	}
	return Ok(strings.Join(items, "\n\n")), nil
}

// noticeDate reassembles the notice date from the board's split markup:
// the day in an h2, year and month as "2024.5" in a sibling p.
func noticeDate(sel *goquery.Selection) string {
	block := sel.Find("div.sj")
	day := strings.TrimSpace(block.Find("h2").First().Text())
	yearMonth := strings.TrimSpace(block.Find("p").First().Text())

	year, month, found := strings.Cut(yearMonth, ".")
	if !found || day == "" {
		return ""
	}

	m, err := strconv.Atoi(month)
	if err != nil {
		return ""
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%02d-%02d", year, m, d)
}
