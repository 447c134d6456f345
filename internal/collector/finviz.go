package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const (
	finvizNewsURL  = "https://finviz.com/news.ashx"
	finvizMaxItems = 60
	finvizPause    = time.Second
	finvizDateOnly = "Jan-02-06"
)

var finvizTimeRe = regexp.MustCompile(`^\d{1,2}:\d{2}(AM|PM)$`)

// FinvizRow 是 finviz 新闻表中的一行
type FinvizRow struct {
	Title string
	Link  string
	// Stamp 已补全为 "Jan-02-06 03:04PM"，无法识别时保留原文
	Stamp string
	Kind  string // news / blog
}

func (f FinvizRow) APISource() APISource { return APIFinviz }

func (f FinvizRow) Fields() RawFields {
	return RawFields{
		Title:     f.Title,
		URL:       f.Link,
		Source:    siteName(f.Link),
		Category:  "financial",
		Topic:     "markets",
		Published: Published{Raw: f.Stamp, Family: DateFinviz},
		Extra:     map[string]any{"kind": f.Kind, "via": "finviz"},
	}
}

// siteName 取链接的站点名（去掉 www.）作为来源
func siteName(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "finviz"
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// FinvizAdapter 抓取 finviz 新闻聚合页，页面结构可能调整，按“尽力而为”解析
type FinvizAdapter struct {
	Client   *Client
	Pages    []string
	MaxItems int
	Pause    time.Duration
	Logger   *slog.Logger

	// now 仅用于测试注入
	now func() time.Time
}

func (f *FinvizAdapter) Name() string { return string(APIFinviz) }

func (f *FinvizAdapter) FetchBatch(ctx context.Context) ([]RawItem, *SourceError) {
	log := loggerOr(f.Logger)
	pages := f.Pages
	if len(pages) == 0 {
		pages = []string{finvizNewsURL, finvizNewsURL + "?v=3"}
	}
	limit := f.MaxItems
	if limit <= 0 {
		limit = finvizMaxItems
	}
	wait := f.Pause
	if wait == 0 {
		wait = finvizPause
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}

	var tally callTally
	var results []RawItem
	for i, page := range pages {
		if i > 0 {
			if err := pause(ctx, wait); err != nil {
				return nil, sourceErr(f.Name(), err)
			}
		}
		rows, err := f.scrape(ctx, page, now())
		if err != nil {
			tally.fail(log, f.Name(), page, err)
			continue
		}
		tally.ok()
		for _, row := range rows {
			if len(results) >= limit {
				break
			}
			results = append(results, row)
		}
	}

	if serr := tally.result(f.Name()); serr != nil {
		return nil, serr
	}
	log.Info("collector: finviz fetched", "count", len(results))
	return results, nil
}

func (f *FinvizAdapter) scrape(ctx context.Context, page string, now time.Time) ([]FinvizRow, error) {
	c := colly.NewCollector(colly.UserAgent(defaultUserAgent))
	c.WithTransport(f.Client.Transport(ctx))

	var (
		rows     []FinvizRow
		lastDate string
		tableIdx int
		visitErr error
	)

	c.OnHTML("table.styled-table-new", func(t *colly.HTMLElement) {
		tableIdx++
		kind := "news"
		if tableIdx > 1 {
			kind = "blog"
		}
		t.ForEach("tr.news_table-row", func(_ int, e *colly.HTMLElement) {
			title := strings.TrimSpace(e.ChildText("a"))
			href := e.ChildAttr("a", "href")
			if title == "" || href == "" {
				return
			}
			link := e.Request.AbsoluteURL(href)
			stamp, date := resolveFinvizStamp(strings.TrimSpace(e.ChildText("td.news_date-cell")), lastDate, now)
			if date != "" {
				lastDate = date
			}
			rows = append(rows, FinvizRow{Title: title, Link: link, Stamp: stamp, Kind: kind})
		})
	})
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(page); err != nil {
		return nil, err
	}
	if visitErr != nil {
		return nil, visitErr
	}
	return rows, nil
}

// resolveFinvizStamp 把日期单元格补全为 "Jan-02-06 03:04PM"。
// finviz 同一天的后续行只显示时间，需要沿用上一行的日期；首行只有时间时视为当天（美东）。
func resolveFinvizStamp(cell, lastDate string, now time.Time) (stamp, date string) {
	fields := strings.Fields(cell)
	if len(fields) == 2 && strings.EqualFold(fields[0], "today") {
		fields[0] = now.In(Eastern()).Format(finvizDateOnly)
	}
	switch {
	case len(fields) == 2:
		return fields[0] + " " + fields[1], fields[0]
	case len(fields) == 1 && finvizTimeRe.MatchString(fields[0]):
		if lastDate == "" {
			lastDate = now.In(Eastern()).Format(finvizDateOnly)
		}
		return lastDate + " " + fields[0], ""
	}
	return cell, ""
}

// Eastern 返回美东时区，finviz 等美股站点的时间按此解释
func Eastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}
