package processor

import (
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/NewsHub/internal/collector"
)

const (
	layoutAlphaVantage      = "20060102T150405"
	layoutAlphaVantageShort = "20060102T1504"
	layoutFinviz            = "Jan-02-06 03:04PM"
)

// 文本类日期依次尝试的格式
var textLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// 早于该时间的时间戳视为无效（unix 0 等占位值）
var minValidTime = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// ParsePublished 按日期族解析发布时间，统一为 UTC。第二个返回值为 false 表示无法解析。
func ParsePublished(p collector.Published) (time.Time, bool) {
	raw := strings.TrimSpace(p.Raw)
	switch p.Family {
	case collector.DateUnix:
		if p.Unix > 0 {
			return valid(time.Unix(p.Unix, 0))
		}
	case collector.DateAlphaVantage:
		for _, layout := range []string{layoutAlphaVantage, layoutAlphaVantageShort} {
			if t, err := time.Parse(layout, raw); err == nil {
				return valid(t)
			}
		}
		return time.Time{}, false
	case collector.DateFinviz:
		if t, err := time.ParseInLocation(layoutFinviz, raw, collector.Eastern()); err == nil {
			return valid(t)
		}
		return time.Time{}, false
	}
	return parseText(raw)
}

func parseText(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return time.Time{}, false
		}
		return valid(time.Unix(secs, 0))
	}
	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return valid(t)
		}
	}
	if t, err := time.Parse(layoutAlphaVantage, raw); err == nil {
		return valid(t)
	}
	return time.Time{}, false
}

func valid(t time.Time) (time.Time, bool) {
	if t.Before(minValidTime) {
		return time.Time{}, false
	}
	return t.UTC(), true
}
