package processor

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// 跟踪参数，规范化 URL 时删除
var trackingParams = map[string]bool{
	"gclid":   true,
	"gbraid":  true,
	"wbraid":  true,
	"fbclid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"msclkid": true,
	"igshid":  true,
	"dclid":   true,
}

var repeatedSlash = regexp.MustCompile(`/{2,}`)

// CanonicalURL 返回用于精确去重的规范化 URL；无法解析或不是 http(s) 时返回空串。
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		// mailto:、javascript: 之类
		if i := strings.IndexByte(raw, ':'); i > 0 && !strings.ContainsAny(raw[:i], "./") {
			return ""
		}
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		} else {
			raw = "https://" + raw
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host = host + ":" + port
	}

	path := repeatedSlash.ReplaceAllString(u.EscapedPath(), "/")
	path = strings.TrimRight(path, "/")

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if len(q) > 0 {
		// Encode 按 key 排序
		b.WriteString("?")
		b.WriteString(q.Encode())
	}
	return b.String()
}

// TitleKey 返回模糊去重使用的标题键：NFKC、小写、去掉结尾的 " - 来源" 后缀、标点转空格、合并空白。
func TitleKey(title, source string) string {
	t := strings.ToLower(norm.NFKC.String(title))
	t = strings.TrimSpace(t)

	if src := wordsOnly(strings.ToLower(norm.NFKC.String(source))); src != "" {
		t = stripSourceSuffix(t, src)
	}
	return wordsOnly(t)
}

// stripSourceSuffix 去掉 "标题 - Reuters"、"标题 | Reuters" 这类后缀
func stripSourceSuffix(title, src string) string {
	for _, sep := range []string{"|", "-", "—", "–", ":"} {
		idx := strings.LastIndex(title, sep)
		if idx <= 0 {
			continue
		}
		if wordsOnly(title[idx+len(sep):]) == src {
			return strings.TrimSpace(title[:idx])
		}
	}
	return title
}

// wordsOnly 把非字母数字替换为空格并合并空白
func wordsOnly(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// stripHTML 去掉 HTML 标签并解码实体；纯文本直接返回
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script,style").Remove()
	return doc.Text()
}
