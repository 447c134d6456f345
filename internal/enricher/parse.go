package enricher

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"github.com/LJTian/NewsHub/internal/processor"
)

const (
	keywordConfidence          = 0.7
	keywordConfidenceMalformed = 0.6
	neutralConfidence          = 0.5
)

var (
	positiveWords = []string{"positive", "good", "great", "excellent", "love", "amazing"}
	negativeWords = []string{"negative", "bad", "terrible", "hate", "awful"}
)

// Verdict 是从模型回复中解析出的情感结论
type Verdict struct {
	Label      processor.SentimentLabel
	Confidence float64
	Reasoning  string
}

type verdictJSON struct {
	Sentiment  string          `json:"sentiment"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// ParseVerdict 依次尝试：整段 JSON、回复中第一个配对完整的 {...}、关键词匹配。
func ParseVerdict(content string) Verdict {
	content = strings.TrimSpace(content)

	if v, ok := decodeVerdict(content); ok {
		return v
	}

	obj, found := firstObject(content)
	if found {
		if v, ok := decodeVerdict(obj); ok {
			return v
		}
	}
	hasBrace := found || strings.Contains(content, "{")

	conf := keywordConfidence
	if hasBrace {
		conf = keywordConfidenceMalformed
	}
	ws := wordSet(content)
	switch {
	case ws.hasAny(positiveWords):
		return Verdict{Label: processor.SentimentPositive, Confidence: conf, Reasoning: "keyword match: positive language"}
	case ws.hasAny(negativeWords):
		return Verdict{Label: processor.SentimentNegative, Confidence: conf, Reasoning: "keyword match: negative language"}
	}
	return Verdict{Label: processor.SentimentNeutral, Confidence: neutralConfidence, Reasoning: "no strong positive or negative indicators"}
}

func decodeVerdict(s string) (Verdict, bool) {
	if !strings.HasPrefix(s, "{") {
		return Verdict{}, false
	}
	var raw verdictJSON
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Verdict{}, false
	}
	label := normalizeLabel(raw.Sentiment)
	if label == "" {
		return Verdict{}, false
	}
	return Verdict{
		Label:      label,
		Confidence: parseConfidence(raw.Confidence),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}, true
}

func normalizeLabel(s string) processor.SentimentLabel {
	switch processor.SentimentLabel(strings.ToLower(strings.TrimSpace(s))) {
	case processor.SentimentPositive:
		return processor.SentimentPositive
	case processor.SentimentNegative:
		return processor.SentimentNegative
	case processor.SentimentNeutral:
		return processor.SentimentNeutral
	}
	return ""
}

// parseConfidence 兼容数字和字符串两种写法，缺失时取 0.5，结果截断到 [0, 1]
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return neutralConfidence
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return neutralConfidence
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return neutralConfidence
		}
		f = v
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// firstObject 返回第一个括号配对完整的 JSON 对象，跳过字符串内的括号和转义
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type words map[string]bool

func wordSet(s string) words {
	out := words{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		out[w] = true
	}
	return out
}

func (w words) hasAny(list []string) bool {
	for _, k := range list {
		if w[k] {
			return true
		}
	}
	return false
}
