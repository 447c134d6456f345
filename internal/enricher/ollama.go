package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LJTian/NewsHub/internal/collector"
)

const (
	DefaultModel       = "llama3.2:3b"
	defaultOllamaURL   = "http://localhost:11434"
	maxChatReplyBytes  = 1 << 20
	sentimentPromptFmt = `Analyze the sentiment of this text and respond with ONLY a valid JSON object.

Text: %s

Respond with ONLY this JSON format, no other text:
{
    "sentiment": "positive|negative|neutral",
    "confidence": 0.0-1.0,
    "reasoning": "brief explanation of why this sentiment was chosen"
}`
)

// ErrEmptyReply 表示模型返回了空内容
var ErrEmptyReply = errors.New("classifier returned empty reply")

// Classifier 是黑盒情感分类器，返回模型的原始文本回复
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// OllamaClient 通过 Ollama /api/chat 做情感分类
type OllamaClient struct {
	baseURL string
	model   string
	client  *collector.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error"`
}

// NewOllamaClient 创建客户端；POST 不会被重试，timeout 作为单次调用的上限
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  collector.NewClient(collector.RetryPolicy{MaxRetries: 0, Timeout: timeout}),
	}
}

func (o *OllamaClient) Model() string { return o.model }

func (o *OllamaClient) Classify(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: fmt.Sprintf(sentimentPromptFmt, text)}},
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("enricher: encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("enricher: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxChatReplyBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("enricher: decode chat response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("enricher: ollama: %s", out.Error)
	}
	content := strings.TrimSpace(out.Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
