package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = time.Second
	defaultCallTimeout = 15 * time.Second
	maxResponseBytes   = 4 << 20 // 4MB
	defaultUserAgent   = "NewsHubBot/1.0"
)

// RetryPolicy 描述 Client 的重试与超时策略
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// DefaultRetryPolicy: 最多重试 3 次，退避 1s、2s、4s，单次调用 15s 超时
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: defaultMaxRetries, BaseDelay: defaultBaseDelay, Timeout: defaultCallTimeout}
}

// FetchError 是 Client 返回的终态错误
type FetchError struct {
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s %s: status %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s %s: %v after %d attempt(s)", e.Method, e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient 表示错误属于可重试类别（此时重试预算已经耗尽）
func (e *FetchError) Transient() bool {
	return e.StatusCode == 0 || retryableStatus(e.StatusCode)
}

// Client 是带有限次指数退避重试的 HTTP 客户端，不持有可变共享状态
type Client struct {
	http      *http.Client
	policy    RetryPolicy
	userAgent string
	sleep     func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

// WithHTTPClient 替换底层 http.Client（测试中指向 httptest 服务器）
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithSleep 替换退避等待函数，测试中可以不真正 sleep
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(policy RetryPolicy, opts ...ClientOption) *Client {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.Timeout <= 0 {
		policy.Timeout = defaultCallTimeout
	}
	c := &Client{
		http:      &http.Client{Timeout: policy.Timeout},
		policy:    policy,
		userAgent: defaultUserAgent,
		sleep:     pause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, "":
		return true
	}
	return false
}

// Do 执行一次请求。仅对幂等方法、且仅在连接失败或 429/500/502/503/504 时重试；
// 其它 4xx 立即以终态错误返回。成功时调用方负责关闭 Body。
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempts := 1
	if idempotent(req.Method) {
		attempts += c.policy.MaxRetries
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.policy.BaseDelay * time.Duration(1<<(attempt-1))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &FetchError{Method: req.Method, URL: req.URL.String(), Attempts: attempt, Err: err}
			}
		}

		r := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("collector: rewind body: %w", err)
			}
			r.Body = body
		}
		if r.Header.Get("User-Agent") == "" && c.userAgent != "" {
			r.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.http.Do(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &FetchError{Method: req.Method, URL: req.URL.String(), Attempts: attempt + 1, Err: ctx.Err()}
			}
			lastStatus, lastErr = 0, err
			continue
		}

		if resp.StatusCode < http.StatusBadRequest {
			return resp, nil
		}

		// 丢弃响应体以便连接复用
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		if !retryableStatus(resp.StatusCode) {
			return nil, &FetchError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode, Attempts: attempt + 1}
		}
		lastStatus, lastErr = resp.StatusCode, nil
	}

	return nil, &FetchError{Method: req.Method, URL: req.URL.String(), StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

// GetJSON 发起 GET 并把有界长度的响应体解码到 out
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("collector: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("collector: decode %s: %w", req.URL.Host, err)
	}
	return nil
}

// Transport 把 Client 暴露为 http.RoundTripper，供 colly 等自带请求循环的库复用重试策略。
// colly 发出的请求不带调用方 ctx，这里统一绑定到传入的 ctx。
func (c *Client) Transport(ctx context.Context) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := c.Do(ctx, req.WithContext(ctx))
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			// colly 需要拿到状态码自行处理，这里返回一个空响应体
			return &http.Response{
				StatusCode: fe.StatusCode,
				Status:     http.StatusText(fe.StatusCode),
				Header:     make(http.Header),
				Body:       http.NoBody,
				Request:    req,
			}, nil
		}
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
