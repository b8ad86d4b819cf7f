// 包 fetch 封装 HTTP 客户端（代理/超时/重试/浏览器请求头），用于发现接口、回退探测与文件下载。
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/retry"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

// Client 为带重试的 HTTP 客户端。
type Client struct {
	http    *http.Client
	stream  *http.Client
	policy  retry.Policy
	referer string
}

// Options 为客户端构造参数。
type Options struct {
	ProxyHTTP  string
	ProxyHTTPS string
	// Timeout 为普通请求（接口/页面）的整体超时
	Timeout time.Duration
	// StreamTimeout 为下载流的整体超时（0 表示不限制，由 ctx 控制）
	StreamTimeout time.Duration
	Retry         retry.Policy
	// Referer 为请求附带的来源站点，如 https://kemono.su/
	Referer string
}

// New 创建客户端，支持 http/https 代理与基础超时配置。
func New(opts Options) (*Client, error) {
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" && opts.ProxyHTTPS != "" {
				return url.Parse(opts.ProxyHTTPS)
			}
			if req.URL.Scheme == "http" && opts.ProxyHTTP != "" {
				return url.Parse(opts.ProxyHTTP)
			}
			return http.ProxyFromEnvironment(req)
		},
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConnsPerHost:   20,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.Policy{Attempts: 1}
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		stream:  &http.Client{Transport: transport, Timeout: opts.StreamTimeout},
		policy:  opts.Retry,
		referer: opts.Referer,
	}, nil
}

// Policy 返回客户端的重试策略（下载调度复用同一策略）。
func (c *Client) Policy() retry.Policy { return c.policy }

// userAgent 使用常见浏览器 UA，减少 403/反爬误判；支持环境变量覆盖（ARCHIVER_UA）。
func userAgent() string {
	if ua := os.Getenv("ARCHIVER_UA"); ua != "" {
		return ua
	}
	return defaultUA
}

func (c *Client) newRequest(ctx context.Context, target string, browser bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent())
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	if browser {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
		req.Header.Set("Cache-Control", "max-age=0")
	} else {
		req.Header.Set("Accept", "application/json, */*;q=0.8")
	}
	return req, nil
}

// do 发起单次请求，非 2xx 统一转换为 HTTPStatusError，传输错误包装为 ErrUnreachable。
func (c *Client) do(cl *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := cl.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &common.HTTPStatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}
	return resp, nil
}

// Get 请求带有线性退避重试；4xx（408/429 除外）不重试。
func (c *Client) Get(ctx context.Context, target string) (*http.Response, error) {
	var resp *http.Response
	err := c.policy.Do(ctx, func(int) error {
		req, err := c.newRequest(ctx, target, false)
		if err != nil {
			return retry.Permanent(err)
		}
		r, err := c.do(c.http, req)
		if err != nil {
			return classify(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON 单次请求并解码 JSON；状态非 200 返回 ErrUnreachable，解码失败返回 ErrInvalidPayload。
func (c *Client) GetJSON(ctx context.Context, target string, v any) error {
	req, err := c.newRequest(ctx, target, false)
	if err != nil {
		return err
	}
	resp, err := c.do(c.http, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, target, v)
}

// GetJSONRetry 与 GetJSON 相同，但按客户端策略重试暂时性失败。
func (c *Client) GetJSONRetry(ctx context.Context, target string, v any) error {
	resp, err := c.Get(ctx, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, target, v)
}

func decodeJSON(r io.Reader, target string, v any) error {
	if err := json.NewDecoder(io.LimitReader(r, 64<<20)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", common.ErrInvalidPayload, target, err)
	}
	return nil
}

// Probe 为有界超时的存在性探测：200 返回 nil，否则返回 ErrUnreachable。
func (c *Client) Probe(ctx context.Context, target string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := c.newRequest(pctx, target, false)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", common.ErrUnreachable, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return &common.HTTPStatusError{URL: target, Status: resp.StatusCode}
	}
	return nil
}

// GetPage 以浏览器请求头抓取页面（单次），返回状态码与至多 limit 字节的正文。
func (c *Client) GetPage(ctx context.Context, target string, limit int64) (int, []byte, error) {
	req, err := c.newRequest(ctx, target, true)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: GET %s: %v", common.ErrUnreachable, target, err)
	}
	defer resp.Body.Close()
	if limit <= 0 {
		limit = 2 << 20
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read page %s: %w", target, err)
	}
	return resp.StatusCode, b, nil
}

// Open 单次打开下载流（不重试，由调用方决定重试）；调用方负责关闭 Body。
func (c *Client) Open(ctx context.Context, target string) (*http.Response, error) {
	req, err := c.newRequest(ctx, target, true)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := c.do(c.stream, req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// classify 将非暂时性 HTTP 状态标记为不可重试。
func classify(err error) error {
	var se *common.HTTPStatusError
	if errors.As(err, &se) && !se.Transient() {
		return retry.Permanent(err)
	}
	return err
}
