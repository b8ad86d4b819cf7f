// 包 discover 负责帖子发现：
// - Creator：按偏移量逐页遍历作者帖子，页间限速，支持取消与回退探测
// - Post：抓取单帖（兼容对象与 {post: {...}} 包装）
// - Details：有界并发地逐帖拉取详情
package discover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/extract"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/rules"
	"go-creator-archiver/internal/target"
)

// Fetcher 为发现所需的 HTTP 能力（*fetch.Client 实现）。
type Fetcher interface {
	GetJSON(ctx context.Context, url string, v any) error
	GetJSONRetry(ctx context.Context, url string, v any) error
	GetPage(ctx context.Context, url string, limit int64) (int, []byte, error)
}

// Options 为分页参数。
type Options struct {
	PageSize int
	MaxPages int
	// Interval 为两次翻页之间的最小间隔
	Interval time.Duration
}

// End 记录遍历结束的原因。
type End string

const (
	EndExhausted End = "exhausted"
	EndCeiling   End = "ceiling"
	EndFallback  End = "fallback"
	EndFailed    End = "failed"
)

// Result 为一次遍历的结果；失败时 Posts 仍保留已收集的部分。
type Result struct {
	Posts []model.Post
	Pages int
	End   End
}

// Crawler 为单个站点预设的帖子发现器。
type Crawler struct {
	fetch    Fetcher
	preset   rules.Preset
	pageSize int
	maxPages int
	limiter  *rate.Limiter
}

func New(f Fetcher, preset rules.Preset, opts Options) *Crawler {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 200
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.Interval > 0 {
		lim = rate.NewLimiter(rate.Every(opts.Interval), 1)
	}
	return &Crawler{fetch: f, preset: preset, pageSize: opts.PageSize, maxPages: opts.MaxPages, limiter: lim}
}

// Creator 逐页遍历作者帖子，直到空页、达到页数上限、回退探测成功或失败。
// 取消时返回 ctx 错误且不返回任何帖子。
func (c *Crawler) Creator(ctx context.Context, t model.Target) (Result, error) {
	var res Result
	base := target.CreatorAPI(c.preset.APIBase, t.Creator)
	for page := 0; page < c.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, err
		}
		pageURL := fmt.Sprintf("%s?o=%d", base, page*c.pageSize)
		logx.Debugf("抓取第 %d 页：%s", page+1, pageURL)
		var raw []json.RawMessage
		err := c.fetch.GetJSON(ctx, pageURL, &raw)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if errors.Is(err, common.ErrInvalidPayload) {
				res.End = EndFailed
				logx.Warnf("第 %d 页数据无效，停止翻页：%v", page+1, err)
				return res, fmt.Errorf("page %d of %s: %w", page+1, t.Creator, err)
			}
			logx.Warnf("第 %d 页请求失败，尝试回退探测：%v", page+1, err)
			if perr := c.fallback(ctx, t.URL); perr != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				res.End = EndFailed
				return res, fmt.Errorf("page %d of %s: %w (fallback: %v)", page+1, t.Creator, err, perr)
			}
			logx.Infof("回退探测成功，保留已获取的 %d 个帖子", len(res.Posts))
			res.End = EndFallback
			return c.finish(ctx, res)
		}
		res.Pages++
		if len(raw) == 0 {
			res.End = EndExhausted
			return c.finish(ctx, res)
		}
		for _, item := range raw {
			p, err := c.decode(item, t.Creator)
			if err != nil {
				logx.Warnf("跳过无法解析的帖子：%v", err)
				continue
			}
			res.Posts = append(res.Posts, p)
		}
		logx.Infof("第 %d 页获取 %d 个帖子（累计 %d）", page+1, len(raw), len(res.Posts))
	}
	logx.Warnf("达到页数上限 %d，停止翻页", c.maxPages)
	res.End = EndCeiling
	return c.finish(ctx, res)
}

// finish 在交付结果前再检查一次取消。
func (c *Crawler) finish(ctx context.Context, res Result) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// fallback 以浏览器请求头重新请求作者页面；200 且页面属于该站点时返回 nil。
func (c *Crawler) fallback(ctx context.Context, pageURL string) error {
	status, body, err := c.fetch.GetPage(ctx, pageURL, 2<<20)
	if err != nil {
		return err
	}
	if status != 200 {
		return &common.HTTPStatusError{URL: pageURL, Status: status}
	}
	if !belongsToHost(body, c.preset.FallbackMarker) {
		return fmt.Errorf("%w: %s does not look like %s", common.ErrInvalidPayload, pageURL, c.preset.FallbackMarker)
	}
	return nil
}

// Post 抓取单帖；接口可能直接返回对象，也可能返回 {post: {...}}。
func (c *Crawler) Post(ctx context.Context, t model.Target) (model.Post, error) {
	var raw json.RawMessage
	if err := c.fetch.GetJSONRetry(ctx, target.PostAPI(c.preset.APIBase, t.Creator, t.PostID), &raw); err != nil {
		return model.Post{}, fmt.Errorf("fetch post %s: %w", t.PostID, err)
	}
	p, err := c.decode(raw, t.Creator)
	if err != nil {
		return model.Post{}, err
	}
	if p.ID == "" {
		p.ID = t.PostID
	}
	return p, nil
}

// decode 解析单条帖子负载并派生封面。
func (c *Crawler) decode(raw json.RawMessage, owner model.Creator) (model.Post, error) {
	raw = unwrap(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return model.Post{}, fmt.Errorf("%w: post is not an object", common.ErrInvalidPayload)
	}
	var pl model.PostPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		return model.Post{}, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	cr := owner
	if pl.Service != "" && pl.User != "" {
		cr = model.Creator{Service: pl.Service, ID: string(pl.User)}
	}
	return model.Post{
		ID:        string(pl.ID),
		Title:     strings.TrimSpace(pl.Title),
		Creator:   cr,
		Thumbnail: extract.Thumbnail(&pl, c.preset.Origin),
		Payload:   &pl,
	}, nil
}

func unwrap(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	var w struct {
		Post json.RawMessage `json:"post"`
	}
	if err := json.Unmarshal(raw, &w); err == nil {
		if inner := bytes.TrimSpace(w.Post); len(inner) > 0 && inner[0] == '{' {
			return inner
		}
	}
	return raw
}
