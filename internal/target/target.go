// 包 target 负责输入地址的形状校验与存在性探测：
// - Parse：纯本地判定，不发起网络请求
// - Validate：形状匹配后对对应接口资源做有界超时探测
package target

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/model"
)

// Prober 为存在性探测的最小接口（*fetch.Client 实现）。
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) error
}

// Parse 按期望形状拆分地址。
// 段数按整串以 "/" 切分计算（含协议与主机），与站点链接形态一致：
//
//	creator: https://host/<service>/user/<creator>            （至少 5 段）
//	post:    https://host/<service>/user/<creator>/post/<id>  （至少 7 段）
func Parse(raw string, shape model.Shape) (model.Target, error) {
	clean := strings.TrimSpace(raw)
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.TrimRight(clean, "/")
	parts := strings.Split(clean, "/")
	n := len(parts)
	t := model.Target{Shape: shape, URL: clean}
	switch shape {
	case model.ShapeCreator:
		if n < 5 || parts[n-2] != "user" {
			return t, fmt.Errorf("%w: %q is not a creator url", common.ErrMalformedURL, raw)
		}
		t.Creator = model.Creator{Service: parts[n-3], ID: parts[n-1]}
	case model.ShapePost:
		if n < 7 || parts[n-4] != "user" || parts[n-2] != "post" {
			return t, fmt.Errorf("%w: %q is not a post url", common.ErrMalformedURL, raw)
		}
		t.Creator = model.Creator{Service: parts[n-5], ID: parts[n-3]}
		t.PostID = parts[n-1]
	default:
		return t, fmt.Errorf("%w: unknown shape %q", common.ErrMalformedURL, shape)
	}
	if t.Creator.Service == "" || t.Creator.ID == "" || (shape == model.ShapePost && t.PostID == "") {
		return t, fmt.Errorf("%w: %q has empty segments", common.ErrMalformedURL, raw)
	}
	if u, err := url.Parse(clean); err != nil || u.Host == "" {
		return t, fmt.Errorf("%w: %q has no host", common.ErrMalformedURL, raw)
	}
	return t, nil
}

// Detect 先按帖子形状、再按作者形状尝试解析。
func Detect(raw string) (model.Target, error) {
	if t, err := Parse(raw, model.ShapePost); err == nil {
		return t, nil
	}
	return Parse(raw, model.ShapeCreator)
}

// CreatorAPI 返回作者帖子列表接口地址（不含分页参数）。
func CreatorAPI(apiBase string, c model.Creator) string {
	return fmt.Sprintf("%s/%s/user/%s", strings.TrimRight(apiBase, "/"), url.PathEscape(c.Service), url.PathEscape(c.ID))
}

// PostAPI 返回单帖接口地址。
func PostAPI(apiBase string, c model.Creator, postID string) string {
	return CreatorAPI(apiBase, c) + "/post/" + url.PathEscape(postID)
}

// APIURL 返回目标对应的接口资源。
func APIURL(apiBase string, t model.Target) string {
	if t.Shape == model.ShapePost {
		return PostAPI(apiBase, t.Creator, t.PostID)
	}
	return CreatorAPI(apiBase, t.Creator)
}

// Validate 校验形状后探测接口资源；形状错误不发起请求。
func Validate(ctx context.Context, p Prober, apiBase, raw string, shape model.Shape, timeout time.Duration) (model.Target, error) {
	t, err := Parse(raw, shape)
	if err != nil {
		return t, err
	}
	if err := p.Probe(ctx, APIURL(apiBase, t), timeout); err != nil {
		if ctx.Err() != nil {
			return t, ctx.Err()
		}
		return t, fmt.Errorf("validate %s: %w", t.URL, err)
	}
	return t, nil
}
