// 包 extract 从已抓取的帖子负载中提取下载候选：
// - 主文件、附件、正文图片三类来源，可分别开关
// - 按扩展名白名单过滤（jpg 与 jpeg 互通）
// - 以 URL 去重并保持首次出现的顺序
// 本包不发起任何网络请求。
package extract

import (
	"net/url"
	"path"
	"strings"

	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
)

// Options 为一次提取的输入参数。
type Options struct {
	// Origin 为相对路径拼接的基准源，如 https://kemono.su
	Origin        string
	Extensions    ExtSet
	Main          bool
	Attachments   bool
	ContentImages bool
	// ImageExpr 为正文图片表达式，默认 "img@src"
	ImageExpr string
}

// Files 返回帖子的有序、去重后的文件引用列表；相同输入总是得到相同输出。
func Files(post model.Post, opts Options) []model.FileReference {
	p := post.Payload
	if p == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []model.FileReference
	add := func(ref model.FileReference) {
		if ref.URL == "" {
			return
		}
		if !opts.Extensions.Allows(ref.Ext) {
			logx.Debugf("跳过不在白名单内的文件：%s (%s)", ref.Name, ref.Ext)
			return
		}
		if _, dup := seen[ref.URL]; dup {
			return
		}
		seen[ref.URL] = struct{}{}
		out = append(out, ref)
	}
	if opts.Main && !p.File.Empty() {
		add(declared(p.File, opts.Origin, post.ID, model.KindMain))
	}
	if opts.Attachments {
		for _, a := range p.Attachments {
			if a.Empty() {
				continue
			}
			add(declared(a, opts.Origin, post.ID, model.KindAttachment))
		}
	}
	if opts.ContentImages && strings.TrimSpace(p.Content) != "" {
		for _, src := range contentImages(p.Content, opts.ImageExpr) {
			u := abs(opts.Origin, src)
			add(model.FileReference{
				URL:    u,
				Name:   FileName(u),
				Ext:    urlExt(u),
				PostID: post.ID,
				Kind:   model.KindContentImage,
			})
		}
	}
	logx.Debugf("帖子 %s 共提取 %d 个文件", post.ID, len(out))
	return out
}

// declared 处理主文件/附件：拼接基准源，缺少 f= 时按声明名补齐；扩展名优先取声明名。
func declared(f model.FileInfo, origin, postID string, kind model.FileKind) model.FileReference {
	u := abs(origin, f.Path)
	name := strings.TrimSpace(f.Name)
	if name != "" {
		u = withFileName(u, name)
	} else {
		name = FileName(u)
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		ext = urlExt(u)
	}
	return model.FileReference{URL: u, Name: name, Ext: ext, PostID: postID, Kind: kind}
}

// withFileName 在 URL 未显式携带 f= 时追加文件名查询参数，已有查询串原样保留。
func withFileName(raw, name string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Query().Has("f") {
		return raw
	}
	frag := ""
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, frag = raw[:i], raw[i:]
	}
	sep := "?"
	switch {
	case strings.HasSuffix(raw, "?"), strings.HasSuffix(raw, "&"):
		sep = ""
	case strings.Contains(raw, "?"):
		sep = "&"
	}
	return raw + sep + "f=" + strings.ReplaceAll(url.QueryEscape(name), "+", "%20") + frag
}

// FileName 从 URL 恢复展示文件名：优先 f= 参数，否则取路径最后一段。
func FileName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(strings.SplitN(raw, "?", 2)[0])
	}
	if f := strings.TrimSpace(u.Query().Get("f")); f != "" {
		return f
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

func urlExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(path.Ext(raw))
	}
	return strings.ToLower(path.Ext(u.Path))
}

var imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}}

// IsImage 判断扩展名或路径是否为可预览图片。
func IsImage(p string) bool {
	_, ok := imageExts[strings.ToLower(path.Ext(p))]
	return ok
}

// Thumbnail 返回帖子的封面：主文件为图片时取主文件，否则取第一个图片附件；均无时返回空串。
func Thumbnail(p *model.PostPayload, origin string) string {
	if p == nil {
		return ""
	}
	if !p.File.Empty() && IsImage(p.File.Path) {
		return abs(origin, p.File.Path)
	}
	for _, a := range p.Attachments {
		if !a.Empty() && IsImage(a.Path) {
			return abs(origin, a.Path)
		}
	}
	return ""
}

// abs 将相对链接转换为绝对 URL。
func abs(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
