package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type alt struct {
	sel  string
	attr string
}

// parseExpr 解析 "选择器@属性" 表达式，"||" 分隔的候选按先后回退，
// 例如 "img@src||img@data-src"。缺少属性时默认读取 src。
func parseExpr(expr string) []alt {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "img@src"
	}
	var out []alt
	for _, p := range strings.Split(expr, "||") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		a := alt{sel: p, attr: "src"}
		if at := strings.Index(p, "@"); at != -1 {
			a.sel = strings.TrimSpace(p[:at])
			a.attr = strings.TrimSpace(p[at+1:])
		}
		if a.sel == "" {
			a.sel = "img"
		}
		out = append(out, a)
	}
	return out
}

// contentImages 按文档顺序返回正文中匹配元素的地址；同一元素取第一个非空候选。
func contentImages(html, expr string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	alts := parseExpr(expr)
	if len(alts) == 0 {
		return nil
	}
	sels := make([]string, 0, len(alts))
	seen := make(map[string]bool)
	for _, a := range alts {
		if !seen[a.sel] {
			seen[a.sel] = true
			sels = append(sels, a.sel)
		}
	}
	var out []string
	doc.Find(strings.Join(sels, ", ")).Each(func(_ int, s *goquery.Selection) {
		for _, a := range alts {
			if !s.Is(a.sel) {
				continue
			}
			if v, ok := s.Attr(a.attr); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				return
			}
		}
	})
	return out
}
