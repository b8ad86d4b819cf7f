package discover

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// belongsToHost 粗略判断页面是否属于目标站点：标题、站点名或正文中出现标记词。
func belongsToHost(body []byte, marker string) bool {
	marker = strings.ToLower(strings.TrimSpace(marker))
	if marker == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return bytes.Contains(bytes.ToLower(body), []byte(marker))
	}
	if strings.Contains(strings.ToLower(doc.Find("title").Text()), marker) {
		return true
	}
	if site, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok && strings.Contains(strings.ToLower(site), marker) {
		return true
	}
	if strings.Contains(strings.ToLower(doc.Text()), marker) {
		return true
	}
	// 单页应用的正文可能为空，退回到原始字节（脚本/链接中的域名）
	return bytes.Contains(bytes.ToLower(body), []byte(marker))
}
