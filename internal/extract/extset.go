package extract

import "strings"

// ExtSet 为扩展名白名单，元素统一为小写并带前导点（如 ".png"）。
type ExtSet map[string]struct{}

// NewExtSet 归一化 "jpg"/".PNG"/"JPEG" 等写法。
func NewExtSet(tokens []string) ExtSet {
	s := make(ExtSet, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		s[t] = struct{}{}
	}
	return s
}

// Allows 判断扩展名是否在白名单内；JPEG 令牌同时匹配 .jpg 与 .jpeg。
func (s ExtSet) Allows(ext string) bool {
	ext = strings.ToLower(ext)
	if ext == "" {
		return false
	}
	if _, ok := s[ext]; ok {
		return true
	}
	if ext == ".jpg" || ext == ".jpeg" {
		_, jpg := s[".jpg"]
		_, jpeg := s[".jpeg"]
		return jpg || jpeg
	}
	return false
}
