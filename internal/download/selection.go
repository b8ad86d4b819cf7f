package download

import "sync"

// Selection 为当前选中下载的 URL 集合；运行期间可被调用方修改，
// 调度器在文件开始处理时读取。nil 表示全部选中。
type Selection struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func NewSelection(urls ...string) *Selection {
	s := &Selection{set: make(map[string]struct{}, len(urls))}
	s.Select(urls...)
	return s
}

func (s *Selection) Select(urls ...string) {
	s.mu.Lock()
	for _, u := range urls {
		s.set[u] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Selection) Deselect(urls ...string) {
	s.mu.Lock()
	for _, u := range urls {
		delete(s.set, u)
	}
	s.mu.Unlock()
}

func (s *Selection) Selected(url string) bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[url]
	return ok
}

func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
