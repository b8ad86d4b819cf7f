package archive

import (
	"sort"
	"sync"

	"go-creator-archiver/internal/model"
)

// Collector 在极简模式下收集帖子与文件结果，避免落库。
type Collector struct {
	mu    sync.Mutex
	posts map[string]model.Post       // key: service/creator/id
	files map[string]model.FileRecord // key: post\x00url
}

func NewCollector() *Collector {
	return &Collector{
		posts: make(map[string]model.Post),
		files: make(map[string]model.FileRecord),
	}
}

func (b *Collector) AddPost(p model.Post) {
	if p.ID == "" {
		return
	}
	b.mu.Lock()
	b.posts[p.Creator.String()+"/"+p.ID] = p
	b.mu.Unlock()
}

func (b *Collector) AddPosts(list []model.Post) {
	for _, p := range list {
		b.AddPost(p)
	}
}

// AddFile 记录文件结果；同一文件的后续结果覆盖之前的结果。
func (b *Collector) AddFile(r model.FileRecord) {
	if r.URL == "" {
		return
	}
	b.mu.Lock()
	b.files[r.PostID+"\x00"+r.URL] = r
	b.mu.Unlock()
}

// Snapshot 返回副本：
// - posts 按作者、ID 排序
// - files 按更新时间倒序
func (b *Collector) Snapshot() ([]model.Post, []model.FileRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps := make([]model.Post, 0, len(b.posts))
	for _, v := range b.posts {
		ps = append(ps, v)
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Creator != ps[j].Creator {
			return ps[i].Creator.String() < ps[j].Creator.String()
		}
		return ps[i].ID < ps[j].ID
	})
	fs := make([]model.FileRecord, 0, len(b.files))
	for _, v := range b.files {
		fs = append(fs, v)
	}
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].UpdatedAt.Equal(fs[j].UpdatedAt) {
			return fs[i].UpdatedAt.After(fs[j].UpdatedAt)
		}
		return fs[i].URL < fs[j].URL
	})
	return ps, fs
}
