package discover

import (
	"context"
	"sync"

	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
)

// Details 以至多 n 个并发逐帖拉取详情（列表接口的正文可能被截断）；
// 单帖失败时保留列表中的负载，结果顺序与输入一致。
func (c *Crawler) Details(ctx context.Context, posts []model.Post, n int) []model.Post {
	out := make([]model.Post, len(posts))
	copy(out, posts)
	sem := make(chan struct{}, max(1, n))
	var wg sync.WaitGroup
	for i, p := range posts {
		i, p := i, p
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			t := model.Target{Shape: model.ShapePost, Creator: p.Creator, PostID: p.ID}
			full, err := c.Post(ctx, t)
			if err != nil {
				if ctx.Err() == nil {
					logx.Warnf("获取帖子 %s 详情失败，使用列表数据：%v", p.ID, err)
				}
				return
			}
			if full.Title == "" {
				full.Title = p.Title
			}
			out[i] = full
		}()
	}
	wg.Wait()
	return out
}
