// 包 export 负责导出运行报告：将帖子与文件结果写为 JSON（{stats, posts, files}）。
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/store"
)

// ToJSON 查询统计/帖子/文件结果并写入 JSON 文件（带缩进格式）。
func ToJSON(ctx context.Context, s *store.SQLite, path string) error {
	posts, err := s.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	files, err := s.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return write(path, model.Export{Stats: stats, Posts: posts, Files: files})
}

func write(path string, out model.Export) error {
	if out.Posts == nil {
		out.Posts = []model.Post{}
	}
	if out.Files == nil {
		out.Files = []model.FileRecord{}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json to %s: %w", path, err)
	}
	return nil
}
