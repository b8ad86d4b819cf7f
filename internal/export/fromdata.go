package export

import (
	"context"
	"time"

	"go-creator-archiver/internal/model"
)

// ToJSONData 直接将内存中的帖子/文件结果写成报告（极简模式，不经数据库）。
func ToJSONData(_ context.Context, posts []model.Post, files []model.FileRecord, path string) error {
	return write(path, model.Export{Stats: Summarize(posts, files), Posts: posts, Files: files})
}

// Summarize 由文件结果计算统计。
func Summarize(posts []model.Post, files []model.FileRecord) model.Stats {
	st := model.Stats{PostsTotal: len(posts), FilesTotal: len(files), UpdatedAt: time.Now()}
	for _, f := range files {
		switch f.Status {
		case model.StatusComplete:
			st.FilesComplete++
		case model.StatusDuplicate:
			st.FilesDuplicate++
		case model.StatusFailed:
			st.FilesFailed++
		}
	}
	return st
}
