package archive

import (
	"log/slog"

	"go-creator-archiver/internal/model"
)

// Observer 接收运行事件（展示层）。所有回调都在同一个消费协程中顺序调用，
// 不会从下载 worker 直接触发。
type Observer interface {
	FileProgress(f model.FileReference, percent int, bytes int64)
	FileCompleted(job model.DownloadJob)
	PostCompleted(p model.Post)
	Progress(st model.ProgressState)
	Log(level slog.Level, msg string)
}

// NopObserver 忽略所有事件。
type NopObserver struct{}

func (NopObserver) FileProgress(model.FileReference, int, int64) {}
func (NopObserver) FileCompleted(model.DownloadJob)              {}
func (NopObserver) PostCompleted(model.Post)                     {}
func (NopObserver) Progress(model.ProgressState)                 {}
func (NopObserver) Log(slog.Level, string)                       {}
