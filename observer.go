package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"go-creator-archiver/internal/model"
)

// cliObserver 在终端展示整体进度条，并统计警告/错误条数。
// 非终端输出时不绘制进度条，仅依赖日志。
type cliObserver struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	w        io.Writer
	total    int
	warnings atomic.Int64
	errors   atomic.Int64
}

func newCLIObserver(f *os.File) *cliObserver {
	o := &cliObserver{w: f}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		o.bar = progressbar.NewOptions(0,
			progressbar.OptionSetWriter(f),
			progressbar.OptionSetDescription("准备中"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return o
}

func (o *cliObserver) FileProgress(model.FileReference, int, int64) {}

func (o *cliObserver) FileCompleted(job model.DownloadJob) {}

func (o *cliObserver) PostCompleted(p model.Post) {}

// Progress 仅由完成事件推进，总数变化时（新地址）重设上限。
func (o *cliObserver) Progress(st model.ProgressState) {
	if o.bar == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if st.FilesTotal != o.total {
		o.total = st.FilesTotal
		o.bar.Reset()
		o.bar.ChangeMax(st.FilesTotal)
	}
	o.bar.Describe(fmt.Sprintf("帖子 %d/%d", st.PostsCompleted, st.PostsTotal))
	_ = o.bar.Set(st.FilesCompleted + st.FilesFailed)
}

func (o *cliObserver) Log(level slog.Level, msg string) {
	switch {
	case level >= slog.LevelError:
		o.errors.Add(1)
	case level >= slog.LevelWarn:
		o.warnings.Add(1)
	}
}

func (o *cliObserver) Finish() {
	if o.bar == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.bar.Finish()
	fmt.Fprintln(o.w)
}

func (o *cliObserver) Warnings() int64 { return o.warnings.Load() }
func (o *cliObserver) Errors() int64   { return o.errors.Load() }
