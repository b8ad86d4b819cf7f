// 包 download 实现有界并发的下载调度：
// - 固定大小的 worker 池消费任务队列，同时在途文件数不超过上限
// - 先查台账，命中且校验通过则不发起网络请求
// - 流式写入 .part 文件，边写边算哈希，成功后重命名并写入台账
// - 单个文件的失败不会中断整批任务
package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/retry"
)

// MaxWorkers 为并发上限。
const MaxWorkers = 20

const defaultChunk = 32 << 10

// Opener 打开下载流（*fetch.Client 实现）。
type Opener interface {
	Open(ctx context.Context, url string) (*http.Response, error)
}

// Options 为调度器参数。
type Options struct {
	Workers   int
	Retry     retry.Policy
	ChunkSize int
}

// Batch 为一次调度的输入：文件按顺序派发，Selection 为 nil 时全部下载。
type Batch struct {
	Root      string
	Files     []model.FileReference
	Selection *Selection
}

// Scheduler 为下载调度器，可被多次 Run 复用。
type Scheduler struct {
	fs      afero.Fs
	open    Opener
	ledger  ledger.Ledger
	policy  retry.Policy
	workers int
	chunk   int
}

func New(fsys afero.Fs, op Opener, led ledger.Ledger, opts Options) *Scheduler {
	w := opts.Workers
	if w < 1 {
		w = 1
	}
	if w > MaxWorkers {
		w = MaxWorkers
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunk
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.Default()
	}
	return &Scheduler{fs: fsys, open: op, ledger: led, policy: opts.Retry, workers: w, chunk: opts.ChunkSize}
}

// Run 派发整批任务并阻塞至所有已派发任务结束；返回与输入同序的任务结果。
// 取消后不再派发新任务，未派发的任务保持 pending。events 可为 nil。
func (s *Scheduler) Run(ctx context.Context, b Batch, events chan<- Event) []model.DownloadJob {
	jobs := make([]model.DownloadJob, len(b.Files))
	for i, f := range b.Files {
		jobs[i] = model.DownloadJob{File: f, Status: model.StatusPending}
	}
	dests := Destinations(b.Root, b.Files)
	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					continue
				}
				jobs[i] = s.process(ctx, b, b.Files[i], dests[i], events)
			}
		}()
	}
dispatch:
	for i := range b.Files {
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()
	return jobs
}

func (s *Scheduler) emit(events chan<- Event, ev Event) {
	if events != nil {
		events <- ev
	}
}

// process 处理单个文件：选择检查 → 台账 → 下载 → 写台账。dest 由 Run 按整批分配。
func (s *Scheduler) process(ctx context.Context, b Batch, f model.FileReference, dest string, events chan<- Event) model.DownloadJob {
	job := model.DownloadJob{File: f, Status: model.StatusInProgress}
	if !b.Selection.Selected(f.URL) {
		job.Status, job.Percent = model.StatusComplete, 100
		s.emit(events, Event{Kind: EventDone, File: f, Status: job.Status, Percent: 100, Note: "not selected"})
		return job
	}
	job.Path = dest

	if e, ok, err := s.ledger.Lookup(ctx, f.URL); err != nil {
		logx.Warnf("查询台账失败：%s 错误=%v", f.URL, err)
	} else if ok {
		if s.ledger.Verify(e) {
			logx.Infof("已存在，跳过：%s -> %s", f.Name, e.Path)
			job.Status, job.Percent, job.Path = model.StatusDuplicate, 100, e.Path
			s.emit(events, Event{Kind: EventDone, File: f, Status: job.Status, Percent: 100, Path: e.Path})
			return job
		}
		logx.Infof("台账记录已失效，重新下载：%s", f.Name)
	}

	s.emit(events, Event{Kind: EventProgress, File: f, Status: model.StatusInProgress, Percent: 0})
	policy := s.policy
	policy.OnRetry = func(attempt int, err error) {
		logx.Warnf("下载失败（第 %d/%d 次）：%s 错误=%v", attempt, policy.Attempts, f.URL, err)
	}
	var res streamResult
	err := policy.Do(ctx, func(attempt int) error {
		job.Attempts = attempt
		r, err := s.stream(ctx, f, dest, &job.Percent, events)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		job.Status, job.Err = model.StatusFailed, err
		if ctx.Err() != nil {
			logx.Warnf("下载已取消：%s", f.Name)
		} else {
			logx.Errorf("下载失败，已放弃：%s（尝试 %d 次）错误=%v", f.URL, job.Attempts, err)
		}
		s.emit(events, Event{Kind: EventDone, File: f, Status: job.Status, Percent: job.Percent, Path: dest, Attempts: job.Attempts, Err: err})
		return job
	}

	if err := s.ledger.Upsert(ctx, f.URL, dest, res.hash); err != nil {
		logx.Warnf("写入台账失败（文件已保留）：%s 错误=%v", dest, err)
	}
	logx.Infof("下载完成：%s（%s）", f.Name, humanize.Bytes(uint64(res.size)))
	job.Status, job.Percent = model.StatusComplete, 100
	s.emit(events, Event{Kind: EventDone, File: f, Status: job.Status, Percent: 100, Path: dest, Bytes: res.size, Attempts: job.Attempts})
	return job
}

type streamResult struct {
	hash string
	size int64
}

// stream 单次下载尝试；任何失败都会删除 .part 文件。percent 记录最近一次已知的进度。
func (s *Scheduler) stream(ctx context.Context, f model.FileReference, dest string, percent *int, events chan<- Event) (streamResult, error) {
	resp, err := s.open.Open(ctx, f.URL)
	if err != nil {
		return streamResult{}, err
	}
	defer resp.Body.Close()

	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return streamResult{}, retry.Permanent(fmt.Errorf("%w: mkdir %s: %v", common.ErrFilesystem, filepath.Dir(dest), err))
	}
	part := dest + ".part"
	out, err := s.fs.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return streamResult{}, retry.Permanent(fmt.Errorf("%w: create %s: %v", common.ErrFilesystem, part, err))
	}
	abort := func(e error) (streamResult, error) {
		_ = out.Close()
		_ = s.fs.Remove(part)
		return streamResult{}, e
	}

	total := resp.ContentLength
	h := md5.New()
	buf := make([]byte, s.chunk)
	var written int64
	last := -1
	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return abort(retry.Permanent(fmt.Errorf("%w: write %s: %v", common.ErrFilesystem, part, werr)))
			}
			h.Write(buf[:n])
			written += int64(n)
			pct := -1
			if total > 0 {
				pct = int(written * 100 / total)
			}
			if pct >= 0 {
				*percent = pct
			}
			if pct != last || pct < 0 {
				last = pct
				s.emit(events, Event{Kind: EventProgress, File: f, Status: model.StatusInProgress, Percent: pct, Bytes: written})
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			return abort(fmt.Errorf("%w: read %s: %v", common.ErrUnreachable, f.URL, rerr))
		}
	}
	if total > 0 && written != total {
		return abort(fmt.Errorf("%w: %s short body %d/%d", common.ErrUnreachable, f.URL, written, total))
	}
	if err := out.Close(); err != nil {
		_ = s.fs.Remove(part)
		return streamResult{}, retry.Permanent(fmt.Errorf("%w: close %s: %v", common.ErrFilesystem, part, err))
	}
	if err := s.fs.Rename(part, dest); err != nil {
		_ = s.fs.Remove(part)
		return streamResult{}, retry.Permanent(fmt.Errorf("%w: rename %s: %v", common.ErrFilesystem, part, err))
	}
	return streamResult{hash: hex.EncodeToString(h.Sum(nil)), size: written}, nil
}
