// 包 archive 负责主流程编排：
// - 校验地址并发现帖子（作者翻页或单帖）
// - 提取文件引用并交给下载调度
// - 单一消费协程汇总进度、通知展示层并落库
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/config"
	"go-creator-archiver/internal/discover"
	"go-creator-archiver/internal/download"
	"go-creator-archiver/internal/extract"
	"go-creator-archiver/internal/fetch"
	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/progress"
	"go-creator-archiver/internal/retry"
	"go-creator-archiver/internal/rules"
	"go-creator-archiver/internal/store"
	"go-creator-archiver/internal/target"
)

// Runner 归档执行器，持有配置/存储/HTTP 客户端/规则/台账。
type Runner struct {
	cfg    *config.Config
	rules  *rules.Rules
	fetch  *fetch.Client
	store  *store.SQLite
	ledger ledger.Ledger
	fs     afero.Fs
	obs    Observer
	// 简洁模式：仅收集内存数据，不落库
	buf *Collector
}

// Option 调整 Runner 的可选依赖。
type Option func(*Runner)

// WithFs 指定下载落盘的文件系统（默认真实文件系统）。
func WithFs(fs afero.Fs) Option { return func(r *Runner) { r.fs = fs } }

// WithObserver 指定事件接收方。
func WithObserver(o Observer) Option { return func(r *Runner) { r.obs = o } }

// New 创建 Runner；简洁模式下 s 可为 nil。
func New(cfg *config.Config, s *store.SQLite, cl *fetch.Client, rl *rules.Rules, led ledger.Ledger, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, store: s, fetch: cl, rules: rl, ledger: led, fs: afero.NewOsFs(), obs: NopObserver{}}
	if cfg != nil && (cfg.SimpleMode || s == nil) {
		r.buf = NewCollector()
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Discovery 为一次发现的结果。Err 记录非致命的翻页错误（已保留部分结果）。
type Discovery struct {
	Target model.Target
	Preset rules.Preset
	Posts  []model.Post
	Files  []model.FileReference
	End    discover.End
	Err    error
}

// Summary 为一次下载的结果。
type Summary struct {
	RunID    string
	Target   string
	Jobs     []model.DownloadJob
	Progress model.ProgressState
	Status   string
}

// Preset 按地址主机选择站点预设。
func (r *Runner) Preset(raw string) (rules.Preset, error) {
	p, ok := r.rules.ForURL(raw)
	if !ok {
		return rules.Preset{}, fmt.Errorf("%w: no preset for %s", common.ErrMalformedURL, hostOf(raw))
	}
	return p, nil
}

// Check 仅做形状校验与存在性探测。
func (r *Runner) Check(ctx context.Context, raw string) (model.Target, error) {
	preset, err := r.Preset(raw)
	if err != nil {
		return model.Target{}, err
	}
	t, err := target.Detect(raw)
	if err != nil {
		return t, err
	}
	return target.Validate(ctx, r.fetch, preset.APIBase, raw, t.Shape, r.cfg.Timeouts.Probe.Duration)
}

// Discover 校验地址并发现帖子与文件引用；校验失败为致命错误。
func (r *Runner) Discover(ctx context.Context, raw string) (*Discovery, error) {
	stopRelay := startRelay().pump(r.obs)
	defer stopRelay()
	preset, err := r.Preset(raw)
	if err != nil {
		return nil, err
	}
	t, err := r.Check(ctx, raw)
	if err != nil {
		return nil, err
	}
	d := &Discovery{Target: t, Preset: preset}
	crawler := discover.New(r.fetch, preset, discover.Options{
		PageSize: r.cfg.Pagination.PageSize,
		MaxPages: r.cfg.Pagination.MaxPages,
		Interval: r.cfg.Pagination.Interval.Duration,
	})
	switch t.Shape {
	case model.ShapeCreator:
		logx.Infof("开始遍历作者 %s 的帖子", t.Creator)
		res, err := crawler.Creator(ctx, t)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			logx.Warnf("翻页未完整结束（保留 %d 个帖子）：%v", len(res.Posts), err)
			d.Err = err
		}
		d.End = res.End
		d.Posts = res.Posts
		if r.cfg.Pagination.FetchDetailsEnabled() && len(d.Posts) > 0 {
			d.Posts = crawler.Details(ctx, d.Posts, r.cfg.Concurrency.Prepare)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	case model.ShapePost:
		p, err := crawler.Post(ctx, t)
		if err != nil {
			return nil, err
		}
		d.Posts = []model.Post{p}
	}

	withMain, withAtt, withContent := r.cfg.Categories.Enabled()
	opts := extract.Options{
		Origin:        preset.Origin,
		Extensions:    extract.NewExtSet(r.cfg.Extensions),
		Main:          withMain,
		Attachments:   withAtt,
		ContentImages: withContent,
		ImageExpr:     preset.ContentImages,
	}
	for _, p := range d.Posts {
		d.Files = append(d.Files, extract.Files(p, opts)...)
	}
	logx.Infof("%s 发现 %d 个帖子、%d 个文件", t.Creator, len(d.Posts), len(d.Files))
	return d, nil
}

// Download 下载发现结果中的文件；sel 为 nil 时全部下载。
// 调度器的事件与 worker 产生的日志由本函数内的单一消费协程处理。
func (r *Runner) Download(ctx context.Context, d *Discovery, sel *download.Selection) (Summary, error) {
	relay := startRelay()
	defer func() {
		relay.stop()
		relay.drain(r.obs)
	}()
	sum := Summary{Target: d.Target.URL}
	runID, err := r.beginRun(ctx, d.Target.URL)
	if err != nil {
		logx.Warnf("登记运行失败：%v", err)
	}
	sum.RunID = runID
	for _, p := range d.Posts {
		r.recordPost(ctx, runID, p)
	}

	tracker := progress.New(d.Files)
	posts := make(map[string]model.Post, len(d.Posts))
	for _, p := range d.Posts {
		posts[p.ID] = p
	}
	policy := retry.Policy{Attempts: r.cfg.Retry.Attempts, Delay: r.cfg.Retry.Delay.Duration}
	sched := download.New(r.fs, r.fetch, r.ledger, download.Options{Workers: r.cfg.Concurrency.Download, Retry: policy})

	events := make(chan download.Event, 64)
	done := make(chan struct{})
	r.obs.Progress(tracker.Snapshot())
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					relay.drain(r.obs)
					return
				}
				relay.drain(r.obs)
				r.consume(ctx, runID, d.Target.Creator, ev, tracker, posts)
			case <-relay.notify:
				relay.drain(r.obs)
			}
		}
	}()
	sum.Jobs = sched.Run(ctx, download.Batch{
		Root:      filepath.Join(r.cfg.SaveDir, download.SanitizeName(d.Target.Creator.ID)),
		Files:     d.Files,
		Selection: sel,
	}, events)
	close(events)
	<-done

	sum.Progress = tracker.Snapshot()
	switch {
	case ctx.Err() != nil:
		sum.Status = "cancelled"
	case sum.Progress.FilesFailed > 0:
		sum.Status = "partial"
	default:
		sum.Status = "done"
	}
	r.finishRun(runID, sum)
	logx.Infof("%s 下载结束：完成 %d/%d，失败 %d，帖子 %d/%d（%s）", d.Target.Creator,
		sum.Progress.FilesCompleted, sum.Progress.FilesTotal, sum.Progress.FilesFailed,
		sum.Progress.PostsCompleted, sum.Progress.PostsTotal, sum.Status)
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}

// consume 处理单个调度事件：推进进度、通知展示层、记录结果。
func (r *Runner) consume(ctx context.Context, runID string, cr model.Creator, ev download.Event, tr *progress.Tracker, posts map[string]model.Post) {
	if ev.Kind == download.EventProgress {
		r.obs.FileProgress(ev.File, ev.Percent, ev.Bytes)
		return
	}
	job := model.DownloadJob{File: ev.File, Status: ev.Status, Percent: ev.Percent, Path: ev.Path, Attempts: ev.Attempts, Err: ev.Err}
	r.obs.FileCompleted(job)
	if ev.Err != nil && (errors.Is(ev.Err, context.Canceled) || errors.Is(ev.Err, context.DeadlineExceeded)) && ctx.Err() != nil {
		return
	}
	if ev.Status.Succeeded() {
		if tr.FileDone(ev.File.PostID, ev.File.URL) {
			p := posts[ev.File.PostID]
			logx.Infof("帖子已完成：%s", p.DisplayTitle())
			r.obs.PostCompleted(p)
		}
	} else if ev.Status == model.StatusFailed {
		tr.FileFailed(ev.File.PostID, ev.File.URL)
	}
	r.obs.Progress(tr.Snapshot())
	if ev.Note != "" {
		return
	}
	rec := model.FileRecord{
		URL:       ev.File.URL,
		PostID:    ev.File.PostID,
		Creator:   cr.String(),
		Path:      ev.Path,
		Status:    ev.Status,
		Attempts:  ev.Attempts,
		UpdatedAt: time.Now(),
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	r.recordFile(ctx, runID, rec)
}

// Run 依次处理地址队列：发现→下载。单个地址失败不影响后续地址，取消时停止。
func (r *Runner) Run(ctx context.Context, urls []string) ([]Summary, error) {
	queue := append([]string(nil), urls...)
	var out []Summary
	var failed []error
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		raw := strings.TrimSpace(queue[0])
		queue = queue[1:]
		if raw == "" {
			continue
		}
		d, err := r.Discover(ctx, raw)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			r.errorf("发现失败：%s 错误=%v", raw, err)
			failed = append(failed, fmt.Errorf("%s: %w", raw, err))
			continue
		}
		sum, err := r.Download(ctx, d, nil)
		out = append(out, sum)
		if err != nil {
			return out, err
		}
	}
	return out, errors.Join(failed...)
}

// errorf 在调用方协程输出错误并通知 Observer，仅用于没有消费协程运行的阶段。
func (r *Runner) errorf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	logx.Errorf("%s", msg)
	r.obs.Log(slog.LevelError, msg)
}

func (r *Runner) beginRun(ctx context.Context, target string) (string, error) {
	if r.buf != nil {
		return "", nil
	}
	return r.store.BeginRun(ctx, target)
}

// finishRun 使用独立 ctx，保证取消后仍能写入结束状态。
func (r *Runner) finishRun(runID string, sum Summary) {
	if r.buf != nil || runID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.FinishRun(ctx, runID, sum.Status, sum.Progress); err != nil {
		logx.Warnf("写入运行结果失败：%v", err)
	}
}

func (r *Runner) recordPost(ctx context.Context, runID string, p model.Post) {
	if r.buf != nil {
		r.buf.AddPost(p)
		return
	}
	if err := r.store.UpsertPost(ctx, runID, p); err != nil {
		logx.Warnf("写入帖子失败：%v", err)
	}
}

func (r *Runner) recordFile(ctx context.Context, runID string, rec model.FileRecord) {
	if r.buf != nil {
		r.buf.AddFile(rec)
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := r.store.RecordFile(ctx, runID, rec); err != nil {
		logx.Warnf("写入文件结果失败：%v", err)
	}
}

// BufferData 返回极简模式下收集的内存数据（帖子、文件结果）。
func (r *Runner) BufferData() ([]model.Post, []model.FileRecord) {
	if r == nil || r.buf == nil {
		return nil, nil
	}
	return r.buf.Snapshot()
}

// hostOf 提取链接的主机名，失败时做字符串兜底，便于日志定位。
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if j := strings.IndexAny(s, "/?#"); j >= 0 {
		s = s[:j]
	}
	return s
}
