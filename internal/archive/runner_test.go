package archive_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"go-creator-archiver/internal/archive"
	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/config"
	"go-creator-archiver/internal/fetch"
	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/retry"
	"go-creator-archiver/internal/rules"
	"go-creator-archiver/internal/store"
)

const post1 = `{"id":"1","user":"1","service":"patreon","title":"first",
	"file":{"name":"cover.png","path":"/data/cover.png"},
	"attachments":[{"name":"a.zip","path":"/data/a.zip"},{"name":"b.jpg","path":"/data/b.jpg"}],
	"content":"<p>hi</p><img src=\"/data/c.png\">"}`

const post2 = `{"id":"2","user":"1","service":"patreon","title":"second",
	"attachments":[{"name":"missing.png","path":"/data/missing.png"}]}`

type fakeSite struct {
	srv      *httptest.Server
	dataHits int32
}

func newSite(t *testing.T) *fakeSite {
	t.Helper()
	s := &fakeSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/patreon/user/1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("o") == "" || r.URL.Query().Get("o") == "0" {
			fmt.Fprintf(w, "[%s,%s]", post1, post2)
			return
		}
		fmt.Fprint(w, "[]")
	})
	mux.HandleFunc("/api/v1/patreon/user/1/post/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"post":%s}`, post1)
	})
	mux.HandleFunc("/api/v1/patreon/user/1/post/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, post2)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.dataHits, 1)
		if r.URL.Path == "/data/missing.png" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "bytes of %s", r.URL.Path)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

type recorder struct {
	mu        sync.Mutex
	completed []model.DownloadJob
	posts     []string
	states    []model.ProgressState
}

func (r *recorder) FileProgress(model.FileReference, int, int64) {}
func (r *recorder) FileCompleted(j model.DownloadJob) {
	r.mu.Lock()
	r.completed = append(r.completed, j)
	r.mu.Unlock()
}
func (r *recorder) PostCompleted(p model.Post) {
	r.mu.Lock()
	r.posts = append(r.posts, p.ID)
	r.mu.Unlock()
}
func (r *recorder) Progress(st model.ProgressState) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}
func (r *recorder) Log(slog.Level, string) {}

func setup(t *testing.T, site *fakeSite, simple bool) (*config.Config, *fetch.Client, *rules.Rules) {
	t.Helper()
	cfg := config.Default()
	cfg.SaveDir = "/dl"
	cfg.Extensions = []string{"jpg", "png"}
	cfg.SimpleMode = simple
	cfg.Concurrency.Download = 2
	cfg.Pagination.Interval.Duration = time.Millisecond
	cfg.Retry.Attempts = 2
	cfg.Retry.Delay.Duration = time.Millisecond
	cl, err := fetch.New(fetch.Options{Timeout: 5 * time.Second, Retry: retry.Policy{Attempts: 2, Delay: time.Millisecond}})
	require.NoError(t, err)
	rl := &rules.Rules{Presets: map[string]rules.Preset{
		"local": {Origin: site.srv.URL, APIBase: site.srv.URL + "/api/v1", ContentImages: "img@src", FallbackMarker: "local"},
	}}
	return cfg, cl, rl
}

func TestRunner_NormalMode(t *testing.T) {
	site := newSite(t)
	cfg, cl, rl := setup(t, site, false)
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer st.Close()
	fs := afero.NewMemMapFs()
	led, err := ledger.OpenJSON(fs, cfg.Ledger.Path)
	require.NoError(t, err)
	rec := &recorder{}
	r := archive.New(cfg, st, cl, rl, led, archive.WithFs(fs), archive.WithObserver(rec))

	ctx := context.Background()
	sums, err := r.Run(ctx, []string{site.srv.URL + "/patreon/user/1"})
	require.NoError(t, err)
	require.Len(t, sums, 1)
	sum := sums[0]
	require.Equal(t, "partial", sum.Status)
	require.Equal(t, model.ProgressState{FilesCompleted: 3, FilesFailed: 1, FilesTotal: 4, PostsCompleted: 1, PostsTotal: 2}, sum.Progress)
	require.Equal(t, []string{"1"}, rec.posts)

	got, err := afero.ReadFile(fs, filepath.Join("/dl", "1", "1", "cover.png"))
	require.NoError(t, err)
	require.Equal(t, "bytes of /data/cover.png", string(got))
	exists, _ := afero.Exists(fs, filepath.Join("/dl", "1", "1", "a.zip"))
	require.False(t, exists)

	for i := 1; i < len(rec.states); i++ {
		require.GreaterOrEqual(t, rec.states[i].FilesCompleted, rec.states[i-1].FilesCompleted)
	}

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 4)
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PostsTotal)
	require.Equal(t, 1, stats.FilesFailed)
	runs, err := st.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "partial", runs[0].Status)

	// 第二次运行：已下载的文件全部命中台账，只有失败的文件再次请求
	before := atomic.LoadInt32(&site.dataHits)
	sums, err = r.Run(ctx, []string{site.srv.URL + "/patreon/user/1"})
	require.NoError(t, err)
	dups := 0
	for _, j := range sums[0].Jobs {
		if j.Status == model.StatusDuplicate {
			dups++
		}
	}
	require.Equal(t, 3, dups)
	require.EqualValues(t, 1, atomic.LoadInt32(&site.dataHits)-before)
}

func TestRunner_SimpleModeSinglePost(t *testing.T) {
	site := newSite(t)
	cfg, cl, rl := setup(t, site, true)
	fs := afero.NewMemMapFs()
	led, err := ledger.OpenJSON(fs, cfg.Ledger.Path)
	require.NoError(t, err)
	r := archive.New(cfg, nil, cl, rl, led, archive.WithFs(fs))

	d, err := r.Discover(context.Background(), site.srv.URL+"/patreon/user/1/post/1")
	require.NoError(t, err)
	require.Equal(t, model.ShapePost, d.Target.Shape)
	require.Len(t, d.Posts, 1)
	names := []string{}
	for _, f := range d.Files {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"cover.png", "b.jpg", "c.png"}, names)

	sum, err := r.Download(context.Background(), d, nil)
	require.NoError(t, err)
	require.Equal(t, "done", sum.Status)
	require.Equal(t, 1, sum.Progress.PostsCompleted)

	posts, files := r.BufferData()
	require.Len(t, posts, 1)
	require.Len(t, files, 3)
	for _, f := range files {
		require.Equal(t, model.StatusComplete, f.Status)
		require.Equal(t, "patreon/1", f.Creator)
	}
}

func TestRunner_BadInputsDoNotStopQueue(t *testing.T) {
	site := newSite(t)
	cfg, cl, rl := setup(t, site, true)
	fs := afero.NewMemMapFs()
	led, err := ledger.OpenJSON(fs, cfg.Ledger.Path)
	require.NoError(t, err)
	r := archive.New(cfg, nil, cl, rl, led, archive.WithFs(fs))

	sums, err := r.Run(context.Background(), []string{
		"https://unknown.example/patreon/user/1",
		site.srv.URL + "/patreon/1",
		site.srv.URL + "/patreon/user/1/post/2",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrMalformedURL))
	require.Len(t, sums, 1)
	require.Equal(t, 1, sums[0].Progress.FilesFailed)
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	site := newSite(t)
	cfg, cl, rl := setup(t, site, true)
	fs := afero.NewMemMapFs()
	led, _ := ledger.OpenJSON(fs, cfg.Ledger.Path)
	r := archive.New(cfg, nil, cl, rl, led, archive.WithFs(fs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sums, err := r.Run(ctx, []string{site.srv.URL + "/patreon/user/1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, sums)
	require.EqualValues(t, 0, atomic.LoadInt32(&site.dataHits))
}

// serialObserver 不加锁地记录回调，并统计是否出现重叠调用。
type serialObserver struct {
	busy    atomic.Bool
	overlap atomic.Int32
	logs    []string
	files   int
}

func (o *serialObserver) enter() func() {
	if !o.busy.CompareAndSwap(false, true) {
		o.overlap.Add(1)
		return func() {}
	}
	return func() { o.busy.Store(false) }
}

func (o *serialObserver) FileProgress(model.FileReference, int, int64) { defer o.enter()() }
func (o *serialObserver) FileCompleted(model.DownloadJob) {
	defer o.enter()()
	o.files++
}
func (o *serialObserver) PostCompleted(model.Post)       { defer o.enter()() }
func (o *serialObserver) Progress(model.ProgressState) { defer o.enter()() }
func (o *serialObserver) Log(level slog.Level, msg string) {
	defer o.enter()()
	time.Sleep(time.Millisecond)
	o.logs = append(o.logs, level.String()+" "+msg)
}

func TestRunner_ObserverLogsComeFromConsumer(t *testing.T) {
	logx.InitWriter(io.Discard, "info", "text", "en", "never")
	site := newSite(t)
	cfg, cl, rl := setup(t, site, true)
	cfg.Concurrency.Download = 4
	fs := afero.NewMemMapFs()
	led, err := ledger.OpenJSON(fs, cfg.Ledger.Path)
	require.NoError(t, err)
	obs := &serialObserver{}
	r := archive.New(cfg, nil, cl, rl, led, archive.WithFs(fs), archive.WithObserver(obs))

	_, err = r.Run(context.Background(), []string{site.srv.URL + "/patreon/user/1"})
	require.NoError(t, err)
	require.EqualValues(t, 0, obs.overlap.Load())
	require.Equal(t, 4, obs.files)

	var gaveUp, finished bool
	for _, l := range obs.logs {
		switch {
		case strings.HasPrefix(l, "ERROR 下载失败，已放弃"):
			gaveUp = true
		case strings.Contains(l, "下载结束"):
			finished = true
		}
	}
	require.True(t, gaveUp, "worker error lines reach the observer")
	require.True(t, finished, "lines logged after the consumer exits are delivered")

	// 运行结束后不再转发
	n := len(obs.logs)
	logx.Warnf("after run")
	require.Len(t, obs.logs, n)
}

func TestCollector_Snapshot(t *testing.T) {
	c := archive.NewCollector()
	cr := model.Creator{Service: "s", ID: "1"}
	c.AddPosts([]model.Post{{ID: "2", Creator: cr}, {ID: "1", Creator: cr}, {ID: ""}})
	now := time.Now()
	c.AddFile(model.FileRecord{URL: "u", PostID: "1", Status: model.StatusFailed, UpdatedAt: now})
	c.AddFile(model.FileRecord{URL: "u", PostID: "1", Status: model.StatusComplete, UpdatedAt: now.Add(time.Second)})
	ps, fs := c.Snapshot()
	require.Len(t, ps, 2)
	require.Equal(t, "1", ps[0].ID)
	require.Len(t, fs, 1)
	require.Equal(t, model.StatusComplete, fs[0].Status)
}
