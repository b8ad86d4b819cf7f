// 包 progress 将文件级完成事件汇总为帖子级与整体进度。
// 只有显式的完成/失败事件会推进计数，进行中的百分比不参与。
package progress

import (
	"sync"

	"go-creator-archiver/internal/model"
)

type fileKey struct {
	post string
	url  string
}

// Tracker 维护一次运行的 ProgressState；重复事件不会重复计数。
type Tracker struct {
	mu        sync.Mutex
	remaining map[string]int // 帖子 → 尚未成功的文件数
	known     map[fileKey]struct{}
	finished  map[fileKey]model.JobStatus
	postsDone map[string]struct{}
	state     model.ProgressState
}

// New 按帖子分组建立追踪器；没有文件的帖子不计入帖子总数。
func New(files []model.FileReference) *Tracker {
	t := &Tracker{
		remaining: make(map[string]int),
		known:     make(map[fileKey]struct{}),
		finished:  make(map[fileKey]model.JobStatus),
		postsDone: make(map[string]struct{}),
	}
	for _, f := range files {
		k := fileKey{post: f.PostID, url: f.URL}
		if _, dup := t.known[k]; dup {
			continue
		}
		t.known[k] = struct{}{}
		t.remaining[f.PostID]++
	}
	t.state.FilesTotal = len(t.known)
	t.state.PostsTotal = len(t.remaining)
	return t
}

// FileDone 记录文件成功；返回该事件是否使所属帖子完成。
func (t *Tracker) FileDone(postID, url string) (postCompleted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := fileKey{post: postID, url: url}
	if !t.accept(k, model.StatusComplete) {
		return false
	}
	t.state.FilesCompleted++
	t.remaining[postID]--
	if t.remaining[postID] == 0 {
		t.postsDone[postID] = struct{}{}
		t.state.PostsCompleted++
		return true
	}
	return false
}

// FileFailed 记录文件失败；失败的文件不计入完成数，所属帖子也不会完成。
func (t *Tracker) FileFailed(postID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accept(fileKey{post: postID, url: url}, model.StatusFailed) {
		t.state.FilesFailed++
	}
}

// accept 只接受已登记且尚无终态的文件；调用方需持有 t.mu。
func (t *Tracker) accept(k fileKey, st model.JobStatus) bool {
	if _, ok := t.known[k]; !ok {
		return false
	}
	if _, done := t.finished[k]; done {
		return false
	}
	t.finished[k] = st
	return true
}

// PostCompleted 查询帖子是否已完成。
func (t *Tracker) PostCompleted(postID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.postsDone[postID]
	return ok
}

// Snapshot 返回当前计数副本。
func (t *Tracker) Snapshot() model.ProgressState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Finished 表示所有文件都已得到终态（成功或失败）。
func (t *Tracker) Finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.finished) == len(t.known)
}
