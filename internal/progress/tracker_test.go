package progress_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/progress"
)

func refs() []model.FileReference {
	return []model.FileReference{
		{URL: "u1", PostID: "p1"},
		{URL: "u2", PostID: "p1"},
		{URL: "u3", PostID: "p2"},
		{URL: "u3", PostID: "p2"}, // 重复引用只计一次
	}
}

func TestTracker_PostCompletion(t *testing.T) {
	tr := progress.New(refs())
	require.Equal(t, model.ProgressState{FilesTotal: 3, PostsTotal: 2}, tr.Snapshot())

	require.False(t, tr.FileDone("p1", "u1"))
	require.False(t, tr.PostCompleted("p1"))
	require.True(t, tr.FileDone("p1", "u2"))
	require.True(t, tr.PostCompleted("p1"))
	require.True(t, tr.FileDone("p2", "u3"))

	st := tr.Snapshot()
	require.Equal(t, 3, st.FilesCompleted)
	require.Equal(t, 2, st.PostsCompleted)
	require.Equal(t, 100, st.Percent())
	require.True(t, tr.Finished())
}

func TestTracker_Idempotent(t *testing.T) {
	tr := progress.New(refs())
	require.False(t, tr.FileDone("p1", "u1"))
	require.False(t, tr.FileDone("p1", "u1"))
	require.False(t, tr.FileDone("p1", "unknown"))
	require.Equal(t, 1, tr.Snapshot().FilesCompleted)

	require.True(t, tr.FileDone("p2", "u3"))
	require.False(t, tr.FileDone("p2", "u3"))
	require.Equal(t, 1, tr.Snapshot().PostsCompleted)
}

func TestTracker_FailureBlocksPost(t *testing.T) {
	tr := progress.New(refs())
	tr.FileFailed("p1", "u1")
	tr.FileFailed("p1", "u1")
	require.False(t, tr.FileDone("p1", "u1"))
	require.False(t, tr.FileDone("p1", "u2"))
	require.False(t, tr.PostCompleted("p1"))

	st := tr.Snapshot()
	require.Equal(t, 1, st.FilesFailed)
	require.Equal(t, 1, st.FilesCompleted)
	require.Equal(t, 0, st.PostsCompleted)
	require.False(t, tr.Finished())
}

func TestTracker_ConcurrentMonotonic(t *testing.T) {
	var files []model.FileReference
	for i := 0; i < 200; i++ {
		files = append(files, model.FileReference{URL: fmt.Sprintf("u%d", i), PostID: fmt.Sprintf("p%d", i%10)})
	}
	tr := progress.New(files)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, f := range files {
				tr.FileDone(f.PostID, f.URL)
			}
		}()
	}
	last := 0
	for i := 0; i < 100; i++ {
		st := tr.Snapshot()
		require.GreaterOrEqual(t, st.FilesCompleted, last)
		require.LessOrEqual(t, st.FilesCompleted, st.FilesTotal)
		last = st.FilesCompleted
	}
	wg.Wait()

	st := tr.Snapshot()
	require.Equal(t, 200, st.FilesCompleted)
	require.Equal(t, 10, st.PostsCompleted)
}
