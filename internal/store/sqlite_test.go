package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/model"
	"go-creator-archiver/internal/store"
)

func open(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_RunsPostsFiles(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "https://kemono.su/patreon/user/1")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if _, err := uuid.Parse(runID); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", runID, err)
	}

	cr := model.Creator{Service: "patreon", ID: "1"}
	if err := s.UpsertPost(ctx, runID, model.Post{ID: "10", Title: "old", Creator: cr}); err != nil {
		t.Fatalf("upsert post: %v", err)
	}
	if err := s.UpsertPost(ctx, runID, model.Post{ID: "10", Title: "new", Creator: cr}); err != nil {
		t.Fatalf("upsert post update: %v", err)
	}
	if err := s.UpsertPost(ctx, runID, model.Post{Creator: cr}); err == nil {
		t.Fatalf("post without id should fail")
	}

	recs := []model.FileRecord{
		{URL: "u1", PostID: "10", Creator: cr.String(), Status: model.StatusFailed, Attempts: 5, Error: "boom"},
		{URL: "u1", PostID: "10", Creator: cr.String(), Status: model.StatusComplete, Attempts: 1, Path: "/d/10/a.png"},
		{URL: "u2", PostID: "10", Creator: cr.String(), Status: model.StatusDuplicate},
		{URL: "u3", PostID: "10", Creator: cr.String(), Status: model.StatusFailed, Error: "404"},
	}
	for _, r := range recs {
		if err := s.RecordFile(ctx, runID, r); err != nil {
			t.Fatalf("record file: %v", err)
		}
	}

	posts, err := s.ListPosts(ctx)
	if err != nil || len(posts) != 1 || posts[0].Title != "new" || posts[0].Creator != cr {
		t.Fatalf("list posts: %v %+v", err, posts)
	}
	files, err := s.ListFiles(ctx)
	if err != nil || len(files) != 3 {
		t.Fatalf("list files: %v len=%d", err, len(files))
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PostsTotal != 1 || st.FilesTotal != 3 || st.FilesComplete != 1 || st.FilesDuplicate != 1 || st.FilesFailed != 1 {
		t.Fatalf("stats mismatch: %+v", st)
	}

	if err := s.FinishRun(ctx, runID, "done", model.ProgressState{FilesTotal: 3, FilesCompleted: 2, FilesFailed: 1, PostsTotal: 1}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	runs, err := s.ListRuns(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("list runs: %v %+v", err, runs)
	}
	if runs[0].Status != "done" || runs[0].Progress.FilesCompleted != 2 || runs[0].FinishedAt.IsZero() {
		t.Fatalf("run = %+v", runs[0])
	}
}

func TestSQLite_ResetKeepsLedger(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	runID, _ := s.BeginRun(ctx, "x")
	if err := s.UpsertPost(ctx, runID, model.Post{ID: "1"}); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	if err := s.RecordFile(ctx, runID, model.FileRecord{URL: "u", PostID: "1", Status: model.StatusComplete}); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := s.PutLedgerEntry(ctx, model.LedgerEntry{Key: "k", Path: "/p", ContentHash: "h", URL: "u"}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ps, _ := s.ListPosts(ctx)
	fs, _ := s.ListFiles(ctx)
	runs, _ := s.ListRuns(ctx, 0)
	if len(ps) != 0 || len(fs) != 0 || len(runs) != 0 {
		t.Fatalf("not empty after reset: posts=%d files=%d runs=%d", len(ps), len(fs), len(runs))
	}
	if _, ok, _ := s.GetLedgerEntry(ctx, "k"); !ok {
		t.Fatalf("ledger should survive reset")
	}
}

func TestSQLite_CleanOldRuns(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	if _, err := s.BeginRun(ctx, "recent"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.CleanOldRuns(ctx, 1); err != nil {
		t.Fatalf("clean: %v", err)
	}
	runs, _ := s.ListRuns(ctx, 0)
	if len(runs) != 1 {
		t.Fatalf("recent run removed: %d", len(runs))
	}
}

func TestSQLite_AsLedgerBackend(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/d/a.png", []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, _ := ledger.HashFile(fs, "/d/a.png")
	l := ledger.NewBacked(fs, s)

	if _, ok, err := l.Lookup(ctx, "https://x/a.png"); err != nil || ok {
		t.Fatalf("lookup on empty ledger: ok=%v err=%v", ok, err)
	}
	if err := l.Upsert(ctx, "https://x/a.png", "/d/a.png", h); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	e, ok, err := l.Lookup(ctx, "https://x/a.png")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if !l.Verify(e) {
		t.Fatalf("entry should verify: %+v", e)
	}
	_ = fs.Remove("/d/a.png")
	if l.Verify(e) {
		t.Fatalf("stale entry verified")
	}
}
