// 包 store 提供存储实现（SQLite）：运行记录、帖子、文件结果与可选的去重台账表。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"go-creator-archiver/internal/ledger"
	"go-creator-archiver/internal/model"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db *sql.DB
}

var _ ledger.Backend = (*SQLite)(nil)

// Run 为一次运行的记录。
type Run struct {
	ID         string
	Target     string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Progress   model.ProgressState
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移。
func OpenSQLite(path string) (*SQLite, error) {
	// 说明：modernc sqlite 的 DSN 可直接使用文件路径，或以 'file:...' 前缀表示
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Reset 清空运行、帖子与文件记录；台账表保留（清空会导致全部重新下载）。
func (s *SQLite) Reset(ctx context.Context) error {
	for _, table := range []string{"files", "posts", "runs"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            target TEXT,
            status TEXT,
            files_total INTEGER DEFAULT 0,
            files_complete INTEGER DEFAULT 0,
            files_failed INTEGER DEFAULT 0,
            posts_total INTEGER DEFAULT 0,
            posts_complete INTEGER DEFAULT 0,
            started_at TIMESTAMP,
            finished_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS posts (
            service TEXT,
            creator TEXT,
            id TEXT,
            title TEXT,
            thumbnail TEXT,
            run_id TEXT,
            created_at TIMESTAMP,
            UNIQUE(service, creator, id)
        );`,
		`CREATE TABLE IF NOT EXISTS files (
            url TEXT,
            post_id TEXT,
            creator TEXT,
            path TEXT,
            status TEXT,
            attempts INTEGER,
            error TEXT,
            run_id TEXT,
            updated_at TIMESTAMP,
            UNIQUE(post_id, url)
        );`,
		`CREATE TABLE IF NOT EXISTS ledger (
            key TEXT PRIMARY KEY,
            file_path TEXT,
            file_hash TEXT,
            url TEXT,
            updated_at TIMESTAMP
        );`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// BeginRun 登记一次运行并返回其 ID。
func (s *SQLite) BeginRun(ctx context.Context, target string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(id, target, status, started_at) VALUES(?,?,?,?)`,
		id, target, "running", time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun 写入运行结束状态与计数。
func (s *SQLite) FinishRun(ctx context.Context, id, status string, p model.ProgressState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, files_total=?, files_complete=?, files_failed=?,
        posts_total=?, posts_complete=?, finished_at=? WHERE id=?`,
		status, p.FilesTotal, p.FilesCompleted, p.FilesFailed, p.PostsTotal, p.PostsCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// ListRuns 返回最近的运行记录（按开始时间倒序）。
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(target,''), COALESCE(status,''), files_total, files_complete, files_failed,
        posts_total, posts_complete, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Target, &r.Status, &r.Progress.FilesTotal, &r.Progress.FilesCompleted, &r.Progress.FilesFailed,
			&r.Progress.PostsTotal, &r.Progress.PostsCompleted, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		if started.Valid {
			r.StartedAt = started.Time
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// UpsertPost 插入或更新帖子（服务+作者+ID 唯一）。
func (s *SQLite) UpsertPost(ctx context.Context, runID string, p model.Post) error {
	if p.ID == "" {
		return errors.New("post.id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO posts(service, creator, id, title, thumbnail, run_id, created_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(service, creator, id) DO UPDATE SET title=excluded.title, thumbnail=excluded.thumbnail, run_id=excluded.run_id`,
		p.Creator.Service, p.Creator.ID, p.ID, p.Title, p.Thumbnail, runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert post %s: %w", p.ID, err)
	}
	return nil
}

// RecordFile 写入文件结果（帖子+URL 唯一，保留最近一次结果）。
func (s *SQLite) RecordFile(ctx context.Context, runID string, r model.FileRecord) error {
	if r.URL == "" {
		return errors.New("file.url required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO files(url, post_id, creator, path, status, attempts, error, run_id, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(post_id, url) DO UPDATE SET creator=excluded.creator, path=excluded.path, status=excluded.status,
        attempts=excluded.attempts, error=excluded.error, run_id=excluded.run_id, updated_at=excluded.updated_at`,
		r.URL, r.PostID, r.Creator, r.Path, string(r.Status), r.Attempts, r.Error, runID, nowOr(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("record file %s: %w", r.URL, err)
	}
	return nil
}

// ListPosts 返回全部帖子，按作者与 ID 排序。
func (s *SQLite) ListPosts(ctx context.Context) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service, creator, id, COALESCE(title,''), COALESCE(thumbnail,'') FROM posts ORDER BY service, creator, id`)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()
	var out []model.Post
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.Creator.Service, &p.Creator.ID, &p.ID, &p.Title, &p.Thumbnail); err != nil {
			return nil, fmt.Errorf("scan posts: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// ListFiles 返回全部文件结果，按更新时间倒序。
func (s *SQLite) ListFiles(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, post_id, COALESCE(creator,''), COALESCE(path,''), status, attempts,
        COALESCE(error,''), updated_at FROM files ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	var out []model.FileRecord
	for rows.Next() {
		var r model.FileRecord
		var status string
		var updated sql.NullTime
		if err := rows.Scan(&r.URL, &r.PostID, &r.Creator, &r.Path, &status, &r.Attempts, &r.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan files: %w", err)
		}
		r.Status = model.JobStatus(status)
		if updated.Valid {
			r.UpdatedAt = updated.Time
		} else {
			r.UpdatedAt = time.Now()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}

// Stats 统计汇总：帖子总数、文件总数及各状态数量、更新时间。
func (s *SQLite) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts`).Scan(&st.PostsTotal); err != nil {
		return st, fmt.Errorf("count posts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM files GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("count files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scan file counts: %w", err)
		}
		st.FilesTotal += n
		switch model.JobStatus(status) {
		case model.StatusComplete:
			st.FilesComplete += n
		case model.StatusDuplicate:
			st.FilesDuplicate += n
		case model.StatusFailed:
			st.FilesFailed += n
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate file counts: %w", err)
	}
	st.UpdatedAt = time.Now()
	return st, nil
}

// CleanOldRuns 按天数阈值清理过期的运行记录（基于 started_at）。
func (s *SQLite) CleanOldRuns(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("clean old runs: %w", err)
	}
	return nil
}

// GetLedgerEntry 实现 ledger.Backend。
func (s *SQLite) GetLedgerEntry(ctx context.Context, key string) (model.LedgerEntry, bool, error) {
	e := model.LedgerEntry{Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT file_path, file_hash, url FROM ledger WHERE key=?`, key).
		Scan(&e.Path, &e.ContentHash, &e.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("query ledger %s: %w", key, err)
	}
	return e, true, nil
}

// PutLedgerEntry 实现 ledger.Backend（覆盖写入）。
func (s *SQLite) PutLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO ledger(key, file_path, file_hash, url, updated_at) VALUES(?,?,?,?,?)
        ON CONFLICT(key) DO UPDATE SET file_path=excluded.file_path, file_hash=excluded.file_hash, url=excluded.url, updated_at=excluded.updated_at`,
		e.Key, e.Path, e.ContentHash, e.URL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert ledger %s: %w", e.Key, err)
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
