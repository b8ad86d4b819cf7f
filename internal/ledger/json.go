package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
)

// JSONLedger 为单文件台账：{urlHash: {file_path, file_hash, url}}。
// 打开时整体读入内存，每次 Upsert 在互斥锁内整表重写（临时文件 + 重命名）。
type JSONLedger struct {
	fs      afero.Fs
	path    string
	mu      sync.Mutex
	entries map[string]model.LedgerEntry
	lock    *flock.Flock
}

var _ Ledger = (*JSONLedger)(nil)

// OpenJSON 读取台账文件；文件不存在视为空表，内容损坏时记录警告并以空表启动。
func OpenJSON(fsys afero.Fs, path string) (*JSONLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	l := &JSONLedger{fs: fsys, path: path, entries: make(map[string]model.LedgerEntry)}
	if err := l.load(); err != nil {
		if errors.Is(err, common.ErrFilesystem) {
			return nil, err
		}
		logx.Warnf("台账文件无法解析，将以空表启动：%s（%v）", path, err)
	}
	return l, nil
}

// Lock 在台账旁创建 .lock 文件并尝试独占（仅适用于真实文件系统）；
// 已被其他进程持有时返回 ErrLedgerLocked。
func (l *JSONLedger) Lock() error {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", common.ErrFilesystem, filepath.Dir(l.path), err)
	}
	fl := flock.New(l.path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrLedgerLocked, l.path)
	}
	l.lock = fl
	return nil
}

// Close 释放进程锁（若持有）。
func (l *JSONLedger) Close() error {
	if l.lock == nil {
		return nil
	}
	err := l.lock.Unlock()
	l.lock = nil
	return err
}

func (l *JSONLedger) Lookup(_ context.Context, url string) (model.LedgerEntry, bool, error) {
	key := Key(url)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e, ok, nil
}

// Verify 仅当文件存在且内容哈希一致时返回 true。
func (l *JSONLedger) Verify(e model.LedgerEntry) bool {
	if err := CheckEntry(l.fs, e); err != nil {
		logx.Debugf("台账条目失效：%v", err)
		return false
	}
	return true
}

// Upsert 写入（或覆盖）条目并整表落盘；落盘失败时内存中的条目仍然保留。
func (l *JSONLedger) Upsert(_ context.Context, url, path, contentHash string) error {
	key := Key(url)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = model.LedgerEntry{Key: key, Path: path, ContentHash: contentHash, URL: url}
	if err := l.save(); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Len 返回条目数量。
func (l *JSONLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *JSONLedger) load() error {
	b, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read ledger %s: %v", common.ErrFilesystem, l.path, err)
	}
	if len(b) == 0 {
		return nil
	}
	var raw map[string]model.LedgerEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	for k, e := range raw {
		e.Key = k
		l.entries[k] = e
	}
	logx.Debugf("已加载台账 %s（%d 条）", l.path, len(l.entries))
	return nil
}

// save 调用方需持有 l.mu。
func (l *JSONLedger) save() error {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", common.ErrFilesystem, err)
	}
	b, err := json.MarshalIndent(l.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, b, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", common.ErrFilesystem, tmp, err)
	}
	if err := l.fs.Rename(tmp, l.path); err != nil {
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", common.ErrFilesystem, tmp, err)
	}
	return nil
}
