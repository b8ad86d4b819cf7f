package ledger

import (
	"context"

	"github.com/spf13/afero"

	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
)

// Backend 为外部存储（如 SQLite）提供的条目读写。
type Backend interface {
	GetLedgerEntry(ctx context.Context, key string) (model.LedgerEntry, bool, error)
	PutLedgerEntry(ctx context.Context, e model.LedgerEntry) error
}

// Backed 以 Backend 持久化条目，校验逻辑与 JSONLedger 相同。
type Backed struct {
	fs      afero.Fs
	backend Backend
}

var _ Ledger = (*Backed)(nil)

func NewBacked(fsys afero.Fs, b Backend) *Backed {
	return &Backed{fs: fsys, backend: b}
}

func (l *Backed) Lookup(ctx context.Context, url string) (model.LedgerEntry, bool, error) {
	return l.backend.GetLedgerEntry(ctx, Key(url))
}

func (l *Backed) Verify(e model.LedgerEntry) bool {
	if err := CheckEntry(l.fs, e); err != nil {
		logx.Debugf("台账条目失效：%v", err)
		return false
	}
	return true
}

func (l *Backed) Upsert(ctx context.Context, url, path, contentHash string) error {
	return l.backend.PutLedgerEntry(ctx, model.LedgerEntry{Key: Key(url), Path: path, ContentHash: contentHash, URL: url})
}
