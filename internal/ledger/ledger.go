// 包 ledger 实现去重台账：以源 URL 的哈希为键，记录文件的落盘路径与内容哈希。
// 条目只有在路径存在且内容哈希一致时才有效；失效条目按未命中处理，不会被删除。
package ledger

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/model"
)

// Ledger 为台账的最小接口（JSON 文件实现与 SQLite 实现）。
type Ledger interface {
	Lookup(ctx context.Context, url string) (model.LedgerEntry, bool, error)
	Verify(entry model.LedgerEntry) bool
	Upsert(ctx context.Context, url, path, contentHash string) error
}

// Key 返回 URL 的稳定哈希（十六进制 MD5）。
func Key(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// HashFile 计算文件内容的十六进制 MD5。
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", common.ErrFilesystem, path, err)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: hash %s: %v", common.ErrFilesystem, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckEntry 校验条目：文件不存在返回 ErrFilesystem，哈希不一致返回 ErrIntegrityMismatch。
func CheckEntry(fs afero.Fs, e model.LedgerEntry) error {
	if e.Path == "" || e.ContentHash == "" {
		return fmt.Errorf("%w: incomplete entry for %s", common.ErrIntegrityMismatch, e.URL)
	}
	info, err := fs.Stat(e.Path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", common.ErrFilesystem, e.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", common.ErrFilesystem, e.Path)
	}
	got, err := HashFile(fs, e.Path)
	if err != nil {
		return err
	}
	if got != e.ContentHash {
		return fmt.Errorf("%w: %s has %s, recorded %s", common.ErrIntegrityMismatch, e.Path, got, e.ContentHash)
	}
	return nil
}
