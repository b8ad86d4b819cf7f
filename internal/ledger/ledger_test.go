package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"go-creator-archiver/internal/common"
	"go-creator-archiver/internal/ledger"
)

const ledgerPath = "/archive/Other Files/file_hashes.json"

func writeFile(t *testing.T, fs afero.Fs, path, content string) string {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	h, err := ledger.HashFile(fs, path)
	require.NoError(t, err)
	return h
}

func TestJSONLedger_UpsertLookupVerify(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	l, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)

	_, ok, err := l.Lookup(ctx, "https://kemono.su/data/a.png")
	require.NoError(t, err)
	require.False(t, ok)

	h := writeFile(t, fs, "/archive/1/a.png", "png bytes")
	require.NoError(t, l.Upsert(ctx, "https://kemono.su/data/a.png", "/archive/1/a.png", h))

	e, ok, err := l.Lookup(ctx, "https://kemono.su/data/a.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ledger.Key("https://kemono.su/data/a.png"), e.Key)
	require.True(t, l.Verify(e))

	// 重新打开后条目仍在
	l2, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)
	e2, ok, _ := l2.Lookup(ctx, "https://kemono.su/data/a.png")
	require.True(t, ok)
	require.Equal(t, e, e2)
}

func TestJSONLedger_FileFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	l, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)
	require.NoError(t, l.Upsert(context.Background(), "u1", "/p1", "h1"))

	b, err := afero.ReadFile(fs, ledgerPath)
	require.NoError(t, err)
	var raw map[string]map[string]string
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, map[string]string{"file_path": "/p1", "file_hash": "h1", "url": "u1"}, raw[ledger.Key("u1")])
	require.Contains(t, string(b), "\n    \"")

	exists, _ := afero.Exists(fs, ledgerPath+".tmp")
	require.False(t, exists)
}

func TestJSONLedger_StaleEntries(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	l, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)

	h := writeFile(t, fs, "/archive/1/x.png", "original")
	require.NoError(t, l.Upsert(ctx, "X", "/archive/1/x.png", h))
	e, _, _ := l.Lookup(ctx, "X")

	// 内容被改动：哈希不一致
	require.NoError(t, afero.WriteFile(fs, "/archive/1/x.png", []byte("tampered"), 0o644))
	require.False(t, l.Verify(e))
	require.ErrorIs(t, ledger.CheckEntry(fs, e), common.ErrIntegrityMismatch)

	// 文件被删除：失效但条目保留
	require.NoError(t, fs.Remove("/archive/1/x.png"))
	require.False(t, l.Verify(e))
	_, ok, _ := l.Lookup(ctx, "X")
	require.True(t, ok)

	// 重新下载后覆盖条目
	h2 := writeFile(t, fs, "/archive/1/x.png", "fresh")
	require.NoError(t, l.Upsert(ctx, "X", "/archive/1/x.png", h2))
	e, _, _ = l.Lookup(ctx, "X")
	require.Equal(t, h2, e.ContentHash)
	require.True(t, l.Verify(e))
	require.Equal(t, 1, l.Len())
}

func TestJSONLedger_CorruptFileStartsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ledgerPath, []byte("{not json"), 0o644))
	l, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
}

func TestJSONLedger_PersistFailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.OpenJSON(afero.NewReadOnlyFs(afero.NewMemMapFs()), ledgerPath)
	require.NoError(t, err)
	err = l.Upsert(ctx, "u", "/p", "h")
	require.ErrorIs(t, err, common.ErrFilesystem)
	_, ok, _ := l.Lookup(ctx, "u")
	require.True(t, ok)
}

func TestJSONLedger_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	l, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Upsert(ctx, fmt.Sprintf("url-%d", i), fmt.Sprintf("/p/%d", i), "h")
		}(i)
	}
	wg.Wait()

	reopened, err := ledger.OpenJSON(fs, ledgerPath)
	require.NoError(t, err)
	require.Equal(t, 50, reopened.Len())
}

func TestJSONLedger_LockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Other Files", "file_hashes.json")
	fs := afero.NewOsFs()

	a, err := ledger.OpenJSON(fs, path)
	require.NoError(t, err)
	require.NoError(t, a.Lock())
	defer a.Close()

	b, err := ledger.OpenJSON(fs, path)
	require.NoError(t, err)
	require.ErrorIs(t, b.Lock(), common.ErrLedgerLocked)

	require.NoError(t, a.Close())
	require.NoError(t, b.Lock())
	require.NoError(t, b.Close())
}
