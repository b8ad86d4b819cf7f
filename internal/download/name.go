package download

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"go-creator-archiver/internal/extract"
	"go-creator-archiver/internal/model"
)

var nameReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

// SanitizeName 替换路径分隔符并做 NFC 归一化，保证名称无法逃出目标目录。
func SanitizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	name = nameReplacer.Replace(name)
	switch name {
	case "", ".", "..":
		return "_"
	}
	return name
}

// Destination 返回 root/<帖子目录>/<文件名>。
func Destination(root string, f model.FileReference) string {
	name := f.Name
	if strings.TrimSpace(name) == "" {
		name = extract.FileName(f.URL)
	}
	return filepath.Join(root, SanitizeName(f.PostID), SanitizeName(name))
}

// Destinations 为整批文件分配落盘路径。同一目录内重名（不区分大小写）的后续文件
// 依次改名为 "name (2).ext"、"name (3).ext"，结果只取决于批次顺序。
func Destinations(root string, files []model.FileReference) []string {
	out := make([]string, len(files))
	taken := make(map[string]bool, len(files))
	for i, f := range files {
		p := Destination(root, f)
		if taken[strings.ToLower(p)] {
			dir, base := filepath.Split(p)
			ext := filepath.Ext(base)
			stem := strings.TrimSuffix(base, ext)
			for n := 2; ; n++ {
				c := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
				if !taken[strings.ToLower(c)] {
					p = c
					break
				}
			}
		}
		taken[strings.ToLower(p)] = true
		out[i] = p
	}
	return out
}
