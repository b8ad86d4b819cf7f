// 包 model 定义归档流水线的数据模型（作者/帖子/文件引用/台账/下载任务/进度/导出结构）。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Creator 由 (服务, 作者 ID) 唯一标识一个帖子集合。
type Creator struct {
	Service string `json:"service"`
	ID      string `json:"id"`
}

func (c Creator) String() string { return c.Service + "/" + c.ID }

// Shape 为期望的 URL 形状。
type Shape string

const (
	ShapePost    Shape = "post"
	ShapeCreator Shape = "creator"
)

// Target 为校验通过（或至少形状匹配）的输入地址。
type Target struct {
	Shape   Shape
	Creator Creator
	PostID  string // 仅 ShapePost
	URL     string // 规范化后的原始页面地址
}

// FileInfo 为负载中的主文件/附件声明。
type FileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// UnmarshalJSON 容忍 null、非对象条目（视为空）。
func (f *FileInfo) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*f = FileInfo{}
		return nil
	}
	type raw FileInfo
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*f = FileInfo(r)
	return nil
}

// Empty 表示没有可用路径。
func (f FileInfo) Empty() bool { return strings.TrimSpace(f.Path) == "" }

// FlexString 兼容数字或字符串形式的 ID。
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// PostPayload 为接口返回的单条帖子原始结构（半结构化，字段均可缺失）。
type PostPayload struct {
	ID          FlexString `json:"id"`
	User        FlexString `json:"user"`
	Service     string     `json:"service"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Published   string     `json:"published"`
	File        FileInfo   `json:"file"`
	Attachments []FileInfo `json:"attachments"`
}

// Post 为一次发现得到的帖子，创建后只读。
type Post struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Creator   Creator      `json:"creator"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Payload   *PostPayload `json:"-"`
}

// DisplayTitle 返回 "标题 (ID: x)"，标题缺失时回退为 "Post x"。
func (p Post) DisplayTitle() string {
	t := strings.TrimSpace(p.Title)
	if t == "" {
		t = "Post " + p.ID
	}
	return fmt.Sprintf("%s (ID: %s)", t, p.ID)
}

// FileKind 为文件引用来源。
type FileKind string

const (
	KindMain         FileKind = "main"
	KindAttachment   FileKind = "attachment"
	KindContentImage FileKind = "content"
)

// FileReference 为过滤后的下载候选，按 URL 唯一。
type FileReference struct {
	URL    string   `json:"url"`
	Name   string   `json:"name"`
	Ext    string   `json:"ext"`
	PostID string   `json:"post_id"`
	Kind   FileKind `json:"kind"`
}

// LedgerEntry 为去重台账条目；仅当路径存在且内容哈希一致时有效。
type LedgerEntry struct {
	Key         string `json:"-"`
	Path        string `json:"file_path"`
	ContentHash string `json:"file_hash"`
	URL         string `json:"url"`
}

// JobStatus 为单个文件下载任务状态。
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in-progress"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
	StatusDuplicate  JobStatus = "skipped-duplicate"
)

// Finished 为终态（完成/失败/重复跳过）。
func (s JobStatus) Finished() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusDuplicate
}

// Succeeded 表示文件已在磁盘上可用。
func (s JobStatus) Succeeded() bool {
	return s == StatusComplete || s == StatusDuplicate
}

// DownloadJob 在选中文件时创建，运行结束后丢弃。
type DownloadJob struct {
	File     FileReference
	Status   JobStatus
	Percent  int
	Path     string
	Attempts int
	Err      error
}

// ProgressState 为单次运行的计数器，仅由完成事件推进。
type ProgressState struct {
	FilesCompleted int `json:"files_completed"`
	FilesFailed    int `json:"files_failed"`
	FilesTotal     int `json:"files_total"`
	PostsCompleted int `json:"posts_completed"`
	PostsTotal     int `json:"posts_total"`
}

// Percent 为已完成文件的整体百分比（0..100）。
func (p ProgressState) Percent() int {
	if p.FilesTotal <= 0 {
		return 0
	}
	v := p.FilesCompleted * 100 / p.FilesTotal
	if v > 100 {
		v = 100
	}
	return v
}

// FileRecord 为导出/历史中的文件结果。
type FileRecord struct {
	URL       string    `json:"url"`
	PostID    string    `json:"post_id"`
	Creator   string    `json:"creator"`
	Path      string    `json:"path,omitempty"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats 为运行统计信息。
type Stats struct {
	PostsTotal     int       `json:"posts_total"`
	FilesTotal     int       `json:"files_total"`
	FilesComplete  int       `json:"files_complete"`
	FilesDuplicate int       `json:"files_duplicate"`
	FilesFailed    int       `json:"files_failed"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Export 为导出报告 JSON 的顶层结构。
type Export struct {
	Stats Stats        `json:"stats"`
	Posts []Post       `json:"posts"`
	Files []FileRecord `json:"files"`
}
