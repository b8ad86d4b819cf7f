package download

import "go-creator-archiver/internal/model"

// EventKind 区分进度事件与终态事件。
type EventKind int

const (
	EventProgress EventKind = iota
	EventDone
)

// Event 由 worker 发出，交给单一消费者处理（进度汇总与展示）。
// Percent 为 -1 表示服务端未声明长度，此时以 Bytes 表示已下载量。
type Event struct {
	Kind     EventKind
	File     model.FileReference
	Status   model.JobStatus
	Percent  int
	Bytes    int64
	Path     string
	Attempts int
	Err      error
	Note     string
}
