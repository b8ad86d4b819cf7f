// 包 common 定义跨包共享的错误分类：
// - URL 格式错误与资源不可达
// - 负载无效、文件系统错误、完整性不一致
package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedURL URL 形状不符，本地判定，不发起网络请求，也不重试。
	ErrMalformedURL = errors.New("malformed url")
	// ErrUnreachable HTTP 非 2xx 或传输层失败。
	ErrUnreachable = errors.New("unreachable resource")
	// ErrInvalidPayload 接口返回的数据不可用（非 JSON、形状不对）。
	ErrInvalidPayload = errors.New("empty or invalid payload")
	// ErrFilesystem 目标文件无法写入。
	ErrFilesystem = errors.New("filesystem error")
	// ErrIntegrityMismatch 台账记录的哈希与磁盘内容不一致（按未命中处理）。
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrLedgerLocked 台账文件被另一个进程持有。
	ErrLedgerLocked = errors.New("ledger is locked by another process")
)

// HTTPStatusError 记录失败请求的地址与状态码，errors.Is 可匹配 ErrUnreachable。
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *HTTPStatusError) Unwrap() error { return ErrUnreachable }

// Transient 判断该状态是否值得重试：5xx、408、429 视为暂时性失败。
func (e *HTTPStatusError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}
