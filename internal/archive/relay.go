package archive

import (
	"log/slog"
	"sync"

	"go-creator-archiver/internal/logx"
)

type logLine struct {
	level slog.Level
	msg   string
}

// logRelay 在运行期间接管日志回调：任意协程写入的日志先排队，
// 再由消费协程交给 Observer.Log，写入方从不阻塞。
type logRelay struct {
	mu      sync.Mutex
	pending []logLine
	notify  chan struct{}
	prev    logx.Hook
}

func startRelay() *logRelay {
	l := &logRelay{notify: make(chan struct{}, 1)}
	l.prev = logx.SetHook(l.push)
	return l
}

func (l *logRelay) push(level slog.Level, msg string) {
	l.mu.Lock()
	l.pending = append(l.pending, logLine{level: level, msg: msg})
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// drain 只能在消费协程中调用。
func (l *logRelay) drain(obs Observer) {
	l.mu.Lock()
	lines := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, ln := range lines {
		obs.Log(ln.level, ln.msg)
	}
}

// stop 恢复此前的回调；之后的日志不再排队。
func (l *logRelay) stop() {
	logx.SetHook(l.prev)
}

// pump 启动只转发日志的消费协程，返回的函数停止转发并等待剩余日志交付。
func (l *logRelay) pump(obs Observer) func() {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-l.notify:
				l.drain(obs)
			case <-quit:
				l.drain(obs)
				return
			}
		}
	}()
	return func() {
		l.stop()
		close(quit)
		<-done
	}
}
