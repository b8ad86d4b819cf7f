// 命令行入口：
// - 解析 flags、.env 与 settings.yaml/rules.yaml
// - 初始化日志、HTTP 客户端、数据库与去重台账
// - check：校验地址；posts：列出帖子；download：发现并下载；history/reset：运行记录
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
