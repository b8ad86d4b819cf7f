package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"go-creator-archiver/internal/archive"
	"go-creator-archiver/internal/export"
	"go-creator-archiver/internal/logx"
	"go-creator-archiver/internal/model"
)

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "archiver",
		Short:         "按作者或单帖归档创作者内容",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "settings.yaml", "配置文件路径（.yaml 或 .toml）")
	root.PersistentFlags().StringVar(&a.rulesPath, "rules", "rules.yaml", "站点预设文件路径")
	root.PersistentFlags().StringVar(&a.envPath, "env", ".env", "环境变量文件（缺失时忽略）")

	root.AddCommand(newCheckCommand(a), newPostsCommand(a), newDownloadCommand(a), newHistoryCommand(a), newResetCommand(a))
	return root
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>...",
		Short: "校验地址形状并探测接口是否存在",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.client()
			if err != nil {
				return err
			}
			r := archive.New(a.cfg, nil, cl, a.rules, nil)
			rows := make([][]string, 0, len(args))
			bad := 0
			for _, raw := range args {
				t, err := r.Check(cmd.Context(), raw)
				result := "ok"
				if err != nil {
					result = err.Error()
					bad++
				}
				rows = append(rows, []string{raw, string(t.Shape), t.Creator.Service, t.Creator.ID, t.PostID, result})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"URL", "SHAPE", "SERVICE", "CREATOR", "POST", "RESULT"}, rows, nil))
			if bad > 0 {
				return fmt.Errorf("%d of %d urls failed validation", bad, len(args))
			}
			return nil
		},
	}
}

func newPostsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "posts <url>",
		Short: "列出发现的帖子与可下载文件数",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cl, err := a.client()
			if err != nil {
				return err
			}
			r := archive.New(a.cfg, nil, cl, a.rules, nil)
			d, err := r.Discover(ctx, args[0])
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(d.Posts))
			for _, f := range d.Files {
				counts[f.PostID]++
			}
			var rows [][]string
			for i, p := range d.Posts {
				if limit > 0 && i >= limit {
					break
				}
				rows = append(rows, []string{p.ID, text.Trim(p.DisplayTitle(), 60), strconv.Itoa(counts[p.ID]), p.Thumbnail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TITLE", "FILES", "THUMBNAIL"}, rows, []text.Align{text.AlignLeft, text.AlignLeft, text.AlignRight, text.AlignLeft}))
			fmt.Fprintf(cmd.OutOrStdout(), "%d posts, %d files (end: %s)\n", len(d.Posts), len(d.Files), d.End)
			return d.Err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "最多显示的帖子数（0 为全部）")
	return cmd
}

func newDownloadCommand(a *app) *cobra.Command {
	var exportPath string
	cmd := &cobra.Command{
		Use:   "download <url>...",
		Short: "发现并下载作者或单帖的全部文件",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl, err := a.client()
			if err != nil {
				return err
			}
			led, err := a.open()
			defer a.close()
			if err != nil {
				return err
			}
			if a.store != nil {
				if err := a.store.CleanOldRuns(ctx, 30); err != nil {
					logx.Warnf("清理历史运行失败：%v", err)
				}
			}

			obs := newCLIObserver(os.Stderr)

			r := a.runner(cl, led, obs)
			start := time.Now()
			sums, runErr := r.Run(ctx, args)
			obs.Finish()

			fmt.Fprintln(cmd.OutOrStdout(), summaryTable(sums))
			fmt.Fprintf(cmd.OutOrStdout(), "耗时 %s，警告 %d，错误 %d\n",
				time.Since(start).Round(time.Millisecond), obs.Warnings(), obs.Errors())

			if a.cfg.SimpleMode && exportPath == "" {
				exportPath = "report.json"
			}
			if exportPath != "" {
				if err := writeReport(a, r, exportPath); err != nil {
					logx.Errorf("导出失败：%v", err)
					runErr = errors.Join(runErr, err)
				} else {
					logx.Infof("已导出报告：%s", exportPath)
				}
			}
			if errors.Is(runErr, context.Canceled) {
				logx.Warnf("已取消，未开始的文件保持待下载状态")
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "导出 JSON 报告路径（极简模式默认 report.json）")
	return cmd
}

// writeReport 导出运行结果；导出使用独立 ctx，取消后仍可写出已完成部分。
func writeReport(a *app, r *archive.Runner, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.cfg.SimpleMode || a.store == nil {
		posts, files := r.BufferData()
		return export.ToJSONData(ctx, posts, files, path)
	}
	return export.ToJSON(ctx, a.store, path)
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看最近的运行记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.SimpleMode {
				return errors.New("history is unavailable in SIMPLE_MODE")
			}
			if _, err := a.open(); err != nil {
				a.close()
				return err
			}
			defer a.close()
			runs, err := a.store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				finished := "-"
				if !run.FinishedAt.IsZero() {
					finished = humanize.Time(run.FinishedAt)
				}
				rows = append(rows, []string{
					run.ID[:8], run.Target, run.Status,
					fmt.Sprintf("%d/%d", run.Progress.FilesCompleted, run.Progress.FilesTotal),
					strconv.Itoa(run.Progress.FilesFailed),
					fmt.Sprintf("%d/%d", run.Progress.PostsCompleted, run.Progress.PostsTotal),
					humanize.Time(run.StartedAt), finished,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"RUN", "TARGET", "STATUS", "FILES", "FAILED", "POSTS", "STARTED", "FINISHED"}, rows,
				[]text.Align{text.AlignLeft, text.AlignLeft, text.AlignLeft, text.AlignRight, text.AlignRight, text.AlignRight}))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "显示的运行条数")
	return cmd
}

func newResetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "清空运行记录（保留去重台账）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.SimpleMode {
				return errors.New("reset is unavailable in SIMPLE_MODE")
			}
			if _, err := a.open(); err != nil {
				a.close()
				return err
			}
			defer a.close()
			if err := a.store.Reset(cmd.Context()); err != nil {
				return err
			}
			logx.Infof("已清空运行记录")
			return nil
		},
	}
}

// summaryTable 汇总每个地址的下载结果。
func summaryTable(sums []archive.Summary) string {
	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		var dup int
		var size int64
		for _, j := range s.Jobs {
			switch j.Status {
			case model.StatusDuplicate:
				dup++
			case model.StatusComplete:
				if j.Path == "" {
					continue
				}
				if fi, err := os.Stat(j.Path); err == nil {
					size += fi.Size()
				}
			}
		}
		rows = append(rows, []string{
			s.Target, s.Status,
			fmt.Sprintf("%d/%d", s.Progress.FilesCompleted, s.Progress.FilesTotal),
			strconv.Itoa(dup),
			strconv.Itoa(s.Progress.FilesFailed),
			fmt.Sprintf("%d/%d", s.Progress.PostsCompleted, s.Progress.PostsTotal),
			humanize.Bytes(uint64(size)),
		})
	}
	return renderTable([]string{"TARGET", "STATUS", "FILES", "DUPLICATE", "FAILED", "POSTS", "SIZE"}, rows,
		[]text.Align{text.AlignLeft, text.AlignLeft, text.AlignRight, text.AlignRight, text.AlignRight, text.AlignRight, text.AlignRight})
}
