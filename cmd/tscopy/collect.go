package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/tscopy/internal/app/run"
	"github.com/John-Robertt/tscopy/internal/config"
	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/export"
	"github.com/John-Robertt/tscopy/internal/format"
	"github.com/John-Robertt/tscopy/internal/infra/fsx"
	"github.com/John-Robertt/tscopy/internal/page"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type collectFlags struct {
	pageFlags

	format     string
	copy       bool
	save       bool
	reportPath string
}

func newCollectCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	f := &collectFlags{}
	cmd := &cobra.Command{
		Use:   "collect <file|url>",
		Short: "回放已保存的转录页面并收集全部发言",
		Long: `collect 加载一个已保存的会议转录页面（本地 HTML 或 http(s) URL），
按虚拟列表的方式逐步滚动，收集并去重全部发言。

stdout：--format text 输出格式化文本；--format json 输出 RunReport。
进度与日志走 stderr。第一次 Ctrl-C 请求停止（保留已收集内容），第二次立即中断。`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch f.format {
			case formatText, formatJSON:
				return nil
			default:
				return fmt.Errorf("--format 只能是 text 或 json，实际是 %q", f.format)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, g, f, args[0], stdout, stderr)
		},
	}
	f.bindPacing(cmd)
	cmd.Flags().StringVar(&f.proxyURL, "proxy", "", "抓取 URL 时使用的代理")
	cmd.Flags().StringVar(&f.format, "format", formatText, "stdout 输出格式：text|json")
	cmd.Flags().BoolVar(&f.copy, "copy", false, "结束后通过 OSC 52 复制到剪贴板")
	cmd.Flags().BoolVar(&f.save, "save", false, "结束后保存为 transcript_YYYY-MM-DD.txt")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "把 RunReport JSON 写入该文件（覆盖）")
	return cmd
}

func runCollect(cmd *cobra.Command, g *globalFlags, f *collectFlags, src string, stdout, stderr io.Writer) error {
	started := time.Now().UTC()

	eff, err := loadConfig(cmd, g, &f.pageFlags)
	if err != nil {
		code := config.Code(err)
		if code == "" {
			code = domain.ErrCodeConfigInvalid
		}
		return failReport(f, stdout, src, started, code, err)
	}
	slog.Debug("effective config", "config", eff.ConfigPath, "step", eff.ScrollStep, "wait", eff.Wait, "max_iterations", eff.MaxIterations)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p, err := openPage(ctx, src, eff)
	if err != nil {
		return failReport(f, stdout, src, started, domain.ErrCodePageFailed, fmt.Errorf("加载页面失败：%w", err))
	}

	cont, box, err := page.Locate(ctx, p, eff.ScrollableSelectors)
	if err != nil {
		code := domain.ErrCodePageFailed
		if page.IsDiscovery(err) {
			code = domain.ErrCodeDiscoveryFailed
		}
		return failReport(f, stdout, src, started, code, err)
	}
	slog.Info("scroll container located", "selector", box.Selector, "tag", box.Tag, "class", box.Class, "scroll_height", box.ScrollHeight)

	sink, uiW := terminalSink(stdout, stderr)
	col := run.NewCollector(runOptions(eff))
	// 先登记 run 再接收信号，保证第一次 Ctrl-C 一定能停止它。
	done := col.Start(ctx, p, cont, sink)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		n := 0
		for {
			select {
			case <-sigCh:
				n++
				if n == 1 {
					slog.Info("stop requested; press Ctrl-C again to abort")
					col.Stop()
				} else {
					cancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	rr := <-done
	rr.Source = src
	text := format.Records(rr.Records, eff.Placeholders)

	failed := rr.Outcome == domain.OutcomeAborted

	if f.copy {
		w := uiW
		if w == nil {
			w = stderr
		}
		if err := export.Copy(w, text); err != nil {
			sink.Status(fmt.Sprintf("复制失败：%v", err), domain.SeverityError)
		} else {
			sink.Status("已复制到剪贴板", domain.SeveritySuccess)
		}
	}
	if f.save {
		path, err := export.Save(eff.OutDir, text, time.Now())
		if err != nil {
			sink.Status(fmt.Sprintf("保存失败：%v", err), domain.SeverityError)
			if rr.ErrorCode == "" {
				rr.ErrorCode = domain.ErrCodeExportFailed
				rr.ErrorMsg = err.Error()
			}
			failed = true
		} else {
			sink.Status("已保存："+path, domain.SeveritySuccess)
		}
	}

	if f.reportPath != "" {
		if err := writeReportFile(f.reportPath, rr); err != nil {
			fmt.Fprintf(stderr, "写入 report 失败：%v\n", err)
			failed = true
		}
	}

	emitResult(stdout, f.format, rr, text)

	if failed {
		return &exitError{code: exitFailure, err: errReported}
	}
	return nil
}

// failReport 处理开始收集之前的失败：json 模式下仍输出一个 RunReport，便于脚本消费。
func failReport(f *collectFlags, stdout io.Writer, src string, started time.Time, code string, err error) error {
	if f.format == formatJSON {
		rr := domain.RunReport{
			Source:     src,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Outcome:    domain.OutcomeAborted,
			ErrorCode:  code,
			ErrorMsg:   err.Error(),
		}
		rr.Finalize()
		emitResult(stdout, formatJSON, rr, "")
	}
	return failure(fmt.Errorf("%s：%w", code, err))
}

func emitResult(w io.Writer, format string, rr domain.RunReport, text string) {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rr)
		return
	}
	if text != "" {
		fmt.Fprintln(w, text)
	}
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(abs), filepath.Base(abs), b); err != nil {
		return err
	}
	return nil
}
