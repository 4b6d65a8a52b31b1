package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/tscopy/internal/config"
)

// 退出码：0 成功；1 运行期失败（含找不到滚动容器）；2 用法错误。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError 携带退出码；未包装的错误（cobra 的参数/flag 错误）视为用法错误。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func failure(err error) error { return &exitError{code: exitFailure, err: err} }

type globalFlags struct {
	verbose    bool
	quiet      bool
	configPath string
}

func execute(args []string) int {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !errors.Is(ee.err, errReported) {
			fmt.Fprintf(os.Stderr, "错误：%v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
	_ = root.Usage()
	return exitUsage
}

// errReported 表示错误已通过 RunReport/状态行告知用户，不再重复打印。
var errReported = errors.New("reported")

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "tscopy",
		Short: "逐步滚动会议转录页面，收集并去重全部发言",
		Long: `tscopy 驱动虚拟滚动的会议转录列表，从顶部逐步滚动到底部，
把每次渲染出来的发言解析为 (说话人, 时间, 正文)，去重后按出现顺序输出纯文本。

页面来源：
  collect <file|url>  离线回放已保存的页面
  serve               在浏览器中注入 agent，驱动真实页面`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(stderr, g)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "输出调试日志")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "只输出错误日志")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "配置文件路径（默认 ./"+config.FileName+"，可选）")

	root.AddCommand(
		newCollectCmd(g, stdout, stderr),
		newServeCmd(g, stdout, stderr),
		newDiagnoseCmd(g, stdout, stderr),
	)
	return root
}

func setupLogging(w io.Writer, g *globalFlags) {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	if g.quiet {
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
