package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/tscopy/internal/app/run"
	"github.com/John-Robertt/tscopy/internal/config"
	"github.com/John-Robertt/tscopy/internal/infra/httpx"
	"github.com/John-Robertt/tscopy/internal/page/replay"
)

// pageFlags 是会影响滚动节奏/输出目录的 flag（collect 与 serve 共用）。
type pageFlags struct {
	step          float64
	waitMS        int
	initialDelay  int
	maxIterations int
	outDir        string
	proxyURL      string
	listen        string
}

func (f *pageFlags) bindPacing(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.step, "step", config.DefaultScrollStep, "每次滚动的像素")
	cmd.Flags().IntVar(&f.waitMS, "wait", config.DefaultWaitMS, "每次滚动后的等待（毫秒）")
	cmd.Flags().IntVar(&f.initialDelay, "initial-delay", config.DefaultInitialDelayMS, "回到顶部后的初始等待（毫秒）")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", config.DefaultMaxIterations, "迭代上限")
	cmd.Flags().StringVar(&f.outDir, "out-dir", ".", "--save 的输出目录")
}

// loadConfig 合并各层配置；只有显式指定的 flag 才覆盖下层。
func loadConfig(cmd *cobra.Command, g *globalFlags, f *pageFlags) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, fmt.Errorf("读取当前目录失败：%w", err)
	}
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	cli := config.CLIArgs{ConfigPath: g.configPath}
	if f != nil {
		cli.ScrollStep, cli.ScrollStepSet = f.step, changed("step")
		cli.WaitMS, cli.WaitMSSet = f.waitMS, changed("wait")
		cli.InitialDelayMS, cli.InitialDelayMSSet = f.initialDelay, changed("initial-delay")
		cli.MaxIterations, cli.MaxIterationsSet = f.maxIterations, changed("max-iterations")
		cli.OutDir, cli.OutDirSet = f.outDir, changed("out-dir")
		cli.ProxyURL, cli.ProxyURLSet = f.proxyURL, changed("proxy")
		cli.Listen, cli.ListenSet = f.listen, changed("listen")
	}
	return config.LoadEffective(cwd, cli)
}

func runOptions(eff config.EffectiveConfig) run.Options {
	return run.Options{
		ItemSelectors: eff.ItemSelectors,
		Placeholders:  eff.Placeholders,
		Step:          eff.ScrollStep,
		Wait:          eff.Wait,
		InitialDelay:  eff.InitialDelay,
		MaxIterations: eff.MaxIterations,
		StuckLimit:    eff.StuckLimit,
	}
}

func replayOptions(eff config.EffectiveConfig) replay.Options {
	return replay.Options{
		RowHeight:    eff.ReplayRowHeight,
		ViewportRows: eff.ReplayViewportRows,
		Overscan:     eff.ReplayOverscan,
	}
}

// openPage 按来源加载离线页面：http(s) URL 走统一 HTTP client，其余视为本地文件。
func openPage(ctx context.Context, src string, eff config.EffectiveConfig) (*replay.Page, error) {
	if isURL(src) {
		c, err := httpx.NewPageClient(eff.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy.url 无效：%w", err)
		}
		return replay.Fetch(ctx, c, src, replayOptions(eff))
	}
	return replay.Open(src, replayOptions(eff))
}

func isURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// pickProgressWriter：进度只在交互终端启用；默认走 stderr（不污染 stdout）。
func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	if isTTY(stderr) {
		return stderr, true
	}
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

// terminalSink 返回交互终端下的 progressUI，否则返回写 slog 的 sink。
func terminalSink(stdout, stderr io.Writer) (run.Sink, io.Writer) {
	if w, ok := pickProgressWriter(stdout, stderr); ok {
		return newProgressUI(w), w
	}
	return logSink{}, nil
}
