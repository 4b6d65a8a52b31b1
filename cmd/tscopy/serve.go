package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/tscopy/internal/app/run"
	"github.com/John-Robertt/tscopy/internal/config"
	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/export"
	"github.com/John-Robertt/tscopy/internal/format"
	"github.com/John-Robertt/tscopy/internal/page"
	"github.com/John-Robertt/tscopy/internal/page/bridge"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	pageFlags

	save bool
}

func newServeCmd(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动本地 bridge，驱动浏览器中打开的转录页面",
		Long: `serve 在本机监听 HTTP/WebSocket，提供 /agent.js。
在转录页面执行书签脚本后，页面右上角出现控制面板（開始/停止/コピー/保存），
收集过程与结果实时推送到面板，同时在终端显示状态。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g, f, stdout, stderr)
		},
	}
	f.bindPacing(cmd)
	cmd.Flags().StringVar(&f.listen, "listen", config.DefaultListen, "监听地址")
	cmd.Flags().BoolVar(&f.save, "save", false, "每次收集结束后自动保存到 --out-dir")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalFlags, f *serveFlags, stdout, stderr io.Writer) error {
	eff, err := loadConfig(cmd, g, &f.pageFlags)
	if err != nil {
		return failure(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", eff.Listen)
	if err != nil {
		return failure(fmt.Errorf("监听 %s 失败：%w", eff.Listen, err))
	}

	ui, uiW := terminalSink(stdout, stderr)
	s := &serveSession{eff: eff, ui: ui, save: f.save}
	srv := bridge.NewServer(eff.BridgeTimeout, s.handle)

	addr := ln.Addr().String()
	hint := fmt.Sprintf("在转录页面的地址栏/控制台执行：\njavascript:(function(){var s=document.createElement('script');s.src='http://%s/agent.js';document.body.appendChild(s)})()", addr)
	if pu, ok := ui.(*progressUI); ok && uiW != nil {
		pu.Note("%s", hint)
	} else {
		slog.Info("bridge listening", "addr", addr, "agent", "http://"+addr+"/agent.js")
	}

	err = serveBridge(ctx, ln, srv.Handler())
	s.wait()
	if err != nil {
		return failure(err)
	}
	return nil
}

// serveBridge 运行 HTTP 服务，直到 ctx 结束或 Serve 出错。
// 已 hijack 的 WebSocket 会话不受 Shutdown 管理，它们的 ctx 随 errgroup 一起取消。
func serveBridge(ctx context.Context, ln net.Listener, h http.Handler) error {
	grp, gctx := errgroup.WithContext(ctx)
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	grp.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(shCtx)
	})
	return grp.Wait()
}

// serveSession 持有 serve 期间所有连接共享的配置与终端展示端。
type serveSession struct {
	eff  config.EffectiveConfig
	ui   run.Sink
	save bool

	wg sync.WaitGroup
}

// handle 处理一个 agent 连接：start 开始（或重新开始）收集，stop 请求停止。
func (s *serveSession) handle(ctx context.Context, c *bridge.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()

	sink := run.Tee(c, s.ui)
	col := run.NewCollector(runOptions(s.eff))

	var runs sync.WaitGroup
	defer func() {
		col.Stop()
		runs.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case ev := <-c.Events():
			switch ev.Type {
			case bridge.TypeHello:
				slog.Info("agent page", "url", ev.URL)
				c.Status("已连接 tscopy，点击「開始」开始收集", domain.SeverityInfo)
			case bridge.TypeStart:
				cont, box, err := page.Locate(ctx, c, s.eff.ScrollableSelectors)
				if err != nil {
					sink.Status(err.Error(), domain.SeverityError)
					continue
				}
				slog.Info("scroll container located", "selector", box.Selector, "ref", box.Ref, "scroll_height", box.ScrollHeight)
				done := col.Start(ctx, c, cont, sink)
				runs.Add(1)
				go func() {
					defer runs.Done()
					s.finish(<-done, sink)
				}()
			case bridge.TypeStop:
				col.Stop()
			default:
				slog.Debug("unknown agent event", "type", ev.Type)
			}
		}
	}
}

func (s *serveSession) finish(rr domain.RunReport, sink run.Sink) {
	slog.Info("collect finished",
		"outcome", rr.Outcome,
		"iterations", rr.Iterations,
		"collected", rr.Summary.Collected,
		"strategy", rr.ItemStrategy,
	)
	if !s.save || rr.Summary.Rendered == 0 {
		return
	}
	path, err := export.Save(s.eff.OutDir, format.Records(rr.Records, s.eff.Placeholders), time.Now())
	if err != nil {
		sink.Status(fmt.Sprintf("保存失败：%v", err), domain.SeverityError)
		return
	}
	sink.Status("已保存："+path, domain.SeveritySuccess)
}

func (s *serveSession) wait() { s.wg.Wait() }
