package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/John-Robertt/tscopy/internal/collect"
	"github.com/John-Robertt/tscopy/internal/dom"
	"github.com/John-Robertt/tscopy/internal/domain"
	"github.com/John-Robertt/tscopy/internal/extract"
	"github.com/John-Robertt/tscopy/internal/format"
	"github.com/John-Robertt/tscopy/internal/page"
)

// Options 是一次收集的可调参数（由 config.EffectiveConfig 映射而来）。
type Options struct {
	ItemSelectors []string
	Placeholders  format.Placeholders

	Step          float64
	Wait          time.Duration
	InitialDelay  time.Duration
	MaxIterations int
	// StuckLimit：滚动位置连续不变的次数超过该值即视为到底。
	StuckLimit int
}

func DefaultOptions() Options {
	return Options{
		ItemSelectors: dom.DefaultItemSelectors,
		Placeholders:  format.DefaultPlaceholders(),
		Step:          150,
		Wait:          300 * time.Millisecond,
		InitialDelay:  500 * time.Millisecond,
		MaxIterations: 1000,
		StuckLimit:    5,
	}
}

// Collector 驱动“滚动 → 快照 → 抽取 → 去重”的循环。
//
// 约束：
// - 同一时刻最多一个 run；新的 Run 会先停止旧 run 并等待其结束。
// - Stop 只翻转 running 标志；正在进行的等待总会完整结束后才被观察到。
// - Accumulator/CarryState 只由循环 goroutine 修改。
type Collector struct {
	opts Options
	disc dom.Discoverer

	// Sleep 用于两个挂起点（初始延迟、每步等待）；测试中可替换。
	Sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active *handle
}

type handle struct {
	running atomic.Bool
	done    chan struct{}
}

func NewCollector(opts Options) *Collector {
	def := DefaultOptions()
	if opts.Step <= 0 {
		opts.Step = def.Step
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.StuckLimit <= 0 {
		opts.StuckLimit = def.StuckLimit
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if len(opts.ItemSelectors) == 0 {
		opts.ItemSelectors = def.ItemSelectors
	}
	return &Collector{
		opts:  opts,
		disc:  dom.NewDiscoverer(opts.ItemSelectors),
		Sleep: sleepCtx,
	}
}

// Stop 请求停止当前 run（无 run 时为空操作）。可从任意 goroutine 调用。
func (c *Collector) Stop() {
	c.mu.Lock()
	h := c.active
	c.mu.Unlock()
	if h != nil {
		h.running.Store(false)
	}
}

// Running 报告当前是否有 run 在进行。
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.running.Load()
}

// Run 执行一次完整收集并返回报告。cont 必须来自 p（通常由 page.Locate 得到）。
// sink 可以为 nil。
func (c *Collector) Run(ctx context.Context, p page.Page, cont page.Container, sink Sink) domain.RunReport {
	h, prev := c.register()
	return c.run(ctx, h, prev, p, cont, sink)
}

// Start 与 Run 相同，但在后台执行；返回的 channel 在 run 结束时送出报告。
// Start 返回时新 run 已登记，此后的 Stop 一定作用于它。
func (c *Collector) Start(ctx context.Context, p page.Page, cont page.Container, sink Sink) <-chan domain.RunReport {
	h, prev := c.register()
	out := make(chan domain.RunReport, 1)
	go func() {
		out <- c.run(ctx, h, prev, p, cont, sink)
	}()
	return out
}

// register 把新 run 设为 active，并请求旧 run 停止（不等待）。
func (c *Collector) register() (h, prev *handle) {
	h = &handle{done: make(chan struct{})}
	h.running.Store(true)

	c.mu.Lock()
	prev = c.active
	c.active = h
	c.mu.Unlock()
	if prev != nil {
		prev.running.Store(false)
	}
	return h, prev
}

func (c *Collector) run(ctx context.Context, h, prev *handle, p page.Page, cont page.Container, sink Sink) domain.RunReport {
	if sink == nil {
		sink = nopSink{}
	}
	if prev != nil {
		<-prev.done
	}
	defer func() {
		c.mu.Lock()
		if c.active == h {
			c.active = nil
		}
		c.mu.Unlock()
		close(h.done)
	}()

	rr := domain.RunReport{StartedAt: time.Now().UTC()}
	acc := collect.New()
	var carry extract.CarryState

	var runErr error
	stuck := 0
	lastTop := -1.0

	sink.Status("开始收集...", domain.SeverityInfo)

	if err := cont.SetScrollTop(ctx, 0); err != nil {
		runErr = err
	} else if err := c.Sleep(ctx, c.opts.InitialDelay); err != nil {
		h.running.Store(false)
	}

	for runErr == nil && h.running.Load() && rr.Iterations < c.opts.MaxIterations {
		rr.Iterations++

		doc, err := p.Snapshot(ctx)
		if err != nil {
			runErr = err
			break
		}
		items, strategy := c.disc.Discover(doc)
		if strategy != "" {
			rr.ItemStrategy = strategy
		}
		added := 0
		for _, s := range items {
			rec, ok := carry.Resolve(extract.Classify(dom.ToItem(s)))
			if ok && acc.Insert(rec) {
				added++
			}
		}

		m, err := cont.Metrics(ctx)
		if err != nil {
			runErr = err
			break
		}
		sink.Status(fmt.Sprintf("收集中... %d 条 (%d%%) +%d", acc.Len(), m.Progress(), added), domain.SeverityInfo)
		sink.Output(format.Text(acc, c.opts.Placeholders))

		if m.ScrollTop == lastTop {
			stuck++
			if stuck > c.opts.StuckLimit {
				rr.Outcome = domain.OutcomeCompleted
				break
			}
		} else {
			stuck = 0
		}
		lastTop = m.ScrollTop

		if err := cont.SetScrollTop(ctx, m.ScrollTop+c.opts.Step); err != nil {
			runErr = err
			break
		}
		if err := c.Sleep(ctx, c.opts.Wait); err != nil {
			h.running.Store(false)
		}
	}
	rr.StuckCount = stuck

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		rr.Outcome = domain.OutcomeStopped
	case runErr != nil:
		rr.Outcome = domain.OutcomeAborted
		rr.ErrorCode = domain.ErrCodePageFailed
		rr.ErrorMsg = runErr.Error()
	case rr.Outcome != "":
	case !h.running.Load():
		rr.Outcome = domain.OutcomeStopped
	default:
		rr.Outcome = domain.OutcomeIterationLimit
	}
	h.running.Store(false)

	rr.Records = acc.Records()
	rr.Summary.Rendered = format.Rendered(rr.Records)
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()

	sink.Output(format.Records(rr.Records, c.opts.Placeholders))
	msg, sev := finalStatus(rr)
	sink.Status(msg, sev)

	slog.Debug("collect finished",
		"outcome", rr.Outcome,
		"iterations", rr.Iterations,
		"collected", rr.Summary.Collected,
		"strategy", rr.ItemStrategy,
	)
	return rr
}

func finalStatus(rr domain.RunReport) (string, domain.Severity) {
	n := rr.Summary.Collected
	switch rr.Outcome {
	case domain.OutcomeCompleted:
		return fmt.Sprintf("完成：共 %d 条", n), domain.SeveritySuccess
	case domain.OutcomeStopped:
		return fmt.Sprintf("已停止：共 %d 条", n), domain.SeverityInfo
	case domain.OutcomeIterationLimit:
		return fmt.Sprintf("已达到迭代上限（%d 次），结果可能不完整：共 %d 条", rr.Iterations, n), domain.SeverityWarning
	default:
		return fmt.Sprintf("页面通信失败：%s（已收集 %d 条）", rr.ErrorMsg, n), domain.SeverityError
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
