package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/John-Robertt/tscopy/internal/app/run"
	"github.com/John-Robertt/tscopy/internal/domain"
)

var _ run.Sink = (*progressUI)(nil)

// progressUI 是交互终端下的状态输出。
//
// - 所有过程信息写到 w（通常是 stderr），stdout 留给转录文本/JSON
// - 每次迭代的 info 状态在同一行原地刷新；其它状态单独成行并保留
// - Output 不回显（完整文本在结束时由调用方输出）
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
	transient bool

	styles map[domain.Severity]lipgloss.Style
	dim    lipgloss.Style
}

func newProgressUI(w io.Writer) *progressUI {
	r := lipgloss.NewRenderer(w)
	return &progressUI{
		w:         w,
		startedAt: time.Now(),
		styles: map[domain.Severity]lipgloss.Style{
			domain.SeverityInfo:    r.NewStyle().Foreground(lipgloss.Color("#4a9eff")),
			domain.SeveritySuccess: r.NewStyle().Foreground(lipgloss.Color("#28a745")).Bold(true),
			domain.SeverityWarning: r.NewStyle().Foreground(lipgloss.Color("#ffc107")),
			domain.SeverityError:   r.NewStyle().Foreground(lipgloss.Color("#dc3545")).Bold(true),
		},
		dim: r.NewStyle().Faint(true),
	}
}

func (p *progressUI) Status(msg string, sev domain.Severity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	style, ok := p.styles[sev]
	if !ok {
		style = p.styles[domain.SeverityInfo]
	}
	line := p.dim.Render("["+formatElapsed(time.Since(p.startedAt))+"]") + " " + style.Render(truncate(msg, 200))

	if sev == domain.SeverityInfo && strings.HasPrefix(msg, "收集中") {
		fmt.Fprint(p.w, "\r"+ansi.EraseEntireLine+line)
		p.transient = true
		return
	}
	if p.transient {
		fmt.Fprint(p.w, "\r"+ansi.EraseEntireLine)
		p.transient = false
	}
	fmt.Fprintln(p.w, line)
}

func (p *progressUI) Output(string) {}

// Note 打印一行非状态信息（例如保存路径），会先结束正在刷新的进度行。
func (p *progressUI) Note(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transient {
		fmt.Fprint(p.w, "\r"+ansi.EraseEntireLine)
		p.transient = false
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// logSink 在非交互环境下把状态写入 slog；迭代进度降为 debug，避免刷屏。
type logSink struct{}

func (logSink) Status(msg string, sev domain.Severity) {
	switch sev {
	case domain.SeverityError:
		slog.Error(msg)
	case domain.SeverityWarning:
		slog.Warn(msg)
	default:
		if strings.HasPrefix(msg, "收集中") {
			slog.Debug(msg)
			return
		}
		slog.Info(msg)
	}
}

func (logSink) Output(string) {}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
