package run

import "github.com/John-Robertt/tscopy/internal/domain"

// Sink 把“状态/输出”从收集循环中解耦出来。
//
// 约束：
// - run 包只发快照字符串，不做任何输出（stdout 留给 --format json）。
// - Sink 的实现必须并发安全：bridge 会话与信号处理可能在不同 goroutine。
type Sink interface {
	// Status 在每次迭代与结束时调用。
	Status(msg string, sev domain.Severity)
	// Output 传入当前完整的格式化文本（而不是增量）。
	Output(text string)
}

// Tee 把同一事件分发给多个 Sink（nil 会被忽略）。
func Tee(sinks ...Sink) Sink {
	out := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type teeSink []Sink

func (t teeSink) Status(msg string, sev domain.Severity) {
	for _, s := range t {
		s.Status(msg, sev)
	}
}

func (t teeSink) Output(text string) {
	for _, s := range t {
		s.Output(text)
	}
}

type nopSink struct{}

func (nopSink) Status(string, domain.Severity) {}
func (nopSink) Output(string)                  {}
