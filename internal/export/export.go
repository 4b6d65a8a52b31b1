package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/John-Robertt/tscopy/internal/infra/fsx"
)

// maxSuffix 是同日文件名冲突时尝试的最大序号（transcript_YYYY-MM-DD_N.txt）。
const maxSuffix = 999

// ErrEmpty 表示没有可导出的文本（尚未收集或全部为空白）。
var ErrEmpty = errors.New("没有可导出的转录内容")

// Error 是导出阶段的结构化错误；上层映射为 error_code=export_failed。
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("export %s：%v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// FileName 返回第 n 个候选文件名；n<=1 时不带序号。
func FileName(day time.Time, n int) string {
	base := "transcript_" + day.Format("2006-01-02")
	if n > 1 {
		base += fmt.Sprintf("_%d", n)
	}
	return base + ".txt"
}

// Save 把文本写入 dir/transcript_YYYY-MM-DD.txt；已存在时依次尝试 _2、_3…。
// 从不覆盖已有文件。返回最终路径。
func Save(dir, text string, now time.Time) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &Error{Op: "save", Err: ErrEmpty}
	}
	day := now.Local()
	for n := 1; n <= maxSuffix; n++ {
		name := FileName(day, n)
		err := fsx.WriteFileAtomicNoOverwrite(dir, name, []byte(text))
		if err == nil {
			return filepath.Join(dir, name), nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return "", &Error{Op: "save", Err: err}
	}
	return "", &Error{Op: "save", Err: fmt.Errorf("%s 下同名文件过多（>%d）", dir, maxSuffix)}
}

// Copy 通过 OSC 52 把文本写入终端所在系统的剪贴板（支持 SSH 会话）。
// w 通常是 TTY；终端不支持 OSC 52 时序列会被静默忽略。
func Copy(w io.Writer, text string) error {
	if strings.TrimSpace(text) == "" {
		return &Error{Op: "copy", Err: ErrEmpty}
	}
	if _, err := io.WriteString(w, ansi.SetSystemClipboard(text)); err != nil {
		return &Error{Op: "copy", Err: err}
	}
	return nil
}
