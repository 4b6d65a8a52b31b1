package export

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileName(t *testing.T) {
	day := time.Date(2024, 3, 7, 23, 0, 0, 0, time.Local)
	if got := FileName(day, 1); got != "transcript_2024-03-07.txt" {
		t.Fatalf("期望 transcript_2024-03-07.txt，实际 %q", got)
	}
	if got := FileName(day, 3); got != "transcript_2024-03-07_3.txt" {
		t.Fatalf("期望带序号，实际 %q", got)
	}
}

func TestSave_AppendsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 7, 10, 0, 0, 0, time.Local)

	p1, err := Save(dir, "first", now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	p2, err := Save(dir, "second", now)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if filepath.Base(p1) != "transcript_2024-03-07.txt" || filepath.Base(p2) != "transcript_2024-03-07_2.txt" {
		t.Fatalf("文件名不正确：%q %q", p1, p2)
	}
	b, _ := os.ReadFile(p1)
	if string(b) != "first" {
		t.Fatalf("首个文件不应被覆盖：%q", string(b))
	}
}

func TestSave_Empty(t *testing.T) {
	_, err := Save(t.TempDir(), " \n ", time.Now())
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("期望 ErrEmpty，实际 %v", err)
	}
}

func TestSave_DirIsFile(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "out")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	_, err := Save(blocker, "text", time.Now())
	var e *Error
	if !errors.As(err, &e) || e.Op != "save" {
		t.Fatalf("期望 *Error(save)，实际 %v", err)
	}
}

func TestCopy_WritesOSC52(t *testing.T) {
	var buf bytes.Buffer
	if err := Copy(&buf, "A [0:01]\nこんにちは"); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\x1b]52;c;") {
		t.Fatalf("期望 OSC 52 序列，实际 %q", out)
	}
	want := base64.StdEncoding.EncodeToString([]byte("A [0:01]\nこんにちは"))
	if !strings.Contains(out, want) {
		t.Fatalf("序列中缺少 base64 内容：%q", out)
	}
}

func TestCopy_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Copy(&buf, ""); !errors.Is(err, ErrEmpty) {
		t.Fatalf("期望 ErrEmpty，实际 %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("空文本不应写出任何序列")
	}
}
