package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tapt/pkg/contract"
)

func decodeEvents(t *testing.T, b []byte) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWriter("c1", "warn", &buf)
	l.Debug("x", "dropped", nil)
	l.Info("x", "dropped", nil)
	l.Warn("trainer", CodeInvariant, "validation empty", Fields{"epoch": "1"})
	evs := decodeEvents(t, buf.Bytes())
	if len(evs) != 1 {
		t.Fatalf("events=%+v", evs)
	}
	ev := evs[0]
	if ev.Level != "warn" || ev.CorrID != "c1" || ev.Code != "invariant" || ev.KV["epoch"] != "1" || ev.TS == "" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestLoggerBeginEnd(t *testing.T) {
	ResetMetrics()
	var buf bytes.Buffer
	l := NewLoggerWriter("c", "debug", &buf)
	s := l.Begin("corpus", "load", "data", Fields{"dataset": "tweets"})
	s.End("load", 49, Fields{"train": "41"})
	evs := decodeEvents(t, buf.Bytes())
	if len(evs) != 2 || evs[0].Stage != "begin" || evs[1].Stage != "end" {
		t.Fatalf("events=%+v", evs)
	}
	if evs[1].Path != "data" || evs[1].Count != 49 || evs[1].KV["train"] != "41" {
		t.Fatalf("end=%+v", evs[1])
	}
	m := Snapshot()
	if m.Ops["corpus/end"] != 1 {
		t.Fatalf("ops=%v", m.Ops)
	}
	if _, ok := m.DurMS["corpus/load"]; !ok {
		t.Fatalf("durations=%v", m.DurMS)
	}
}

func TestLoggerFail(t *testing.T) {
	ResetMetrics()
	var buf bytes.Buffer
	l := NewLoggerWriter("c", "info", &buf)
	start := time.Now().Add(-5 * time.Millisecond)
	code := l.Fail("tokenizer", "tokenize failed", fmt.Errorf("row 3: %w", contract.ErrVocabMismatch), &start)
	if code != CodeInvariant {
		t.Fatalf("code=%s", code)
	}
	evs := decodeEvents(t, buf.Bytes())
	if len(evs) != 1 || evs[0].Stage != "error" || !strings.Contains(evs[0].Msg, "vocab mismatch") || evs[0].DurMS <= 0 {
		t.Fatalf("events=%+v", evs)
	}
	m := Snapshot()
	if m.Ops["tokenizer/error"] != 1 || m.Errors["tokenizer/invariant"] != 1 {
		t.Fatalf("metrics=%+v", m)
	}
	// 未知分类只计操作，不计错误分类
	l.Fail("x", "boom", errors.New("boom"), nil)
	if m := Snapshot(); m.Ops["x/error"] != 1 || len(m.Errors) != 1 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestNilLoggerNoop(t *testing.T) {
	var l *Logger
	l.Info("x", "y", nil)
	l.Debug("x", "y", nil)
	l.Warn("x", CodeIO, "y", nil)
	l.Begin("x", "y", "", nil).End("y", 1, nil)
	if l.Fail("x", "y", context.Canceled, nil) != CodeCancel {
		t.Fatalf("nil logger should still classify")
	}
	var s *Span
	s.End("x", 0, nil)
	if l.Enabled(Error) {
		t.Fatalf("nil logger enabled")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": Debug, " WARN ": Warn, "error": Error, "info": Info, "verbose": Info, "": Info}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v", in, got)
		}
	}
	if Level(99).String() != "info" || Error.String() != "error" {
		t.Fatalf("level strings")
	}
}

func TestLoggerDirSink(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerDir("c", "info", dir)
	l.Info("pipeline", "run", nil)
	b, err := os.ReadFile(filepath.Join(dir, logCurrent))
	if err != nil {
		t.Fatal(err)
	}
	if evs := decodeEvents(t, b); len(evs) != 1 || evs[0].Comp != "pipeline" {
		t.Fatalf("events=%+v", evs)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{errors.New("x"), CodeUnknown},
		{fmt.Errorf("train: %w", context.Canceled), CodeCancel},
		{context.DeadlineExceeded, CodeCancel},
		{fmt.Errorf("cbow: %w", contract.ErrDeviceUnsupported), CodeResource},
		{contract.ErrUnknownSplit, CodeInvariant},
		{contract.ErrFilenameInvalid, CodeInvariant},
		{contract.ErrSplitNotFound, CodeInvariant},
		{contract.ErrNoMaskToken, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{fs.ErrNotExist, CodeIO},
		{fs.ErrPermission, CodeIO},
		{&os.PathError{Op: "open", Path: "x", Err: errors.New("weird")}, CodeIO},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v)=%s want %s", c.err, got, c.want)
		}
	}
}

func TestNowUTC(t *testing.T) {
	if _, err := time.Parse(time.RFC3339, NowUTC()); err != nil {
		t.Fatalf("NowUTC: %v", err)
	}
}

func TestMetricsFields(t *testing.T) {
	ResetMetrics()
	IncOp("trainer", "end")
	IncOp("trainer", "end")
	IncError("model", CodeResource)
	ObserveDuration("trainer", "train", 7)
	ObserveDuration("trainer", "train", 5)
	f := Snapshot().Fields()
	if f["op.trainer/end"] != "2" || f["error.model/resource"] != "1" || f["ms.trainer/train"] != "12" {
		t.Fatalf("fields=%v", f)
	}
	ResetMetrics()
	if len(Snapshot().Fields()) != 0 {
		t.Fatalf("reset failed")
	}
}

func rotated(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range ents {
		if e.Name() != logCurrent {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestRotatingFileRotates(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 16)
	defer w.Close()
	for i := 0; i < 3; i++ {
		if err := w.WriteLine([]byte("0123456789")); err != nil {
			t.Fatal(err)
		}
	}
	old := rotated(t, dir)
	if len(old) != 2 {
		t.Fatalf("rotated=%v", old)
	}
	for _, n := range old {
		if !strings.HasPrefix(n, logRotatedPrefix) || !strings.HasSuffix(n, logSuffix) {
			t.Fatalf("name=%s", n)
		}
	}
	b, _ := os.ReadFile(filepath.Join(dir, logCurrent))
	if string(b) != "0123456789\n" {
		t.Fatalf("current=%q", b)
	}
}

func TestRotatingFileKeep(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4).WithKeep(2)
	defer w.Close()
	for i := 0; i < 6; i++ {
		if err := w.WriteLine([]byte("abcd")); err != nil {
			t.Fatal(err)
		}
	}
	if old := rotated(t, dir); len(old) != 2 {
		t.Fatalf("keep=2, rotated=%v", old)
	}
}

func TestRotatingFileOversizeLine(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 4)
	if err := w.WriteLine([]byte("a line longer than the limit")); err != nil {
		t.Fatal(err)
	}
	// 空文件不轮转，超长行直接写入
	if old := rotated(t, dir); len(old) != 0 {
		t.Fatalf("rotated=%v", old)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	// 关闭后再写会重新打开并因超限轮转
	if err := w.WriteLine([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if old := rotated(t, dir); len(old) != 1 {
		t.Fatalf("rotated=%v", old)
	}
}

func TestRotatingFileMkdirError(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewRotatingFile(filepath.Join(f, "logs"), 0).WriteLine([]byte("x")); err == nil {
		t.Fatalf("expected error under a regular file")
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, errors.New("boom")
	}
	return len(p), nil
}

func TestTerminalNonTTY(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = false
	term.RunStart("/models/bert-base-uncased", 4)
	term.EpochStart(1, 5, 3)
	term.StepProgress(1, 2.5) // 非 TTY 不输出进度
	term.EpochFinish(2.25, 1500*time.Millisecond)
	term.RunFinish(true, 2*time.Second)
	out := sb.String()
	for _, want := range []string{"[run]", "bert-base-uncased", "[epoch] 1/5", "eval_loss 2.2500", "1.5s", "[ok]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty output must not redraw: %q", out)
	}
}

func TestTerminalTTYThrottle(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.EpochStart(2, 5, 10)
	term.StepProgress(1, 3.0)
	first := sb.String()
	if !strings.HasPrefix(first, "\r[epoch] 2/5") {
		t.Fatalf("first=%q", first)
	}
	term.StepProgress(2, 2.9)
	if sb.String() != first {
		t.Fatalf("progress within 100ms should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.StepProgress(3, 2.8)
	if len(sb.String()) <= len(first) {
		t.Fatalf("progress after throttle window should redraw")
	}
	term.RunFinish(false, time.Second)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 || !strings.Contains(final[:idx], "\r ") {
		t.Fatalf("finish should clear the inline line first: %q", final)
	}
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = false
	term.RunStart("m", 1)
	if term.enabled {
		t.Fatalf("terminal should be disabled after a write error")
	}
	term.EpochStart(1, 1, 1)
	term.StepProgress(1, 0)
	term.EpochFinish(0, 0)
	term.RunFinish(true, 0)

	inline := NewTerminal(&flakyWriter{fail: true}, true)
	inline.isTTY = true
	inline.StepProgress(1, 1)
	if inline.enabled {
		t.Fatalf("inline write error should disable")
	}
}

func TestTerminalDisabledAndNil(t *testing.T) {
	var sb strings.Builder
	off := NewTerminal(&sb, false)
	off.RunStart("m", 1)
	off.EpochFinish(1, time.Second)
	if sb.Len() != 0 {
		t.Fatalf("disabled terminal wrote %q", sb.String())
	}
	var tn *Terminal
	tn.RunStart("x", 1)
	tn.EpochStart(1, 1, 1)
	tn.StepProgress(0, 0)
	tn.EpochFinish(0, 0)
	tn.RunFinish(true, 0)
}

func TestTerminalGlobal(t *testing.T) {
	t.Cleanup(func() { SetTerminal(nil) })
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil")
	}
	tm := NewTerminal(os.Stderr, false)
	SetTerminal(tm)
	if GetTerminal() != tm {
		t.Fatalf("global terminal not set")
	}
}

func TestTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "1")
	if NewTerminal(os.Stderr, true).isTTY {
		t.Fatalf("CI forces non-tty")
	}
}

func TestTerminalHelpers(t *testing.T) {
	if got := shortenBase("/models/一个很长很长的模型目录名称-abcdefghijklmnop", 10); len([]rune(got)) != 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("shortenBase=%q", got)
	}
	if shortenBase("bert", 0) != "" || shortenBase("/a/bert", 10) != "bert" {
		t.Fatalf("shortenBase edge")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe")
	}
	if formatDur(0) != "0ms" || formatDur(250*time.Millisecond) != "250ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur")
	}
}
