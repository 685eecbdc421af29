package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别。
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{Debug: "debug", Info: "info", Warn: "warn", Error: "error"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "info"
	}
	return levelNames[l]
}

// ParseLevel 解析级别名（大小写不敏感）；未知值按 info 处理。
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return Level(i)
		}
	}
	return Info
}

// Fields: 事件附加键值（epoch、step、loss 等均以字符串记录）。
type Fields map[string]string

// Event 为单行 JSON 事件。
type Event struct {
	Level  string `json:"level"`
	TS     string `json:"ts"`
	CorrID string `json:"corr_id"`
	Comp   string `json:"comp"`
	Stage  string `json:"stage"` // begin|end|info|warn|error
	Code   string `json:"code,omitempty"`
	DurMS  int64  `json:"dur_ms,omitempty"`
	Count  int64  `json:"count,omitempty"`
	Path   string `json:"path,omitempty"`
	Msg    string `json:"msg"`
	KV     Fields `json:"kv,omitempty"`
}

// lineSink 接收完整的一行（不含换行）。
type lineSink interface {
	WriteLine(b []byte) error
}

type writerSink struct{ w io.Writer }

func (s writerSink) WriteLine(b []byte) error {
	_, err := s.w.Write(append(b, '\n'))
	return err
}

// Logger 写 JSON 行日志，按级别过滤。nil *Logger 的所有方法均为 no-op。
type Logger struct {
	corrID string
	level  Level
	mu     sync.Mutex
	sink   lineSink
}

// NewLogger 写入 logs/ 下的轮转文件。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerDir(corrID, level, "logs")
}

// NewLoggerDir 写入 dir 下的轮转文件；dir 为空时写 stderr。
func NewLoggerDir(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		return NewLoggerWriter(corrID, level, os.Stderr)
	}
	return &Logger{corrID: corrID, level: ParseLevel(level), sink: NewRotatingFile(dir, 0)}
}

// NewLoggerWriter 写入任意 io.Writer。
func NewLoggerWriter(corrID, level string, w io.Writer) *Logger {
	return &Logger{corrID: corrID, level: ParseLevel(level), sink: writerSink{w: w}}
}

// Enabled 报告该级别是否会输出。
func (l *Logger) Enabled(lv Level) bool { return l != nil && lv >= l.level }

func (l *Logger) emit(lv Level, ev Event) {
	if !l.Enabled(lv) {
		return
	}
	ev.Level, ev.TS, ev.CorrID = lv.String(), NowUTC(), l.corrID
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "log sink: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Debug 仅在 level=debug 时输出。
func (l *Logger) Debug(comp, msg string, kv Fields) {
	l.emit(Debug, Event{Comp: comp, Stage: "info", Msg: msg, KV: kv})
}

// Info 记录一般事件（epoch 指标、缓存统计等）。
func (l *Logger) Info(comp, msg string, kv Fields) {
	l.emit(Info, Event{Comp: comp, Stage: "info", Msg: msg, KV: kv})
}

// Warn 记录可继续运行的异常。
func (l *Logger) Warn(comp string, code Code, msg string, kv Fields) {
	l.emit(Warn, Event{Comp: comp, Stage: "warn", Code: string(code), Msg: msg, KV: kv})
}

// Fail 分类 err、记录 error 事件并累加错误指标，返回分类结果。
// since 非 nil 时附带自该时刻起的耗时。
func (l *Logger) Fail(comp, msg string, err error, since *time.Time) Code {
	code := Classify(err)
	IncOp(comp, "error")
	if code != CodeUnknown {
		IncError(comp, code)
	}
	ev := Event{Comp: comp, Stage: "error", Code: string(code), Msg: msg}
	if err != nil {
		ev.Msg = msg + ": " + err.Error()
	}
	if since != nil {
		ev.DurMS = time.Since(*since).Milliseconds()
	}
	l.emit(Error, ev)
	return code
}

// Begin 记录阶段开始；path 为该阶段处理的目录或工件（可空）。
func (l *Logger) Begin(comp, msg, path string, kv Fields) *Span {
	l.emit(Info, Event{Comp: comp, Stage: "begin", Path: path, Msg: msg, KV: kv})
	return &Span{l: l, comp: comp, path: path, t0: time.Now()}
}

// Span: Begin 返回的计时区间。
type Span struct {
	l    *Logger
	comp string
	path string
	t0   time.Time
}

// End 记录阶段结束并上报耗时指标。
func (s *Span) End(msg string, count int64, kv Fields) {
	if s == nil {
		return
	}
	dur := time.Since(s.t0).Milliseconds()
	IncOp(s.comp, "end")
	ObserveDuration(s.comp, msg, dur)
	s.l.emit(Info, Event{Comp: s.comp, Stage: "end", DurMS: dur, Count: count, Path: s.path, Msg: msg, KV: kv})
}
