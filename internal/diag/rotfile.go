package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// 日志文件命名：当前文件 tapt.log；轮转后为 tapt-<UTC 时间戳>.log。
const (
	logCurrent       = "tapt.log"
	logRotatedPrefix = "tapt-"
	logSuffix        = ".log"

	defaultLogMaxBytes = 10 << 20
	defaultLogKeep     = 5
)

// RotatingFile 按大小轮转日志，并只保留最近 keep 个历史文件。
type RotatingFile struct {
	dir      string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingFile 在 dir 下写日志；maxBytes<=0 取 10MiB，历史文件保留 5 个。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = defaultLogMaxBytes
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: defaultLogKeep}
}

// WithKeep 设置历史文件保留个数（<=0 表示不清理）。
func (w *RotatingFile) WithKeep(n int) *RotatingFile {
	w.mu.Lock()
	w.keep = n
	w.mu.Unlock()
	return w
}

// WriteLine 追加一行；写入会使当前文件超限时先轮转。
// 单行本身超过上限时照常写入新文件。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return err
	}
	need := int64(len(b)) + 1
	if w.size > 0 && w.size+need > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, len(b)+1)
	line = append(append(line, b...), '\n')
	n, err := w.f.Write(line)
	w.size += int64(n)
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, logCurrent), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	cur := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	dst := filepath.Join(w.dir, logRotatedPrefix+stamp+logSuffix)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(w.dir, fmt.Sprintf("%s%s.%d%s", logRotatedPrefix, stamp, i, logSuffix))
	}
	if err := os.Rename(cur, dst); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	if err := w.prune(); err != nil {
		return err
	}
	return w.open()
}

// prune 删除超出 keep 的最旧历史文件（时间戳字典序即时间序）。
func (w *RotatingFile) prune() error {
	if w.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	var old []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && n != logCurrent && strings.HasPrefix(n, logRotatedPrefix) && strings.HasSuffix(n, logSuffix) {
			old = append(old, n)
		}
	}
	if len(old) <= w.keep {
		return nil
	}
	sort.Strings(old)
	for _, n := range old[:len(old)-w.keep] {
		if err := os.Remove(filepath.Join(w.dir, n)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close 关闭当前文件；之后再写会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
