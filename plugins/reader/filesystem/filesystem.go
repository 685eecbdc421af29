package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tapt/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Prefix: 文件基名前缀（通常为数据集名）。空表示不过滤。
	Prefix string `json:"prefix"`
	// Suffix: 文件基名后缀。默认 ".sen"。
	Suffix string `json:"suffix"`
}

// FileSystem 实现基于单个目录的语料 Reader。
type FileSystem struct {
	bufSize int
	prefix  string
	suffix  string
}

// DefaultSuffix: 句子文件扩展名。
const DefaultSuffix = ".sen"

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, suffix: DefaultSuffix}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	r.prefix = opts.Prefix
	if strings.TrimSpace(opts.Suffix) != "" {
		r.suffix = opts.Suffix
	}
	return r
}

var (
	_ contract.Reader   = (*FileSystem)(nil)
	_ contract.Filtered = (*FileSystem)(nil)
)

// WithPrefix 返回绑定新前缀的副本（原实例不变）。
func (r *FileSystem) WithPrefix(prefix string) contract.Reader {
	cp := *r
	cp.prefix = prefix
	return &cp
}

// Match 判断基名是否满足前缀/后缀过滤。
func (r *FileSystem) Match(name string) bool {
	return strings.HasPrefix(name, r.prefix) && strings.HasSuffix(name, r.suffix)
}

// Iterate 按字典序遍历 root 下匹配的常规文件，对每个文件调用 yield。
// 不递归子目录；指向常规文件的符号链接会被跟随，其余符号链接忽略。
func (r *FileSystem) Iterate(ctx context.Context, root string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.IsDir() || !r.Match(e.Name()) {
			continue
		}
		p := filepath.Join(root, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备/管道等非常规文件跳过
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		brc := newBufferedCloser(f, r.bufSize)
		if err := yield(contract.NormalizeFileID(p), brc); err != nil {
			_ = brc.Close()
			return err
		}
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
