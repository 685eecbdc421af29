// Package corpus 将匹配的句子文件装载为按划分组织的文本语料。
package corpus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"tapt/pkg/contract"
)

// maxLine: 单行最大字节数（bufio.Scanner 上限）。
const maxLine = 1 << 20

// Stats: 装载统计（仅用于日志）。
type Stats struct {
	Files   int
	Records map[contract.Split]int
	// Skipped: 首字段为空（或仅空白）而被跳过的行数。
	Skipped int
}

// SplitOf 由文件名推导划分：按 '.' 切分取第二段。
// 段数不足返回 ErrFilenameInvalid；未知划分返回 ErrUnknownSplit。
func SplitOf(name string) (contract.Split, error) {
	parts := contract.FileID(name).Segments()
	// 至少需要 <name>.<split>.<ext> 三段
	if len(parts) < 3 || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", contract.ErrFilenameInvalid, name)
	}
	s, err := contract.ParseSplit(parts[1])
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// FirstField 返回逗号分隔的首字段（已去除首尾空白）。
func FirstField(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// Load 遍历 dir 下以 datasetName 为前缀的文件并装载语料。
func Load(ctx context.Context, r contract.Reader, dir, datasetName string) (contract.Corpus, error) {
	c, _, err := LoadWithStats(ctx, r, dir, datasetName)
	return c, err
}

// LoadWithStats 同 Load，附带统计。
// 任一文件无法打开/读取或文件名非法时整体失败，不返回部分结果。
func LoadWithStats(ctx context.Context, r contract.Reader, dir, datasetName string) (contract.Corpus, Stats, error) {
	if f, ok := r.(contract.Filtered); ok {
		r = f.WithPrefix(datasetName)
	}
	c := contract.NewCorpus()
	st := Stats{Records: map[contract.Split]int{}}
	err := r.Iterate(ctx, dir, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		split, err := SplitOf(id.Base())
		if err != nil {
			return err
		}
		st.Files++
		texts, skipped, err := readLines(ctx, rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		c[split] = append(c[split], texts...)
		st.Records[split] += len(texts)
		st.Skipped += skipped
		return nil
	})
	if err != nil {
		return nil, Stats{}, err
	}
	return c, st, nil
}

func readLines(ctx context.Context, r io.Reader) ([]string, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var out []string
	skipped := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if t := FirstField(sc.Text()); t != "" {
			out = append(out, t)
		} else {
			skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return out, skipped, nil
}
