package dataset

import (
	"context"
	"fmt"
	"sync"

	"tapt/pkg/contract"
)

// 默认值对应原始训练脚本的固定参数。
const (
	DefaultMaxLength = 64
	DefaultNumProc   = 4
)

// TokenizeOptions: 分词映射选项。
type TokenizeOptions struct {
	// MaxLength: 截断长度（含 CLS/SEP 等特殊词）。<=0 使用 DefaultMaxLength。
	MaxLength int
	// NumProc: 并发 worker 数。<=0 使用 DefaultNumProc。
	NumProc int
	// Progress: 可选回调，每完成一行调用一次（并发调用，需自行同步）。
	Progress func(s contract.Split)
}

// Tokenize 对每个划分的 text 列分词。
// 约束：
// - tok 由调用方构造并完成扩词，这里只启用截断后并发调用 Encode；
// - 输出行与输入行一一对应，顺序保持；
// - 首错取消，返回该错误。
func Tokenize(ctx context.Context, d DatasetDict, tok contract.Tokenizer, opts TokenizeOptions) (TokenizedDict, error) {
	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	nproc := opts.NumProc
	if nproc <= 0 {
		nproc = DefaultNumProc
	}
	tok.EnableTruncation(maxLen)

	out := TokenizedDict{tables: make(map[contract.Split]*TokenizedTable, len(d.tables))}
	for _, s := range d.Splits() {
		t, _ := d.Split(s)
		tt, err := tokenizeTable(ctx, t, tok, nproc, opts.Progress)
		if err != nil {
			return TokenizedDict{}, fmt.Errorf("tokenize %s: %w", s, err)
		}
		out.tables[s] = tt
	}
	return out, nil
}

func tokenizeTable(ctx context.Context, t *Table, tok contract.Tokenizer, nproc int, progress func(contract.Split)) (*TokenizedTable, error) {
	n := t.Len()
	tt := &TokenizedTable{
		Split:       t.Split,
		Text:        t.Text,
		InputIDs:    make([][]int, n),
		SpecialMask: make([][]int, n),
	}
	if n == 0 {
		return tt, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 有界通道：2×并发度，形成自然背压
	inCh := make(chan int, nproc*2)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	worker := func() {
		defer wg.Done()
		for i := range inCh {
			if ctx.Err() != nil {
				continue
			}
			enc, err := tok.Encode(t.Text[i])
			if err != nil {
				fail(fmt.Errorf("row %d: %w", i, err))
				continue
			}
			// 每个下标只被一个 worker 写入，无需加锁
			tt.InputIDs[i] = enc.IDs
			tt.SpecialMask[i] = enc.SpecialMask
			if progress != nil {
				progress(t.Split)
			}
		}
	}
	if nproc > n {
		nproc = n
	}
	wg.Add(nproc)
	for w := 0; w < nproc; w++ {
		go worker()
	}
feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case inCh <- i:
		}
	}
	close(inCh)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tt, nil
}
