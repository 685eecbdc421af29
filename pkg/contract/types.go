package contract

import "fmt"

// FileID: 逻辑文件ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Split: 数据划分标签（显式枚举；由文件名第二个点分段给出）。
type Split string

const (
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitTest       Split = "test"
)

// Splits 返回规范顺序的全部划分。
func Splits() []Split { return []Split{SplitTrain, SplitValidation, SplitTest} }

// ParseSplit 将文件名中的划分段解析为 Split；未知值返回 ErrUnknownSplit。
func ParseSplit(s string) (Split, error) {
	switch Split(s) {
	case SplitTrain, SplitValidation, SplitTest:
		return Split(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSplit, s)
	}
}

// Corpus: 划分 → 文本序列。
// 约束：
// - 三个划分键始终存在（可为空切片）；
// - 顺序为文件遍历顺序 + 行序；
// - 装载完成后只读。
type Corpus map[Split][]string

// NewCorpus 创建三个划分均已初始化的空 Corpus。
func NewCorpus() Corpus {
	c := make(Corpus, 3)
	for _, s := range Splits() {
		c[s] = []string{}
	}
	return c
}

// Len 返回全部划分的文本总数。
func (c Corpus) Len() int {
	n := 0
	for _, v := range c {
		n += len(v)
	}
	return n
}

// MarkerTokens: 领域标记词，在任何分词之前注册为特殊词。
var MarkerTokens = []string{"[DATE]", "[TIME]"}

// IgnoreIndex: 标签中不参与损失计算的位置。
const IgnoreIndex = -100
