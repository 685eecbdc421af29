package contract

import "errors"

var (
	// ErrUnknownSplit: 文件名中的划分段不在 {train, validation, test} 之内。
	ErrUnknownSplit = errors.New("unknown split")
	// ErrFilenameInvalid: 文件名缺少第二个点分段，无法推导划分。
	ErrFilenameInvalid = errors.New("filename invalid")
	// ErrSplitNotFound: 装配后的数据集中不存在该划分（例如 test）。
	ErrSplitNotFound = errors.New("split not found")
	// ErrVocabMismatch: token id 超出模型词表（通常是扩词后未 resize 或顺序错误）。
	ErrVocabMismatch = errors.New("vocab mismatch")
	// ErrNoMaskToken: 分词器没有 mask 词，无法进行 MLM。
	ErrNoMaskToken = errors.New("tokenizer has no mask token")
	// ErrDeviceUnsupported: 模型后端不支持目标设备。
	ErrDeviceUnsupported = errors.New("device unsupported")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
