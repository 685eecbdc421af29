package contract

// Encoding: 单条文本的分词结果（产出后只读）。
type Encoding struct {
	IDs []int
	// SpecialMask: 与 IDs 等长；1 表示特殊词（CLS/SEP/PAD 及注册的特殊词）。
	SpecialMask []int
	Tokens      []string
}

// SpecialTokens: 常用特殊词 id；不存在时为 -1。
type SpecialTokens struct {
	Pad  int
	Mask int
	CLS  int
	SEP  int
	UNK  int
}

// Tokenizer: 外部分词器的窄接口。
// 约束：
//   - AddSpecialTokens/EnableTruncation 只在分词开始前调用（单协程）；
//   - 之后 Encode 可被多个 worker 并发调用；
//   - 注册的特殊词在预分词之前抽取，字面量不会被拆分或丢弃；
//   - Len 包含追加的特殊词，用于 resize 模型嵌入。
type Tokenizer interface {
	AddSpecialTokens(tokens []string) (int, error)
	EnableTruncation(maxLen int)
	Encode(text string) (Encoding, error)
	Len() int
	Specials() SpecialTokens
}

// Fingerprinted: 可选扩展，返回分词器身份（用于编码缓存键）。
type Fingerprinted interface {
	Fingerprint() string
}
