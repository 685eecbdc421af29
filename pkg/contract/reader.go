package contract

import (
	"context"
	"io"
)

// Reader: 语料文件源抽象。
// 约束：
// 1) 仅列出 root 目录下的常规文件（不递归），按字典序；
// 2) 过滤规则（前缀/后缀）由实现的 Options 决定；
// 3) 不做解析，仅提供字节流；调用方负责 Close；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, root string, yield func(fileID FileID, r io.ReadCloser) error) error
}

// Filtered: 可选扩展。实现该接口的 Reader 可按数据集名前缀重新绑定过滤器。
type Filtered interface {
	WithPrefix(prefix string) Reader
}
