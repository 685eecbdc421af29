package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（相对输出根的路径，例如 checkpoint-40/model.gob）。
type ArtifactID = FileID

// Writer: 将工件以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传；
//  3. ctx 取消需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// Pruner: 可列举并删除已持久化工件的 Writer（用于 checkpoint 轮转）。
// List 返回 dir 下一级条目（相对输出根的标识）；dir 为空表示根。
type Pruner interface {
	List(ctx context.Context, dir ArtifactID) ([]ArtifactID, error)
	Remove(ctx context.Context, id ArtifactID) error
}
