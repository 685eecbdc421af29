package diag

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"tapt/pkg/contract"
)

// Code 是写入日志与指标的错误分类，与进程退出码无关。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeInvariant Code = "invariant"
	CodeResource  Code = "resource"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// 按顺序匹配，先命中者生效。
var codeTable = []struct {
	code  Code
	match []error
}{
	{CodeCancel, []error{context.Canceled, context.DeadlineExceeded}},
	{CodeResource, []error{contract.ErrDeviceUnsupported}},
	{CodeInvariant, []error{
		contract.ErrInvariantViolation,
		contract.ErrVocabMismatch,
		contract.ErrNoMaskToken,
		contract.ErrUnknownSplit,
		contract.ErrFilenameInvalid,
		contract.ErrSplitNotFound,
		contract.ErrPathInvalid,
	}},
	{CodeIO, []error{fs.ErrNotExist, fs.ErrPermission, fs.ErrExist}},
}

// Classify 仅依据哨兵错误与 *os.PathError 归类，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, row := range codeTable {
		for _, target := range row.match {
			if errors.Is(err, target) {
				return row.code
			}
		}
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间，用作事件 ts。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
