package contract

import (
	"path"
	"strings"
)

// 语料文件与工件都使用正斜杠的相对/绝对路径作为标识，与操作系统无关。

// NormalizeFileID 将反斜杠统一为正斜杠并 Clean；不做绝对化。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// Base 返回最后一段，例如 tweets.train.sen 或 checkpoint-40。
func (id FileID) Base() string { return path.Base(string(id)) }

// Dir 返回去掉最后一段后的部分；顶层标识返回 "."。
func (id FileID) Dir() FileID { return FileID(path.Dir(string(id))) }

// Join 追加路径段，例如 ArtifactID("checkpoint-40").Join("model.gob")。
func (id FileID) Join(elem ...string) FileID {
	return FileID(path.Join(append([]string{string(id)}, elem...)...))
}

// Segments 按点号切分文件名（不含目录）：tweets.train.sen → [tweets train sen]。
func (id FileID) Segments() []string { return strings.Split(id.Base(), ".") }
