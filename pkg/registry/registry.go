package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tapt/pkg/contract"
	mcbow "tapt/plugins/model/cbow"
	rfs "tapt/plugins/reader/filesystem"
	thf "tapt/plugins/tokenizer/hf"
	tsp "tapt/plugins/tokenizer/sentencepiece"
	twp "tapt/plugins/tokenizer/wordpiece"
	wfs "tapt/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewTokenizer 工厂签名：模型目录 + 原样 JSON Options。
type NewTokenizer func(modelDir string, raw json.RawMessage) (contract.Tokenizer, error)

// NewModel 工厂签名：模型目录 + 原样 JSON Options。
type NewModel func(modelDir string, raw json.RawMessage) (contract.MaskedLM, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 单目录 .sen 文件 Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Tokenizer 工厂注册表。
var Tokenizer = map[string]NewTokenizer{
	// hf: tokenizer.json
	"hf": func(dir string, raw json.RawMessage) (contract.Tokenizer, error) {
		var opts thf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return thf.New(dir, &opts)
	},
	// sentencepiece: tokenizer.model
	"sentencepiece": func(dir string, raw json.RawMessage) (contract.Tokenizer, error) {
		var opts tsp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tsp.New(dir, &opts)
	},
	// wordpiece: BERT vocab.txt
	"wordpiece": func(dir string, raw json.RawMessage) (contract.Tokenizer, error) {
		var opts twp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return twp.New(dir, &opts)
	},
}

// tokenizerFiles: 自动选择顺序。
var tokenizerFiles = []struct{ file, kind string }{
	{"tokenizer.json", "hf"},
	{"tokenizer.model", "sentencepiece"},
	{"vocab.txt", "wordpiece"},
}

// DetectTokenizer 按模型目录中存在的文件选择 tokenizer 实现。
func DetectTokenizer(modelDir string) (string, error) {
	for _, c := range tokenizerFiles {
		if st, err := os.Stat(filepath.Join(modelDir, c.file)); err == nil && st.Mode().IsRegular() {
			return c.kind, nil
		}
	}
	return "", fmt.Errorf("%s: %w: no tokenizer.json, tokenizer.model or vocab.txt", modelDir, os.ErrNotExist)
}

// Model 工厂注册表。
var Model = map[string]NewModel{
	// cbow: CPU 掩码语言模型
	"cbow": func(dir string, raw json.RawMessage) (contract.MaskedLM, error) {
		var opts mcbow.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mcbow.New(dir, &opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换，保留 checkpoint 目录层级）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
