package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。ENV 键为 TAPT_ + env 标签。
type Config struct {
	// DatasetName: 语料文件名前缀（<dataset>.<split>.sen）。
	DatasetName string `json:"dataset_name" env:"DATASET_NAME"`
	// Model: 预训练模型目录（权重 + 分词器文件）。
	Model string `json:"model" env:"MODEL"`
	// ModelName: 输出目录后缀，输出为 runs/ta_pretraining<model_name>。
	ModelName string `json:"model_name" env:"MODEL_NAME"`
	DataDir   string `json:"data_dir" env:"DATA_DIR"`
	// NumProc: 分词并发 worker 数。
	NumProc int `json:"num_proc" env:"NUM_PROC"`
	// MaxLength: 截断长度（含特殊词）。
	MaxLength int     `json:"max_length" env:"MAX_LENGTH"`
	Logging   Logging `json:"logging" envPrefix:"LOGGING_"`

	// 组件名选择（tokenizer 为空则按模型目录文件自动选择）。
	Components Components `json:"components" envPrefix:"COMPONENTS_"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options" envPrefix:"OPTIONS_"`

	Cache  Cache  `json:"cache" envPrefix:"CACHE_"`
	Export Export `json:"export" envPrefix:"EXPORT_"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level" env:"LEVEL"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader" env:"READER"`
	Tokenizer string `json:"tokenizer" env:"TOKENIZER"`
	Model     string `json:"model" env:"MODEL"`
	Writer    string `json:"writer" env:"WRITER"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader    json.RawMessage `json:"reader" env:"READER_JSON"`
	Tokenizer json.RawMessage `json:"tokenizer" env:"TOKENIZER_JSON"`
	Model     json.RawMessage `json:"model" env:"MODEL_JSON"`
	Writer    json.RawMessage `json:"writer" env:"WRITER_JSON"`
}

// Cache: 分词结果缓存。MaxBytes<=0 表示关闭。
type Cache struct {
	// Dir: 持久化目录；为空时使用 <output_dir>/.cache/encode。
	Dir      string `json:"dir" env:"DIR"`
	MaxBytes int    `json:"max_bytes" env:"MAX_BYTES"`
}

// Export: 分词结果导出（parquet）。Dir 为空表示不导出。
type Export struct {
	Dir string `json:"dir" env:"DIR"`
}
