package config

import "encoding/json"

// DefaultTemplateConfig 返回一个默认配置模板：
// - dataset_name/model 留空，需由用户填写或经 CLI 提供；
// - tokenizer 留空表示按模型目录自动选择；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		DatasetName: "",
		Model:       "",
		ModelName:   "",
		DataDir:     d.DataDir,
		NumProc:     d.NumProc,
		MaxLength:   d.MaxLength,
		Logging:     Logging{Level: "info"},
		Components:  d.Components,
		Cache:       Cache{Dir: "", MaxBytes: 0},
		Export:      Export{Dir: ""},
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "prefix": "",
  "suffix": ".sen"
}`)
	cfg.Options.Tokenizer = json.RawMessage(`{}`)
	cfg.Options.Model = json.RawMessage(`{
  "hidden_size": 32,
  "max_position_embeddings": 64,
  "seed": 42
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "flat": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// DotEnvTemplate: --init-config 生成的 .env 模板（全部注释，按需启用）。
const DotEnvTemplate = `# tapt 环境变量（优先级：JSON < ENV < CLI；已存在的进程环境不会被 .env 覆盖）
# TAPT_CONFIG_FILE=./config.json
# TAPT_DATASET_NAME=
# TAPT_MODEL=
# TAPT_MODEL_NAME=
# TAPT_DATA_DIR=data
# TAPT_NUM_PROC=4
# TAPT_MAX_LENGTH=64
# TAPT_LOGGING_LEVEL=info
# TAPT_COMPONENTS_TOKENIZER=
# TAPT_COMPONENTS_MODEL=cbow
# TAPT_OPTIONS_MODEL_JSON={"hidden_size":32}
# TAPT_CACHE_MAX_BYTES=0
# TAPT_CACHE_DIR=
# TAPT_EXPORT_DIR=
`
