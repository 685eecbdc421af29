package main

import (
	"encoding/json"
	"os"

	cfgpkg "tapt/internal/config"
)

// resolveConfig 按 默认值 → JSON → ENV → CLI 的顺序合并配置。
// JSON 来源：--config，否则 TAPT_CONFIG_FILE，否则存在时的 ./config.json；
// TAPT_CONFIG_JSON 给出内联 JSON，与文件同时存在时优先。
func resolveConfig(o options, getenv func(string) string, environ []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := o.configPath
	if path == "" {
		path = getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	inline := []byte(getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"))
	if path != "" || len(inline) > 0 {
		fromJSON, err := cfgpkg.LoadJSON(path, inline)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = cfgpkg.Merge(cfg, fromJSON)
	}

	fromEnv, err := cfgpkg.EnvOverlay(environ)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfg = cfgpkg.Merge(cfg, fromEnv)

	return cfgpkg.Merge(cfg, cfgpkg.Config{
		DatasetName: o.datasetName,
		Model:       o.model,
		ModelName:   o.modelName,
		DataDir:     o.dataDir,
		NumProc:     o.numProc,
	}), nil
}

// dumpConfig 将有效配置打印到 stderr，便于定位校验失败。
func dumpConfig(c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(os.Stderr, "effective config:\n%s\n", b)
}
