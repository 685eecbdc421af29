package main

import (
	"flag"
	"os"
	"strings"
)

// options: 命令行旗标。零值表示未指定，由配置层补齐。
type options struct {
	datasetName string
	model       string
	modelName   string
	dataDir     string
	numProc     int
	configPath  string
	initDir     string
	status      bool
}

func parseOptions(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("tapt", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&o.datasetName, "dataset_name", "", "dataset name; corpus files are <dataset_name>.<split>.sen")
	fs.StringVar(&o.model, "model", "", "pretrained model directory")
	fs.StringVar(&o.modelName, "model_name", "", "suffix of the output directory runs/ta_pretraining<model_name>")
	fs.StringVar(&o.dataDir, "data_dir", "", "corpus directory (default data)")
	fs.IntVar(&o.numProc, "num_proc", 0, "tokenization workers (default 4)")
	fs.StringVar(&o.configPath, "config", "", "JSON config file; ./config.json is used when present")
	fs.StringVar(&o.initDir, "init-config", "", "write config.json and a .env template into the directory and exit (default .)")
	fs.BoolVar(&o.status, "status", true, "training status line on stderr")
	if err := fs.Parse(withInitDefault(args)); err != nil {
		return options{}, err
	}
	o.initDir = strings.TrimSpace(o.initDir)
	return o, nil
}

// withInitDefault 让不带值的 --init-config 等价于 --init-config .
func withInitDefault(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, a := range args {
		out = append(out, a)
		if a != "--init-config" && a != "-init-config" {
			continue
		}
		if i+1 == len(args) || strings.HasPrefix(args[i+1], "-") {
			out = append(out, ".")
		}
	}
	return out
}
