package trainer

// OutputPrefix: 输出目录前缀，后接模型名。
const OutputPrefix = "runs/ta_pretraining"

// OutputDirFor 返回 runs/ta_pretraining<modelName>（直接拼接，不插分隔符）。
func OutputDirFor(modelName string) string { return OutputPrefix + modelName }

// Args: 训练超参数。字段名与 training_args.json 对齐。
type Args struct {
	OutputDir               string  `json:"output_dir"`
	LearningRate            float64 `json:"learning_rate"`
	NumTrainEpochs          int     `json:"num_train_epochs"`
	WeightDecay             float64 `json:"weight_decay"`
	WarmupRatio             float64 `json:"warmup_ratio"`
	PerDeviceTrainBatchSize int     `json:"per_device_train_batch_size"`
	PerDeviceEvalBatchSize  int     `json:"per_device_eval_batch_size"`
	EvaluationStrategy      string  `json:"evaluation_strategy"`
	SaveStrategy            string  `json:"save_strategy"`
	SaveTotalLimit          int     `json:"save_total_limit"`
	MLMProbability          float64 `json:"mlm_probability"`
	Seed                    int64   `json:"seed"`
	AdamBeta1               float64 `json:"adam_beta1"`
	AdamBeta2               float64 `json:"adam_beta2"`
	AdamEpsilon             float64 `json:"adam_epsilon"`
	MaxGradNorm             float64 `json:"max_grad_norm"`
	LoggingSteps            int     `json:"logging_steps"`
}

// DefaultArgs 返回固定的任务自适应预训练超参数。
func DefaultArgs(outputDir string) Args {
	return Args{
		OutputDir:               outputDir,
		LearningRate:            5e-5,
		NumTrainEpochs:          5,
		WeightDecay:             0.01,
		WarmupRatio:             0.01,
		PerDeviceTrainBatchSize: 64,
		PerDeviceEvalBatchSize:  64,
		EvaluationStrategy:      "epoch",
		SaveStrategy:            "epoch",
		SaveTotalLimit:          2,
		MLMProbability:          0.15,
		Seed:                    42,
		AdamBeta1:               0.9,
		AdamBeta2:               0.999,
		AdamEpsilon:             1e-8,
		MaxGradNorm:             1.0,
		LoggingSteps:            500,
	}
}
