package diag

import (
	"sort"
	"strconv"
	"sync"
)

// 进程内计数器，键形如 "comp/result"、"comp/code"、"comp/stage"。
// 单次 CLI 运行结束时以 debug 事件整体输出，不对外暴露端点。
var (
	metricsMu sync.Mutex
	opTotal   = map[string]int64{}
	errTotal  = map[string]int64{}
	durTotal  = map[string]int64{}
)

// IncOp 累加操作计数（result 如 end、error）。
func IncOp(comp, result string) {
	metricsMu.Lock()
	opTotal[comp+"/"+result]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp string, code Code) {
	metricsMu.Lock()
	errTotal[comp+"/"+string(code)]++
	metricsMu.Unlock()
}

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	durTotal[comp+"/"+stage] += durMS
	metricsMu.Unlock()
}

// Metrics: 计数器快照。
type Metrics struct {
	Ops    map[string]int64
	Errors map[string]int64
	DurMS  map[string]int64
}

// Snapshot 返回当前计数器副本。
func Snapshot() Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return Metrics{Ops: cloneCounts(opTotal), Errors: cloneCounts(errTotal), DurMS: cloneCounts(durTotal)}
}

// ResetMetrics 清空计数器。
func ResetMetrics() {
	metricsMu.Lock()
	opTotal, errTotal, durTotal = map[string]int64{}, map[string]int64{}, map[string]int64{}
	metricsMu.Unlock()
}

// Fields 将快照展平为日志键值：op.<key>、error.<key>、ms.<key>。
func (m Metrics) Fields() Fields {
	out := Fields{}
	put := func(prefix string, src map[string]int64) {
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[prefix+k] = strconv.FormatInt(src[k], 10)
		}
	}
	put("op.", m.Ops)
	put("error.", m.Errors)
	put("ms.", m.DurMS)
	return out
}

func cloneCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
