// Package gpu 查询 GPU 显存占用（nvidia-smi）。
package gpu

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"tapt/pkg/contract"
)

// Probe: 设备 0 的显存探针。
type Probe interface {
	Available(ctx context.Context) bool
	UsedMB(ctx context.Context) (int, error)
}

// Runner 执行外部命令并返回标准输出。
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner 基于 os/exec 的默认 Runner。
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out, errb bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(errb.String()); s != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, s)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

// NvidiaSMI 通过 nvidia-smi 查询显存。
type NvidiaSMI struct {
	Bin string
	Run Runner
}

// NewNvidiaSMI 返回使用默认二进制名与 ExecRunner 的探针。
func NewNvidiaSMI() *NvidiaSMI { return &NvidiaSMI{Bin: "nvidia-smi", Run: ExecRunner} }

var _ Probe = (*NvidiaSMI)(nil)

// Available 报告能否读到设备 0 的显存（二进制缺失或无设备时为 false）。
func (p *NvidiaSMI) Available(ctx context.Context) bool {
	_, err := p.UsedMB(ctx)
	return err == nil
}

// UsedMB 返回设备 0 已用显存（MiB）。
func (p *NvidiaSMI) UsedMB(ctx context.Context) (int, error) {
	if p.Run == nil {
		return 0, fmt.Errorf("gpu: %w: no runner", contract.ErrDeviceUnsupported)
	}
	out, err := p.Run(ctx, p.bin(), "--query-gpu=memory.used", "--format=csv,noheader,nounits", "-i", "0")
	if err != nil {
		return 0, err
	}
	return parseUsed(out)
}

func (p *NvidiaSMI) bin() string {
	if strings.TrimSpace(p.Bin) == "" {
		return "nvidia-smi"
	}
	return p.Bin
}

// parseUsed 取首个非空行解析为整数。
func parseUsed(out []byte) (int, error) {
	for _, line := range strings.Split(string(out), "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("gpu: %w: unexpected nvidia-smi output %q", contract.ErrInvariantViolation, s)
		}
		return n, nil
	}
	return 0, fmt.Errorf("gpu: %w: empty nvidia-smi output", contract.ErrDeviceUnsupported)
}

// Report 返回 "GPU memory occupied: N MB." 或 n/a。
func Report(ctx context.Context, p Probe) string {
	if p == nil || !p.Available(ctx) {
		return "GPU memory occupied: n/a"
	}
	n, err := p.UsedMB(ctx)
	if err != nil {
		return "GPU memory occupied: n/a"
	}
	return fmt.Sprintf("GPU memory occupied: %d MB.", n)
}
