package bootstrap

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Capacity is the process's host resource snapshot, surfaced on /health so
// an operator can see whether a node is a sane target for more concurrent
// work before the dispatcher saturates it.
type Capacity struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemUsedBytes  uint64  `json:"memUsedBytes"`
	MemTotalBytes uint64  `json:"memTotalBytes"`
	MemPercent    float64 `json:"memPercent"`
}

// ReadCapacity samples instantaneous CPU and memory usage. A zero Capacity
// with a non-nil error means the host doesn't expose the relevant metric
// (e.g. inside certain restricted containers); callers should degrade to
// omitting the field rather than failing health checks on it.
func ReadCapacity(ctx context.Context) (Capacity, error) {
	var cap Capacity

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return cap, err
	}
	if len(percents) > 0 {
		cap.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cap, err
	}
	cap.MemUsedBytes = vm.Used
	cap.MemTotalBytes = vm.Total
	cap.MemPercent = vm.UsedPercent

	return cap, nil
}
