package task

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wrenlabs/taskwell/errors"
)

// memoryPressureThreshold is the used-memory percentage above which the
// runner logs an advisory before claiming more work.
const memoryPressureThreshold = 90.0

// SystemMetrics is a point-in-time snapshot of host memory usage.
type SystemMetrics struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
}

// CollectSystemMetrics samples host memory usage.
func CollectSystemMetrics() (*SystemMetrics, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read virtual memory stats")
	}
	return &SystemMetrics{
		MemoryUsedPercent: vm.UsedPercent,
		MemoryUsedBytes:   vm.Used,
		MemoryTotalBytes:  vm.Total,
	}, nil
}

// UnderPressure reports whether memory usage is above the advisory
// threshold. Advisory only: the runner keeps claiming work either way,
// it just logs a warning so operators can size the host.
func (m *SystemMetrics) UnderPressure() bool {
	return m.MemoryUsedPercent >= memoryPressureThreshold
}
