package prof

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
)

// Usage is a snapshot of the process's resource use.
type Usage struct {
	CPUPercent float64 // since the process started
	RSS        uint64  // resident set size in bytes
	Goroutines int
}

// ReadUsage samples the current process. It works in every build.
func ReadUsage() (Usage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Usage{}, fmt.Errorf("process: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return Usage{}, fmt.Errorf("cpu: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory: %w", err)
	}
	return Usage{CPUPercent: cpu, RSS: mem.RSS, Goroutines: runtime.NumGoroutine()}, nil
}
