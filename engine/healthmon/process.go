package healthmon

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilInspector reads a single process's resident set size via
// gopsutil, used to watch the worker process from the supervisory
// process's own address space.
type GopsutilInspector struct {
	pid int32
}

// NewGopsutilInspector binds an inspector to a process id, typically the
// worker's pid read from a pidfile or supplied by the process supervisor.
func NewGopsutilInspector(pid int32) *GopsutilInspector {
	return &GopsutilInspector{pid: pid}
}

// RSSBytes returns the process's resident set size in bytes.
func (g *GopsutilInspector) RSSBytes() (uint64, error) {
	proc, err := process.NewProcess(g.pid)
	if err != nil {
		return 0, fmt.Errorf("healthmon: find process %d: %w", g.pid, err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("healthmon: read memory info for pid %d: %w", g.pid, err)
	}
	return mem.RSS, nil
}
