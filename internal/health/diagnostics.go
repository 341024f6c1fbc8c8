package health

import (
	"context"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Snapshot is an immutable point-in-time capture of process and OS resource
// stats. Fields backed by unsupported platform probes report their zero
// value with Supported=false rather than failing the whole snapshot.
type Snapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`

	// Process memory, from runtime.MemStats.
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapInuseBytes uint64 `json:"heap_inuse_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`

	Goroutines int `json:"goroutines"`

	// CPU load averages. Supported only where /proc/loadavg exists.
	Load LoadAvg `json:"load"`

	// Network interface names on the host.
	NetworkInterfaces []string `json:"network_interfaces"`

	// Disk and live-connection probes are pluggable and may be unsupported.
	Disk        DiskUsage   `json:"disk"`
	Connections Connections `json:"connections"`
}

// LoadAvg holds 1/5/15-minute CPU load averages.
type LoadAvg struct {
	Supported bool    `json:"supported"`
	Load1     float64 `json:"load1"`
	Load5     float64 `json:"load5"`
	Load15    float64 `json:"load15"`
}

// DiskUsage reports filesystem usage for the process's working volume.
type DiskUsage struct {
	Supported  bool    `json:"supported"`
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

// Connections reports live network connection counts.
type Connections struct {
	Supported bool `json:"supported"`
	Count     int  `json:"count"`
}

// DiskProbe and ConnProbe are pluggable platform probes. The defaults report
// unsupported; OS-specific implementations can be injected at composition.
type (
	DiskProbe func(ctx context.Context) DiskUsage
	ConnProbe func(ctx context.Context) Connections
)

func unknownDiskProbe(context.Context) DiskUsage   { return DiskUsage{} }
func unknownConnProbe(context.Context) Connections { return Connections{} }

// SetDiskProbe replaces the disk usage probe.
func (e *Engine) SetDiskProbe(p DiskProbe) {
	e.mu.Lock()
	e.diskProbe = p
	e.mu.Unlock()
}

// SetConnProbe replaces the live-connection probe.
func (e *Engine) SetConnProbe(p ConnProbe) {
	e.mu.Lock()
	e.connProbe = p
	e.mu.Unlock()
}

// CollectDiagnostics builds one snapshot and retains it as the latest.
func (e *Engine) CollectDiagnostics(ctx context.Context) *Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	e.mu.RLock()
	diskProbe, connProbe := e.diskProbe, e.connProbe
	e.mu.RUnlock()

	snap := &Snapshot{
		Timestamp:         e.clock.Now(),
		Uptime:            e.clock.Now().Sub(e.started),
		HeapAllocBytes:    ms.HeapAlloc,
		HeapInuseBytes:    ms.HeapInuse,
		SysBytes:          ms.Sys,
		NumGC:             ms.NumGC,
		Goroutines:        runtime.NumGoroutine(),
		Load:              readLoadAvg(),
		NetworkInterfaces: interfaceNames(),
		Disk:              runDiskProbe(ctx, diskProbe),
		Connections:       runConnProbe(ctx, connProbe),
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
	return snap
}

// LatestSnapshot returns the most recently collected snapshot, or nil if
// diagnostics have not run yet.
func (e *Engine) LatestSnapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// runDiskProbe shields the snapshot from a panicking probe.
func runDiskProbe(ctx context.Context, p DiskProbe) (out DiskUsage) {
	defer func() {
		if r := recover(); r != nil {
			out = DiskUsage{}
		}
	}()
	return p(ctx)
}

func runConnProbe(ctx context.Context, p ConnProbe) (out Connections) {
	defer func() {
		if r := recover(); r != nil {
			out = Connections{}
		}
	}()
	return p(ctx)
}

// readLoadAvg parses /proc/loadavg. On platforms without procfs the probe
// reports unsupported.
func readLoadAvg() LoadAvg {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return LoadAvg{}
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return LoadAvg{}
	}
	l1, err1 := strconv.ParseFloat(fields[0], 64)
	l5, err2 := strconv.ParseFloat(fields[1], 64)
	l15, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return LoadAvg{}
	}
	return LoadAvg{Supported: true, Load1: l1, Load5: l5, Load15: l15}
}

func interfaceNames() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names
}
