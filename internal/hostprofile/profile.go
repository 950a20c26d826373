package hostprofile

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// Tier is the host capability class driving pipeline tuning.
type Tier int

const (
	// TierNormal is a host with enough memory and CPU for concurrent
	// BLE work (Pi 4/5, desktop, server).
	TierNormal Tier = iota

	// TierConstrained is a low-resource host (Pi Zero 2 class) that
	// needs sequential fan-out and relaxed timing.
	TierConstrained
)

// String returns the tier name for logging.
func (t Tier) String() string {
	if t == TierConstrained {
		return "constrained"
	}
	return "normal"
}

// Tuning thresholds and per-tier pipeline parameters.
const (
	// lowMemoryMB is the total-memory threshold below which a host is
	// considered constrained.
	lowMemoryMB = 1000

	// constrainedModelMark appears in the device-tree model string of
	// boards that are always classified constrained regardless of
	// reported memory.
	constrainedModelMark = "Zero 2"

	deviceTreeModelPath = "/proc/device-tree/model"
)

// Profile describes the detected host and exposes the derived tuning
// parameters. The zero value is not meaningful; obtain one via Detect.
type Profile struct {
	Tier       Tier
	MemoryMB   uint64
	BoardModel string
}

// AckTimeout returns how long to wait for a gateway acknowledgement.
func (p Profile) AckTimeout() time.Duration {
	if p.Tier == TierConstrained {
		return 1200 * time.Millisecond
	}
	return 800 * time.Millisecond
}

// CommandInterval returns the minimum spacing between commands sent to
// the same gateway address.
func (p Profile) CommandInterval() time.Duration {
	if p.Tier == TierConstrained {
		return 200 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// MaxConcurrent returns the global in-flight command budget.
func (p Profile) MaxConcurrent() int {
	if p.Tier == TierConstrained {
		return 2
	}
	return 4
}

// SequentialGroups reports whether group commands fan out one member
// at a time instead of concurrently.
func (p Profile) SequentialGroups() bool {
	return p.Tier == TierConstrained
}

var (
	detectOnce sync.Once
	detected   Profile
)

// Detect classifies the current host. The result is computed once and
// cached for the lifetime of the process; subsequent calls are free.
//
// A host lands in TierConstrained when its total memory is below
// 1000 MB, when its device-tree model marks it as a Zero 2 class
// board, or when memory detection fails outright.
//
// Returns:
//   - Profile: The cached host profile
func Detect() Profile {
	detectOnce.Do(func() {
		detected = detect(totalMemoryMB, readBoardModel)
	})
	return detected
}

// detect is the injectable core of Detect.
func detect(memFn func() (uint64, bool), modelFn func() string) Profile {
	model := modelFn()
	memMB, ok := memFn()

	p := Profile{MemoryMB: memMB, BoardModel: model}
	p.Tier = classify(memMB, ok, model)
	return p
}

// classify applies the tier rules. A failed memory probe (ok=false)
// falls back to the constrained tier.
func classify(memMB uint64, ok bool, model string) Tier {
	if !ok {
		return TierConstrained
	}
	if memMB < lowMemoryMB {
		return TierConstrained
	}
	if strings.Contains(model, constrainedModelMark) {
		return TierConstrained
	}
	return TierNormal
}

// totalMemoryMB reports the host's total physical memory in megabytes.
func totalMemoryMB() (uint64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return 0, false
	}
	return vm.Total / (1024 * 1024), true
}

// readBoardModel reads the device-tree model string, present on ARM
// single-board computers. Empty on other hosts.
func readBoardModel() string {
	data, err := os.ReadFile(deviceTreeModelPath)
	if err != nil {
		return ""
	}
	// The device-tree node is NUL terminated.
	return strings.TrimRight(string(data), "\x00\n ")
}
